package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/llamacompass/compass/internal/data/model"
	"github.com/llamacompass/compass/internal/external"
	"github.com/llamacompass/compass/internal/log"
	"github.com/llamacompass/compass/internal/transform"
	"github.com/llamacompass/compass/pkg/types"
)

// ErrReportNotFound is returned when no ledger row matches.
var ErrReportNotFound = errors.New("report not found")

// ReportManager defines the interface for the scan report ledger.
type ReportManager interface {
	// InsertReport writes the severity summary of one ingested scan.
	InsertReport(ctx context.Context, record *types.ScanRecord) (*model.Report, error)
	// MarkEvicted stamps the oldest live report of scanID as evicted.
	MarkEvicted(ctx context.Context, scanID string, at time.Time) error
	// ListReports returns reports newest first, optionally for one repository.
	ListReports(ctx context.Context, repository string) ([]model.Report, error)
	// GetReport retrieves a report by its ID.
	GetReport(ctx context.Context, id uint) (*model.Report, error)
}

// GormReportManager implements the ReportManager interface using a GORM DB connection.
type GormReportManager struct {
	db *gorm.DB
}

// NewGormReportManager creates a new GormReportManager.
func NewGormReportManager(db *gorm.DB) (*GormReportManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	return &GormReportManager{db: db}, nil
}

// NewReport builds the ledger row for record.
func NewReport(record *types.ScanRecord) *model.Report {
	report := &model.Report{
		ScanID:        record.ID,
		Repository:    transform.RepositoryName(record.RepositoryURL),
		RepositoryURL: record.RepositoryURL,
		Status:        string(record.Status()),
		Error:         record.Error(),
		ScanDate:      record.ScanDate,
		Critical:      external.CountVulnerabilities(record, types.SeverityCritical),
		High:          external.CountVulnerabilities(record, types.SeverityHigh),
		Medium:        external.CountVulnerabilities(record, types.SeverityMedium),
		Low:           external.CountVulnerabilities(record, types.SeverityLow),
	}
	if results, ok := record.Results(); ok {
		report.Total = len(results.Vulnerabilities)
		report.QualityScore = results.CodeQualityScore
		if len(results.Remediations) > 0 {
			report.Solutions = len(results.Remediations)
		} else {
			report.Solutions = len(results.Recommendations)
		}
	}
	return report
}

// InsertReport inserts the report of record into the database.
func (manager *GormReportManager) InsertReport(ctx context.Context, record *types.ScanRecord) (*model.Report, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}
	if record == nil {
		return nil, fmt.Errorf("record cannot be nil")
	}
	report := NewReport(record)
	log.FromContext(ctx).Debug("InsertReport", zap.String("scanID", report.ScanID), zap.Int("total", report.Total))

	if err := manager.db.WithContext(ctx).Create(report).Error; err != nil {
		return nil, fmt.Errorf("error creating report: %w", err)
	}
	return report, nil
}

// MarkEvicted stamps the oldest report of scanID that is not yet evicted.
func (manager *GormReportManager) MarkEvicted(ctx context.Context, scanID string, at time.Time) error {
	if ctx == nil {
		return fmt.Errorf("ctx cannot be nil")
	}
	return manager.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var report model.Report
		err := tx.Where("scan_id = ? AND evicted_at IS NULL", scanID).Order("id asc").First(&report).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: scan %s", ErrReportNotFound, scanID)
		}
		if err != nil {
			return fmt.Errorf("error finding report: %w", err)
		}
		if err := tx.Model(&report).Update("evicted_at", at).Error; err != nil {
			return fmt.Errorf("error marking report evicted: %w", err)
		}
		return nil
	})
}

// ListReports returns reports newest first. An empty repository returns all.
func (manager *GormReportManager) ListReports(ctx context.Context, repository string) ([]model.Report, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}
	query := manager.db.WithContext(ctx).Order("id desc")
	if repository != "" {
		query = query.Where("repository = ?", repository)
	}
	reports := []model.Report{}
	if err := query.Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("error listing reports: %w", err)
	}
	return reports, nil
}

// GetReport retrieves a report by its ID from the database.
func (manager *GormReportManager) GetReport(ctx context.Context, id uint) (*model.Report, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx cannot be nil")
	}
	var report model.Report
	err := manager.db.WithContext(ctx).First(&report, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrReportNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting report: %w", err)
	}
	return &report, nil
}
