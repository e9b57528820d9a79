// Package external holds the wire contract of the remote scanning service.
package external

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/llamacompass/compass/pkg/types"
)

// ErrInvalidScanResult is returned when a scan result is missing a required
// field or carries an unknown status.
var ErrInvalidScanResult = errors.New("invalid scan result")

// defaultFailureMessage is used when a failed scan carries no error text.
const defaultFailureMessage = "scan failed"

// ScanResult is the JSON document returned by the scanning service.
type ScanResult struct {
	ID            string             `json:"id"`
	RepositoryURL string             `json:"repositoryUrl"`
	ScanDate      *time.Time         `json:"scanDate,omitempty"`
	Status        string             `json:"status"`
	Results       *types.ScanResults `json:"results,omitempty"`
	Error         *string            `json:"error,omitempty"`
}

// ScanRequest is the body posted to the scanning service.
type ScanRequest struct {
	RepositoryURL string `json:"repository_url"`
	GitHubToken   string `json:"github_token,omitempty"`
}

// HealthResponse is the body of the scanning service health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// DecodeScanResult reads one ScanResult from r.
func DecodeScanResult(r io.Reader) (*ScanResult, error) {
	var result ScanResult
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScanResult, err)
	}
	return &result, nil
}

// MapScanResultToRecord validates result and converts it into a ScanRecord.
// received is used as the scan date when the service did not report one.
func MapScanResultToRecord(result *ScanResult, received time.Time) (*types.ScanRecord, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidScanResult)
	}
	if strings.TrimSpace(result.ID) == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidScanResult)
	}
	if strings.TrimSpace(result.RepositoryURL) == "" {
		return nil, fmt.Errorf("%w: missing repositoryUrl", ErrInvalidScanResult)
	}

	record := &types.ScanRecord{
		ID:            result.ID,
		RepositoryURL: result.RepositoryURL,
		ScanDate:      received,
	}
	if result.ScanDate != nil && !result.ScanDate.IsZero() {
		record.ScanDate = *result.ScanDate
	}

	switch types.ScanStatus(result.Status) {
	case types.StatusPending:
		record.Outcome = types.Pending{}
	case types.StatusCompleted:
		record.Outcome = types.Completed{Results: result.Results}
	case types.StatusFailed:
		msg := defaultFailureMessage
		if result.Error != nil && *result.Error != "" {
			msg = *result.Error
		}
		record.Outcome = types.Failed{Message: msg}
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidScanResult, result.Status)
	}
	return record, nil
}

// CountVulnerabilities counts the findings of record with the given severity.
func CountVulnerabilities(record *types.ScanRecord, severity types.Severity) int {
	results, ok := record.Results()
	if !ok {
		return 0
	}
	count := 0
	for _, v := range results.Vulnerabilities {
		if v.Severity == severity {
			count++
		}
	}
	return count
}
