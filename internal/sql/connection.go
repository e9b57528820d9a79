package sql

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/llamacompass/compass/internal/data/model"
)

// DefaultDSN is a process-local in-memory database.
const DefaultDSN = "file::memory:?cache=shared"

// DBConnector is an interface for database connections.
type DBConnector interface {
	Connect(ctx context.Context) (*gorm.DB, error)
}

// SQLiteConnector implements DBConnector for SQLite connections.
type SQLiteConnector struct {
	dsn      string
	logLevel logger.LogLevel
}

// NewSQLiteConnector returns a connector for dsn. An empty dsn selects DefaultDSN.
func NewSQLiteConnector(dsn string, debug bool) *SQLiteConnector {
	if dsn == "" {
		dsn = DefaultDSN
	}
	level := logger.Silent
	if debug {
		level = logger.Info
	}
	return &SQLiteConnector{dsn: dsn, logLevel: level}
}

// Connect opens the database and migrates the ledger schema.
func (c *SQLiteConnector) Connect(ctx context.Context) (*gorm.DB, error) {
	database, err := gorm.Open(sqlite.Open(c.dsn), &gorm.Config{
		Logger: logger.Default.LogMode(c.logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	if err := database.WithContext(ctx).AutoMigrate(&model.Report{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return database, nil
}

// Close releases the underlying connection pool.
func Close(database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.Close()
}

// CreateDBConnector is a factory function that returns the appropriate DBConnector.
func CreateDBConnector(dbType, dsn string, debug bool) (DBConnector, error) {
	switch dbType {
	case "", "sqlite":
		return NewSQLiteConnector(dsn, debug), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}
}
