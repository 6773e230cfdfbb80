package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tradegate/tradegate/internal/config"
	"github.com/tradegate/tradegate/internal/logging"
)

// ErrNotFound is returned by repositories when a row does not exist. Callers
// map it to the conflict taxonomy (`SESSION_NOT_FOUND` etc.) at the service
// boundary.
var ErrNotFound = errors.New("database: not found")

// Database abstracts both PostgreSQL and SQLite connections.
type Database interface {
	DBPool
	Close() error
	HealthCheck(ctx context.Context) error
}

// NewDatabaseConnection creates a database connection based on the driver
// configuration. SQLite is the default.
func NewDatabaseConnection(cfg *config.DatabaseConfig, logger logging.Logger) (Database, error) {
	return NewDatabaseConnectionWithContext(context.Background(), cfg, logger)
}

// NewDatabaseConnectionWithContext creates a database connection with a
// specified context.
func NewDatabaseConnectionWithContext(ctx context.Context, cfg *config.DatabaseConfig, logger logging.Logger) (Database, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "sqlite"
	}

	switch driver {
	case "sqlite", "sqlite3":
		path := cfg.SQLitePath
		if path == "" {
			path = "tradegate.db"
		}
		logger.Info("connecting to SQLite database", "path", path)
		return NewSQLiteConnection(path)

	case "postgres", "postgresql":
		logger.Info("connecting to PostgreSQL database",
			"host", cfg.Host, "port", cfg.Port, "dbname", cfg.DBName)
		return NewPostgresConnectionWithContext(ctx, cfg, logger)

	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres)", driver)
	}
}
