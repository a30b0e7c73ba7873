// Package sqlite implements storage.Store using SQLite via GORM.
// Uses modernc.org/sqlite (pure Go, no CGO) through the glebarez/sqlite GORM driver.
//
// Differences from the PostgreSQL backend:
//   - WAL mode enabled by default for concurrent reads
//   - JSONB columns are stored as TEXT
//   - a single open connection; WAL handles reader concurrency
package sqlite

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/bosco-os/bosco/internal/orchestrator"
	"github.com/bosco-os/bosco/internal/storage"
	pgstore "github.com/bosco-os/bosco/internal/storage/postgres"
)

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path.
	JournalMode string // Default: wal.
}

// Store implements storage.Store backed by SQLite.
type Store struct {
	db        *gorm.DB
	logger    *slog.Logger
	path      string
	workflows *pgstore.WorkflowRepository
}

// Open creates the database file if needed and migrates the schema.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if slogger == nil {
		slogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path, journalMode)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  pgstore.NewGormLogger(slogger),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := pgstore.Migrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrating sqlite database: %w", err)
	}

	slogger.Info("sqlite store opened", slog.String("path", cfg.Path), slog.String("journal_mode", journalMode))
	return &Store{
		db:        db,
		logger:    slogger,
		path:      cfg.Path,
		workflows: pgstore.NewWorkflowRepository(db),
	}, nil
}

func (s *Store) Workflows() orchestrator.HistoryStore {
	return s.workflows
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns "sqlite".
func (s *Store) Driver() string {
	return storage.DriverSQLite
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

var _ storage.Store = (*Store)(nil)
