// Package storage defines the persistence contract for Bosco.
//
// Two backends share the same GORM models and repository:
//   - sqlite (default): single-file database under the data directory
//   - postgres: for deployments that run several Bosco instances
//
// Without a configured store, workflow history lives only in memory.
package storage

import (
	"context"

	"github.com/bosco-os/bosco/internal/orchestrator"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is a persistent backend for finished workflows.
type Store interface {
	// Workflows returns the workflow history repository.
	Workflows() orchestrator.HistoryStore

	// Ping checks connectivity for readiness probes.
	Ping(ctx context.Context) error

	Close() error

	// Driver returns DriverSQLite or DriverPostgres.
	Driver() string
}
