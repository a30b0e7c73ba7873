// Package gateway defines the lifecycle shared by Bosco's long-running entry
// points (HTTP API, interactive shell).
package gateway

import "context"

// Gateway is a user-facing entry point.
type Gateway interface {
	// Start runs the gateway and blocks until it exits or ctx is canceled.
	// It returns an error only on failure.
	Start(ctx context.Context) error

	// Stop shuts the gateway down gracefully within ctx's deadline.
	Stop(ctx context.Context) error
}
