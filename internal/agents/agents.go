// Package agents assembles the built-in domain agents.
package agents

import (
	"log/slog"

	"github.com/bosco-os/bosco/internal/agent"
	"github.com/bosco-os/bosco/internal/agents/devops"
	"github.com/bosco-os/bosco/internal/agents/research"
	"github.com/bosco-os/bosco/internal/agents/security"
	"github.com/bosco-os/bosco/internal/sandbox"
)

// Config holds per-agent settings.
type Config struct {
	Security security.Config
	DevOps   devops.Config
	Research research.Config
}

// Default builds the security, DevOps and research agents in registration
// order. Tool commands go through runner; web lookups through searcher.
func Default(runner sandbox.Runner, searcher research.Searcher, cfg Config, logger *slog.Logger, opts agent.Options) []*agent.Agent {
	return []*agent.Agent{
		security.New(runner, cfg.Security, logger, opts),
		devops.New(runner, cfg.DevOps, logger, opts),
		research.New(searcher, cfg.Research, logger, opts),
	}
}
