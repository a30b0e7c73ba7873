package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bosco-os/bosco/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve Bosco tools over MCP on stdio",
	Long: `Run an MCP server on stdin/stdout exposing execute_task, run_workflow,
command, list_templates and status. Logs go to stderr.`,
	RunE: runMCP,
}

func runMCP(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	logger := newLogger(cfg, os.Stderr)
	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := mcpserver.New(sc.Orchestrator, version, logger)
	if err := srv.ServeStdio(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
