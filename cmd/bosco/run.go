package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bosco-os/bosco/internal/gateway/cli"
	"github.com/bosco-os/bosco/internal/router"
)

var runCmd = &cobra.Command{
	Use:   "run <command>",
	Short: "Run a free-text command locally",
	Long: `Parse a free-text command and run the matching task or workflow.

Examples:
  bosco run scan 192.168.1.10
  bosco run "vulnerability scan example.com"
  bosco run pentest 10.0.0.5
  bosco run list containers
  bosco run help`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCommand,
}

func runCommand(_ *cobra.Command, args []string) error {
	return withShared(func(ctx context.Context, sc *SharedComponents) error {
		resp, err := router.New(sc.Orchestrator, sc.Logger).Handle(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		return printResult(resp, resp.Message, resp.Success)
	})
}

// withShared loads config, builds the shared components for a one-shot
// command and runs fn under a signal-aware context.
func withShared(fn func(ctx context.Context, sc *SharedComponents) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sc, err := initShared(cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, sc)
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start the interactive shell",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return withShared(func(ctx context.Context, sc *SharedComponents) error {
			sh := cli.NewGateway(router.New(sc.Orchestrator, sc.Logger), os.Stdin, os.Stdout, sc.Logger)
			return sh.Start(ctx)
		})
	},
}
