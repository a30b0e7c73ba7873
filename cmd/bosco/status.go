package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/bosco-os/bosco/internal/router"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show registered agents and workflow counts",
	RunE: func(_ *cobra.Command, _ []string) error {
		return withShared(func(_ context.Context, sc *SharedComponents) error {
			st := sc.Orchestrator.Status()
			return printResult(st, router.RenderStatus(st), true)
		})
	},
}
