package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bosco-os/bosco/internal/agent"
	"github.com/bosco-os/bosco/internal/router"
)

var (
	taskType        string
	taskDescription string
	taskPriority    int
	taskContext     []string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Execute a single task on the first capable agent",
	Long: `Route a task by type to the first registered agent that can handle it.

Examples:
  bosco task --type network_scan --context target=10.0.0.1 --context scan_type=quick
  bosco task --type docker --context action=list --context all=true
  bosco task --type web_search --context query="golang generics" --priority 3`,
	RunE: runTask,
}

func init() {
	taskCmd.Flags().StringVarP(&taskType, "type", "t", "", "task type (required)")
	taskCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "task description")
	taskCmd.Flags().IntVarP(&taskPriority, "priority", "p", int(agent.PriorityNormal), "priority: 1 low, 2 normal, 3 high, 4 critical")
	taskCmd.Flags().StringArrayVarP(&taskContext, "context", "c", nil, "task parameter as key=value (repeatable)")
	_ = taskCmd.MarkFlagRequired("type")
}

func runTask(_ *cobra.Command, _ []string) error {
	if taskPriority < int(agent.PriorityLow) || taskPriority > int(agent.PriorityCritical) {
		return fmt.Errorf("priority must be between 1 and 4")
	}
	taskCtx, err := parseContext(taskContext)
	if err != nil {
		return err
	}
	desc := taskDescription
	if desc == "" {
		desc = taskType
	}

	return withShared(func(ctx context.Context, sc *SharedComponents) error {
		task := agent.NewTask(desc, taskType, agent.Priority(taskPriority), taskCtx)
		out := sc.Orchestrator.ExecuteTask(ctx, task)
		return printResult(out, router.RenderOutcome(out), out.Success)
	})
}
