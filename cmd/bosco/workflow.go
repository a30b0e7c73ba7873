package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bosco-os/bosco/internal/orchestrator"
	"github.com/bosco-os/bosco/internal/router"
)

var (
	workflowParams []string
	workflowFile   string
	historyLimit   int
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Run and inspect workflows",
}

var workflowRunCmd = &cobra.Command{
	Use:   "run [template]",
	Short: "Run a workflow template or a workflow file",
	Long: `Run a built-in template with key=value parameters, or a workflow
defined in a YAML file.

Examples:
  bosco workflow run pentest --param target=10.0.0.5
  bosco workflow run research --param topic="service mesh"
  bosco workflow run --file nightly.yaml

Workflow file format:
  name: Nightly checks
  context:
    target: 10.0.0.5
  steps:
    - agent_type: security
      task_type: network_scan
      description: Scan the target
    - agent_type: devops
      task_type: monitoring
      description: System stats
      critical: false`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWorkflow,
}

var workflowTemplatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List workflow templates",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		ts := orchestrator.Templates()
		if outputJSON {
			return printResult(templateInfos(ts), "", true)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tNAME\tPARAMS\tDESCRIPTION")
		for _, t := range ts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Key, t.Name, strings.Join(t.Params, ","), t.Description)
		}
		return tw.Flush()
	},
}

var workflowHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List finished workflows, newest first",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return withShared(func(ctx context.Context, sc *SharedComponents) error {
			wfs, err := sc.Orchestrator.History(ctx, historyLimit)
			if err != nil {
				return err
			}
			if outputJSON {
				return printResult(wfs, "", true)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATE\tSTEPS\tCREATED")
			for _, wf := range wfs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", wf.ID, wf.Name, wf.State, len(wf.Steps), wf.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		})
	},
}

var workflowShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a workflow by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withShared(func(ctx context.Context, sc *SharedComponents) error {
			wf, err := sc.Orchestrator.Workflow(ctx, args[0])
			if err != nil {
				return err
			}
			out := orchestrator.WorkflowOutcome{
				Success:  wf.State == orchestrator.WorkflowCompleted,
				Workflow: wf,
				Results:  wf.Results,
				Error:    wf.Error,
			}
			return printResult(wf, router.RenderWorkflow(out), true)
		})
	},
}

func init() {
	workflowRunCmd.Flags().StringArrayVar(&workflowParams, "param", nil, "template parameter as key=value (repeatable)")
	workflowRunCmd.Flags().StringVarP(&workflowFile, "file", "f", "", "YAML workflow file")
	workflowHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum workflows to list")
	workflowCmd.AddCommand(workflowRunCmd, workflowTemplatesCmd, workflowHistoryCmd, workflowShowCmd)
}

// WorkflowFile is the YAML format accepted by "workflow run --file".
type WorkflowFile struct {
	Name    string              `yaml:"name"`
	Context map[string]any      `yaml:"context"`
	Steps   []orchestrator.Step `yaml:"steps"`
}

// loadWorkflowFile reads and validates a workflow file.
func loadWorkflowFile(path string) (*WorkflowFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow file: %w", err)
	}
	var wf WorkflowFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parsing workflow file %s: %w", path, err)
	}
	if len(wf.Steps) == 0 {
		return nil, fmt.Errorf("workflow file %s has no steps", path)
	}
	for i, s := range wf.Steps {
		if s.TaskType == "" {
			return nil, fmt.Errorf("workflow file %s: steps[%d].task_type is required", path, i)
		}
	}
	if wf.Name == "" {
		wf.Name = "Custom Workflow"
	}
	return &wf, nil
}

func runWorkflow(_ *cobra.Command, args []string) error {
	switch {
	case workflowFile != "" && len(args) > 0:
		return fmt.Errorf("use either a template name or --file, not both")
	case workflowFile == "" && len(args) == 0:
		return fmt.Errorf("a template name or --file is required")
	}

	if workflowFile != "" {
		wf, err := loadWorkflowFile(workflowFile)
		if err != nil {
			return err
		}
		return withShared(func(ctx context.Context, sc *SharedComponents) error {
			out := sc.Orchestrator.RunWorkflow(ctx, wf.Name, wf.Steps, wf.Context)
			return printResult(out, router.RenderWorkflow(out), out.Success)
		})
	}

	params, err := parseParams(workflowParams)
	if err != nil {
		return err
	}
	return withShared(func(ctx context.Context, sc *SharedComponents) error {
		out, err := sc.Orchestrator.RunTemplate(ctx, args[0], params)
		if err != nil {
			return err
		}
		return printResult(out, router.RenderWorkflow(out), out.Success)
	})
}

type templateInfo struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Params      []string `json:"params,omitempty"`
}

func templateInfos(ts []orchestrator.Template) []templateInfo {
	out := make([]templateInfo, len(ts))
	for i, t := range ts {
		out[i] = templateInfo{Key: t.Key, Name: t.Name, Description: t.Description, Params: t.Params}
	}
	return out
}
