package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownTemplate is returned for a workflow template name not in the catalog.
var ErrUnknownTemplate = errors.New("unknown workflow template")

// Template is a named, parameterized step list.
type Template struct {
	Key         string
	Name        string
	Description string
	Params      []string // Required parameter names.
	Build       func(params map[string]string) (steps []Step, initial map[string]any)
}

// PentestSteps scans target, looks for vulnerabilities and exploits, then
// asks for remediation advice. No step is critical.
func PentestSteps(target string) []Step {
	return []Step{
		{
			AgentType:   "security_agent",
			TaskType:    "network_scan",
			Description: "Scan target " + target,
			Context:     map[string]any{"target": target, "scan_type": "full"},
			Critical:    Bool(false),
		},
		{
			AgentType:   "security_agent",
			TaskType:    "vulnerability_scan",
			Description: "Vulnerability scan on " + target,
			Context:     map[string]any{"target": target},
			Critical:    Bool(false),
		},
		{
			AgentType:   "security_agent",
			TaskType:    "exploit_search",
			Description: "Search for relevant exploits",
			Critical:    Bool(false),
		},
		{
			AgentType:   "security_agent",
			TaskType:    "remediation",
			Description: "Generate remediation advice",
			Critical:    Bool(false),
		},
	}
}

// ResearchSteps searches topic, looks for it in the local codebase and
// summarizes.
func ResearchSteps(topic string) []Step {
	return []Step{
		{
			AgentType:   "research_agent",
			TaskType:    "web_search",
			Description: "Research " + topic,
			Context:     map[string]any{"query": topic},
		},
		{
			AgentType:   "research_agent",
			TaskType:    "codebase_analysis",
			Description: "Analyze related code",
			Context:     map[string]any{"target": topic},
		},
		{
			AgentType:   "research_agent",
			TaskType:    "summarize",
			Description: "Summarize findings",
		},
	}
}

func InfrastructureAuditSteps() []Step {
	return []Step{
		{
			AgentType:   "devops_agent",
			TaskType:    "docker",
			Description: "Check Docker containers",
			Context:     map[string]any{"action": "list"},
		},
		{
			AgentType:   "devops_agent",
			TaskType:    "docker",
			Description: "Get container stats",
			Context:     map[string]any{"action": "stats"},
		},
		{
			AgentType:   "security_agent",
			TaskType:    "security_audit",
			Description: "Run security audit",
		},
		{
			AgentType:   "devops_agent",
			TaskType:    "monitoring",
			Description: "Get performance metrics",
			Context:     map[string]any{"target": "system"},
		},
	}
}

var templates = []Template{
	{
		Key:         "pentest",
		Name:        "Penetration Test",
		Description: "Network scan, vulnerability scan, exploit research and remediation advice.",
		Params:      []string{"target"},
		Build: func(p map[string]string) ([]Step, map[string]any) {
			return PentestSteps(p["target"]), map[string]any{"target": p["target"]}
		},
	},
	{
		Key:         "research",
		Name:        "Research & Analysis",
		Description: "Search a topic, analyze related code and summarize the findings.",
		Params:      []string{"topic"},
		Build: func(p map[string]string) ([]Step, map[string]any) {
			return ResearchSteps(p["topic"]), map[string]any{"topic": p["topic"]}
		},
	},
	{
		Key:         "infra-audit",
		Name:        "Infrastructure Audit",
		Description: "Container status and stats, security audit and host metrics.",
		Build: func(map[string]string) ([]Step, map[string]any) {
			return InfrastructureAuditSteps(), nil
		},
	},
}

// Templates returns the built-in workflow templates.
func Templates() []Template { return slices.Clone(templates) }

// LookupTemplate finds a template by key or display name, case-insensitively.
func LookupTemplate(name string) (Template, bool) {
	for _, t := range templates {
		if strings.EqualFold(t.Key, name) || strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Template{}, false
}

// RunTemplate runs the named template. An error is returned only when the
// template is unknown or a required parameter is missing; workflow failures
// are reported in the outcome.
func (o *Orchestrator) RunTemplate(ctx context.Context, name string, params map[string]string) (WorkflowOutcome, error) {
	t, ok := LookupTemplate(name)
	if !ok {
		return WorkflowOutcome{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	for _, p := range t.Params {
		if strings.TrimSpace(params[p]) == "" {
			return WorkflowOutcome{}, fmt.Errorf("template %s: missing parameter %q", t.Key, p)
		}
	}
	steps, initial := t.Build(params)
	return o.runWorkflow(ctx, t.Name, t.Description, steps, initial), nil
}
