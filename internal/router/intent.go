package router

import (
	"regexp"
	"strings"
)

// Intent names that are not agent tasks.
const (
	IntentUnknown = "unknown"
	IntentStatus  = "status"
	IntentHelp    = "help"
)

// Intent is the parsed form of a free-text command. Exactly one of TaskType
// and Workflow is set for runnable intents.
type Intent struct {
	Name     string            `json:"name"`
	TaskType string            `json:"task_type,omitempty"`
	Context  map[string]any    `json:"context,omitempty"`
	Workflow string            `json:"workflow,omitempty"` // Template key.
	Params   map[string]string `json:"params,omitempty"`   // Template parameters.
	Original string            `json:"original"`
}

// Runnable reports whether the intent maps to a task or workflow.
func (i Intent) Runnable() bool {
	return i.TaskType != "" || i.Workflow != ""
}

type pattern struct {
	re    *regexp.Regexp
	build func(m []string) Intent
}

// ci compiles a case-insensitive pattern.
func ci(expr string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + expr)
}

func task(name, taskType string, ctx map[string]any) Intent {
	return Intent{Name: name, TaskType: taskType, Context: ctx}
}

// patterns are tried in order; the first match wins. More specific phrasings
// come before the generic ones they overlap with.
var patterns = []pattern{
	{
		re: ci(`^(?:run\s+)?(?:a\s+)?(?:pentest|pen\s*test|penetration\s+test)\s+(?:on\s+|against\s+)?(\S+)$`),
		build: func(m []string) Intent {
			return Intent{Name: "pentest", Workflow: "pentest", Params: map[string]string{"target": m[1]}}
		},
	},
	{
		re: ci(`^(?:run\s+)?(?:an?\s+)?(?:infra(?:structure)?\s+audit|audit\s+(?:the\s+)?infra(?:structure)?)$`),
		build: func([]string) Intent {
			return Intent{Name: "infra_audit", Workflow: "infra-audit"}
		},
	},
	{
		re: ci(`^(?:deep\s+research|research\s+and\s+analy[sz]e)\s+(.+)$`),
		build: func(m []string) Intent {
			return Intent{Name: "research", Workflow: "research", Params: map[string]string{"topic": m[1]}}
		},
	},
	{
		re: ci(`^(?:vuln(?:erability)?\s+scan|scan\s+for\s+vuln(?:erabilitie)?s\s+on)\s+(\S+)$`),
		build: func(m []string) Intent {
			return task("vulnerability_scan", "vulnerability_scan", map[string]any{"target": m[1]})
		},
	},
	{
		re: ci(`^(?:full\s+|quick\s+|stealth\s+)?(?:port\s+)?scan\s+(?:ports\s+on\s+)?(\S+)$`),
		build: func(m []string) Intent {
			ctx := map[string]any{"target": m[1], "scan_type": "basic"}
			original := m[0]
			for _, kind := range []string{"full", "quick", "stealth"} {
				if strings.HasPrefix(original, kind+" ") {
					ctx["scan_type"] = kind
				}
			}
			return task("network_scan", "network_scan", ctx)
		},
	},
	{
		re: ci(`^(?:find\s+|search\s+)?exploits?\s+for\s+(.+)$`),
		build: func(m []string) Intent {
			return task("exploit_search", "exploit_search", map[string]any{"keyword": m[1]})
		},
	},
	{
		re: ci(`^(?:run\s+)?(?:a\s+)?security\s+audit(?:\s+(?:on|of)\s+(\S+))?$`),
		build: func(m []string) Intent {
			ctx := map[string]any{}
			if m[1] != "" {
				ctx["audit_target"] = m[1]
			}
			return task("security_audit", "security_audit", ctx)
		},
	},
	{
		re: ci(`^(?:detect\s+threats|threat\s+detection|check\s+(?:for\s+)?threats)$`),
		build: func([]string) Intent {
			return task("threat_detection", "threat_detection", nil)
		},
	},
	{
		re: ci(`^(?:list|show)\s+(?:all\s+)?(?:docker\s+)?containers$|^docker\s+ps$`),
		build: func(m []string) Intent {
			return task("docker_list", "docker", map[string]any{"action": "list", "all": strings.Contains(m[0], "all")})
		},
	},
	{
		re: ci(`^(?:show\s+)?(?:docker\s+|container\s+)stats$`),
		build: func([]string) Intent {
			return task("docker_stats", "docker", map[string]any{"action": "stats"})
		},
	},
	{
		re: ci(`^(?:show\s+)?logs\s+(?:of|for)\s+(?:container\s+)?(\S+)$`),
		build: func(m []string) Intent {
			return task("docker_logs", "docker", map[string]any{"action": "logs", "container": m[1]})
		},
	},
	{
		re: ci(`^(?:list|show|get)\s+(?:kubernetes\s+|k8s\s+)?pods(?:\s+in\s+(\S+))?$`),
		build: func(m []string) Intent {
			ctx := map[string]any{"action": "pods"}
			if m[1] != "" {
				ctx["namespace"] = m[1]
			}
			return task("kubernetes_pods", "kubernetes", ctx)
		},
	},
	{
		re: ci(`^(?:check|show|get)\b.*\b(?:cpu|memory|ram|disk|load|performance)\b`),
		build: func([]string) Intent {
			return task("system_stats", "monitoring", map[string]any{"target": "system"})
		},
	},
	{
		re: ci(`^(?:check|show|get)\b.*\bnetwork\b`),
		build: func([]string) Intent {
			return task("network_stats", "monitoring", map[string]any{"target": "network"})
		},
	},
	{
		re: ci(`^(?:analy[sz]e|inspect)\s+(?:the\s+)?code(?:base)?(?:\s+(?:for|in)\s+(.+))?$`),
		build: func(m []string) Intent {
			ctx := map[string]any{}
			if m[1] != "" {
				ctx["target"] = m[1]
			}
			return task("codebase_analysis", "codebase_analysis", ctx)
		},
	},
	{
		re: ci(`^(?:search(?:\s+for)?|look\s*up|find)\s+(.+)$`),
		build: func(m []string) Intent {
			return task("web_search", "web_search", map[string]any{"query": m[1]})
		},
	},
	{
		re: ci(`^(?:what\s+is|what's|who\s+is|explain|tell\s+me\s+about)\s+(.+?)\??$`),
		build: func(m []string) Intent {
			return task("explain", "explain", map[string]any{"concept": m[1]})
		},
	},
	{
		re: ci(`^(?:fact[\s-]*check|verify)\s+(.+)$`),
		build: func(m []string) Intent {
			return task("fact_check", "fact_check", map[string]any{"claim": m[1]})
		},
	},
	{
		re: ci(`^(?:status|agents|show\s+(?:status|agents))$`),
		build: func([]string) Intent { return Intent{Name: IntentStatus} },
	},
	{
		re: ci(`^(?:help|\?)$`),
		build: func([]string) Intent { return Intent{Name: IntentHelp} },
	},
}

// Parse maps free text to an intent. Matching is case-insensitive on the
// command words; captured arguments keep their original case.
func Parse(text string) Intent {
	original := strings.TrimSpace(text)
	normalized := strings.Join(strings.Fields(original), " ")
	if normalized == "" {
		return Intent{Name: IntentUnknown, Original: original}
	}

	for _, p := range patterns {
		m := p.re.FindStringSubmatch(normalized)
		if m == nil {
			continue
		}
		// Group 0 is lowercased for keyword checks in builders.
		m[0] = strings.ToLower(m[0])
		in := p.build(m)
		in.Original = original
		return in
	}
	return Intent{Name: IntentUnknown, Original: original}
}
