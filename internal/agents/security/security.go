// Package security implements the security agent: network and
// vulnerability scanning with nmap, exploit lookup with searchsploit,
// port risk analysis, host threat checks and remediation advice.
package security

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/bosco-os/bosco/internal/agent"
	"github.com/bosco-os/bosco/internal/agents/params"
	"github.com/bosco-os/bosco/internal/sandbox"
)

// ID is the registry id of the security agent.
const ID = "security_agent"

// TaskTypes are the task types the agent accepts.
var TaskTypes = []string{
	"network_scan",
	"vulnerability_scan",
	"exploit_search",
	"port_analysis",
	"security_audit",
	"penetration_test",
	"threat_detection",
	"remediation",
}

var capabilities = []string{
	"network_scan",
	"vulnerability_scan",
	"exploit_research",
	"port_analysis",
	"service_enumeration",
	"security_audit",
	"threat_detection",
	"remediation_advice",
}

// Config tunes tool invocations.
type Config struct {
	ScanTimeout  time.Duration // nmap scans. Default: 5m.
	ShortTimeout time.Duration // searchsploit and host checks. Default: 30s.
	AuthLog      string        // Default: /var/log/auth.log.
}

func (c Config) withDefaults() Config {
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = 5 * time.Minute
	}
	if c.ShortTimeout <= 0 {
		c.ShortTimeout = 30 * time.Second
	}
	if c.AuthLog == "" {
		c.AuthLog = "/var/log/auth.log"
	}
	return c
}

// handler is the agent.Handler for security tasks.
type handler struct {
	runner   sandbox.Runner
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	dispatch *agent.Dispatcher
}

// New creates the security agent.
func New(runner sandbox.Runner, cfg Config, logger *slog.Logger, opts agent.Options) *agent.Agent {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &handler{
		runner: runner,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("agent", ID)),
		now:    time.Now,
	}
	h.dispatch = agent.NewDispatcher(
		agent.Route{Keywords: []string{"network_scan"}, Handle: h.networkScan},
		agent.Route{Keywords: []string{"vulnerability_scan"}, Handle: h.vulnerabilityScan},
		agent.Route{Keywords: []string{"exploit_search"}, Handle: h.exploitSearch},
		agent.Route{Keywords: []string{"port_analysis"}, Handle: h.portAnalysis},
		agent.Route{Keywords: []string{"security_audit"}, Handle: h.securityAudit},
		agent.Route{Keywords: []string{"penetration_test"}, Handle: h.penetrationTest},
		agent.Route{Keywords: []string{"threat_detection"}, Handle: h.threatDetection},
		agent.Route{Keywords: []string{"remediation"}, Handle: h.remediation},
	)
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return agent.New(agent.Info{
		ID:           ID,
		Name:         "Security Agent",
		Description:  "Security operations and vulnerability assessment",
		Capabilities: capabilities,
	}, h, opts)
}

// CanHandle accepts only the exact task types in TaskTypes.
func (h *handler) CanHandle(task *agent.Task) bool {
	return slices.Contains(TaskTypes, task.Type)
}

func (h *handler) ExecuteTask(ctx context.Context, task *agent.Task) (map[string]any, error) {
	h.logger.InfoContext(ctx, "executing security task",
		slog.String("task_id", task.ID),
		slog.String("task_type", task.Type),
	)
	return h.dispatch.Dispatch(ctx, task)
}

// run executes a tool command. It fails only when the tool could not be run
// at all; a non-zero exit with output is still usable (nmap and searchsploit
// exit non-zero on partial results).
func (h *handler) run(ctx context.Context, command string, timeout time.Duration) (sandbox.ToolResult, error) {
	res := h.runner.Run(ctx, command, timeout)
	if res.ReturnCode == -1 || (!res.Success && res.Output == "") {
		msg := res.Error
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", res.ReturnCode)
		}
		return res, fmt.Errorf("%s: %s", firstWord(command), msg)
	}
	return res, nil
}

func (h *handler) networkScan(ctx context.Context, task *agent.Task) (map[string]any, error) {
	target, err := params.Target(task.Context, "target", "localhost")
	if err != nil {
		return nil, err
	}
	scanType := params.String(task.Context, "scan_type", "basic")

	res, err := h.run(ctx, "nmap "+nmapArgs(scanType)+" "+target, h.cfg.ScanTimeout)
	if err != nil {
		return nil, err
	}
	scan := parseNmap(res.Output)
	return map[string]any{
		"target":     target,
		"scan_type":  scanType,
		"raw_output": res.Output,
		"open_ports": scan.OpenPorts,
		"services":   scan.Services,
		"os_guess":   scan.OSGuess,
	}, nil
}

func (h *handler) vulnerabilityScan(ctx context.Context, task *agent.Task) (map[string]any, error) {
	target, err := params.Target(task.Context, "target", "localhost")
	if err != nil {
		return nil, err
	}

	res, err := h.run(ctx, "nmap --script=vuln -sV "+target, h.cfg.ScanTimeout)
	if err != nil {
		return nil, err
	}
	vulns := parseVulnerabilities(res.Output)
	return map[string]any{
		"target":          target,
		"vulnerabilities": vulns,
		"severity_counts": severityCounts(vulns),
		"raw_output":      res.Output,
	}, nil
}

func (h *handler) exploitSearch(ctx context.Context, task *agent.Task) (map[string]any, error) {
	cve := params.String(task.Context, "cve", "")
	term := params.String(task.Context, "keyword", "")
	if term == "" {
		term = params.String(task.Context, "service", "")
	}
	if term == "" {
		term = cve
	}
	if term == "" {
		// Fall back to the first product a previous scan identified.
		for _, svc := range params.Maps(task.Context, "services") {
			if product := serviceProduct(params.String(svc, "service", "")); product != "" {
				term = product
				break
			}
		}
	}
	if term == "" {
		return nil, fmt.Errorf("no search term provided")
	}

	res, err := h.run(ctx, "searchsploit --json "+params.Quote(term), h.cfg.ShortTimeout)
	if err != nil {
		return nil, err
	}
	exploits := parseExploits(res.Output)
	found := len(exploits)
	if len(exploits) > 10 {
		exploits = exploits[:10]
	}
	return map[string]any{
		"search_term":    term,
		"exploits_found": found,
		"exploits":       exploits,
		"has_cve":        cve != "",
	}, nil
}

func (h *handler) portAnalysis(ctx context.Context, task *agent.Task) (map[string]any, error) {
	target, err := params.Target(task.Context, "target", "localhost")
	if err != nil {
		return nil, err
	}

	res, err := h.run(ctx, "nmap -sV -p- "+target, h.cfg.ScanTimeout)
	if err != nil {
		return nil, err
	}
	ports := parsePorts(res.Output)
	risk := assessPortRisk(ports)
	return map[string]any{
		"target":          target,
		"open_ports":      ports,
		"risk_assessment": risk,
		"recommendations": risk["recommendations"],
	}, nil
}

func (h *handler) securityAudit(ctx context.Context, task *agent.Task) (map[string]any, error) {
	target, err := params.Target(task.Context, "audit_target", "localhost")
	if err != nil {
		return nil, err
	}

	svc, err := h.run(ctx, "nmap -sV "+target, h.cfg.ScanTimeout)
	if err != nil {
		return nil, err
	}
	vuln, err := h.run(ctx, "nmap --script=vuln "+target, h.cfg.ScanTimeout)
	if err != nil {
		return nil, err
	}

	ports := parsePorts(svc.Output)
	vulns := parseVulnerabilities(vuln.Output)
	checks := []map[string]any{
		{"name": "Open Ports", "status": "completed", "findings": ports},
		{"name": "Service Analysis", "status": "completed", "findings": analyzeServices(svc.Output)},
		{"name": "Vulnerability Check", "status": "completed", "findings": vulns},
	}
	return map[string]any{
		"timestamp":     h.now().UTC().Format(time.RFC3339),
		"target":        target,
		"checks":        checks,
		"overall_score": securityScore(ports, vulns),
	}, nil
}

// penetrationTest runs a network scan and a vulnerability scan on the same
// target and merges their findings.
func (h *handler) penetrationTest(ctx context.Context, task *agent.Task) (map[string]any, error) {
	scan, err := h.networkScan(ctx, task)
	if err != nil {
		return nil, err
	}
	vulns, err := h.vulnerabilityScan(ctx, task)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"target":          scan["target"],
		"open_ports":      scan["open_ports"],
		"services":        scan["services"],
		"os_guess":        scan["os_guess"],
		"vulnerabilities": vulns["vulnerabilities"],
		"severity_counts": vulns["severity_counts"],
	}, nil
}

func (h *handler) threatDetection(ctx context.Context, task *agent.Task) (map[string]any, error) {
	logPath := params.String(task.Context, "log_path", h.cfg.AuthLog)
	var threats []map[string]any

	auth := h.runner.Run(ctx, "tail -n 100 "+params.Quote(logPath), h.cfg.ShortTimeout)
	if failed := countFailedLogins(auth.Output); failed > 10 {
		threats = append(threats, map[string]any{
			"type":     "brute_force",
			"severity": "high",
			"count":    failed,
			"message":  fmt.Sprintf("Detected %d failed login attempts", failed),
		})
	}

	ps := h.runner.Run(ctx, "ps -eo pid,comm,args", h.cfg.ShortTimeout)
	if suspicious := suspiciousProcesses(ps.Output); len(suspicious) > 0 {
		threats = append(threats, map[string]any{
			"type":     "suspicious_process",
			"severity": "medium",
			"message":  "Suspicious security tools running",
			"details":  suspicious,
		})
	}

	listening := h.runner.Run(ctx, "ss -tuln", h.cfg.ShortTimeout)
	sockets := parseListening(listening.Output)

	if !auth.Success && !ps.Success && !listening.Success {
		return nil, fmt.Errorf("threat detection: no host checks could run: %s", ps.Error)
	}

	return map[string]any{
		"threats_detected":  len(threats),
		"threats":           threats,
		"listening_sockets": sockets,
		"recommendations":   threatRecommendations(threats),
	}, nil
}

func (h *handler) remediation(_ context.Context, task *agent.Task) (map[string]any, error) {
	vuln := params.Map(task.Context, "vulnerability")
	kinds := []string{params.String(vuln, "type", "")}
	for _, v := range params.Maps(task.Context, "vulnerabilities") {
		kinds = append(kinds, params.String(v, "type", ""), params.String(v, "description", ""))
	}
	return map[string]any{
		"vulnerability":     vuln,
		"remediation_steps": remediationAdvice(kinds),
		"references": []string{
			"https://owasp.org/www-project-top-ten/",
			"https://nvd.nist.gov/",
		},
	}, nil
}
