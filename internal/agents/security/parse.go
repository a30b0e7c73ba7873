package security

import (
	"encoding/json"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var nmapPresets = map[string]string{
	"basic":      "-sV",
	"quick":      "-F",
	"stealth":    "-sS -T2",
	"full":       "-A -p-",
	"udp":        "-sU",
	"aggressive": "-sC -sV -O --script=vuln",
}

func nmapArgs(scanType string) string {
	if args, ok := nmapPresets[strings.ToLower(strings.TrimSpace(scanType))]; ok {
		return args
	}
	return "-sV"
}

type nmapScan struct {
	OpenPorts []string
	Services  []map[string]any
	OSGuess   string
}

var osDetails = regexp.MustCompile(`OS details: (.+)`)

// parseNmap extracts open ports, their services and the OS guess from
// nmap's normal output.
func parseNmap(output string) nmapScan {
	scan := nmapScan{OpenPorts: []string{}, Services: []map[string]any{}, OSGuess: "Unknown"}
	for _, p := range portLines(output) {
		if p.state != "open" {
			continue
		}
		scan.OpenPorts = append(scan.OpenPorts, p.port)
		scan.Services = append(scan.Services, map[string]any{"port": p.port, "service": p.service})
	}
	if m := osDetails.FindStringSubmatch(output); m != nil {
		scan.OSGuess = strings.TrimSpace(m[1])
	}
	return scan
}

type portLine struct {
	port    string // "22/tcp"
	state   string
	service string
}

func portLines(output string) []portLine {
	var out []portLine
	for line := range strings.SplitSeq(output, "\n") {
		if !strings.Contains(line, "/tcp") && !strings.Contains(line, "/udp") {
			continue
		}
		f := strings.Fields(line)
		if len(f) < 3 || !strings.ContainsRune(f[0], '/') {
			continue
		}
		if _, err := strconv.Atoi(strings.SplitN(f[0], "/", 2)[0]); err != nil {
			continue
		}
		out = append(out, portLine{port: f[0], state: f[1], service: strings.Join(f[2:], " ")})
	}
	return out
}

func parsePorts(output string) []map[string]any {
	ports := []map[string]any{}
	for _, p := range portLines(output) {
		ports = append(ports, map[string]any{
			"port":       p.port,
			"state":      p.state,
			"service":    p.service,
			"risk_level": portRisk(p.port),
		})
	}
	return ports
}

var (
	highRiskPorts   = []int{21, 23, 445, 3389, 5900, 31337}
	mediumRiskPorts = []int{22, 80, 443, 8080, 3306, 5432, 27017}
)

func portNumber(port string) int {
	n, _ := strconv.Atoi(strings.SplitN(port, "/", 2)[0])
	return n
}

func portRisk(port string) string {
	n := portNumber(port)
	switch {
	case slices.Contains(highRiskPorts, n):
		return "high"
	case slices.Contains(mediumRiskPorts, n):
		return "medium"
	}
	return "low"
}

func assessPortRisk(ports []map[string]any) map[string]any {
	high, medium, low := []map[string]any{}, []map[string]any{}, []map[string]any{}
	for _, p := range ports {
		switch p["risk_level"] {
		case "high":
			high = append(high, p)
		case "medium":
			medium = append(medium, p)
		default:
			low = append(low, p)
		}
	}
	recs := []string{}
	if len(high) > 0 {
		recs = append(recs, "CRITICAL: Review and secure high-risk open ports")
	}
	if len(medium) > 0 {
		recs = append(recs, "Consider restricting access to medium-risk ports")
	}
	return map[string]any{
		"high_risk":       high,
		"medium_risk":     medium,
		"low_risk":        low,
		"recommendations": recs,
	}
}

var commonServices = []string{"http", "https", "ssh", "ftp", "smtp", "mysql", "postgres", "redis"}

func analyzeServices(output string) []map[string]any {
	services := []map[string]any{}
	for _, p := range portLines(output) {
		if p.state != "open" {
			continue
		}
		num, proto, _ := strings.Cut(p.port, "/")
		lower := strings.ToLower(p.service)
		services = append(services, map[string]any{
			"port":      num,
			"protocol":  proto,
			"name":      p.service,
			"is_common": slices.ContainsFunc(commonServices, func(c string) bool { return strings.Contains(lower, c) }),
		})
	}
	return services
}

// serviceProduct picks the product name out of an nmap service column,
// e.g. "ssh OpenSSH 8.9p1" yields "OpenSSH".
func serviceProduct(service string) string {
	f := strings.Fields(service)
	switch len(f) {
	case 0:
		return ""
	case 1:
		return f[0]
	}
	return f[1]
}

var cvePattern = regexp.MustCompile(`CVE-\d{4}-\d{4,}`)

var vulnPatterns = []struct {
	severity string
	re       *regexp.Regexp
}{
	{"critical", regexp.MustCompile(`(?i)remote code execution|\brce\b|sql injection`)},
	{"high", regexp.MustCompile(`(?i)\bxss\b|cross-site scripting|\bcsrf\b`)},
	{"medium", regexp.MustCompile(`(?i)information disclosure|path traversal`)},
	{"low", regexp.MustCompile(`(?i)weak cipher|missing header`)},
}

// parseVulnerabilities collects CVE ids and lines matching known
// vulnerability phrases.
func parseVulnerabilities(output string) []map[string]any {
	vulns := []map[string]any{}
	seen := map[string]bool{}
	for _, id := range cvePattern.FindAllString(output, -1) {
		if seen[id] {
			continue
		}
		seen[id] = true
		vulns = append(vulns, map[string]any{"type": "cve", "id": id, "severity": "unknown"})
	}
	for line := range strings.SplitSeq(output, "\n") {
		for _, p := range vulnPatterns {
			if p.re.MatchString(line) {
				vulns = append(vulns, map[string]any{
					"type":        "pattern",
					"severity":    p.severity,
					"description": strings.TrimSpace(line),
				})
				break
			}
		}
	}
	return vulns
}

func severityCounts(vulns []map[string]any) map[string]int {
	counts := map[string]int{"critical": 0, "high": 0, "medium": 0, "low": 0}
	for _, v := range vulns {
		if s, ok := v["severity"].(string); ok {
			if _, known := counts[s]; known {
				counts[s]++
			}
		}
	}
	return counts
}

// securityScore starts at 100 and deducts 2 per open port and 5 per finding.
func securityScore(ports, vulns []map[string]any) int {
	score := 100
	for _, p := range ports {
		if p["state"] == "open" {
			score -= 2
		}
	}
	score -= 5 * len(vulns)
	return max(0, min(100, score))
}

type searchsploitResult struct {
	Exploits  []map[string]any `json:"RESULTS_EXPLOIT"`
	Shellcode []map[string]any `json:"RESULTS_SHELLCODE"`
	Results   []map[string]any `json:"RESULTS"`
}

// parseExploits reads searchsploit --json output, falling back to its
// table format.
func parseExploits(output string) []map[string]any {
	var res searchsploitResult
	if err := json.Unmarshal([]byte(output), &res); err == nil {
		all := slices.Concat(res.Exploits, res.Results, res.Shellcode)
		if all == nil {
			all = []map[string]any{}
		}
		return all
	}

	exploits := []map[string]any{}
	for line := range strings.SplitSeq(output, "\n") {
		title, path, ok := strings.Cut(line, "|")
		if !ok || strings.Contains(title, "Exploit Title") || strings.HasPrefix(strings.TrimSpace(title), "---") {
			continue
		}
		exploits = append(exploits, map[string]any{
			"description": strings.TrimSpace(title),
			"path":        strings.TrimSpace(path),
		})
	}
	return exploits
}

func countFailedLogins(authLog string) int {
	n := 0
	for line := range strings.SplitSeq(authLog, "\n") {
		if strings.Contains(strings.ToLower(line), "failed") {
			n++
		}
	}
	return n
}

var suspiciousTools = []string{"nc", "ncat", "netcat", "nmap", "msfconsole", "metasploit", "hydra"}

// suspiciousProcesses scans "ps -eo pid,comm,args" output for offensive
// tooling by command name.
func suspiciousProcesses(ps string) []string {
	var out []string
	for line := range strings.SplitSeq(ps, "\n") {
		f := strings.Fields(line)
		if len(f) < 2 || f[0] == "PID" {
			continue
		}
		if slices.Contains(suspiciousTools, f[1]) {
			out = append(out, strings.TrimSpace(line))
		}
	}
	return out
}

// parseListening reads "ss -tuln" output.
func parseListening(ss string) []map[string]any {
	sockets := []map[string]any{}
	for line := range strings.SplitSeq(ss, "\n") {
		f := strings.Fields(line)
		if len(f) < 5 || f[0] == "Netid" {
			continue
		}
		if f[1] != "LISTEN" && f[1] != "UNCONN" {
			continue
		}
		sockets = append(sockets, map[string]any{"proto": f[0], "local": f[4]})
	}
	return sockets
}

func threatRecommendations(threats []map[string]any) []string {
	var recs []string
	for _, t := range threats {
		switch t["type"] {
		case "brute_force":
			recs = append(recs,
				"Enable fail2ban or similar intrusion prevention",
				"Implement rate limiting on login endpoints",
				"Use strong, unique passwords",
			)
		case "suspicious_process":
			recs = append(recs,
				"Investigate suspicious processes immediately",
				"Check if authorized security testing",
			)
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "Continue monitoring for suspicious activity")
	}
	return recs
}

// remediationAdvice maps vulnerability kinds or descriptions to advice.
func remediationAdvice(kinds []string) []map[string]any {
	var outdated, openPort, weakCreds bool
	for _, k := range kinds {
		k = strings.ToLower(k)
		outdated = outdated || strings.Contains(k, "outdated") || strings.Contains(k, "version")
		openPort = openPort || (strings.Contains(k, "open") && strings.Contains(k, "port"))
		weakCreds = weakCreds || strings.Contains(k, "weak") || strings.Contains(k, "default")
	}

	var advice []map[string]any
	if outdated {
		advice = append(advice, map[string]any{
			"priority":    "high",
			"action":      "Update software",
			"description": "Update to the latest version of the affected software",
		})
	}
	if openPort {
		advice = append(advice, map[string]any{
			"priority":    "high",
			"action":      "Close unnecessary ports",
			"description": "Close ports that are not required for business operations",
		})
	}
	if weakCreds {
		advice = append(advice, map[string]any{
			"priority":    "critical",
			"action":      "Change credentials",
			"description": "Change default or weak passwords immediately",
		})
	}
	if len(advice) == 0 {
		advice = append(advice, map[string]any{
			"priority":    "medium",
			"action":      "General hardening",
			"description": "Apply vendor hardening guides and keep systems patched",
		})
	}
	return advice
}

func firstWord(command string) string {
	if f := strings.Fields(command); len(f) > 0 {
		return f[0]
	}
	return command
}
