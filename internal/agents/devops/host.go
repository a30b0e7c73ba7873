package devops

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/bosco-os/bosco/internal/agent"
	"github.com/bosco-os/bosco/internal/agents/params"
)

func (h *handler) backup(ctx context.Context, task *agent.Task) (map[string]any, error) {
	c := task.Context
	stamp := h.now().Format("20060102_150405")
	switch kind := params.String(c, "backup_type", "files"); kind {
	case "files":
		source := params.String(c, "source", "/data")
		dest := path.Join(params.String(c, "destination", "/backup"), "backup_"+stamp+".tar.gz")
		if _, err := h.exec(ctx, "tar -czf "+params.Quote(dest)+" "+params.Quote(source), h.cfg.LongTimeout); err != nil {
			return nil, err
		}
		return map[string]any{"type": "files", "source": source, "destination": dest}, nil
	case "docker":
		cmd := "docker ps -aq | xargs -r -I {} docker commit {} backup/{}:" + stamp
		if _, err := h.exec(ctx, cmd, h.cfg.LongTimeout); err != nil {
			return nil, err
		}
		return map[string]any{"type": "docker", "timestamp": stamp}, nil
	default:
		return nil, fmt.Errorf("unknown backup type: %s", kind)
	}
}

func (h *handler) monitoring(ctx context.Context, task *agent.Task) (map[string]any, error) {
	switch target := params.String(task.Context, "target", "system"); target {
	case "system":
		return h.systemStats(ctx)
	case "docker":
		return h.dockerStats(ctx, task.Context)
	case "network":
		return h.networkStats(ctx)
	default:
		return nil, fmt.Errorf("unknown monitoring target: %s", target)
	}
}

// systemStats reads load average, memory and root filesystem usage.
func (h *handler) systemStats(ctx context.Context) (map[string]any, error) {
	load, err := h.exec(ctx, "cat /proc/loadavg", h.cfg.CommandTimeout)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"load":      parseLoadAvg(load.Output),
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	if mem := h.runner.Run(ctx, "free -b", h.cfg.CommandTimeout); mem.Success {
		out["memory"] = parseFree(mem.Output)
	}
	if disk := h.runner.Run(ctx, "df -Pk /", h.cfg.CommandTimeout); disk.Success {
		out["disk"] = parseDF(disk.Output)
	}
	return out, nil
}

func (h *handler) networkStats(ctx context.Context) (map[string]any, error) {
	res, err := h.exec(ctx, "cat /proc/net/dev", h.cfg.CommandTimeout)
	if err != nil {
		return nil, err
	}
	stats := parseNetDev(res.Output)
	stats["timestamp"] = h.now().UTC().Format(time.RFC3339)
	return stats, nil
}

func (h *handler) logs(ctx context.Context, task *agent.Task) (map[string]any, error) {
	c := task.Context
	logPath := params.String(c, "path", h.cfg.DefaultLogPath)
	pattern := params.String(c, "pattern", "")
	lines := params.Int(c, "lines", 100)

	cmd := fmt.Sprintf("tail -n %d %s", lines, params.Quote(logPath))
	if pattern != "" {
		cmd += " | grep -i -- " + params.Quote(pattern)
	}
	res := h.runner.Run(ctx, cmd, h.cfg.CommandTimeout)
	// grep exits 1 on no match.
	if !res.Success && res.ReturnCode != 1 {
		return nil, fmt.Errorf("reading %s: %s", logPath, strings.TrimSpace(res.Error))
	}

	logLines := nonEmptyLines(res.Output)
	errorsN, warnings := 0, 0
	for _, l := range logLines {
		lower := strings.ToLower(l)
		if strings.Contains(lower, "error") {
			errorsN++
		}
		if strings.Contains(lower, "warn") {
			warnings++
		}
	}
	sample := logLines
	if len(sample) > 20 {
		sample = sample[len(sample)-20:]
	}
	return map[string]any{
		"log_path":     logPath,
		"pattern":      pattern,
		"total_lines":  len(logLines),
		"errors":       errorsN,
		"warnings":     warnings,
		"sample_lines": sample,
	}, nil
}

func nonEmptyLines(s string) []string {
	var out []string
	for l := range strings.SplitSeq(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func parseLoadAvg(s string) map[string]any {
	f := strings.Fields(s)
	out := map[string]any{}
	for i, key := range []string{"1m", "5m", "15m"} {
		if i < len(f) {
			if v, err := strconv.ParseFloat(f[i], 64); err == nil {
				out[key] = v
			}
		}
	}
	return out
}

// parseFree reads the "Mem:" row of free -b.
func parseFree(s string) map[string]any {
	for l := range strings.SplitSeq(s, "\n") {
		f := strings.Fields(l)
		if len(f) < 3 || f[0] != "Mem:" {
			continue
		}
		total, used := atou(f[1]), atou(f[2])
		return map[string]any{"total": total, "used": used, "percent": percent(used, total)}
	}
	return nil
}

// parseDF reads the data row of df -Pk, converting 1K blocks to bytes.
func parseDF(s string) map[string]any {
	rows := nonEmptyLines(s)
	if len(rows) < 2 {
		return nil
	}
	f := strings.Fields(rows[1])
	if len(f) < 4 {
		return nil
	}
	total, used := atou(f[1])*1024, atou(f[2])*1024
	return map[string]any{"total": total, "used": used, "percent": percent(used, total)}
}

// parseNetDev sums counters over all non-loopback interfaces.
func parseNetDev(s string) map[string]any {
	var recvBytes, recvPackets, sentBytes, sentPackets uint64
	for l := range strings.SplitSeq(s, "\n") {
		name, rest, ok := strings.Cut(l, ":")
		if !ok || strings.TrimSpace(name) == "lo" {
			continue
		}
		f := strings.Fields(rest)
		if len(f) < 10 {
			continue
		}
		recvBytes += atou(f[0])
		recvPackets += atou(f[1])
		sentBytes += atou(f[8])
		sentPackets += atou(f[9])
	}
	return map[string]any{
		"bytes_recv":   recvBytes,
		"packets_recv": recvPackets,
		"bytes_sent":   sentBytes,
		"packets_sent": sentPackets,
	}
}

func percent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used*1000/total) / 10
}

func atou(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}
