package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "bosco.yaml", `
data_dir: /tmp/bosco-test
log:
  level: debug
  format: json
orchestrator:
  max_parallel: 4
storage:
  driver: sqlite
http:
  enabled: true
  listen_addr: ":9090"
  api_keys: ["k1"]
  rate_limit:
    requests_per_minute: 30
scheduler:
  enabled: true
  jobs:
    - name: nightly-audit
      schedule: "0 2 * * *"
      template: infra-audit
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/tmp/bosco-test" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", cfg.Log.SlogLevel())
	}
	if cfg.Orchestrator.Parallelism() != 4 {
		t.Errorf("Parallelism() = %d, want 4", cfg.Orchestrator.Parallelism())
	}
	if cfg.HTTP.Addr() != ":9090" {
		t.Errorf("Addr() = %q", cfg.HTTP.Addr())
	}
	if rl := cfg.HTTP.RateLimit; rl == nil || rl.RequestsPerMinute != 30 {
		t.Errorf("RateLimit = %+v", rl)
	}
	if len(cfg.Scheduler.Jobs) != 1 || cfg.Scheduler.Jobs[0].Template != "infra-audit" {
		t.Errorf("jobs = %+v", cfg.Scheduler.Jobs)
	}
	if got, want := cfg.DatabasePath(), filepath.Join("/tmp/bosco-test", "bosco.db"); got != want {
		t.Errorf("DatabasePath() = %q, want %q", got, want)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "bosco.json", `{"data_dir": "/srv/bosco", "orchestrator": {"workflow_history": 10}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Orchestrator.HistoryLimit() != 10 {
		t.Errorf("HistoryLimit() = %d, want 10", cfg.Orchestrator.HistoryLimit())
	}
	if cfg.StorageDriverName() != "" {
		t.Errorf("StorageDriverName() = %q, want empty", cfg.StorageDriverName())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BOSCO_DATA_DIR", "/env/data")
	t.Setenv("BOSCO_LOG_LEVEL", "warn")
	t.Setenv("BOSCO_DB_DSN", "postgres://u:p@localhost/bosco")
	t.Setenv("BOSCO_API_KEY", "from-env")

	path := writeConfig(t, "bosco.yaml", "data_dir: /file/data\nhttp:\n  enabled: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/env/data" {
		t.Errorf("DataDir = %q, want env value", cfg.DataDir)
	}
	if cfg.Log.SlogLevel() != slog.LevelWarn {
		t.Errorf("level = %v, want warn", cfg.Log.SlogLevel())
	}
	if cfg.StorageDriverName() != "postgres" || cfg.Storage.Postgres.DSN != "postgres://u:p@localhost/bosco" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if len(cfg.HTTP.APIKeys) != 1 || cfg.HTTP.APIKeys[0] != "from-env" {
		t.Errorf("APIKeys = %v", cfg.HTTP.APIKeys)
	}
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	if cfg.Orchestrator.Parallelism() != 8 {
		t.Errorf("Parallelism() = %d, want 8", cfg.Orchestrator.Parallelism())
	}
	if cfg.Orchestrator.HistoryLimit() != 100 || cfg.Orchestrator.AgentHistoryLimit() != 100 {
		t.Error("history limits should default to 100")
	}
	if cfg.Orchestrator.MemoryTTL() != 5*time.Minute {
		t.Errorf("MemoryTTL() = %v", cfg.Orchestrator.MemoryTTL())
	}
	if cfg.Orchestrator.EventHistory() != 1000 {
		t.Errorf("EventHistory() = %d", cfg.Orchestrator.EventHistory())
	}
	if cfg.Sandbox.OutputLimit() != 1<<20 {
		t.Errorf("OutputLimit() = %d", cfg.Sandbox.OutputLimit())
	}
	if cfg.HTTP.Addr() != ":8080" {
		t.Errorf("nil HTTP Addr() = %q", cfg.HTTP.Addr())
	}
	if cfg.MetricsEnabled() || cfg.MetricsPath() != "/metrics" {
		t.Error("metrics should be disabled with default path")
	}
	if cfg.Log.SlogLevel() != slog.LevelInfo {
		t.Errorf("level = %v", cfg.Log.SlogLevel())
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	t.Setenv("BOSCO_DATA_DIR", "/d")
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.DataDir != "/d" || cfg.HTTP != nil {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad log format", "log:\n  format: xml\n", "log.format"},
		{"bad driver", "storage:\n  driver: mysql\n", "not supported"},
		{"postgres without dsn", "storage:\n  driver: postgres\n", "dsn is required"},
		{"negative rate limit", "http:\n  rate_limit:\n    requests_per_minute: -5\n", "rate_limit"},
		{"negative parallel", "orchestrator:\n  max_parallel: -1\n", "max_parallel"},
		{"job without template", "scheduler:\n  enabled: true\n  jobs:\n    - name: a\n      schedule: '@hourly'\n", "template is required"},
		{"bad schedule", "scheduler:\n  enabled: true\n  jobs:\n    - name: a\n      schedule: 'every day'\n      template: pentest\n", "invalid schedule"},
		{"duplicate job", "scheduler:\n  enabled: true\n  jobs:\n    - {name: a, schedule: '@daily', template: pentest}\n    - {name: a, schedule: '@daily', template: pentest}\n", "duplicate"},
		{"bad tracing protocol", "observability:\n  tracing:\n    enabled: true\n    protocol: udp\n", "protocol"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "c.yaml", tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}
