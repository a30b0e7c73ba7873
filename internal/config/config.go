// Package config handles loading and validating Bosco configuration.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Bosco.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.bosco/data. Override: BOSCO_DATA_DIR env var.
	Log           LogConfig            `json:"log" yaml:"log"`
	Orchestrator  OrchestratorConfig   `json:"orchestrator" yaml:"orchestrator"`
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Agents        AgentsConfig         `json:"agents" yaml:"agents"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = in-memory workflow history only
	HTTP          *HTTPConfig          `json:"http,omitempty" yaml:"http,omitempty"`                   // nil = HTTP API disabled
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = cron scheduler disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error. Default: info. Override: BOSCO_LOG_LEVEL env var.
	Format string `json:"format" yaml:"format"` // text or json. Default: text.
}

// SlogLevel returns the configured level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OrchestratorConfig tunes task routing and workflow execution.
type OrchestratorConfig struct {
	MaxParallel         int `json:"max_parallel" yaml:"max_parallel"`                   // Concurrent tasks in a parallel batch. Default: 8.
	WorkflowHistory     int `json:"workflow_history" yaml:"workflow_history"`           // Completed workflows kept in memory. Default: 100.
	AgentHistory        int `json:"agent_history" yaml:"agent_history"`                 // Tasks kept per agent. Default: 100.
	MemoryTTLSeconds    int `json:"memory_ttl_seconds" yaml:"memory_ttl_seconds"`       // Agent short-term memory. Default: 300.
	EventHistoryEntries int `json:"event_history_entries" yaml:"event_history_entries"` // Default: 1000.
}

// Parallelism returns MaxParallel with a default of 8.
func (o OrchestratorConfig) Parallelism() int {
	if o.MaxParallel > 0 {
		return o.MaxParallel
	}
	return 8
}

// HistoryLimit returns WorkflowHistory with a default of 100.
func (o OrchestratorConfig) HistoryLimit() int {
	if o.WorkflowHistory > 0 {
		return o.WorkflowHistory
	}
	return 100
}

// AgentHistoryLimit returns AgentHistory with a default of 100.
func (o OrchestratorConfig) AgentHistoryLimit() int {
	if o.AgentHistory > 0 {
		return o.AgentHistory
	}
	return 100
}

// MemoryTTL returns the agent memory TTL with a default of 5 minutes.
func (o OrchestratorConfig) MemoryTTL() time.Duration {
	if o.MemoryTTLSeconds > 0 {
		return time.Duration(o.MemoryTTLSeconds) * time.Second
	}
	return 5 * time.Minute
}

// EventHistory returns EventHistoryEntries with a default of 1000.
func (o OrchestratorConfig) EventHistory() int {
	if o.EventHistoryEntries > 0 {
		return o.EventHistoryEntries
	}
	return 1000
}

// SandboxConfig configures the process sandbox used to run external tools.
type SandboxConfig struct {
	MaxExecutionSeconds int      `json:"max_execution_seconds" yaml:"max_execution_seconds"` // Ceiling for any command. Default: 600.
	MaxOutputBytes      int64    `json:"max_output_bytes" yaml:"max_output_bytes"`           // Per stream. Default: 1 MB.
	Path                string   `json:"path,omitempty" yaml:"path,omitempty"`               // PATH for child processes. Default: standard system dirs.
	PassEnv             []string `json:"pass_env,omitempty" yaml:"pass_env,omitempty"`       // Extra variables copied into the child env, e.g. KUBECONFIG.
}

// MaxExecution returns the command ceiling with a default of 10 minutes.
func (s SandboxConfig) MaxExecution() time.Duration {
	if s.MaxExecutionSeconds > 0 {
		return time.Duration(s.MaxExecutionSeconds) * time.Second
	}
	return 10 * time.Minute
}

// OutputLimit returns MaxOutputBytes with a default of 1 MB.
func (s SandboxConfig) OutputLimit() int64 {
	if s.MaxOutputBytes > 0 {
		return s.MaxOutputBytes
	}
	return 1 << 20
}

// AgentsConfig holds per-agent settings. Zero values select agent defaults.
type AgentsConfig struct {
	Security SecurityAgentConfig `json:"security" yaml:"security"`
	DevOps   DevOpsAgentConfig   `json:"devops" yaml:"devops"`
	Research ResearchAgentConfig `json:"research" yaml:"research"`
}

// SecurityAgentConfig configures the security agent.
type SecurityAgentConfig struct {
	ScanTimeoutSeconds int    `json:"scan_timeout_seconds" yaml:"scan_timeout_seconds"` // Default: 300.
	AuthLog            string `json:"auth_log,omitempty" yaml:"auth_log,omitempty"`     // Default: /var/log/auth.log.
}

// DevOpsAgentConfig configures the DevOps agent.
type DevOpsAgentConfig struct {
	CommandTimeoutSeconds int    `json:"command_timeout_seconds" yaml:"command_timeout_seconds"` // Default: 60.
	DefaultLogPath        string `json:"default_log_path,omitempty" yaml:"default_log_path,omitempty"`
}

// ResearchAgentConfig configures the research agent.
type ResearchAgentConfig struct {
	SearchEndpoint       string `json:"search_endpoint,omitempty" yaml:"search_endpoint,omitempty"` // Default: DuckDuckGo instant answer API.
	SearchTimeoutSeconds int    `json:"search_timeout_seconds" yaml:"search_timeout_seconds"`       // Default: 10.
	SearchLimit          int    `json:"search_limit" yaml:"search_limit"`                           // Default: 5.
	CodebaseRoot         string `json:"codebase_root,omitempty" yaml:"codebase_root,omitempty"`     // Default: ".".
}

// StorageConfig configures the workflow history backend.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: data_dir/bosco.db.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: BOSCO_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Enabled             bool     `json:"enabled" yaml:"enabled"`
	ListenAddr          string   `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	EnableDocs          bool     `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64    `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 1 MB.
	APIKeys             []string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`         // Empty = no auth. BOSCO_API_KEY env var adds one.
	Events              bool     `json:"events" yaml:"events"`                                 // Serve the /v1/events WebSocket stream.

	RateLimit *RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"` // nil = unlimited.
}

// RateLimitConfig throttles /v1 requests per API key.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"` // Default: requests_per_minute.
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// MaxBodyBytes returns the request size limit with a default of 1 MB.
func (h *HTTPConfig) MaxBodyBytes() int64 {
	if h != nil && h.MaxRequestSizeBytes > 0 {
		return h.MaxRequestSizeBytes
	}
	return 1 << 20
}

// SchedulerConfig configures cron-triggered workflow templates.
type SchedulerConfig struct {
	Enabled bool        `json:"enabled" yaml:"enabled"`
	Jobs    []JobConfig `json:"jobs" yaml:"jobs"`
}

// JobConfig runs Template with Params on a cron Schedule.
type JobConfig struct {
	Name     string            `json:"name" yaml:"name"`
	Schedule string            `json:"schedule" yaml:"schedule"` // Standard 5-field cron expression or descriptor such as "@hourly".
	Template string            `json:"template" yaml:"template"`
	Params   map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// ObservabilityConfig configures metrics, tracing and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "bosco"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// MetricsEnabled reports whether Prometheus metrics are on.
func (c *Config) MetricsEnabled() bool {
	return c.Observability != nil && c.Observability.Metrics != nil && c.Observability.Metrics.Enabled
}

// MetricsPath returns the metrics path with a default of "/metrics".
func (c *Config) MetricsPath() string {
	if c.MetricsEnabled() && c.Observability.Metrics.Path != "" {
		return c.Observability.Metrics.Path
	}
	return "/metrics"
}

// DefaultConfigPath returns the default config file path (~/.bosco/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/bosco.yaml"
	}
	return filepath.Join(home, ".bosco", "config.yaml")
}

// Default returns the configuration used when no config file exists:
// in-memory history, no HTTP API, no scheduler.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.resolveDataDir()
	return cfg
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnv()
	cfg.resolveDataDir()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}
	if _, err := os.Stat(resolved); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(resolved)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BOSCO_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("BOSCO_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BOSCO_DB_DSN"); v != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("BOSCO_API_KEY"); v != "" && c.HTTP != nil {
		if !slices.Contains(c.HTTP.APIKeys, v) {
			c.HTTP.APIKeys = append(c.HTTP.APIKeys, v)
		}
	}
}

func (c *Config) resolveDataDir() {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.DataDir = filepath.Join(home, ".bosco", "data")
		}
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".bosco", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "bosco.db")
}

// StorageDriverName returns the effective storage driver name, or "" when
// persistence is disabled.
func (c *Config) StorageDriverName() string {
	if c.Storage == nil {
		return ""
	}
	return c.Storage.StorageDriver()
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q is not supported (use text or json)", c.Log.Format)
	}
	if c.Orchestrator.MaxParallel < 0 {
		return fmt.Errorf("orchestrator.max_parallel must not be negative")
	}
	if c.Orchestrator.WorkflowHistory < 0 || c.Orchestrator.AgentHistory < 0 {
		return fmt.Errorf("orchestrator history limits must not be negative")
	}
	if c.Sandbox.MaxExecutionSeconds < 0 {
		return fmt.Errorf("sandbox.max_execution_seconds must not be negative")
	}
	if c.Sandbox.MaxOutputBytes < 0 {
		return fmt.Errorf("sandbox.max_output_bytes must not be negative")
	}
	if c.HTTP != nil && c.HTTP.RateLimit != nil {
		if rl := c.HTTP.RateLimit; rl.RequestsPerMinute < 0 || rl.BurstSize < 0 {
			return fmt.Errorf("http.rate_limit values must not be negative")
		}
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite":
		case "postgres":
			if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
				return fmt.Errorf("storage.postgres.dsn is required (set BOSCO_DB_DSN env var)")
			}
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.Scheduler != nil && c.Scheduler.Enabled {
		names := make(map[string]bool, len(c.Scheduler.Jobs))
		for i, job := range c.Scheduler.Jobs {
			if job.Name == "" {
				return fmt.Errorf("scheduler.jobs[%d].name is required", i)
			}
			if names[job.Name] {
				return fmt.Errorf("scheduler.jobs[%d]: duplicate job name %q", i, job.Name)
			}
			names[job.Name] = true
			if job.Template == "" {
				return fmt.Errorf("scheduler.jobs[%d] (%q): template is required", i, job.Name)
			}
			if _, err := cron.ParseStandard(job.Schedule); err != nil {
				return fmt.Errorf("scheduler.jobs[%d] (%q): invalid schedule %q: %w", i, job.Name, job.Schedule, err)
			}
		}
	}
	if t := c.tracing(); t != nil {
		switch t.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", t.Protocol)
		}
		if t.SampleRate < 0 || t.SampleRate > 1 {
			return fmt.Errorf("observability.tracing.sample_rate must be between 0 and 1")
		}
	}
	return nil
}

func (c *Config) tracing() *TracingConfig {
	if c.Observability == nil || c.Observability.Tracing == nil || !c.Observability.Tracing.Enabled {
		return nil
	}
	return c.Observability.Tracing
}
