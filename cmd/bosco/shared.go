package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/bosco-os/bosco/internal/agent"
	"github.com/bosco-os/bosco/internal/agents"
	"github.com/bosco-os/bosco/internal/agents/devops"
	"github.com/bosco-os/bosco/internal/agents/research"
	"github.com/bosco-os/bosco/internal/agents/security"
	"github.com/bosco-os/bosco/internal/config"
	"github.com/bosco-os/bosco/internal/events"
	"github.com/bosco-os/bosco/internal/observability"
	"github.com/bosco-os/bosco/internal/orchestrator"
	"github.com/bosco-os/bosco/internal/sandbox"
	"github.com/bosco-os/bosco/internal/storage"
	pgstore "github.com/bosco-os/bosco/internal/storage/postgres"
	sqlitestore "github.com/bosco-os/bosco/internal/storage/sqlite"
)

// SharedComponents holds the subsystems every command needs. Built once by
// initShared, torn down by Cleanup.
type SharedComponents struct {
	Config       *config.Config
	Logger       *slog.Logger
	Obs          *observability.Observability
	Store        storage.Store // nil = in-memory history only.
	Bus          *events.Bus
	Orchestrator *orchestrator.Orchestrator

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// loadConfig loads the config file named by BOSCO_CONFIG or --config,
// falling back to defaults when the file does not exist.
func loadConfig() (*config.Config, error) {
	return config.LoadOrDefault(goutils.Env("BOSCO_CONFIG", configPath))
}

// newLogger builds the slog logger selected by cfg.Log. Logs go to w.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// initShared wires observability, storage, the event bus, the agents and
// the orchestrator. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})
	logger.Debug("observability initialized",
		slog.Bool("metrics", obs.Metrics != nil),
		slog.Bool("tracing", obs.Tracer != nil),
	)
	reg := obs.Registry()

	// Storage.
	var history orchestrator.HistoryStore
	if cfg.StorageDriverName() != "" {
		store, err := initStore(cfg, logger)
		if err != nil {
			sc.Cleanup()
			return nil, fmt.Errorf("initializing storage: %w", err)
		}
		sc.Store = store
		history = store.Workflows()
		obs.Health.AddCheck("storage", store.Ping)
		sc.addCleanup(func() {
			if err := store.Close(); err != nil {
				logger.Error("closing store", slog.String("error", err.Error()))
			}
		})
		logger.Debug("storage initialized", slog.String("driver", store.Driver()))
	}

	// Event bus.
	sc.Bus = events.NewBus(cfg.Orchestrator.EventHistory(), logger)

	// Sandbox and agents.
	sb := sandbox.NewProcessSandbox(sandbox.ProcessConfig{
		MaxTimeout:     cfg.Sandbox.MaxExecution(),
		MaxOutputBytes: cfg.Sandbox.OutputLimit(),
		Path:           cfg.Sandbox.Path,
		PassEnv:        cfg.Sandbox.PassEnv,
	}, logger)
	runner := sandbox.NewShellRunner(sb, sandbox.NewMetrics(reg), logger)

	rc := cfg.Agents.Research
	searcher := research.NewDuckDuckGo(research.DuckDuckGoConfig{
		Endpoint: rc.SearchEndpoint,
		Timeout:  seconds(rc.SearchTimeoutSeconds),
	}, logger)

	registry := agent.NewRegistry(logger)
	built := agents.Default(runner, searcher, agents.Config{
		Security: security.Config{
			ScanTimeout: seconds(cfg.Agents.Security.ScanTimeoutSeconds),
			AuthLog:     cfg.Agents.Security.AuthLog,
		},
		DevOps: devops.Config{
			CommandTimeout: seconds(cfg.Agents.DevOps.CommandTimeoutSeconds),
			DefaultLogPath: cfg.Agents.DevOps.DefaultLogPath,
		},
		Research: research.Config{
			SearchLimit:  rc.SearchLimit,
			CodebaseRoot: rc.CodebaseRoot,
		},
	}, logger, agent.Options{
		HistoryLimit: cfg.Orchestrator.AgentHistoryLimit(),
		MemoryTTL:    cfg.Orchestrator.MemoryTTL(),
		Logger:       logger,
	})
	for _, a := range built {
		registry.Register(a)
	}

	sc.Orchestrator = orchestrator.New(
		registry,
		history,
		orchestrator.NewMetrics(reg),
		obs.TracerOrNoop(),
		sc.Bus,
		logger,
		orchestrator.Config{
			MaxParallel:  cfg.Orchestrator.Parallelism(),
			HistoryLimit: cfg.Orchestrator.HistoryLimit(),
		},
	)
	logger.Debug("orchestrator initialized", slog.Any("agents", registry.Names()))
	return sc, nil
}

// initStore creates the storage backend selected by config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	journalMode := "wal"
	if cfg.Storage != nil && cfg.Storage.SQLite != nil && cfg.Storage.SQLite.JournalMode != "" {
		journalMode = cfg.Storage.SQLite.JournalMode
	}
	return sqlitestore.Open(sqlitestore.Config{
		Path:        cfg.DatabasePath(),
		JournalMode: journalMode,
	}, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	var dsn string
	if cfg.Storage != nil && cfg.Storage.Postgres != nil {
		dsn = cfg.Storage.Postgres.DSN
	}
	dsn = goutils.Env("BOSCO_DB_DSN", dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or BOSCO_DB_DSN)")
	}

	pgCfg := pgstore.Config{DSN: dsn}
	if p := cfg.Storage.Postgres; p != nil {
		pgCfg.MaxOpenConns = p.MaxOpenConns
		pgCfg.MaxIdleConns = p.MaxIdleConns
		pgCfg.ConnMaxLifetime = seconds(p.ConnMaxLifetimeS)
	}

	db, err := pgstore.Open(pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return db, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// cliLogger returns a logger for one-shot commands: warnings only unless
// the config asks for more, written to stderr so stdout stays clean.
func cliLogger(cfg *config.Config) *slog.Logger {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
	return newLogger(cfg, os.Stderr)
}
