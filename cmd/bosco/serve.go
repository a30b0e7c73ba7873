package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/bosco-os/bosco/internal/config"
	"github.com/bosco-os/bosco/internal/gateway"
	"github.com/bosco-os/bosco/internal/gateway/cli"
	"github.com/bosco-os/bosco/internal/gateway/httpapi"
	"github.com/bosco-os/bosco/internal/gateway/ws"
	"github.com/bosco-os/bosco/internal/ratelimit"
	"github.com/bosco-os/bosco/internal/router"
	"github.com/bosco-os/bosco/internal/scheduler"
)

var (
	servePort        string
	serveInteractive bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, event stream and scheduler",
	Long: `Run Bosco as a long-running service. With --interactive the shell
runs alongside the API; typing "exit" shuts both down.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	serveCmd.Flags().BoolVarP(&serveInteractive, "interactive", "i", false, "also run the interactive shell on stdin")
}

// runServe starts Bosco as a long-running service. The HTTP API is enabled
// even when the config omits it; the scheduler runs when configured.
func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &config.HTTPConfig{Enabled: true}
		if key := goutils.Env("BOSCO_API_KEY", ""); key != "" {
			cfg.HTTP.APIKeys = []string{key}
		}
	}
	if servePort != "" {
		cfg.HTTP.ListenAddr = servePort
	}
	logger := newLogger(cfg, os.Stderr)
	logger.Info("starting bosco", slog.String("version", version), slog.String("config", configPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scheduler (optional).
	var sched *scheduler.Scheduler
	if cfg.Scheduler != nil && cfg.Scheduler.Enabled {
		sched, err = buildScheduler(cfg.Scheduler, sc)
		if err != nil {
			return err
		}
		stopSched := sched.Start(ctx)
		defer stopSched()
		logger.Info("scheduler started", slog.Int("jobs", len(cfg.Scheduler.Jobs)))
	}

	rt := router.New(sc.Orchestrator, logger)

	// HTTP API.
	apiCfg := httpapi.Config{
		ListenAddr:     cfg.HTTP.Addr(),
		EnableDocs:     cfg.HTTP.EnableDocs,
		APIKeys:        cfg.HTTP.APIKeys,
		MaxRequestSize: cfg.HTTP.MaxBodyBytes(),
		HealthChecker:  sc.Obs.Health,
	}
	if sc.Obs.Metrics != nil {
		apiCfg.Metrics = sc.Obs.Metrics
		apiCfg.MetricsRegistry = sc.Obs.Registry()
		apiCfg.MetricsPath = cfg.MetricsPath()
	}
	if sc.Obs.Tracer != nil {
		apiCfg.Tracer = sc.Obs.TracerOrNoop()
	}
	api := httpapi.NewGateway(apiCfg, sc.Orchestrator, rt, logger).WithSSE(true)
	if rl := cfg.HTTP.RateLimit; rl != nil {
		api.WithRateLimiter(ratelimit.New(ratelimit.Config{
			RequestsPerMinute: rl.RequestsPerMinute,
			BurstSize:         rl.BurstSize,
		}))
	}
	if sched != nil {
		api.WithJobs(sched)
	}
	if cfg.HTTP.Events {
		var subscribers prometheus.Gauge
		if sc.Obs.Metrics != nil {
			subscribers = sc.Obs.Metrics.EventSubscribers
		}
		api.WithHandler("/v1/events", ws.NewServer(sc.Bus, ws.Config{APIKeys: cfg.HTTP.APIKeys}, subscribers, logger))
	}

	gateways := []gateway.Gateway{api}
	if serveInteractive {
		gateways = append(gateways, cli.NewGateway(rt, os.Stdin, os.Stdout, logger))
	}
	return runGateways(ctx, gateways, logger)
}

// runGateways starts every gateway and waits for a signal or the first one
// to exit, then stops them all in reverse order.
func runGateways(ctx context.Context, gateways []gateway.Gateway, logger *slog.Logger) error {
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
			runErr = fmt.Errorf("gateway: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}
	return runErr
}

// buildScheduler registers every configured job. An invalid job stops
// startup.
func buildScheduler(cfg *config.SchedulerConfig, sc *SharedComponents) (*scheduler.Scheduler, error) {
	sched := scheduler.New(sc.Orchestrator, scheduler.NewMetrics(sc.Obs.Registry()), sc.Logger)
	for _, j := range cfg.Jobs {
		if err := sched.Add(scheduler.Job{
			Name:     j.Name,
			Schedule: j.Schedule,
			Template: j.Template,
			Params:   j.Params,
		}); err != nil {
			return nil, fmt.Errorf("scheduler job %q: %w", j.Name, err)
		}
	}
	return sched, nil
}
