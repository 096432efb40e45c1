package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/graphery/executor/internal/config"
	"github.com/graphery/executor/internal/gateway/httpapi"
	"github.com/graphery/executor/internal/gateway/ws"
	"github.com/graphery/executor/internal/ratelimit"
	"github.com/graphery/executor/internal/scheduler"
)

const (
	rateLimitSweepSpec = "@every 5m"
	rateLimitIdle      = 10 * time.Minute
	wsRunRetention     = 10 * time.Minute
)

var (
	servePort  int
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP (and optional websocket) server",
	RunE:  runServe,
}

func init() {
	// `executor --config path` and `executor serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&configPath, "config", "", "path to config file (JSON or YAML)")
		cmd.Flags().IntVar(&servePort, "port", 0, "override the listen port")
		cmd.Flags().BoolVar(&serveWatch, "watch-config", false, "reload execution settings when the config file changes")
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	logger := newLogger(cfg.Log, os.Stderr)
	logger.Info("starting executor server",
		slog.String("version", version),
		slog.String("sandbox", cfg.Sandbox.SandboxType()),
	)

	c, err := initComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var limiter *ratelimit.Limiter
	if rl := cfg.Server.RateLimit; rl != nil && rl.RequestsPerMinute > 0 {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: rl.RequestsPerMinute,
			BurstSize:         rl.BurstSize,
		})
	}

	metrics := c.obs.MetricsOrNil()
	gwCfg := httpapi.Config{
		ListenAddr:       cfg.Server.Addr(),
		EnableDocs:       cfg.Server.EnableDocs,
		Version:          version,
		APIKeys:          cfg.Server.APIKeys,
		MaxRequestSize:   cfg.Server.RequestLimit(),
		AllowOtherOrigin: cfg.Server.AllowOtherOrigin,
		AcceptedOrigins:  cfg.Server.Origins(),
		Metrics:          metrics,
		Tracer:           c.obs.TracerOrNil().Tracer(),
	}
	if c.obs != nil {
		gwCfg.HealthChecker = c.obs.Health
	}
	if metrics != nil {
		gwCfg.MetricsRegistry = metrics.Registry
		if cfg.Observability.Metrics.Path != "" {
			gwCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}
	gw := httpapi.NewGateway(gwCfg, c.runner, c.executor, limiter, logger)
	if c.historyEnabled() {
		gw.WithRunHistory(c.store.Runs())
	}

	var wsServer *ws.Server
	if cfg.Server.WebSocket {
		wsServer = ws.NewServer(ws.Config{
			APIKeys:          cfg.Server.APIKeys,
			AllowOtherOrigin: cfg.Server.AllowOtherOrigin,
			AcceptedOrigins:  cfg.Server.Origins(),
			ReadLimit:        cfg.Server.RequestLimit(),
		}, c.runner, limiter, metrics, logger)
		gw.WithHandler(cfg.Server.WSPath(), wsServer.Handler())
		logger.Debug("websocket endpoint enabled", slog.String("path", cfg.Server.WSPath()))
	}

	sched, err := buildScheduler(ctx, c, limiter, wsServer)
	if err != nil {
		return err
	}
	cancelScheduler := sched.Start(ctx)
	defer cancelScheduler()

	if serveWatch {
		watchConfig(ctx, c, logger)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("http server shutdown", slog.String("error", err.Error()))
	}
	return nil
}

// watchConfig applies edits of the execution settings while serving. The
// listener, storage and sandbox keep the settings they started with.
func watchConfig(ctx context.Context, c *components, logger *slog.Logger) {
	path := configSource()
	if path == "" {
		logger.Warn("--watch-config needs --config or GE_CONFIG")
		return
	}
	go func() {
		err := config.Watch(ctx, path, logger, func(next *config.Config) {
			c.executor.SetConfig(&next.Executor)
		})
		if err != nil {
			logger.Error("config watcher stopped", slog.Any("error", err))
		}
	}()
}

// buildScheduler registers the maintenance jobs the enabled features need.
func buildScheduler(ctx context.Context, c *components, limiter *ratelimit.Limiter, wsServer *ws.Server) (*scheduler.Scheduler, error) {
	var schedMetrics *scheduler.Metrics
	if m := c.obs.MetricsOrNil(); m != nil {
		schedMetrics = scheduler.NewMetrics(m.Registry)
	}
	sched := scheduler.New(schedMetrics, c.logger)

	var jobs []scheduler.Job
	if c.cacheEnabled() {
		jobs = append(jobs, scheduler.PruneResults(c.store.Results(), c.cfg.Cache.Schedule()))
	}
	if c.historyEnabled() {
		jobs = append(jobs, scheduler.TrimHistory(c.store.Runs(), c.cfg.History.Schedule(), c.cfg.History.Retention()))
	}
	if limiter != nil {
		jobs = append(jobs, scheduler.SweepRateLimits(limiter, rateLimitSweepSpec, rateLimitIdle))
	}
	if wsServer != nil {
		jobs = append(jobs, scheduler.Job{
			Name: "clean_ws_runs",
			Spec: rateLimitSweepSpec,
			Run: func(context.Context) (int64, error) {
				return int64(wsServer.Tracker().CleanCompleted(wsRunRetention)), nil
			},
		})
	}
	for _, job := range jobs {
		if err := sched.Add(ctx, job); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

