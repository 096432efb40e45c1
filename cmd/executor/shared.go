package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/graphery/executor/internal/config"
	"github.com/graphery/executor/internal/controller"
	"github.com/graphery/executor/internal/observability"
	"github.com/graphery/executor/internal/sandbox"
	"github.com/graphery/executor/internal/service"
	"github.com/graphery/executor/internal/storage"
	pgstore "github.com/graphery/executor/internal/storage/postgres"
	sqlitestore "github.com/graphery/executor/internal/storage/sqlite"
)

var configPath string

// configSource returns the file named by --config or GE_CONFIG.
func configSource() string {
	return goutils.Env(config.EnvPrefix+"CONFIG", configPath)
}

// loadConfig reads the config source. Without one the defaults and
// environment overrides apply.
func loadConfig() (*config.Config, error) {
	return config.Load(configSource())
}

// newLogger builds the slog logger described by cfg.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// components holds the subsystems shared by serve and mcp. Built once by
// initComponents, torn down by Cleanup.
type components struct {
	cfg      *config.Config
	logger   *slog.Logger
	obs      *observability.Observability
	store    storage.Store // nil when neither cache nor history is enabled.
	executor *service.Executor
	runner   service.Runner

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (c *components) Cleanup() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
}

func (c *components) addCleanup(fn func()) {
	c.cleanups = append(c.cleanups, fn)
}

func (c *components) cacheEnabled() bool {
	return c.store != nil && c.cfg.Cache != nil && c.cfg.Cache.Enabled
}

func (c *components) historyEnabled() bool {
	return c.store != nil && c.cfg.History != nil && c.cfg.History.Enabled
}

// initComponents wires observability, storage, the sandbox and the executor.
// Callers must call Cleanup when done.
func initComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{cfg: cfg, logger: logger}

	obs, err := observability.New(cfg.Observability, observability.BuildInfo{
		Version:  version,
		Protocol: controller.ProtocolVersion,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	c.obs = obs
	c.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
			slog.Bool("anomaly", obs.Anomaly != nil),
		)
	}

	if (cfg.Cache != nil && cfg.Cache.Enabled) || (cfg.History != nil && cfg.History.Enabled) {
		store, err := initStore(cfg, logger)
		if err != nil {
			c.Cleanup()
			return nil, fmt.Errorf("initializing storage: %w", err)
		}
		c.store = store
		c.addCleanup(func() {
			if err := store.Close(); err != nil {
				logger.Error("closing store", slog.String("error", err.Error()))
			}
		})
		if err := store.Migrate(context.Background()); err != nil {
			c.Cleanup()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		if cfg.Observability != nil && cfg.Observability.Health != nil && cfg.Observability.Health.IncludeDB {
			obs.AddCheck("database", store.Ping)
		}
		logger.Debug("storage initialized", slog.String("driver", store.Driver()))
	}

	backend, err := initBackend(cfg, obs, logger)
	if err != nil {
		c.Cleanup()
		return nil, fmt.Errorf("initializing sandbox: %w", err)
	}

	opts := service.Options{
		Config:        &cfg.Executor,
		Backend:       backend,
		Store:         c.store,
		History:       c.historyEnabled(),
		MaxConcurrent: cfg.Server.Concurrency(),
		Tracer:        obs.TracerOrNil().Tracer(),
		Logger:        logger,
	}
	if c.cacheEnabled() {
		opts.CacheTTL = cfg.Cache.TTL()
	}
	c.executor = service.New(opts)
	c.runner = obs.Runner(c.executor)
	return c, nil
}

// initStore creates the storage backend selected by config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case "postgres":
		pg := cfg.Storage.Postgres
		store, err := pgstore.Open(context.Background(), pgstore.Config{
			DSN:             pg.DSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return store, nil
	case "sqlite":
		if err := os.MkdirAll(cfg.ResolvedDataDir(), 0750); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		sqlCfg := sqlitestore.Config{Path: cfg.DatabasePath(), JournalMode: "wal"}
		if cfg.Storage != nil && cfg.Storage.SQLite != nil {
			if cfg.Storage.SQLite.Path != "" {
				sqlCfg.Path = cfg.Storage.SQLite.Path
			}
			if cfg.Storage.SQLite.JournalMode != "" {
				sqlCfg.JournalMode = cfg.Storage.SQLite.JournalMode
			}
		}
		return sqlitestore.Open(sqlCfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

// initBackend selects where programs run. A nil backend runs them inside
// the server process.
func initBackend(cfg *config.Config, obs *observability.Observability, logger *slog.Logger) (service.Backend, error) {
	var (
		sb      sandbox.Sandbox
		command []string
	)
	switch typ := cfg.Sandbox.SandboxType(); typ {
	case "inline":
		logger.Warn("programs run inside the server process, one at a time")
		return nil, nil
	case "process":
		binary := cfg.Sandbox.Binary
		if binary == "" {
			exe, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("resolving executable: %w", err)
			}
			binary = exe
		}
		sb = sandbox.NewProcessSandbox(sandbox.ProcessConfig{}, logger)
		command = []string{binary, "run"}
		obs.AddCheck("sandbox", func(context.Context) error {
			_, err := os.Stat(binary)
			return err
		})
	case "docker":
		dc := sandbox.DockerConfig{}
		binary := "executor"
		if d := cfg.Sandbox.Docker; d != nil {
			dc.Image = d.Image
			dc.CPUCores = d.CPUCores
			dc.PIDsLimit = d.PIDsLimit
			dc.NetworkAllowed = d.Network
			if d.Binary != "" {
				binary = d.Binary
			}
		}
		sb = sandbox.NewDockerSandbox(dc, logger)
		command = []string{binary, "run"}
		obs.AddCheck("sandbox", func(context.Context) error {
			_, err := exec.LookPath("docker")
			return err
		})
	default:
		return nil, fmt.Errorf("unknown sandbox type: %q (supported: process, docker, inline)", typ)
	}

	sb = obs.Sandbox(sb, cfg.Sandbox.SandboxType())
	logger.Debug("sandbox initialized",
		slog.String("type", cfg.Sandbox.SandboxType()),
		slog.Any("command", command),
	)
	return &service.SandboxBackend{
		Sandbox:        sb,
		Command:        command,
		MaxResultBytes: cfg.Sandbox.MaxResultBytes(),
		Logger:         logger,
	}, nil
}
