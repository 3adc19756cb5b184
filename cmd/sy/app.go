package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/zulandar/switchyard/internal/completion"
	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/db"
	"github.com/zulandar/switchyard/internal/dispatch"
	"github.com/zulandar/switchyard/internal/memory"
	"github.com/zulandar/switchyard/internal/metrics"
	"github.com/zulandar/switchyard/internal/registry"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

const defaultConfigPath = "switchyard.yaml"

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "path to Switchyard config file")
}

// loadConfig reads the config file. A missing file at the default path
// yields the built-in defaults so `sy` works without any setup.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

// newLogger builds the process logger from the log section.
func newLogger(c config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	var zc zap.Config
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// appOpts selects optional behaviour when wiring the application.
type appOpts struct {
	// Offline replaces the completion backend with a local echo.
	Offline bool
	// Ephemeral keeps conversations in a private in-memory database.
	Ephemeral bool
	// Metrics registers Prometheus collectors with the default registry.
	Metrics bool
}

// app is the wired routing core.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *gorm.DB
	registry   *registry.Registry
	store      *memory.Store
	metrics    *metrics.Metrics
	dispatcher *dispatch.Dispatcher
}

func openDB(cfg *config.Config, ephemeral bool) (*gorm.DB, error) {
	if ephemeral {
		gdb, err := db.OpenMemory()
		if err != nil {
			return nil, err
		}
		return gdb, db.AutoMigrate(gdb)
	}
	gdb, err := db.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Driver == "sqlite" {
		// A local file has no separate provisioning step.
		if err := db.AutoMigrate(gdb); err != nil {
			return nil, err
		}
	}
	return gdb, nil
}

func newApp(cfg *config.Config, logger *zap.Logger, opts appOpts) (*app, error) {
	reg, err := registry.New(cfg.Agents)
	if err != nil {
		return nil, err
	}

	gdb, err := openDB(cfg, opts.Ephemeral)
	if err != nil {
		return nil, err
	}

	store, err := memory.NewStore(memory.StoreOpts{
		DB:           gdb,
		HistoryLimit: cfg.Memory.HistoryLimit,
		CacheSize:    cfg.Memory.CacheSize,
		CacheTTL:     cfg.Memory.CacheTTL,
		Logger:       logger.Named("memory"),
	})
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if opts.Metrics {
		if m, err = metrics.New(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	client, err := newCompletionClient(cfg.Completion, logger, opts.Offline)
	if err != nil {
		return nil, err
	}

	d, err := dispatch.New(dispatch.Opts{
		Registry: reg,
		Client:   client,
		Store:    store,
		Routing:  cfg.Routing,
		Metrics:  m,
		Logger:   logger.Named("dispatch"),
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		db:         gdb,
		registry:   reg,
		store:      store,
		metrics:    m,
		dispatcher: d,
	}, nil
}

func newCompletionClient(cfg config.CompletionConfig, logger *zap.Logger, offline bool) (completion.Client, error) {
	if offline {
		fake := completion.NewFake()
		fake.Default = completion.Echo
		fake.On("classify", classifyByKeyword)
		fake.Reply("scope", `{"is_in_scope": true, "reason": "offline"}`)
		return fake, nil
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("completion: api key is required (set completion.api_key or OPENAI_API_KEY, or use --offline)")
	}
	oc, err := completion.NewOpenAIClient(completion.OpenAIOpts{
		Config: cfg,
		Logger: logger.Named("completion"),
	})
	if err != nil {
		return nil, err
	}
	return completion.NewBreakerClient(oc, cfg.Breaker, logger.Named("breaker")), nil
}

func (a *app) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	a.logger.Sync()
}

// setup loads config, builds the logger and wires the app.
func setup(cmd *cobra.Command, configPath string, opts appOpts) (*app, error) {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	a, err := newApp(cfg, logger, opts)
	if err != nil {
		logger.Sync()
		return nil, err
	}
	return a, nil
}
