// Command logserver exposes a shared log over HTTP so multiple CryptLog
// clients and materializer processes can append to and stream from the
// same ordered log without sharing a process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iuliatamas/cryptlog/pkg/config"
	"github.com/iuliatamas/cryptlog/pkg/indexedqueue"
	"github.com/iuliatamas/cryptlog/pkg/logging"
	"github.com/iuliatamas/cryptlog/pkg/metrics"
	"github.com/iuliatamas/cryptlog/pkg/remotelog"
	"github.com/iuliatamas/cryptlog/pkg/remotetable"
	"github.com/iuliatamas/cryptlog/pkg/tracing"
)

// AppConfig is this binary's configuration surface, loaded from
// CONFIG_PATH (defaulting to config.yaml) and overridable via env vars.
type AppConfig struct {
	Server  ServerConfig   `yaml:"server"`
	Backend BackendConfig  `yaml:"backend"`
	Tracing tracing.Config `yaml:"tracing"`
}

type ServerConfig struct {
	Addr                 string `yaml:"addr"`
	MaxConcurrentStreams int    `yaml:"max_concurrent_streams"`
	AuthSecretEnv        string `yaml:"auth_secret_env"`
}

// BackendConfig selects and configures the underlying store: "memory"
// (single-process, ephemeral), or one of the remotetable backends
// ("postgres", "sqlite") for a durable, multi-writer log.
type BackendConfig struct {
	Kind       string `yaml:"kind"` // memory | postgres | sqlite
	DSN        string `yaml:"dsn"`
	Table      string `yaml:"table"`
	MaxBacklog int    `yaml:"max_backlog"`
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:                 ":8088",
			MaxConcurrentStreams: 10000,
		},
		Backend: BackendConfig{
			Kind:       "memory",
			Table:      "cryptlog_log",
			MaxBacklog: 4096,
		},
	}
}

func loadConfig() (*AppConfig, error) {
	cfg := defaultConfig()
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		if err := config.Load(path, cfg); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if dsn := os.Getenv("LOGSERVER_DSN"); dsn != "" {
		cfg.Backend.DSN = dsn
	}
	return cfg, nil
}

func buildStore(ctx context.Context, cfg BackendConfig) (indexedqueue.Store, error) {
	switch cfg.Kind {
	case "", "memory":
		return indexedqueue.NewInMemoryStore(cfg.MaxBacklog), nil
	case "postgres":
		table, err := remotetable.NewPGXTableStore(ctx, cfg.DSN, cfg.Table)
		if err != nil {
			return nil, fmt.Errorf("connect postgres backend: %w", err)
		}
		return remotetable.NewRemoteTableQueue(table, 0), nil
	case "sqlite":
		table, err := remotetable.NewSQLiteTableStore(ctx, cfg.DSN, cfg.Table)
		if err != nil {
			return nil, fmt.Errorf("connect sqlite backend: %w", err)
		}
		return remotetable.NewRemoteTableQueue(table, 0), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.NewJSON()
	logger.Info("starting logserver")

	cfg, err := loadConfig()
	if err != nil {
		logger.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}

	tracingShutdown, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.Errorf("failed to init tracing: %v", err)
		os.Exit(1)
	}
	defer tracingShutdown(context.Background())

	store, err := buildStore(ctx, cfg.Backend)
	if err != nil {
		logger.Errorf("failed to build store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	srv := remotelog.NewServer(store, remotelog.ServerConfig{
		Addr:                 cfg.Server.Addr,
		MaxConcurrentStreams: cfg.Server.MaxConcurrentStreams,
		Logger:               logger,
		Metrics:              metrics.Get(),
		AuthSecret:           os.Getenv(cfg.Server.AuthSecretEnv),
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s (backend=%s)", cfg.Server.Addr, cfg.Backend.Kind)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Errorf("server exited: %v", err)
			os.Exit(1)
		}
	case <-sigCh:
		logger.Info("shutting down gracefully")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(); err != nil {
			logger.Errorf("error during shutdown: %v", err)
		}
		<-shutdownCtx.Done()
	}

	logger.Info("logserver stopped")
}
