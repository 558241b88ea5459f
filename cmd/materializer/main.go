// Command materializer runs the VM: it replays a remote shared log,
// keeps a set of typed objects up to date, and periodically stamps
// their state back into the log as snapshots so new clients can join
// without replaying from index 0.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/iuliatamas/cryptlog/pkg/config"
	"github.com/iuliatamas/cryptlog/pkg/converters"
	"github.com/iuliatamas/cryptlog/pkg/cryptlogcrypto"
	"github.com/iuliatamas/cryptlog/pkg/logentry"
	"github.com/iuliatamas/cryptlog/pkg/logging"
	"github.com/iuliatamas/cryptlog/pkg/materializer"
	"github.com/iuliatamas/cryptlog/pkg/notify"
	"github.com/iuliatamas/cryptlog/pkg/objects"
	"github.com/iuliatamas/cryptlog/pkg/remotelog"
	"github.com/iuliatamas/cryptlog/pkg/tracing"
)

// AppConfig is this binary's configuration surface.
type AppConfig struct {
	LogServerEndpoint string           `yaml:"log_server_endpoint"`
	// AuthTokenEnv, when non-empty, names an env var holding the bearer
	// token this materializer presents to a logserver configured with
	// ServerConfig.AuthSecret.
	AuthTokenEnv string           `yaml:"auth_token_env"`
	Snapshot     SnapshotConfig   `yaml:"snapshot"`
	Encryption   EncryptionConfig `yaml:"encryption"`
	Notify       NotifyConfig     `yaml:"notify"`
	Tracing      tracing.Config   `yaml:"tracing"`
}

type SnapshotConfig struct {
	ThresholdEntries int `yaml:"threshold_entries"`
	PollIntervalMS   int `yaml:"poll_interval_ms"`
	Workers          int `yaml:"workers"`
}

type EncryptionConfig struct {
	Enabled      bool   `yaml:"enabled"`
	PassphraseEnv string `yaml:"passphrase_env"`
	AddPrimeBits int    `yaml:"add_prime_bits"`
}

type NotifyConfig struct {
	Kind string `yaml:"kind"` // none | nats
	URL  string `yaml:"url"`
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		LogServerEndpoint: "http://127.0.0.1:8088",
		Snapshot: SnapshotConfig{
			ThresholdEntries: 100,
			PollIntervalMS:   50,
			Workers:          4,
		},
		Encryption: EncryptionConfig{
			PassphraseEnv: "CRYPTLOG_PASSPHRASE",
			AddPrimeBits:  256,
		},
		Notify: NotifyConfig{Kind: "none"},
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
	if endpoint := os.Getenv("CRYPTLOG_LOG_SERVER"); endpoint != "" {
		cfg.LogServerEndpoint = endpoint
	}
	return cfg, nil
}

func buildEncryptor(cfg EncryptionConfig) (*cryptlogcrypto.MetaEncryptor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	passphrase := os.Getenv(cfg.PassphraseEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("encryption enabled but %s is not set", cfg.PassphraseEnv)
	}
	return cryptlogcrypto.NewMetaEncryptor(cryptlogcrypto.Config{
		Passphrase:   []byte(passphrase),
		AddPrimeBits: cfg.AddPrimeBits,
	})
}

// trackObjects registers the small fixed set of objects this
// materializer keeps live: one running counter (AddableRegister), one
// string lookup table (HMap), one sorted index (BTMap). A deployment
// that needs a different object shape adds/removes entries here.
func trackObjects(vm *materializer.VM) {
	counter := objects.NewAddableRegister(vm.Runtime(), 0, 0)
	vm.Track(0, counter)

	lookup := objects.NewHMap[string, string](vm.Runtime(), 1, converters.StringConverter{}, converters.StringConverter{})
	vm.Track(1, lookup)

	index := objects.NewBTMap[string, string](vm.Runtime(), 2, converters.StringConverter{}, converters.StringOrdKeyConverter{}, converters.StringConverter{})
	vm.Track(2, index)
}

func buildNotifier(cfg NotifyConfig) (notify.Notifier, error) {
	switch cfg.Kind {
	case "", "none":
		return nil, nil
	case "nats":
		return notify.NewNATSNotifier(notify.NATSConfig{URL: cfg.URL})
	default:
		return nil, fmt.Errorf("unknown notify kind %q", cfg.Kind)
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// instanceID distinguishes this materializer's log lines from any
	// other replica running against the same log, the way a client ID
	// distinguishes runtime.Runtime instances.
	instanceID := uuid.NewString()
	ctx = logging.WithClientID(ctx, instanceID)
	logger := logging.NewJSON().WithContext(ctx)
	logger.Infof("starting materializer (instance=%s)", instanceID)

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

	secure, err := buildEncryptor(cfg.Encryption)
	if err != nil {
		logger.Errorf("failed to build encryptor: %v", err)
		os.Exit(1)
	}

	var store *remotelog.Client
	if cfg.AuthTokenEnv != "" {
		store = remotelog.NewAuthenticatedClient(cfg.LogServerEndpoint, os.Getenv(cfg.AuthTokenEnv))
	} else {
		store = remotelog.NewClient(cfg.LogServerEndpoint)
	}
	defer store.Close()

	vm := materializer.New(store, secure, materializer.NewSkiplistStore(), materializer.Config{
		SnapshotThreshold: int64(cfg.Snapshot.ThresholdEntries),
		PollInterval:      time.Duration(cfg.Snapshot.PollIntervalMS) * time.Millisecond,
		SnapshotWorkers:   cfg.Snapshot.Workers,
	})
	trackObjects(vm)

	notifier, err := buildNotifier(cfg.Notify)
	if err != nil {
		logger.Errorf("failed to build notifier: %v", err)
		os.Exit(1)
	}
	if notifier != nil {
		defer notifier.Close()
		go watchAndNotify(ctx, vm, notifier, logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() { runErr <- vm.Run(ctx) }()

	select {
	case err := <-runErr:
		if err != nil {
			logger.Errorf("materializer loop exited: %v", err)
			os.Exit(1)
		}
	case <-sigCh:
		logger.Info("shutting down gracefully")
		cancel()
		<-runErr
	}

	logger.Info("materializer stopped")
}

// watchAndNotify polls the VM's own log position and advertises it over
// notifier whenever it advances, giving clients waiting on a websocket
// or NATS subject a cheap wake-up instead of a blind poll.
func watchAndNotify(ctx context.Context, vm *materializer.VM, notifier notify.Notifier, logger logging.Logger) {
	var lastSeen logentry.LogIndex = -1
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := vm.Len(ctx)
			if err != nil {
				continue
			}
			if n <= 0 || n-1 == lastSeen {
				continue
			}
			lastSeen = n - 1
			if err := notifier.Notify(ctx, lastSeen); err != nil {
				logger.Warnf("notify failed: %v", err)
			}
		}
	}
}
