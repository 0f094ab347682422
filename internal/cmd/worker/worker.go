// Package worker parses worker command flags and launches the worker runtime.
package worker

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/louisbranch/supplyflow/internal/platform/cmd"
	"github.com/louisbranch/supplyflow/internal/platform/discovery"
	workerserver "github.com/louisbranch/supplyflow/internal/services/worker/app"
)

// Config holds worker command configuration.
type Config struct {
	Addr             string        `env:"SUPPLYFLOW_WORKER_ADDR"`
	DBPath           string        `env:"SUPPLYFLOW_DB_PATH" envDefault:"data/supplyflow.db"`
	TelegramToken    string        `env:"SUPPLYFLOW_TELEGRAM_TOKEN"`
	TelegramBaseURL  string        `env:"SUPPLYFLOW_TELEGRAM_BASE_URL"`
	RedisAddr        string        `env:"SUPPLYFLOW_REDIS_ADDR"`
	SessionKeyPrefix string        `env:"SUPPLYFLOW_SESSION_KEY_PREFIX" envDefault:"supplyflow:session:"`
	SessionTTL       time.Duration `env:"SUPPLYFLOW_SESSION_TTL" envDefault:"30m"`
	Consumer         string        `env:"SUPPLYFLOW_WORKER_CONSUMER" envDefault:"notifications-dispatcher"`
	PollInterval     time.Duration `env:"SUPPLYFLOW_WORKER_POLL_INTERVAL" envDefault:"2s"`
	LeaseTTL         time.Duration `env:"SUPPLYFLOW_WORKER_LEASE_TTL" envDefault:"30s"`
	BatchSize        int           `env:"SUPPLYFLOW_WORKER_BATCH_SIZE" envDefault:"20"`
	MaxAttempts      int           `env:"SUPPLYFLOW_WORKER_MAX_ATTEMPTS" envDefault:"8"`
	RetryBackoff     time.Duration `env:"SUPPLYFLOW_WORKER_RETRY_BACKOFF" envDefault:"5s"`
	RetryMaxDelay    time.Duration `env:"SUPPLYFLOW_WORKER_RETRY_MAX_DELAY" envDefault:"5m"`
	SendTimeout      time.Duration `env:"SUPPLYFLOW_WORKER_SEND_TIMEOUT" envDefault:"10s"`
	SessionSweep     time.Duration `env:"SUPPLYFLOW_SESSION_SWEEP" envDefault:"1m"`
	ShutdownGrace    time.Duration `env:"SUPPLYFLOW_WORKER_SHUTDOWN_GRACE" envDefault:"10s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Addr = discovery.OrDefaultListenAddr(cfg.Addr, discovery.ServiceWorker)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The worker health gRPC listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The procurement SQLite database path")
	fs.StringVar(&cfg.TelegramBaseURL, "telegram-base-url", cfg.TelegramBaseURL, "Telegram Bot API base URL")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for conversation sessions; empty keeps them in memory")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "Conversation session lifetime")
	fs.StringVar(&cfg.Consumer, "consumer", cfg.Consumer, "Notification outbox consumer name")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Notification outbox poll interval")
	fs.DurationVar(&cfg.LeaseTTL, "lease-ttl", cfg.LeaseTTL, "Notification outbox lease duration")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Outbox events leased per pass")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Maximum delivery attempts before dead-letter")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Base retry backoff delay")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Maximum retry delay")
	fs.DurationVar(&cfg.SendTimeout, "send-timeout", cfg.SendTimeout, "Per-recipient send timeout")
	fs.DurationVar(&cfg.SessionSweep, "session-sweep", cfg.SessionSweep, "In-memory session sweep interval")
	fs.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", cfg.ShutdownGrace, "Graceful shutdown deadline for the server and telemetry")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the worker runtime.
func Run(ctx context.Context, cfg Config) error {
	options := entrypoint.RunOptions{ShutdownTimeout: cfg.ShutdownGrace}
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceWorker, options, func(ctx context.Context) error {
		return workerserver.Run(ctx, workerserver.RuntimeConfig{
			Addr:             cfg.Addr,
			DBPath:           cfg.DBPath,
			TelegramToken:    cfg.TelegramToken,
			TelegramBaseURL:  cfg.TelegramBaseURL,
			RedisAddr:        cfg.RedisAddr,
			SessionKeyPrefix: cfg.SessionKeyPrefix,
			SessionTTL:       cfg.SessionTTL,
			Consumer:         cfg.Consumer,
			PollInterval:     cfg.PollInterval,
			LeaseTTL:         cfg.LeaseTTL,
			BatchSize:        cfg.BatchSize,
			MaxAttempts:      cfg.MaxAttempts,
			RetryBackoff:     cfg.RetryBackoff,
			RetryMaxDelay:    cfg.RetryMaxDelay,
			SendTimeout:      cfg.SendTimeout,
			SessionSweep:     cfg.SessionSweep,
			ShutdownGrace:    cfg.ShutdownGrace,
		})
	})
}
