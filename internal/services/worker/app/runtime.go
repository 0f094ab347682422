// Package app assembles the worker process: the procurement store, the
// outbox dispatcher with its messaging transport, the conversation session
// backend, and a gRPC health endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/supplyflow/internal/platform/timeouts"
	notifyapp "github.com/louisbranch/supplyflow/internal/services/notifications/app"
	notifydomain "github.com/louisbranch/supplyflow/internal/services/notifications/domain"
	"github.com/louisbranch/supplyflow/internal/services/notifications/transport/logsink"
	"github.com/louisbranch/supplyflow/internal/services/notifications/transport/telegram"
	procurementsqlite "github.com/louisbranch/supplyflow/internal/services/procurement/storage/sqlite"
	"github.com/louisbranch/supplyflow/internal/services/session"
)

// Health service names reported by the worker.
const (
	HealthDispatcher = "worker.dispatcher"
	HealthSessions   = "worker.sessions"
)

// RuntimeConfig controls worker startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	Addr             string
	DBPath           string
	TelegramToken    string
	TelegramBaseURL  string
	RedisAddr        string
	SessionKeyPrefix string
	SessionTTL       time.Duration
	SessionSweep     time.Duration
	Consumer         string
	PollInterval     time.Duration
	LeaseTTL         time.Duration
	BatchSize        int
	MaxAttempts      int
	RetryBackoff     time.Duration
	RetryMaxDelay    time.Duration
	SendTimeout      time.Duration
	ShutdownGrace    time.Duration
}

const (
	defaultWorkerAddr   = ":8089"
	defaultWorkerDB     = "data/supplyflow.db"
	defaultSessionSweep = time.Minute
)

func (c RuntimeConfig) normalized() RuntimeConfig {
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		c.Addr = defaultWorkerAddr
	}
	c.DBPath = strings.TrimSpace(c.DBPath)
	if c.DBPath == "" {
		c.DBPath = defaultWorkerDB
	}
	c.TelegramToken = strings.TrimSpace(c.TelegramToken)
	c.RedisAddr = strings.TrimSpace(c.RedisAddr)
	if c.SessionTTL <= 0 {
		c.SessionTTL = session.DefaultTTL
	}
	if c.SessionSweep <= 0 {
		c.SessionSweep = defaultSessionSweep
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = timeouts.TransportSend
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = timeouts.Shutdown
	}
	return c
}

// Runtime holds the worker dependencies between startup and shutdown.
type Runtime struct {
	cfg        RuntimeConfig
	store      *procurementsqlite.Store
	dispatcher *notifyapp.Dispatcher
	sessions   session.Store
	memory     *session.MemoryStore
	redis      *redis.Client
	logf       func(string, ...any)
}

// NewRuntime opens the store and builds the dispatcher and session backend.
// A blank Telegram token routes messages to the log; a blank Redis address
// keeps sessions in memory.
func NewRuntime(ctx context.Context, cfg RuntimeConfig, logf func(string, ...any)) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logf == nil {
		logf = log.Printf
	}
	cfg = cfg.normalized()

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create worker storage dir: %w", err)
		}
	}
	store, err := procurementsqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open procurement sqlite store: %w", err)
	}
	rt := &Runtime{cfg: cfg, store: store, logf: logf}

	transport, err := newTransport(cfg, logf)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.dispatcher = notifyapp.NewDispatcher(
		store.Outbox(),
		notifydomain.NewFanOut(transport, cfg.SendTimeout, logf),
		notifyapp.Config{
			Consumer:      cfg.Consumer,
			PollInterval:  cfg.PollInterval,
			LeaseTTL:      cfg.LeaseTTL,
			BatchSize:     cfg.BatchSize,
			MaxAttempts:   cfg.MaxAttempts,
			RetryBackoff:  cfg.RetryBackoff,
			RetryMaxDelay: cfg.RetryMaxDelay,
		},
		nil,
		logf,
	)

	if err := rt.openSessions(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func newTransport(cfg RuntimeConfig, logf func(string, ...any)) (notifydomain.Transport, error) {
	if cfg.TelegramToken == "" {
		logf("telegram token not set; notifications are written to the log")
		return logsink.New(logf), nil
	}
	var opts []telegram.Option
	if base := strings.TrimSpace(cfg.TelegramBaseURL); base != "" {
		opts = append(opts, telegram.WithBaseURL(base))
	}
	sender, err := telegram.NewSender(cfg.TelegramToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("build telegram sender: %w", err)
	}
	return sender, nil
}

func (r *Runtime) openSessions(ctx context.Context) error {
	if r.cfg.RedisAddr == "" {
		r.memory = session.NewMemoryStore(r.cfg.SessionTTL, nil)
		r.sessions = r.memory
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, timeouts.StoreOperation)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("ping session redis %s: %w", r.cfg.RedisAddr, err)
	}
	r.redis = client
	r.sessions = session.NewRedisStore(client, r.cfg.SessionKeyPrefix, r.cfg.SessionTTL, nil)
	return nil
}

// Dispatcher returns the outbox dispatcher.
func (r *Runtime) Dispatcher() *notifyapp.Dispatcher { return r.dispatcher }

// Sessions returns the conversation session store.
func (r *Runtime) Sessions() session.Store { return r.sessions }

// Store returns the procurement store.
func (r *Runtime) Store() *procurementsqlite.Store { return r.store }

// Close releases the session backend and the store.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			r.logf("close session redis: %v", err)
		}
		r.redis = nil
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logf("close procurement sqlite store: %v", err)
		}
		r.store = nil
	}
}

// Serve runs the health server and the dispatcher on listener until ctx
// ends. The memory session janitor runs alongside when sessions are local.
func (r *Runtime) Serve(ctx context.Context, listener net.Listener) error {
	if listener == nil {
		return errors.New("worker listener is required")
	}
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthDispatcher, grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(HealthSessions, grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()

	loopCtx, cancel := context.WithCancel(ctx)
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		if r.memory != nil {
			r.memory.RunJanitor(loopCtx, r.cfg.SessionSweep, r.logf)
		}
	}()

	r.logf("worker server listening at %v", listener.Addr())
	runErr := r.dispatcher.Run(loopCtx)
	cancel()
	<-janitorDone

	healthServer.Shutdown()
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(r.cfg.ShutdownGrace):
		grpcServer.Stop()
	}
	if err := <-serveErr; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		r.logf("worker health server: %v", err)
	}
	return runErr
}

// Run starts worker runtime dependencies and the background processing loop.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := NewRuntime(ctx, cfg, log.Printf)
	if err != nil {
		return err
	}
	defer rt.Close()

	listener, err := net.Listen("tcp", rt.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on worker address %s: %w", rt.cfg.Addr, err)
	}
	defer listener.Close()

	return rt.Serve(ctx, listener)
}
