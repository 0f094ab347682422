package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	platformgrpc "github.com/louisbranch/supplyflow/internal/platform/grpc"
	notifydomain "github.com/louisbranch/supplyflow/internal/services/notifications/domain"
	notifystorage "github.com/louisbranch/supplyflow/internal/services/notifications/storage"
	"github.com/louisbranch/supplyflow/internal/services/session"
)

type logRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (l *logRecorder) logf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *logRecorder) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func newTestRuntime(t *testing.T, cfg RuntimeConfig, logs *logRecorder) *Runtime {
	t.Helper()
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(t.TempDir(), "nested", "supplyflow.db")
	}
	rt, err := NewRuntime(context.Background(), cfg, logs.logf)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(rt.Close)
	return rt
}

func enqueueMessage(t *testing.T, rt *Runtime, id, recipient, text string) {
	t.Helper()
	payload, err := notifydomain.MarshalEnvelope(notifydomain.Envelope{
		Recipients: []string{recipient},
		Message: notifydomain.Message{
			Text:    text,
			Actions: []notifydomain.Action{{Label: "Approve", Command: "approve_offer", TargetID: id}},
		},
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if _, err := rt.Store().Outbox().EnqueueOutboxEvent(context.Background(), notifystorage.OutboxEvent{
		ID:          id,
		EventType:   notifydomain.EventOfferSubmitted,
		EntityID:    id,
		DedupeKey:   notifydomain.DedupeKey(notifydomain.EventOfferSubmitted, id),
		PayloadJSON: payload,
		CreatedAt:   time.Now().Add(-time.Second),
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func TestNewRuntimeWithoutTokenLogsMessages(t *testing.T) {
	logs := &logRecorder{}
	rt := newTestRuntime(t, RuntimeConfig{}, logs)
	enqueueMessage(t, rt, "evt-1", "200", "New offer")

	stats, err := rt.Dispatcher().RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if stats.Succeeded != 1 {
		t.Fatalf("stats = %+v, want one success", stats)
	}
	if !logs.contains("notify 200") || !logs.contains("approve_offer:evt-1") {
		t.Fatalf("logs = %v, want logged message with action", logs.lines)
	}
	if _, ok := rt.Sessions().(*session.MemoryStore); !ok {
		t.Fatalf("sessions = %T, want memory store", rt.Sessions())
	}
}

func TestNewRuntimeWithTokenPostsToTelegram(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	logs := &logRecorder{}
	rt := newTestRuntime(t, RuntimeConfig{TelegramToken: "tok", TelegramBaseURL: server.URL}, logs)
	enqueueMessage(t, rt, "evt-2", "300", "Offer approved")

	stats, err := rt.Dispatcher().RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if stats.Succeeded != 1 {
		t.Fatalf("stats = %+v, want one success", stats)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 1 || paths[0] != "/bottok/sendMessage" {
		t.Fatalf("paths = %v, want one sendMessage call", paths)
	}
}

func TestNewRuntimeUsesRedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	logs := &logRecorder{}
	rt := newTestRuntime(t, RuntimeConfig{RedisAddr: mr.Addr(), SessionKeyPrefix: "test:"}, logs)

	sessions := rt.Sessions()
	if _, ok := sessions.(*session.RedisStore); !ok {
		t.Fatalf("sessions = %T, want redis store", sessions)
	}
	if _, err := sessions.Put(context.Background(), session.Session{ID: "200", Step: "offer_items"}); err != nil {
		t.Fatalf("put session: %v", err)
	}
	if !mr.Exists("test:200") {
		t.Fatalf("keys = %v, want test:200", mr.Keys())
	}
}

func TestNewRuntimeFailsOnUnreachableRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRuntime(context.Background(), RuntimeConfig{
		DBPath:    filepath.Join(t.TempDir(), "supplyflow.db"),
		RedisAddr: addr,
	}, nil)
	if err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}

func TestServeReportsHealthAndStopsOnCancel(t *testing.T) {
	logs := &logRecorder{}
	rt := newTestRuntime(t, RuntimeConfig{PollInterval: 10 * time.Millisecond}, logs)
	enqueueMessage(t, rt, "evt-3", "400", "Delivery assigned")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx, listener) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	conn, err := platformgrpc.DialWithHealth(dialCtx, listener.Addr().String(), 0, nil)
	if err != nil {
		cancel()
		t.Fatalf("dial worker: %v", err)
	}
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(dialCtx, &grpc_health_v1.HealthCheckRequest{Service: HealthDispatcher})
	_ = conn.Close()
	if err != nil {
		cancel()
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		cancel()
		t.Fatalf("status = %v, want SERVING", resp.GetStatus())
	}

	deadline := time.Now().Add(5 * time.Second)
	for !logs.contains("notify 400") {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("logs = %v, want dispatched message", logs.lines)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}
