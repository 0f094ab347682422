package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/supplyflow/internal/services/notifications/domain"
	"github.com/louisbranch/supplyflow/internal/services/notifications/storage"
	notifysqlite "github.com/louisbranch/supplyflow/internal/services/notifications/storage/sqlite"
)

type scriptedTransport struct {
	mu    sync.Mutex
	calls map[string]int
	errs  map[string][]error
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{calls: map[string]int{}, errs: map[string][]error{}}
}

func (s *scriptedTransport) Send(_ context.Context, recipient string, _ domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[recipient]++
	queue := s.errs[recipient]
	if len(queue) == 0 {
		return nil
	}
	s.errs[recipient] = queue[1:]
	return queue[0]
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func openOutbox(t *testing.T) *notifysqlite.Store {
	t.Helper()
	store, err := notifysqlite.Open(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func enqueue(t *testing.T, store *notifysqlite.Store, id string, payload string, at time.Time) {
	t.Helper()
	if _, err := store.EnqueueOutboxEvent(context.Background(), storage.OutboxEvent{
		ID:          id,
		EventType:   domain.EventOfferApproved,
		EntityID:    id,
		DedupeKey:   domain.DedupeKey(domain.EventOfferApproved, id),
		PayloadJSON: payload,
		CreatedAt:   at,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func envelopeJSON(t *testing.T, recipients ...string) string {
	t.Helper()
	payload, err := domain.MarshalEnvelope(domain.Envelope{Recipients: recipients, Message: domain.Message{Text: "hello"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return payload
}

func deliveryStatuses(t *testing.T, store *notifysqlite.Store, eventID string) map[string]storage.DeliveryStatus {
	t.Helper()
	rows, err := store.ListDeliveries(context.Background(), eventID)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	statuses := make(map[string]storage.DeliveryStatus, len(rows))
	for _, row := range rows {
		statuses[row.Recipient] = row.Status
	}
	return statuses
}

func TestRunOnceDeliversToEveryRecipient(t *testing.T) {
	store := openOutbox(t)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	enqueue(t, store, "evt-1", envelopeJSON(t, "a", "b", "a"), clock.now)
	transport := newScriptedTransport()

	dispatcher := NewDispatcher(store, domain.NewFanOut(transport, time.Second, nil), Config{Consumer: "test"}, clock.Now, nil)
	stats, err := dispatcher.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if stats != (Stats{Leased: 1, Succeeded: 1}) {
		t.Fatalf("stats = %+v", stats)
	}
	if transport.calls["a"] != 1 || transport.calls["b"] != 1 {
		t.Fatalf("calls = %v, want one per recipient", transport.calls)
	}
	statuses := deliveryStatuses(t, store, "evt-1")
	if statuses["a"] != storage.DeliveryStatusDelivered || statuses["b"] != storage.DeliveryStatusDelivered {
		t.Fatalf("statuses = %v", statuses)
	}
	event, _ := store.GetOutboxEvent(context.Background(), "evt-1")
	if event.Status != storage.OutboxStatusSucceeded {
		t.Fatalf("event status = %q, want succeeded", event.Status)
	}
}

func TestRunOnceRetriesOnlyFailedRecipients(t *testing.T) {
	store := openOutbox(t)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	enqueue(t, store, "evt-1", envelopeJSON(t, "a", "b"), clock.now)
	transport := newScriptedTransport()
	transport.errs["b"] = []error{errors.New("temporary outage")}

	dispatcher := NewDispatcher(store, domain.NewFanOut(transport, time.Second, nil), Config{
		Consumer:      "test",
		RetryBackoff:  10 * time.Second,
		RetryMaxDelay: time.Minute,
	}, clock.Now, nil)

	stats, err := dispatcher.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if stats.Retried != 1 {
		t.Fatalf("stats = %+v, want one retry", stats)
	}
	event, _ := store.GetOutboxEvent(context.Background(), "evt-1")
	if event.Status != storage.OutboxStatusPending || !event.NextAttemptAt.Equal(clock.now.Add(10*time.Second)) {
		t.Fatalf("event after failure = %+v", event)
	}
	statuses := deliveryStatuses(t, store, "evt-1")
	if statuses["a"] != storage.DeliveryStatusDelivered || statuses["b"] != storage.DeliveryStatusFailed {
		t.Fatalf("statuses = %v", statuses)
	}

	// Not due yet.
	clock.now = clock.now.Add(5 * time.Second)
	if stats, _ := dispatcher.RunOnce(context.Background()); stats.Leased != 0 {
		t.Fatalf("leased before retry time: %+v", stats)
	}

	clock.now = clock.now.Add(5 * time.Second)
	stats, err = dispatcher.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if stats.Succeeded != 1 {
		t.Fatalf("stats = %+v, want success", stats)
	}
	if transport.calls["a"] != 1 || transport.calls["b"] != 2 {
		t.Fatalf("calls = %v, want a once and b twice", transport.calls)
	}
}

func TestRunOncePermanentFailureDoesNotRetry(t *testing.T) {
	store := openOutbox(t)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	enqueue(t, store, "evt-1", envelopeJSON(t, "a", "blocked"), clock.now)
	transport := newScriptedTransport()
	transport.errs["blocked"] = []error{domain.Permanent(errors.New("bot was blocked by the user"))}

	dispatcher := NewDispatcher(store, domain.NewFanOut(transport, time.Second, nil), Config{Consumer: "test"}, clock.Now, nil)
	stats, err := dispatcher.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if stats.Succeeded != 1 {
		t.Fatalf("stats = %+v, want success", stats)
	}
	statuses := deliveryStatuses(t, store, "evt-1")
	if statuses["blocked"] != storage.DeliveryStatusDead {
		t.Fatalf("blocked status = %q, want dead", statuses["blocked"])
	}
}

func TestRunOnceDeadLettersAfterMaxAttempts(t *testing.T) {
	store := openOutbox(t)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	enqueue(t, store, "evt-1", envelopeJSON(t, "a"), clock.now)
	transport := newScriptedTransport()
	transport.errs["a"] = []error{errors.New("down"), errors.New("down")}

	dispatcher := NewDispatcher(store, domain.NewFanOut(transport, time.Second, nil), Config{
		Consumer:     "test",
		MaxAttempts:  2,
		RetryBackoff: time.Second,
	}, clock.Now, nil)

	if _, err := dispatcher.RunOnce(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	clock.now = clock.now.Add(time.Second)
	stats, err := dispatcher.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if stats.Dead != 1 {
		t.Fatalf("stats = %+v, want dead", stats)
	}
	event, _ := store.GetOutboxEvent(context.Background(), "evt-1")
	if event.Status != storage.OutboxStatusDead {
		t.Fatalf("event status = %q, want dead", event.Status)
	}
	if statuses := deliveryStatuses(t, store, "evt-1"); statuses["a"] != storage.DeliveryStatusDead {
		t.Fatalf("delivery status = %q, want dead", statuses["a"])
	}
}

func TestRunOnceDeadLettersMalformedPayload(t *testing.T) {
	store := openOutbox(t)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	enqueue(t, store, "evt-1", "{not json", clock.now)

	dispatcher := NewDispatcher(store, nil, Config{Consumer: "test"}, clock.Now, nil)
	stats, err := dispatcher.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if stats.Dead != 1 {
		t.Fatalf("stats = %+v, want dead", stats)
	}
}

func TestRunStopsWhenContextEnds(t *testing.T) {
	store := openOutbox(t)
	dispatcher := NewDispatcher(store, nil, Config{PollInterval: time.Millisecond}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := dispatcher.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, time.Minute},
		{10, time.Minute},
	}
	for _, tt := range tests {
		if got := RetryDelay(5*time.Second, time.Minute, tt.attempt); got != tt.want {
			t.Fatalf("RetryDelay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestConfigNormalized(t *testing.T) {
	cfg := Config{RetryBackoff: time.Minute, RetryMaxDelay: time.Second}.normalized()
	if cfg.Consumer != defaultConsumer || cfg.BatchSize != defaultBatchSize || cfg.MaxAttempts != defaultMaxAttempts {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.RetryMaxDelay != time.Minute {
		t.Fatalf("retry max delay = %v, want raised to backoff", cfg.RetryMaxDelay)
	}
}
