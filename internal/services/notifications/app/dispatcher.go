// Package app drains the notification outbox: it leases due events, fans
// each message out to the recipients not yet reached, records per-recipient
// outcomes, and retries or dead-letters the event.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/supplyflow/internal/services/notifications/domain"
	"github.com/louisbranch/supplyflow/internal/services/notifications/storage"
)

const (
	defaultConsumer      = "notifications-dispatcher"
	defaultPollInterval  = 2 * time.Second
	defaultLeaseTTL      = 30 * time.Second
	defaultBatchSize     = 20
	defaultMaxAttempts   = 8
	defaultRetryBackoff  = 5 * time.Second
	defaultRetryMaxDelay = 5 * time.Minute
)

const tracerName = "github.com/louisbranch/supplyflow/internal/services/notifications/app"

// Config controls dispatcher leasing and retry behavior.
type Config struct {
	Consumer      string
	PollInterval  time.Duration
	LeaseTTL      time.Duration
	BatchSize     int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) normalized() Config {
	c.Consumer = strings.TrimSpace(c.Consumer)
	if c.Consumer == "" {
		c.Consumer = defaultConsumer
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.RetryMaxDelay < c.RetryBackoff {
		c.RetryMaxDelay = c.RetryBackoff
	}
	return c
}

// Stats summarizes one dispatcher pass.
type Stats struct {
	Leased    int
	Succeeded int
	Retried   int
	Dead      int
}

// Dispatcher processes outbox events through a fan-out.
type Dispatcher struct {
	store  storage.DispatchStore
	fanOut *domain.FanOut
	cfg    Config
	clock  func() time.Time
	logf   func(string, ...any)
	tracer trace.Tracer
}

// NewDispatcher wires a dispatcher. Nil clock and logf fall back to
// time.Now and a no-op logger.
func NewDispatcher(store storage.DispatchStore, fanOut *domain.FanOut, cfg Config, clock func() time.Time, logf func(string, ...any)) *Dispatcher {
	if clock == nil {
		clock = time.Now
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	if fanOut == nil {
		fanOut = domain.NewFanOut(nil, 0, logf)
	}
	return &Dispatcher{
		store:  store,
		fanOut: fanOut,
		cfg:    cfg.normalized(),
		clock:  clock,
		logf:   logf,
		tracer: otel.Tracer(tracerName),
	}
}

// Run polls the outbox until ctx ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d == nil || d.store == nil {
		return errors.New("dispatcher store is not configured")
	}
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.logf("dispatch pass: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce leases one batch and processes every leased event. Errors on one
// event do not stop the others; its lease lapses and it is retried later.
func (d *Dispatcher) RunOnce(ctx context.Context) (Stats, error) {
	if d == nil || d.store == nil {
		return Stats{}, errors.New("dispatcher store is not configured")
	}
	ctx, span := d.tracer.Start(ctx, "notifications.dispatch")
	defer span.End()

	events, err := d.store.LeaseOutboxEvents(ctx, d.cfg.Consumer, d.cfg.BatchSize, d.now(), d.cfg.LeaseTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lease outbox events")
		return Stats{}, fmt.Errorf("lease outbox events: %w", err)
	}
	stats := Stats{Leased: len(events)}
	span.SetAttributes(attribute.Int("outbox.leased", len(events)))

	var errs []error
	for _, event := range events {
		outcome, err := d.process(ctx, event)
		if err != nil {
			errs = append(errs, fmt.Errorf("event %s: %w", event.ID, err))
			continue
		}
		switch outcome {
		case storage.OutboxStatusSucceeded:
			stats.Succeeded++
		case storage.OutboxStatusDead:
			stats.Dead++
		case storage.OutboxStatusPending:
			stats.Retried++
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "process outbox events")
		return stats, err
	}
	return stats, nil
}

func (d *Dispatcher) process(ctx context.Context, event storage.OutboxEvent) (storage.OutboxStatus, error) {
	ctx, span := d.tracer.Start(ctx, "notifications.dispatch.event", trace.WithAttributes(
		attribute.String("outbox.event_id", event.ID),
		attribute.String("outbox.event_type", event.EventType),
		attribute.Int("outbox.attempt", event.AttemptCount+1),
	))
	defer span.End()

	envelope, err := domain.UnmarshalEnvelope(event.PayloadJSON)
	if err != nil {
		d.logf("dead-letter %s %s: %v", event.EventType, event.ID, err)
		return storage.OutboxStatusDead, d.store.MarkOutboxDead(ctx, event.ID, d.cfg.Consumer, err.Error(), d.now())
	}

	existing, err := d.store.ListDeliveries(ctx, event.ID)
	if err != nil {
		return "", fmt.Errorf("list deliveries: %w", err)
	}
	rows := make(map[string]storage.DeliveryRecord, len(existing))
	for _, row := range existing {
		rows[row.Recipient] = row
	}

	var pending []string
	for _, recipient := range domain.UniqueRecipients(envelope.Recipients) {
		if row, ok := rows[recipient]; ok && row.Status.Settled() {
			continue
		}
		pending = append(pending, recipient)
	}

	failed := make(map[string]error)
	for _, failure := range d.fanOut.Send(ctx, pending, envelope.Message) {
		failed[failure.Recipient] = failure.Err
	}

	attempt := event.AttemptCount + 1
	finalAttempt := attempt >= d.cfg.MaxAttempts
	now := d.now()
	var retryable []string
	for _, recipient := range pending {
		row := rows[recipient]
		row.EventID = event.ID
		row.Recipient = recipient
		row.AttemptCount++
		row.UpdatedAt = now
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		sendErr, isFailed := failed[recipient]
		switch {
		case !isFailed:
			row.Status = storage.DeliveryStatusDelivered
			row.LastError = ""
			delivered := now
			row.DeliveredAt = &delivered
		case domain.IsPermanent(sendErr) || finalAttempt:
			row.Status = storage.DeliveryStatusDead
			row.LastError = sendErr.Error()
		default:
			row.Status = storage.DeliveryStatusFailed
			row.LastError = sendErr.Error()
			retryable = append(retryable, recipient+": "+sendErr.Error())
		}
		if err := d.store.PutDelivery(ctx, row); err != nil {
			return "", fmt.Errorf("record delivery for %s: %w", recipient, err)
		}
	}

	if len(retryable) > 0 {
		lastError := strings.Join(retryable, "; ")
		next := now.Add(RetryDelay(d.cfg.RetryBackoff, d.cfg.RetryMaxDelay, attempt))
		span.SetAttributes(attribute.Int("outbox.retryable", len(retryable)))
		return storage.OutboxStatusPending, d.store.MarkOutboxRetry(ctx, event.ID, d.cfg.Consumer, next, lastError, now)
	}
	if finalAttempt && len(failed) > 0 {
		d.logf("dead-letter %s %s after %d attempts", event.EventType, event.ID, attempt)
		return storage.OutboxStatusDead, d.store.MarkOutboxDead(ctx, event.ID, d.cfg.Consumer, "attempts exhausted", now)
	}
	return storage.OutboxStatusSucceeded, d.store.MarkOutboxSucceeded(ctx, event.ID, d.cfg.Consumer, now)
}

func (d *Dispatcher) now() time.Time {
	return d.clock().UTC()
}

// RetryDelay returns the exponential delay before the given attempt
// (1-based), doubling from base and capped at maxDelay.
func RetryDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	policy := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxDelay,
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay = policy.NextBackOff()
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
