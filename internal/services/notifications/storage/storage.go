// Package storage declares the outbox and per-recipient delivery records
// that carry workflow notifications from a committed transition to the
// messaging transport.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested outbox or delivery record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrLeaseLost indicates the caller no longer owns the event lease.
	ErrLeaseLost = errors.New("outbox lease lost")
)

// OutboxStatus identifies one outbox event lifecycle state.
type OutboxStatus string

const (
	// OutboxStatusPending means the event waits for its next attempt.
	OutboxStatusPending OutboxStatus = "pending"
	// OutboxStatusLeased means a dispatcher owns the event until the lease expires.
	OutboxStatusLeased OutboxStatus = "leased"
	// OutboxStatusSucceeded means every recipient was handled.
	OutboxStatusSucceeded OutboxStatus = "succeeded"
	// OutboxStatusDead means the event exhausted its attempts.
	OutboxStatusDead OutboxStatus = "dead"
)

// DeliveryStatus identifies one recipient delivery state.
type DeliveryStatus string

const (
	// DeliveryStatusPending means the recipient has not been attempted.
	DeliveryStatusPending DeliveryStatus = "pending"
	// DeliveryStatusFailed means the last attempt failed and may be retried.
	DeliveryStatusFailed DeliveryStatus = "failed"
	// DeliveryStatusDelivered means the transport accepted the message.
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	// DeliveryStatusDead means the recipient will not be attempted again.
	DeliveryStatusDead DeliveryStatus = "dead"
)

// Settled reports whether no further attempts are made for this status.
func (s DeliveryStatus) Settled() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusDead
}

// OutboxEvent is one notification-worthy transition written in the same
// transaction as the state change that caused it.
type OutboxEvent struct {
	ID             string
	EventType      string
	EntityID       string
	DedupeKey      string
	PayloadJSON    string
	Status         OutboxStatus
	AttemptCount   int
	NextAttemptAt  time.Time
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	LastError      string
	ProcessedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DeliveryRecord stores the delivery state for one (event, recipient) pair.
type DeliveryRecord struct {
	EventID      string
	Recipient    string
	Status       DeliveryStatus
	AttemptCount int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeliveredAt  *time.Time
}

// OutboxStore leases and acknowledges outbox events. Acknowledgements
// require the caller to still hold the lease.
type OutboxStore interface {
	LeaseOutboxEvents(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]OutboxEvent, error)
	MarkOutboxSucceeded(ctx context.Context, id string, consumer string, now time.Time) error
	MarkOutboxRetry(ctx context.Context, id string, consumer string, nextAttemptAt time.Time, lastError string, now time.Time) error
	MarkOutboxDead(ctx context.Context, id string, consumer string, lastError string, now time.Time) error
}

// DeliveryStore persists per-recipient delivery state.
type DeliveryStore interface {
	ListDeliveries(ctx context.Context, eventID string) ([]DeliveryRecord, error)
	PutDelivery(ctx context.Context, record DeliveryRecord) error
}

// DispatchStore is everything the dispatcher needs.
type DispatchStore interface {
	OutboxStore
	DeliveryStore
}

// OutboxSummary counts events per status and locates the oldest event still
// waiting for delivery.
type OutboxSummary struct {
	Counts          map[OutboxStatus]int `json:"counts"`
	OldestPendingID string               `json:"oldest_pending_id,omitempty"`
	OldestPendingAt *time.Time           `json:"oldest_pending_at,omitempty"`
}

// OutboxMaintenanceStore backs operator inspection and requeue of events.
type OutboxMaintenanceStore interface {
	ListOutboxEvents(ctx context.Context, status OutboxStatus, limit int) ([]OutboxEvent, error)
	SummarizeOutbox(ctx context.Context) (OutboxSummary, error)
	RequeueDeadOutboxEvents(ctx context.Context, limit int, now time.Time) (int, error)
}
