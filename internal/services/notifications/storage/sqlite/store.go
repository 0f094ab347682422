// Package sqlite persists the notification outbox and per-recipient
// delivery rows in SQLite. The tables live next to the workflow tables so
// producers can enqueue inside their own transactions through Enqueue.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/supplyflow/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/supplyflow/internal/services/notifications/storage"
	"github.com/louisbranch/supplyflow/internal/services/notifications/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// MigrationRoot namespaces the outbox migrations in schema_migrations.
const MigrationRoot = "."

const outboxColumns = `
	id,
	event_type,
	entity_id,
	dedupe_key,
	payload_json,
	status,
	attempt_count,
	next_attempt_at,
	lease_owner,
	lease_expires_at,
	last_error,
	processed_at,
	created_at,
	updated_at`

// Store provides SQLite-backed outbox and delivery persistence.
type Store struct {
	sqlDB *sql.DB
	owned bool
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner func(dest ...any) error

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) any {
	if value == nil {
		return nil
	}
	return toMillis(*value)
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// New wraps an existing database that already carries the outbox schema.
func New(sqlDB *sql.DB) *Store {
	return &Store{sqlDB: sqlDB}
}

// Open opens a standalone outbox database at path and migrates it.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := Migrate(context.Background(), sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, owned: true}, nil
}

// Migrate applies the outbox schema to sqlDB.
func Migrate(ctx context.Context, sqlDB *sql.DB) error {
	return sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrations.FS, MigrationRoot)
}

// Close closes the database when the store opened it.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil || !s.owned {
		return nil
	}
	return s.sqlDB.Close()
}

// Enqueue inserts one pending outbox event through ex. An event whose
// dedupe key already exists is silently skipped and reported as false.
func Enqueue(ctx context.Context, ex Execer, event storage.OutboxEvent) (bool, error) {
	event.ID = strings.TrimSpace(event.ID)
	event.EventType = strings.TrimSpace(event.EventType)
	event.EntityID = strings.TrimSpace(event.EntityID)
	event.DedupeKey = strings.TrimSpace(event.DedupeKey)
	event.PayloadJSON = strings.TrimSpace(event.PayloadJSON)
	if event.ID == "" {
		return false, fmt.Errorf("event id is required")
	}
	if event.EventType == "" {
		return false, fmt.Errorf("event type is required")
	}
	if event.DedupeKey == "" {
		return false, fmt.Errorf("dedupe key is required")
	}
	if event.PayloadJSON == "" {
		event.PayloadJSON = "{}"
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.NextAttemptAt.IsZero() {
		event.NextAttemptAt = event.CreatedAt
	}

	result, err := ex.ExecContext(ctx, `
INSERT INTO notification_outbox (
	id, event_type, entity_id, dedupe_key, payload_json, status,
	attempt_count, next_attempt_at, lease_owner, lease_expires_at,
	last_error, processed_at, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, 0, ?, '', NULL, '', NULL, ?, ?)
ON CONFLICT(dedupe_key) DO NOTHING
`,
		event.ID,
		event.EventType,
		event.EntityID,
		event.DedupeKey,
		event.PayloadJSON,
		storage.OutboxStatusPending,
		toMillis(event.NextAttemptAt),
		toMillis(event.CreatedAt),
		toMillis(event.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("enqueue outbox event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue outbox event rows affected: %w", err)
	}
	return affected > 0, nil
}

// EnqueueOutboxEvent inserts one event outside any caller transaction.
func (s *Store) EnqueueOutboxEvent(ctx context.Context, event storage.OutboxEvent) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	return Enqueue(ctx, s.sqlDB, event)
}

// GetOutboxEvent returns one outbox event by ID.
func (s *Store) GetOutboxEvent(ctx context.Context, id string) (storage.OutboxEvent, error) {
	if err := ctx.Err(); err != nil {
		return storage.OutboxEvent{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.OutboxEvent{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.OutboxEvent{}, fmt.Errorf("event id is required")
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT`+outboxColumns+` FROM notification_outbox WHERE id = ?`, id)
	event, err := scanOutboxEvent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.OutboxEvent{}, storage.ErrNotFound
		}
		return storage.OutboxEvent{}, fmt.Errorf("get outbox event: %w", err)
	}
	return event, nil
}

// LeaseOutboxEvents leases due events, including events whose previous
// lease expired, for one consumer.
func (s *Store) LeaseOutboxEvents(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]storage.OutboxEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return nil, fmt.Errorf("consumer is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	if leaseTTL <= 0 {
		return nil, fmt.Errorf("lease ttl must be greater than zero")
	}
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	nowMillis := toMillis(now)

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("start lease transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	candidateIDs, err := queryIDs(ctx, tx, `
SELECT id
FROM notification_outbox
WHERE (status = ? AND next_attempt_at <= ?)
   OR (status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)
ORDER BY next_attempt_at ASC, created_at ASC, id ASC
LIMIT ?
`, storage.OutboxStatusPending, nowMillis, storage.OutboxStatusLeased, nowMillis, limit)
	if err != nil {
		return nil, fmt.Errorf("select lease candidates: %w", err)
	}

	leased := make([]storage.OutboxEvent, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		result, err := tx.ExecContext(ctx, `
UPDATE notification_outbox
SET status = ?, lease_owner = ?, lease_expires_at = ?, updated_at = ?
WHERE id = ?
AND (
	(status = ? AND next_attempt_at <= ?)
	OR (status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)
)
`,
			storage.OutboxStatusLeased,
			consumer,
			toMillis(now.Add(leaseTTL)),
			nowMillis,
			id,
			storage.OutboxStatusPending,
			nowMillis,
			storage.OutboxStatusLeased,
			nowMillis,
		)
		if err != nil {
			return nil, fmt.Errorf("lease outbox event %s: %w", id, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("lease rows affected for %s: %w", id, err)
		}
		if affected == 0 {
			continue
		}
		row := tx.QueryRowContext(ctx, `SELECT`+outboxColumns+` FROM notification_outbox WHERE id = ?`, id)
		event, err := scanOutboxEvent(row.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan leased outbox event %s: %w", id, err)
		}
		leased = append(leased, event)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease transaction: %w", err)
	}
	return leased, nil
}

// MarkOutboxSucceeded completes one leased event.
func (s *Store) MarkOutboxSucceeded(ctx context.Context, id string, consumer string, now time.Time) error {
	return s.settleLeased(ctx, id, consumer, "mark outbox succeeded", `
UPDATE notification_outbox
SET status = ?, lease_owner = '', lease_expires_at = NULL, last_error = '', processed_at = ?, updated_at = ?
WHERE id = ? AND status = ? AND lease_owner = ?
`, storage.OutboxStatusSucceeded, toMillis(nowOr(now)), toMillis(nowOr(now)))
}

// MarkOutboxRetry releases one leased event for another attempt at nextAttemptAt.
func (s *Store) MarkOutboxRetry(ctx context.Context, id string, consumer string, nextAttemptAt time.Time, lastError string, now time.Time) error {
	if nextAttemptAt.IsZero() {
		return fmt.Errorf("next attempt at is required")
	}
	return s.settleLeased(ctx, id, consumer, "mark outbox retry", `
UPDATE notification_outbox
SET status = ?, attempt_count = attempt_count + 1, next_attempt_at = ?, lease_owner = '', lease_expires_at = NULL, last_error = ?, processed_at = NULL, updated_at = ?
WHERE id = ? AND status = ? AND lease_owner = ?
`, storage.OutboxStatusPending, toMillis(nextAttemptAt), strings.TrimSpace(lastError), toMillis(nowOr(now)))
}

// MarkOutboxDead dead-letters one leased event.
func (s *Store) MarkOutboxDead(ctx context.Context, id string, consumer string, lastError string, now time.Time) error {
	return s.settleLeased(ctx, id, consumer, "mark outbox dead", `
UPDATE notification_outbox
SET status = ?, attempt_count = attempt_count + 1, lease_owner = '', lease_expires_at = NULL, last_error = ?, processed_at = ?, updated_at = ?
WHERE id = ? AND status = ? AND lease_owner = ?
`, storage.OutboxStatusDead, strings.TrimSpace(lastError), toMillis(nowOr(now)), toMillis(nowOr(now)))
}

// settleLeased runs an update whose trailing placeholders are id, leased
// status and consumer.
func (s *Store) settleLeased(ctx context.Context, id, consumer, op, query string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	consumer = strings.TrimSpace(consumer)
	if id == "" {
		return fmt.Errorf("event id is required")
	}
	if consumer == "" {
		return fmt.Errorf("consumer is required")
	}
	args = append(args, id, storage.OutboxStatusLeased, consumer)
	result, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return storage.ErrLeaseLost
	}
	return nil
}

// ListDeliveries returns the recipient rows recorded for one event.
func (s *Store) ListDeliveries(ctx context.Context, eventID string) ([]storage.DeliveryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, fmt.Errorf("event id is required")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT event_id, recipient, status, attempt_count, last_error, created_at, updated_at, delivered_at
FROM notification_deliveries
WHERE event_id = ?
ORDER BY recipient ASC
`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var records []storage.DeliveryRecord
	for rows.Next() {
		record, err := scanDelivery(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan delivery row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery rows: %w", err)
	}
	return records, nil
}

// PutDelivery upserts the delivery row for (event, recipient).
func (s *Store) PutDelivery(ctx context.Context, record storage.DeliveryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.EventID = strings.TrimSpace(record.EventID)
	record.Recipient = strings.TrimSpace(record.Recipient)
	record.LastError = strings.TrimSpace(record.LastError)
	if record.EventID == "" {
		return fmt.Errorf("event id is required")
	}
	if record.Recipient == "" {
		return fmt.Errorf("recipient is required")
	}
	if record.Status == "" {
		record.Status = storage.DeliveryStatusPending
	}
	if record.AttemptCount < 0 {
		return fmt.Errorf("attempt count must be non-negative")
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.UpdatedAt
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO notification_deliveries (
	event_id, recipient, status, attempt_count, last_error, created_at, updated_at, delivered_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(event_id, recipient) DO UPDATE SET
	status = excluded.status,
	attempt_count = excluded.attempt_count,
	last_error = excluded.last_error,
	updated_at = excluded.updated_at,
	delivered_at = excluded.delivered_at
`,
		record.EventID,
		record.Recipient,
		record.Status,
		record.AttemptCount,
		record.LastError,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
		toNullMillis(record.DeliveredAt),
	)
	if err != nil {
		return fmt.Errorf("put delivery: %w", err)
	}
	return nil
}

// ListOutboxEvents lists events by status, oldest first. An empty status
// lists every event.
func (s *Store) ListOutboxEvents(ctx context.Context, status storage.OutboxStatus, limit int) ([]storage.OutboxEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	status = storage.OutboxStatus(strings.TrimSpace(string(status)))

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT`+outboxColumns+`
FROM notification_outbox
WHERE ? = '' OR status = ?
ORDER BY created_at ASC, id ASC
LIMIT ?
`, status, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox events: %w", err)
	}
	defer rows.Close()

	var events []storage.OutboxEvent
	for rows.Next() {
		event, err := scanOutboxEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}
	return events, nil
}

// SummarizeOutbox counts events per status. Pending and leased events both
// count as waiting when locating the oldest one.
func (s *Store) SummarizeOutbox(ctx context.Context) (storage.OutboxSummary, error) {
	if err := ctx.Err(); err != nil {
		return storage.OutboxSummary{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.OutboxSummary{}, fmt.Errorf("storage is not configured")
	}

	summary := storage.OutboxSummary{Counts: map[storage.OutboxStatus]int{
		storage.OutboxStatusPending:   0,
		storage.OutboxStatusLeased:    0,
		storage.OutboxStatusSucceeded: 0,
		storage.OutboxStatusDead:      0,
	}}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT status, COUNT(*) FROM notification_outbox GROUP BY status`)
	if err != nil {
		return storage.OutboxSummary{}, fmt.Errorf("count outbox events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return storage.OutboxSummary{}, fmt.Errorf("scan outbox count: %w", err)
		}
		summary.Counts[storage.OutboxStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return storage.OutboxSummary{}, fmt.Errorf("iterate outbox counts: %w", err)
	}

	var (
		oldestID string
		oldestAt int64
	)
	err = s.sqlDB.QueryRowContext(ctx, `
SELECT id, next_attempt_at FROM notification_outbox
WHERE status IN (?, ?)
ORDER BY next_attempt_at ASC, id ASC
LIMIT 1
`, storage.OutboxStatusPending, storage.OutboxStatusLeased).Scan(&oldestID, &oldestAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return storage.OutboxSummary{}, fmt.Errorf("oldest pending outbox event: %w", err)
	default:
		at := fromMillis(oldestAt)
		summary.OldestPendingID = oldestID
		summary.OldestPendingAt = &at
	}
	return summary, nil
}

// RequeueDeadOutboxEvents moves up to limit dead events back to pending with
// a fresh attempt budget. Their dead recipients become retryable again.
func (s *Store) RequeueDeadOutboxEvents(ctx context.Context, limit int, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return 0, fmt.Errorf("limit must be greater than zero")
	}
	nowMillis := toMillis(nowOr(now))

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("start requeue transaction: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback requeue: %v", cause, rollbackErr)
		}
		return cause
	}

	ids, err := queryIDs(ctx, tx, `
SELECT id FROM notification_outbox WHERE status = ? ORDER BY updated_at ASC, id ASC LIMIT ?
`, storage.OutboxStatusDead, limit)
	if err != nil {
		return 0, rollbackWith(fmt.Errorf("select dead events: %w", err))
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
UPDATE notification_outbox
SET status = ?, attempt_count = 0, next_attempt_at = ?, last_error = '', processed_at = NULL, updated_at = ?
WHERE id = ? AND status = ?
`, storage.OutboxStatusPending, nowMillis, nowMillis, id, storage.OutboxStatusDead); err != nil {
			return 0, rollbackWith(fmt.Errorf("requeue outbox event %s: %w", id, err))
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE notification_deliveries
SET status = ?, attempt_count = 0, updated_at = ?
WHERE event_id = ? AND status = ?
`, storage.DeliveryStatusFailed, nowMillis, id, storage.DeliveryStatusDead); err != nil {
			return 0, rollbackWith(fmt.Errorf("requeue deliveries for %s: %w", id, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit requeue transaction: %w", err)
	}
	return len(ids), nil
}

func nowOr(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now.UTC()
}

func queryIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanOutboxEvent(scan scanner) (storage.OutboxEvent, error) {
	var (
		event          storage.OutboxEvent
		status         string
		nextAttemptAt  int64
		leaseExpiresAt sql.NullInt64
		processedAt    sql.NullInt64
		createdAt      int64
		updatedAt      int64
	)
	if err := scan(
		&event.ID,
		&event.EventType,
		&event.EntityID,
		&event.DedupeKey,
		&event.PayloadJSON,
		&status,
		&event.AttemptCount,
		&nextAttemptAt,
		&event.LeaseOwner,
		&leaseExpiresAt,
		&event.LastError,
		&processedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.OutboxEvent{}, err
	}
	event.Status = storage.OutboxStatus(status)
	event.NextAttemptAt = fromMillis(nextAttemptAt)
	event.LeaseExpiresAt = fromNullMillis(leaseExpiresAt)
	event.ProcessedAt = fromNullMillis(processedAt)
	event.CreatedAt = fromMillis(createdAt)
	event.UpdatedAt = fromMillis(updatedAt)
	return event, nil
}

func scanDelivery(scan scanner) (storage.DeliveryRecord, error) {
	var (
		record      storage.DeliveryRecord
		status      string
		createdAt   int64
		updatedAt   int64
		deliveredAt sql.NullInt64
	)
	if err := scan(
		&record.EventID,
		&record.Recipient,
		&status,
		&record.AttemptCount,
		&record.LastError,
		&createdAt,
		&updatedAt,
		&deliveredAt,
	); err != nil {
		return storage.DeliveryRecord{}, err
	}
	record.Status = storage.DeliveryStatus(status)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	record.DeliveredAt = fromNullMillis(deliveredAt)
	return record, nil
}
