package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/storage"
)

const deliveryColumns = `id, offer_id, warehouse_id, status, shipped_at, received_at, created_at, updated_at, version`

// GetDelivery loads one delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, id string) (domain.Delivery, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Delivery{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Delivery{}, fmt.Errorf("delivery id is required")
	}
	return s.getDelivery(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = ?`, id)
}

// GetDeliveryByOffer loads the delivery created for one offer.
func (s *Store) GetDeliveryByOffer(ctx context.Context, offerID string) (domain.Delivery, error) {
	if err := s.ready(ctx); err != nil {
		return domain.Delivery{}, err
	}
	offerID = strings.TrimSpace(offerID)
	if offerID == "" {
		return domain.Delivery{}, fmt.Errorf("offer id is required")
	}
	return s.getDelivery(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE offer_id = ?`, offerID)
}

func (s *Store) getDelivery(ctx context.Context, query string, arg string) (domain.Delivery, error) {
	delivery, err := scanDelivery(s.sqlDB.QueryRowContext(ctx, query, arg).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Delivery{}, storage.ErrNotFound
		}
		return domain.Delivery{}, fmt.Errorf("get delivery: %w", err)
	}
	return delivery, nil
}

// ListOpenDeliveries lists deliveries awaiting receipt that belong to
// warehouseID or to no warehouse yet.
func (s *Store) ListOpenDeliveries(ctx context.Context, warehouseID string, limit int) ([]domain.Delivery, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+deliveryColumns+`
FROM deliveries
WHERE status != ? AND (warehouse_id = ? OR warehouse_id = '')
ORDER BY created_at ASC, id ASC
LIMIT ?
`, string(domain.DeliveryStatusReceived), strings.TrimSpace(warehouseID), limit)
	if err != nil {
		return nil, fmt.Errorf("list open deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []domain.Delivery
	for rows.Next() {
		delivery, err := scanDelivery(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, delivery)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return deliveries, nil
}

// TransitionDelivery applies a version-checked delivery status change and,
// when asked, completes the owning request once it is fully received.
func (s *Store) TransitionDelivery(ctx context.Context, transition storage.DeliveryTransition) (storage.DeliveryTransitionResult, error) {
	if err := s.ready(ctx); err != nil {
		return storage.DeliveryTransitionResult{}, err
	}
	id := strings.TrimSpace(transition.DeliveryID)
	if id == "" {
		return storage.DeliveryTransitionResult{}, fmt.Errorf("delivery id is required")
	}
	at := toMillis(transition.At)

	var result storage.DeliveryTransitionResult
	err := s.inTx(ctx, "transition delivery", func(tx *sql.Tx) error {
		if err := versionedUpdate(ctx, tx, "deliveries", id, `
UPDATE deliveries
SET
	status = ?,
	shipped_at = CASE WHEN ? = 'shipped' THEN ? ELSE shipped_at END,
	received_at = CASE WHEN ? = 'received' THEN ? ELSE received_at END,
	warehouse_id = CASE WHEN warehouse_id = '' THEN ? ELSE warehouse_id END,
	updated_at = ?,
	version = version + 1
WHERE id = ? AND version = ?
`,
			string(transition.To),
			string(transition.To), at,
			string(transition.To), at,
			strings.TrimSpace(transition.WarehouseID),
			at,
			id, transition.ExpectedVersion,
		); err != nil {
			return err
		}

		if requestID := strings.TrimSpace(transition.SettleRequestID); requestID != "" {
			completed, err := settleRequest(ctx, tx, requestID, at)
			if err != nil {
				return err
			}
			result.RequestCompleted = completed
		}
		return enqueueEvents(ctx, tx, transition.Events)
	})
	if err != nil {
		return storage.DeliveryTransitionResult{}, err
	}
	return result, nil
}

// settleRequest completes an active request when no offer is pending and
// every delivery of its offers is received.
func settleRequest(ctx context.Context, tx *sql.Tx, requestID string, at int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
UPDATE purchase_requests
SET status = ?, updated_at = ?, version = version + 1
WHERE id = ? AND status = ?
AND NOT EXISTS (
	SELECT 1 FROM seller_offers o
	WHERE o.request_id = purchase_requests.id AND o.status = ?
)
AND NOT EXISTS (
	SELECT 1 FROM deliveries d
	JOIN seller_offers o ON o.id = d.offer_id
	WHERE o.request_id = purchase_requests.id AND d.status != ?
)
`,
		string(domain.RequestStatusCompleted), at,
		requestID, string(domain.RequestStatusActive),
		string(domain.OfferStatusPending),
		string(domain.DeliveryStatusReceived),
	)
	if err != nil {
		return false, fmt.Errorf("settle request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("settle request rows affected: %w", err)
	}
	return affected > 0, nil
}

func scanDelivery(scan scanner) (domain.Delivery, error) {
	var (
		delivery   domain.Delivery
		status     string
		shippedAt  sql.NullInt64
		receivedAt sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)
	if err := scan(
		&delivery.ID,
		&delivery.OfferID,
		&delivery.WarehouseID,
		&status,
		&shippedAt,
		&receivedAt,
		&createdAt,
		&updatedAt,
		&delivery.Version,
	); err != nil {
		return domain.Delivery{}, err
	}
	delivery.Status = domain.DeliveryStatus(status)
	delivery.ShippedAt = fromNullMillis(shippedAt)
	delivery.ReceivedAt = fromNullMillis(receivedAt)
	delivery.CreatedAt = fromMillis(createdAt)
	delivery.UpdatedAt = fromMillis(updatedAt)
	return delivery, nil
}
