package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	notifystorage "github.com/louisbranch/supplyflow/internal/services/notifications/storage"
	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/storage"
)

const requestColumns = `id, buyer_id, supplier_name, site_name, status, created_at, updated_at, version`

// CreateRequest inserts a request with its items and events atomically.
func (s *Store) CreateRequest(ctx context.Context, request domain.PurchaseRequest, events ...notifystorage.OutboxEvent) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	request.ID = strings.TrimSpace(request.ID)
	if request.ID == "" {
		return fmt.Errorf("request id is required")
	}
	if len(request.Items) == 0 {
		return fmt.Errorf("request items are required")
	}
	if request.Version <= 0 {
		request.Version = 1
	}

	return s.inTx(ctx, "create request", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO purchase_requests (`+requestColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
			request.ID,
			request.BuyerID,
			request.SupplierName,
			request.SiteName,
			string(request.Status),
			toMillis(request.CreatedAt),
			toMillis(request.UpdatedAt),
			request.Version,
		); err != nil {
			if isUniqueConstraintError(err) {
				return storage.ErrConflict
			}
			return fmt.Errorf("insert request: %w", err)
		}
		for _, item := range request.Items {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO request_items (request_id, position, product, quantity, unit, description)
VALUES (?, ?, ?, ?, ?, ?)
`, request.ID, item.Position, item.Product, item.Quantity.String(), item.Unit, item.Description); err != nil {
				return fmt.Errorf("insert request item %d: %w", item.Position, err)
			}
		}
		return enqueueEvents(ctx, tx, events)
	})
}

// GetRequest loads one request with its items.
func (s *Store) GetRequest(ctx context.Context, id string) (domain.PurchaseRequest, error) {
	if err := s.ready(ctx); err != nil {
		return domain.PurchaseRequest{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.PurchaseRequest{}, fmt.Errorf("request id is required")
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM purchase_requests WHERE id = ?`, id)
	request, err := scanRequest(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PurchaseRequest{}, storage.ErrNotFound
		}
		return domain.PurchaseRequest{}, fmt.Errorf("get request: %w", err)
	}
	if request.Items, err = s.requestItems(ctx, request.ID); err != nil {
		return domain.PurchaseRequest{}, err
	}
	return request, nil
}

// ListRequestsByBuyer lists the newest requests of one buyer.
func (s *Store) ListRequestsByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.PurchaseRequest, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+requestColumns+`
FROM purchase_requests
WHERE buyer_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`, strings.TrimSpace(buyerID), limit)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	var requests []domain.PurchaseRequest
	for rows.Next() {
		request, err := scanRequest(rows.Scan)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan request: %w", err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close requests: %w", err)
	}
	for i := range requests {
		if requests[i].Items, err = s.requestItems(ctx, requests[i].ID); err != nil {
			return nil, err
		}
	}
	return requests, nil
}

// TransitionRequest applies a version-checked status change.
func (s *Store) TransitionRequest(ctx context.Context, transition storage.RequestTransition) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	id := strings.TrimSpace(transition.RequestID)
	if id == "" {
		return fmt.Errorf("request id is required")
	}
	return s.inTx(ctx, "transition request", func(tx *sql.Tx) error {
		if err := versionedUpdate(ctx, tx, "purchase_requests", id, `
UPDATE purchase_requests
SET status = ?, updated_at = ?, version = version + 1
WHERE id = ? AND version = ?
`, string(transition.To), toMillis(transition.At), id, transition.ExpectedVersion); err != nil {
			return err
		}
		if transition.RejectPendingOffers {
			if err := rejectPendingOffers(ctx, tx, id, transition.At); err != nil {
				return err
			}
		}
		return enqueueEvents(ctx, tx, transition.Events)
	})
}

// rejectPendingOffers closes every pending offer of a request. An approved
// offer already holds a delivery, so the request must stay open.
func rejectPendingOffers(ctx context.Context, tx *sql.Tx, requestID string, at time.Time) error {
	var approved int
	err := tx.QueryRowContext(ctx, `
SELECT 1 FROM seller_offers
WHERE request_id = ? AND status = ?
LIMIT 1
`, requestID, string(domain.OfferStatusApproved)).Scan(&approved)
	switch {
	case err == nil:
		return storage.ErrConflict
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check approved offers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE seller_offers
SET status = ?, updated_at = ?, version = version + 1
WHERE request_id = ? AND status = ?
`, string(domain.OfferStatusRejected), toMillis(at), requestID, string(domain.OfferStatusPending)); err != nil {
		return fmt.Errorf("reject pending offers: %w", err)
	}
	return nil
}

func (s *Store) requestItems(ctx context.Context, requestID string) ([]domain.RequestItem, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT position, product, quantity, unit, description
FROM request_items
WHERE request_id = ?
ORDER BY position ASC
`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list request items: %w", err)
	}
	defer rows.Close()

	var items []domain.RequestItem
	for rows.Next() {
		var (
			item     domain.RequestItem
			quantity string
		)
		if err := rows.Scan(&item.Position, &item.Product, &quantity, &item.Unit, &item.Description); err != nil {
			return nil, fmt.Errorf("scan request item: %w", err)
		}
		if item.Quantity, err = parseDecimal("quantity", quantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request items: %w", err)
	}
	return items, nil
}

func scanRequest(scan scanner) (domain.PurchaseRequest, error) {
	var (
		request   domain.PurchaseRequest
		status    string
		createdAt int64
		updatedAt int64
	)
	if err := scan(
		&request.ID,
		&request.BuyerID,
		&request.SupplierName,
		&request.SiteName,
		&status,
		&createdAt,
		&updatedAt,
		&request.Version,
	); err != nil {
		return domain.PurchaseRequest{}, err
	}
	request.Status = domain.RequestStatus(status)
	request.CreatedAt = fromMillis(createdAt)
	request.UpdatedAt = fromMillis(updatedAt)
	return request, nil
}
