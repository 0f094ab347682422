package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	notifystorage "github.com/louisbranch/supplyflow/internal/services/notifications/storage"
	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/storage"
)

const offerColumns = `id, request_id, seller_id, total_amount, status, created_at, updated_at, version`

// CreateOffer inserts an offer with its items and events atomically.
func (s *Store) CreateOffer(ctx context.Context, offer domain.SellerOffer, events ...notifystorage.OutboxEvent) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	offer.ID = strings.TrimSpace(offer.ID)
	if offer.ID == "" {
		return fmt.Errorf("offer id is required")
	}
	if len(offer.Items) == 0 {
		return fmt.Errorf("offer items are required")
	}
	if offer.Version <= 0 {
		offer.Version = 1
	}

	return s.inTx(ctx, "create offer", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO seller_offers (`+offerColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
			offer.ID,
			offer.RequestID,
			offer.SellerID,
			offer.TotalAmount.StringFixed(domain.MoneyScale),
			string(offer.Status),
			toMillis(offer.CreatedAt),
			toMillis(offer.UpdatedAt),
			offer.Version,
		); err != nil {
			if isUniqueConstraintError(err) {
				return storage.ErrConflict
			}
			return fmt.Errorf("insert offer: %w", err)
		}
		for _, item := range offer.Items {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO offer_items (offer_id, position, product, quantity, unit, price_per_unit, total_price, description)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
				offer.ID,
				item.Position,
				item.Product,
				item.Quantity.String(),
				item.Unit,
				item.PricePerUnit.StringFixed(domain.MoneyScale),
				item.TotalPrice.StringFixed(domain.MoneyScale),
				item.Description,
			); err != nil {
				return fmt.Errorf("insert offer item %d: %w", item.Position, err)
			}
		}
		return enqueueEvents(ctx, tx, events)
	})
}

// GetOffer loads one offer with its items.
func (s *Store) GetOffer(ctx context.Context, id string) (domain.SellerOffer, error) {
	if err := s.ready(ctx); err != nil {
		return domain.SellerOffer{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.SellerOffer{}, fmt.Errorf("offer id is required")
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM seller_offers WHERE id = ?`, id)
	offer, err := scanOffer(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SellerOffer{}, storage.ErrNotFound
		}
		return domain.SellerOffer{}, fmt.Errorf("get offer: %w", err)
	}
	if offer.Items, err = s.offerItems(ctx, offer.ID); err != nil {
		return domain.SellerOffer{}, err
	}
	return offer, nil
}

// ListOffersByRequest lists every offer of one request, oldest first.
func (s *Store) ListOffersByRequest(ctx context.Context, requestID string) ([]domain.SellerOffer, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.queryOffers(ctx, `
SELECT `+offerColumns+`
FROM seller_offers
WHERE request_id = ?
ORDER BY created_at ASC, id ASC
`, strings.TrimSpace(requestID))
}

// ListOffersBySeller lists the newest offers of one seller.
func (s *Store) ListOffersBySeller(ctx context.Context, sellerID string, limit int) ([]domain.SellerOffer, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	return s.queryOffers(ctx, `
SELECT `+offerColumns+`
FROM seller_offers
WHERE seller_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`, strings.TrimSpace(sellerID), limit)
}

// TransitionOffer applies a version-checked offer status change. The
// request must still be active. An attached delivery is inserted in the
// same transaction.
func (s *Store) TransitionOffer(ctx context.Context, transition storage.OfferTransition) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	id := strings.TrimSpace(transition.OfferID)
	if id == "" {
		return fmt.Errorf("offer id is required")
	}
	return s.inTx(ctx, "transition offer", func(tx *sql.Tx) error {
		if err := versionedUpdate(ctx, tx, "seller_offers", id, `
UPDATE seller_offers
SET status = ?, updated_at = ?, version = version + 1
WHERE id = ? AND version = ?
AND EXISTS (
	SELECT 1 FROM purchase_requests r
	WHERE r.id = seller_offers.request_id AND r.status = ?
)
`, string(transition.To), toMillis(transition.At), id, transition.ExpectedVersion, string(domain.RequestStatusActive)); err != nil {
			return err
		}
		if delivery := transition.Delivery; delivery != nil {
			if delivery.Version <= 0 {
				delivery.Version = 1
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO deliveries (`+deliveryColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
				delivery.ID,
				id,
				delivery.WarehouseID,
				string(delivery.Status),
				toNullMillis(delivery.ShippedAt),
				toNullMillis(delivery.ReceivedAt),
				toMillis(delivery.CreatedAt),
				toMillis(delivery.UpdatedAt),
				delivery.Version,
			); err != nil {
				if isUniqueConstraintError(err) {
					return storage.ErrConflict
				}
				return fmt.Errorf("insert delivery: %w", err)
			}
		}
		return enqueueEvents(ctx, tx, transition.Events)
	})
}

func (s *Store) queryOffers(ctx context.Context, query string, args ...any) ([]domain.SellerOffer, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	var offers []domain.SellerOffer
	for rows.Next() {
		offer, err := scanOffer(rows.Scan)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		offers = append(offers, offer)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate offers: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close offers: %w", err)
	}
	for i := range offers {
		if offers[i].Items, err = s.offerItems(ctx, offers[i].ID); err != nil {
			return nil, err
		}
	}
	return offers, nil
}

func (s *Store) offerItems(ctx context.Context, offerID string) ([]domain.OfferItem, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT position, product, quantity, unit, price_per_unit, total_price, description
FROM offer_items
WHERE offer_id = ?
ORDER BY position ASC
`, offerID)
	if err != nil {
		return nil, fmt.Errorf("list offer items: %w", err)
	}
	defer rows.Close()

	var items []domain.OfferItem
	for rows.Next() {
		var (
			item                       domain.OfferItem
			quantity, price, lineTotal string
		)
		if err := rows.Scan(&item.Position, &item.Product, &quantity, &item.Unit, &price, &lineTotal, &item.Description); err != nil {
			return nil, fmt.Errorf("scan offer item: %w", err)
		}
		if item.Quantity, err = parseDecimal("quantity", quantity); err != nil {
			return nil, err
		}
		if item.PricePerUnit, err = parseDecimal("price_per_unit", price); err != nil {
			return nil, err
		}
		if item.TotalPrice, err = parseDecimal("total_price", lineTotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offer items: %w", err)
	}
	return items, nil
}

func scanOffer(scan scanner) (domain.SellerOffer, error) {
	var (
		offer     domain.SellerOffer
		total     string
		status    string
		createdAt int64
		updatedAt int64
	)
	if err := scan(
		&offer.ID,
		&offer.RequestID,
		&offer.SellerID,
		&total,
		&status,
		&createdAt,
		&updatedAt,
		&offer.Version,
	); err != nil {
		return domain.SellerOffer{}, err
	}
	amount, err := parseDecimal("total_amount", total)
	if err != nil {
		return domain.SellerOffer{}, err
	}
	offer.TotalAmount = amount
	offer.Status = domain.OfferStatus(status)
	offer.CreatedAt = fromMillis(createdAt)
	offer.UpdatedAt = fromMillis(updatedAt)
	return offer, nil
}
