package app

import (
	"context"
	"fmt"

	notifydomain "github.com/louisbranch/supplyflow/internal/services/notifications/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/storage"
)

// ReceiveResult reports the received delivery and whether its request is
// now complete.
type ReceiveResult struct {
	Delivery         domain.Delivery
	RequestCompleted bool
}

// Deliveries tracks shipment and receipt of approved offers.
type Deliveries struct {
	*core
	gate *Gate
}

// Ship marks a pending delivery as shipped. Every approved warehouse
// operator receives the manifest with a receive action.
func (d *Deliveries) Ship(ctx context.Context, sellerID, deliveryID string) (domain.Delivery, error) {
	if err := d.ready(); err != nil {
		return domain.Delivery{}, err
	}
	delivery, offer, request, err := d.load(ctx, deliveryID)
	if err != nil {
		return domain.Delivery{}, err
	}
	seller, err := d.gate.Authorize(ctx, sellerID, domain.RoleSeller)
	if err != nil {
		return domain.Delivery{}, err
	}
	if offer.SellerID != seller.Identifier {
		return domain.Delivery{}, notOwner("delivery", delivery.ID)
	}
	if err := domain.TransitionDelivery(delivery.Status, domain.DeliveryStatusShipped); err != nil {
		return domain.Delivery{}, err
	}

	_, warehouses, err := d.approvedIdentifiers(ctx, domain.RoleWarehouse)
	if err != nil {
		return domain.Delivery{}, err
	}

	now := d.now()
	shipped := delivery
	shipped.Status = domain.DeliveryStatusShipped
	shipped.ShippedAt = &now
	shipped.UpdatedAt = now
	shipped.Version++

	batch := d.events(now)
	if !batch.add(notifydomain.EventDeliveryShipped, delivery.ID, warehouses, d.renderer.DeliveryShipped(request, offer, shipped, d.party(ctx, offer.SellerID))) {
		d.logf("delivery %s shipped with no approved warehouse operator to notify", delivery.ID)
	}
	outbox, err := batch.result()
	if err != nil {
		return domain.Delivery{}, err
	}

	storeCtx, cancel := storeContext(ctx)
	defer cancel()
	if _, err := d.store.TransitionDelivery(storeCtx, storage.DeliveryTransition{
		DeliveryID:      delivery.ID,
		ExpectedVersion: delivery.Version,
		To:              domain.DeliveryStatusShipped,
		At:              now,
		Events:          outbox,
	}); err != nil {
		return domain.Delivery{}, mapStorageError(err, "delivery", delivery.ID)
	}
	return shipped, nil
}

// Receive confirms a shipped delivery at the warehouse, assigns the
// receiving operator when none was matched, and completes the request once
// nothing else is outstanding. The buyer is notified.
func (d *Deliveries) Receive(ctx context.Context, warehouseID, deliveryID string) (ReceiveResult, error) {
	if err := d.ready(); err != nil {
		return ReceiveResult{}, err
	}
	delivery, offer, request, err := d.load(ctx, deliveryID)
	if err != nil {
		return ReceiveResult{}, err
	}
	warehouse, err := d.gate.Authorize(ctx, warehouseID, domain.RoleWarehouse)
	if err != nil {
		return ReceiveResult{}, err
	}
	if err := domain.TransitionDelivery(delivery.Status, domain.DeliveryStatusReceived); err != nil {
		return ReceiveResult{}, err
	}

	now := d.now()
	received := delivery
	received.Status = domain.DeliveryStatusReceived
	received.ReceivedAt = &now
	received.UpdatedAt = now
	received.Version++
	if received.WarehouseID == "" {
		received.WarehouseID = warehouse.Identifier
	}

	batch := d.events(now)
	batch.add(notifydomain.EventDeliveryReceived, delivery.ID, []string{request.BuyerID}, d.renderer.DeliveryReceived(request, received))
	outbox, err := batch.result()
	if err != nil {
		return ReceiveResult{}, err
	}

	storeCtx, cancel := storeContext(ctx)
	defer cancel()
	result, err := d.store.TransitionDelivery(storeCtx, storage.DeliveryTransition{
		DeliveryID:      delivery.ID,
		ExpectedVersion: delivery.Version,
		To:              domain.DeliveryStatusReceived,
		At:              now,
		WarehouseID:     warehouse.Identifier,
		SettleRequestID: offer.RequestID,
		Events:          outbox,
	})
	if err != nil {
		return ReceiveResult{}, mapStorageError(err, "delivery", delivery.ID)
	}
	return ReceiveResult{Delivery: received, RequestCompleted: result.RequestCompleted}, nil
}

// ListPending returns deliveries not yet received that are assigned to the
// operator or to nobody.
func (d *Deliveries) ListPending(ctx context.Context, warehouseID string) ([]domain.Delivery, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	warehouse, err := d.gate.Authorize(ctx, warehouseID, domain.RoleWarehouse)
	if err != nil {
		return nil, err
	}
	storeCtx, cancel := storeContext(ctx)
	defer cancel()
	deliveries, err := d.store.ListOpenDeliveries(storeCtx, warehouse.Identifier, listLimit)
	if err != nil {
		return nil, fmt.Errorf("list open deliveries for %s: %w", warehouse.Identifier, err)
	}
	return deliveries, nil
}

func (d *Deliveries) load(ctx context.Context, deliveryID string) (domain.Delivery, domain.SellerOffer, domain.PurchaseRequest, error) {
	deliveryID, err := requireID("delivery", deliveryID)
	if err != nil {
		return domain.Delivery{}, domain.SellerOffer{}, domain.PurchaseRequest{}, err
	}
	delivery, err := d.getDelivery(ctx, deliveryID)
	if err != nil {
		return domain.Delivery{}, domain.SellerOffer{}, domain.PurchaseRequest{}, err
	}
	offer, err := d.getOffer(ctx, delivery.OfferID)
	if err != nil {
		return domain.Delivery{}, domain.SellerOffer{}, domain.PurchaseRequest{}, err
	}
	request, err := d.getRequest(ctx, offer.RequestID)
	if err != nil {
		return domain.Delivery{}, domain.SellerOffer{}, domain.PurchaseRequest{}, err
	}
	return delivery, offer, request, nil
}
