package app

import (
	"context"
	"fmt"

	notifydomain "github.com/louisbranch/supplyflow/internal/services/notifications/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/render"
	"github.com/louisbranch/supplyflow/internal/services/procurement/storage"
)

// ApproveResult reports the approved offer, its delivery, and whether a
// warehouse operator serves the buyer's site.
type ApproveResult struct {
	Offer            domain.SellerOffer
	Delivery         domain.Delivery
	WarehouseMatched bool
	// Warehouses lists the operators told about the incoming delivery.
	Warehouses []string
}

// Approvals lets the owning buyer accept or decline pending offers.
type Approvals struct {
	*core
	gate *Gate
}

// Approve accepts a pending offer and opens its delivery. The seller is
// always notified; warehouse operators at the buyer's site get the
// manifest when any exist.
func (a *Approvals) Approve(ctx context.Context, buyerID, offerID string) (ApproveResult, error) {
	offer, request, buyer, err := a.decide(ctx, buyerID, offerID, domain.OfferStatusApproved)
	if err != nil {
		return ApproveResult{}, err
	}

	site := buyer.Site
	if site == "" {
		site = request.SiteName
	}
	warehouses, _, err := a.approvedIdentifiers(ctx, domain.RoleWarehouse)
	if err != nil {
		return ApproveResult{}, err
	}
	var matched []string
	for _, warehouse := range warehouses {
		if domain.SameSite(warehouse.Site, site) {
			matched = append(matched, warehouse.Identifier)
		}
	}

	deliveryID, err := a.newID()
	if err != nil {
		return ApproveResult{}, fmt.Errorf("generate delivery id: %w", err)
	}
	now := a.now()
	delivery := domain.Delivery{
		ID:        deliveryID,
		OfferID:   offer.ID,
		Status:    domain.DeliveryStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	if len(matched) > 0 {
		delivery.WarehouseID = matched[0]
	}

	seller := a.party(ctx, offer.SellerID)
	batch := a.events(now)
	batch.add(notifydomain.EventOfferApproved, offer.ID, []string{offer.SellerID}, a.renderer.OfferApproved(request, offer, delivery, len(matched) > 0))
	batch.add(notifydomain.EventDeliveryAssigned, delivery.ID, matched, a.renderer.DeliveryAssigned(request, offer, delivery, render.PartyOf(buyer), seller))
	outbox, err := batch.result()
	if err != nil {
		return ApproveResult{}, err
	}

	storeCtx, cancel := storeContext(ctx)
	defer cancel()
	if err := a.store.TransitionOffer(storeCtx, storage.OfferTransition{
		OfferID:         offer.ID,
		ExpectedVersion: offer.Version,
		To:              domain.OfferStatusApproved,
		At:              now,
		Delivery:        &delivery,
		Events:          outbox,
	}); err != nil {
		return ApproveResult{}, mapStorageError(err, "offer", offer.ID)
	}
	if len(matched) == 0 {
		a.logf("offer %s approved but no warehouse operator serves site %q", offer.ID, site)
	}

	offer.Status = domain.OfferStatusApproved
	offer.UpdatedAt = now
	offer.Version++
	return ApproveResult{
		Offer:            offer,
		Delivery:         delivery,
		WarehouseMatched: len(matched) > 0,
		Warehouses:       matched,
	}, nil
}

// Reject declines a pending offer. Only the seller is notified.
func (a *Approvals) Reject(ctx context.Context, buyerID, offerID string) (domain.SellerOffer, error) {
	offer, request, _, err := a.decide(ctx, buyerID, offerID, domain.OfferStatusRejected)
	if err != nil {
		return domain.SellerOffer{}, err
	}

	now := a.now()
	batch := a.events(now)
	batch.add(notifydomain.EventOfferRejected, offer.ID, []string{offer.SellerID}, a.renderer.OfferRejected(request, offer))
	outbox, err := batch.result()
	if err != nil {
		return domain.SellerOffer{}, err
	}

	storeCtx, cancel := storeContext(ctx)
	defer cancel()
	if err := a.store.TransitionOffer(storeCtx, storage.OfferTransition{
		OfferID:         offer.ID,
		ExpectedVersion: offer.Version,
		To:              domain.OfferStatusRejected,
		At:              now,
		Events:          outbox,
	}); err != nil {
		return domain.SellerOffer{}, mapStorageError(err, "offer", offer.ID)
	}
	offer.Status = domain.OfferStatusRejected
	offer.UpdatedAt = now
	offer.Version++
	return offer, nil
}

// decide runs the guards shared by approve and reject: the offer exists,
// the caller is the approved buyer owning its request, the offer is pending
// and the request is still active.
func (a *Approvals) decide(ctx context.Context, buyerID, offerID string, to domain.OfferStatus) (domain.SellerOffer, domain.PurchaseRequest, domain.User, error) {
	if err := a.ready(); err != nil {
		return domain.SellerOffer{}, domain.PurchaseRequest{}, domain.User{}, err
	}
	offerID, err := requireID("offer", offerID)
	if err != nil {
		return domain.SellerOffer{}, domain.PurchaseRequest{}, domain.User{}, err
	}
	offer, err := a.getOffer(ctx, offerID)
	if err != nil {
		return domain.SellerOffer{}, domain.PurchaseRequest{}, domain.User{}, err
	}
	request, err := a.getRequest(ctx, offer.RequestID)
	if err != nil {
		return domain.SellerOffer{}, domain.PurchaseRequest{}, domain.User{}, err
	}
	buyer, err := a.gate.Authorize(ctx, buyerID, domain.RoleBuyer)
	if err != nil {
		return domain.SellerOffer{}, domain.PurchaseRequest{}, domain.User{}, err
	}
	if request.BuyerID != buyer.Identifier {
		return domain.SellerOffer{}, domain.PurchaseRequest{}, domain.User{}, notOwner("offer", offer.ID)
	}
	if err := domain.TransitionOffer(offer.Status, to); err != nil {
		return domain.SellerOffer{}, domain.PurchaseRequest{}, domain.User{}, err
	}
	if request.Status != domain.RequestStatusActive {
		return domain.SellerOffer{}, domain.PurchaseRequest{}, domain.User{}, requestNotActive(request)
	}
	return offer, request, buyer, nil
}
