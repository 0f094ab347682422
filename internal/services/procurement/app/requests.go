package app

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/supplyflow/internal/platform/errors"
	notifydomain "github.com/louisbranch/supplyflow/internal/services/notifications/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/render"
	"github.com/louisbranch/supplyflow/internal/services/procurement/storage"
)

// SubmitRequestInput carries a buyer's purchase request.
type SubmitRequestInput struct {
	SupplierName string
	// SiteName defaults to the buyer's registered site.
	SiteName string
	Items    []domain.ItemInput
}

// Requests handles purchase request submission and cancellation.
type Requests struct {
	*core
	gate *Gate
}

// Submit validates and stores a request and announces it to every approved
// seller. Nothing is written when validation fails.
func (r *Requests) Submit(ctx context.Context, buyerID string, input SubmitRequestInput) (domain.PurchaseRequest, error) {
	if err := r.ready(); err != nil {
		return domain.PurchaseRequest{}, err
	}
	buyer, err := r.gate.Authorize(ctx, buyerID, domain.RoleBuyer)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	items, err := domain.NormalizeRequestItems(input.Items)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	site := strings.TrimSpace(input.SiteName)
	if site == "" {
		site = buyer.Site
	}
	if site == "" {
		return domain.PurchaseRequest{}, apperrors.New(apperrors.CodeRequestSiteRequired, "site name is required")
	}

	requestID, err := r.newID()
	if err != nil {
		return domain.PurchaseRequest{}, fmt.Errorf("generate request id: %w", err)
	}
	now := r.now()
	request := domain.PurchaseRequest{
		ID:           requestID,
		BuyerID:      buyer.Identifier,
		SupplierName: strings.TrimSpace(input.SupplierName),
		SiteName:     site,
		Status:       domain.RequestStatusActive,
		Items:        items,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}

	_, sellers, err := r.approvedIdentifiers(ctx, domain.RoleSeller)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	batch := r.events(now)
	if !batch.add(notifydomain.EventRequestSubmitted, request.ID, sellers, r.renderer.RequestSubmitted(request, render.PartyOf(buyer))) {
		r.logf("request %s submitted with no approved seller to notify", request.ID)
	}
	outbox, err := batch.result()
	if err != nil {
		return domain.PurchaseRequest{}, err
	}

	storeCtx, cancel := storeContext(ctx)
	defer cancel()
	if err := r.store.CreateRequest(storeCtx, request, outbox...); err != nil {
		return domain.PurchaseRequest{}, mapStorageError(err, "request", request.ID)
	}
	return request, nil
}

// Cancel withdraws an active request that has no approved offer. Pending
// offers are rejected with it and sellers that offered are told.
func (r *Requests) Cancel(ctx context.Context, buyerID, requestID string) (domain.PurchaseRequest, error) {
	if err := r.ready(); err != nil {
		return domain.PurchaseRequest{}, err
	}
	requestID, err := requireID("request", requestID)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	request, err := r.getRequest(ctx, requestID)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	buyer, err := r.gate.Authorize(ctx, buyerID, domain.RoleBuyer)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	if request.BuyerID != buyer.Identifier {
		return domain.PurchaseRequest{}, notOwner("request", request.ID)
	}
	if err := domain.TransitionRequest(request.Status, domain.RequestStatusCancelled); err != nil {
		return domain.PurchaseRequest{}, err
	}

	offers, err := r.listOffers(ctx, request.ID)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	sellers := make([]string, 0, len(offers))
	for _, offer := range offers {
		if offer.Status == domain.OfferStatusApproved {
			return domain.PurchaseRequest{}, apperrors.WithMetadata(apperrors.CodeRequestHasApprovedOffer, "request already has an approved offer", map[string]string{
				"RequestID": request.ID,
				"OfferID":   offer.ID,
			})
		}
		sellers = append(sellers, offer.SellerID)
	}

	now := r.now()
	batch := r.events(now)
	batch.add(notifydomain.EventRequestCancelled, request.ID, sellers, r.renderer.RequestCancelled(request))
	outbox, err := batch.result()
	if err != nil {
		return domain.PurchaseRequest{}, err
	}

	storeCtx, cancel := storeContext(ctx)
	defer cancel()
	if err := r.store.TransitionRequest(storeCtx, storage.RequestTransition{
		RequestID:           request.ID,
		ExpectedVersion:     request.Version,
		To:                  domain.RequestStatusCancelled,
		At:                  now,
		RejectPendingOffers: true,
		Events:              outbox,
	}); err != nil {
		return domain.PurchaseRequest{}, mapStorageError(err, "request", request.ID)
	}
	request.Status = domain.RequestStatusCancelled
	request.UpdatedAt = now
	request.Version++
	return request, nil
}

// ListForBuyer returns the buyer's most recent requests, newest first.
func (r *Requests) ListForBuyer(ctx context.Context, buyerID string) ([]domain.PurchaseRequest, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	buyer, err := r.gate.Authorize(ctx, buyerID, domain.RoleBuyer)
	if err != nil {
		return nil, err
	}
	storeCtx, cancel := storeContext(ctx)
	defer cancel()
	requests, err := r.store.ListRequestsByBuyer(storeCtx, buyer.Identifier, recentRequestsLimit)
	if err != nil {
		return nil, fmt.Errorf("list requests for %s: %w", buyer.Identifier, err)
	}
	return requests, nil
}

func (c *core) listOffers(ctx context.Context, requestID string) ([]domain.SellerOffer, error) {
	storeCtx, cancel := storeContext(ctx)
	defer cancel()

	offers, err := c.store.ListOffersByRequest(storeCtx, requestID)
	if err != nil {
		return nil, fmt.Errorf("list offers for request %s: %w", requestID, err)
	}
	return offers, nil
}

func notOwner(entity, entityID string) error {
	return apperrors.WithMetadata(apperrors.CodeNotOwner, "caller does not own this "+entity, map[string]string{
		"Entity":   entity,
		"EntityID": entityID,
	})
}
