package app

import (
	"context"
	"fmt"

	apperrors "github.com/louisbranch/supplyflow/internal/platform/errors"
	notifydomain "github.com/louisbranch/supplyflow/internal/services/notifications/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/render"
)

// Offers handles seller offers on active requests.
type Offers struct {
	*core
	gate *Gate
}

// Submit prices a request. The buyer receives every pending offer on the
// request with approve and reject actions for each.
func (o *Offers) Submit(ctx context.Context, sellerID, requestID string, inputs []domain.ItemInput) (domain.SellerOffer, error) {
	if err := o.ready(); err != nil {
		return domain.SellerOffer{}, err
	}
	seller, err := o.gate.Authorize(ctx, sellerID, domain.RoleSeller)
	if err != nil {
		return domain.SellerOffer{}, err
	}
	requestID, err = requireID("request", requestID)
	if err != nil {
		return domain.SellerOffer{}, err
	}
	request, err := o.getRequest(ctx, requestID)
	if err != nil {
		return domain.SellerOffer{}, err
	}
	if request.Status != domain.RequestStatusActive {
		return domain.SellerOffer{}, requestNotActive(request)
	}
	items, total, err := domain.NormalizeOfferItems(inputs)
	if err != nil {
		return domain.SellerOffer{}, err
	}

	offerID, err := o.newID()
	if err != nil {
		return domain.SellerOffer{}, fmt.Errorf("generate offer id: %w", err)
	}
	now := o.now()
	offer := domain.SellerOffer{
		ID:          offerID,
		RequestID:   request.ID,
		SellerID:    seller.Identifier,
		TotalAmount: total,
		Status:      domain.OfferStatusPending,
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}

	existing, err := o.listOffers(ctx, request.ID)
	if err != nil {
		return domain.SellerOffer{}, err
	}
	pending := make([]domain.SellerOffer, 0, len(existing)+1)
	sellers := map[string]render.Party{seller.Identifier: render.PartyOf(seller)}
	for _, candidate := range existing {
		if candidate.Status != domain.OfferStatusPending {
			continue
		}
		pending = append(pending, candidate)
		if _, ok := sellers[candidate.SellerID]; !ok {
			sellers[candidate.SellerID] = o.party(ctx, candidate.SellerID)
		}
	}
	pending = append(pending, offer)

	batch := o.events(now)
	batch.add(notifydomain.EventOfferSubmitted, offer.ID, []string{request.BuyerID}, o.renderer.OfferSubmitted(request, pending, sellers))
	outbox, err := batch.result()
	if err != nil {
		return domain.SellerOffer{}, err
	}

	storeCtx, cancel := storeContext(ctx)
	defer cancel()
	if err := o.store.CreateOffer(storeCtx, offer, outbox...); err != nil {
		return domain.SellerOffer{}, mapStorageError(err, "offer", offer.ID)
	}
	return offer, nil
}

// RequestForOffer returns an active request a seller may price. It backs
// the offer template download.
func (o *Offers) RequestForOffer(ctx context.Context, sellerID, requestID string) (domain.PurchaseRequest, error) {
	if err := o.ready(); err != nil {
		return domain.PurchaseRequest{}, err
	}
	if _, err := o.gate.Authorize(ctx, sellerID, domain.RoleSeller); err != nil {
		return domain.PurchaseRequest{}, err
	}
	requestID, err := requireID("request", requestID)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	request, err := o.getRequest(ctx, requestID)
	if err != nil {
		return domain.PurchaseRequest{}, err
	}
	if request.Status != domain.RequestStatusActive {
		return domain.PurchaseRequest{}, requestNotActive(request)
	}
	return request, nil
}

// ListForSeller returns the seller's most recent offers.
func (o *Offers) ListForSeller(ctx context.Context, sellerID string) ([]domain.SellerOffer, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	seller, err := o.gate.Authorize(ctx, sellerID, domain.RoleSeller)
	if err != nil {
		return nil, err
	}
	storeCtx, cancel := storeContext(ctx)
	defer cancel()
	offers, err := o.store.ListOffersBySeller(storeCtx, seller.Identifier, listLimit)
	if err != nil {
		return nil, fmt.Errorf("list offers for %s: %w", seller.Identifier, err)
	}
	return offers, nil
}

// ListForRequest returns every offer on one of the buyer's requests.
func (o *Offers) ListForRequest(ctx context.Context, buyerID, requestID string) ([]domain.SellerOffer, error) {
	if err := o.ready(); err != nil {
		return nil, err
	}
	buyer, err := o.gate.Authorize(ctx, buyerID, domain.RoleBuyer)
	if err != nil {
		return nil, err
	}
	requestID, err = requireID("request", requestID)
	if err != nil {
		return nil, err
	}
	request, err := o.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.BuyerID != buyer.Identifier {
		return nil, notOwner("request", request.ID)
	}
	return o.listOffers(ctx, request.ID)
}

func requestNotActive(request domain.PurchaseRequest) error {
	return apperrors.WithMetadata(apperrors.CodeRequestNotActive, "request is no longer active", map[string]string{
		"RequestID": request.ID,
		"Status":    string(request.Status),
	})
}
