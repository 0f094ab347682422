package app

import (
	"context"

	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/storage"
)

// Workflow is the typed command surface used by chat front ends and
// operator tooling.
type Workflow struct {
	Gate       *Gate
	Requests   *Requests
	Offers     *Offers
	Approvals  *Approvals
	Deliveries *Deliveries
}

// NewWorkflow wires every use-case onto one store.
func NewWorkflow(store storage.Store, opts Options) *Workflow {
	c := newCore(store, opts)
	gate := &Gate{core: c}
	return &Workflow{
		Gate:       gate,
		Requests:   &Requests{core: c, gate: gate},
		Offers:     &Offers{core: c, gate: gate},
		Approvals:  &Approvals{core: c, gate: gate},
		Deliveries: &Deliveries{core: c, gate: gate},
	}
}

// Register registers or refreshes a buyer, seller or warehouse operator.
func (w *Workflow) Register(ctx context.Context, input RegisterInput) (RegisterResult, error) {
	return w.Gate.Register(ctx, input)
}

// ApproveUser approves a pending registration.
func (w *Workflow) ApproveUser(ctx context.Context, adminID, identifier string) (domain.User, error) {
	return w.Gate.Approve(ctx, adminID, identifier)
}

// RejectUser rejects a registration.
func (w *Workflow) RejectUser(ctx context.Context, adminID, identifier string) (domain.User, error) {
	return w.Gate.Reject(ctx, adminID, identifier)
}

// SubmitRequest submits a purchase request.
func (w *Workflow) SubmitRequest(ctx context.Context, buyerID string, input SubmitRequestInput) (domain.PurchaseRequest, error) {
	return w.Requests.Submit(ctx, buyerID, input)
}

// CancelRequest cancels an active purchase request.
func (w *Workflow) CancelRequest(ctx context.Context, buyerID, requestID string) (domain.PurchaseRequest, error) {
	return w.Requests.Cancel(ctx, buyerID, requestID)
}

// SubmitOffer submits a priced offer on a request.
func (w *Workflow) SubmitOffer(ctx context.Context, sellerID, requestID string, items []domain.ItemInput) (domain.SellerOffer, error) {
	return w.Offers.Submit(ctx, sellerID, requestID, items)
}

// ApproveOffer approves a pending offer and opens its delivery.
func (w *Workflow) ApproveOffer(ctx context.Context, buyerID, offerID string) (ApproveResult, error) {
	return w.Approvals.Approve(ctx, buyerID, offerID)
}

// RejectOffer rejects a pending offer.
func (w *Workflow) RejectOffer(ctx context.Context, buyerID, offerID string) (domain.SellerOffer, error) {
	return w.Approvals.Reject(ctx, buyerID, offerID)
}

// ShipDelivery marks a delivery shipped.
func (w *Workflow) ShipDelivery(ctx context.Context, sellerID, deliveryID string) (domain.Delivery, error) {
	return w.Deliveries.Ship(ctx, sellerID, deliveryID)
}

// ReceiveDelivery confirms a delivery at the warehouse.
func (w *Workflow) ReceiveDelivery(ctx context.Context, warehouseID, deliveryID string) (ReceiveResult, error) {
	return w.Deliveries.Receive(ctx, warehouseID, deliveryID)
}
