package app

import (
	"context"
	"testing"

	apperrors "github.com/louisbranch/supplyflow/internal/platform/errors"
	notifydomain "github.com/louisbranch/supplyflow/internal/services/notifications/domain"
	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
)

func (h *harness) approvedDelivery(t *testing.T) (domain.PurchaseRequest, domain.Delivery) {
	t.Helper()
	request := h.submitRequest(t)
	offer := h.submitOffer(t, request.ID, 50)
	result, err := h.workflow.ApproveOffer(context.Background(), buyerID, offer.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	return request, result.Delivery
}

func TestShipDeliveryNotifiesEveryWarehouse(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedParticipants(t)
	ctx := context.Background()
	h.register(t, "401", "warehouse", "South Gate")
	if _, err := h.workflow.ApproveUser(ctx, adminID, "401"); err != nil {
		t.Fatalf("approve user: %v", err)
	}
	_, delivery := h.approvedDelivery(t)

	shipped, err := h.workflow.ShipDelivery(ctx, sellerID, delivery.ID)
	if err != nil {
		t.Fatalf("ship: %v", err)
	}
	if shipped.Status != domain.DeliveryStatusShipped || shipped.ShippedAt == nil {
		t.Fatalf("delivery = %+v, want shipped with timestamp", shipped)
	}
	envelope := h.singleEnvelope(t, notifydomain.EventDeliveryShipped)
	assertRecipients(t, envelope, warehouseID, "401")
	if got := envelope.Message.Actions[0].CallbackData(); got != "receive_delivery:"+delivery.ID {
		t.Fatalf("callback = %q, want receive_delivery", got)
	}

	_, err = h.workflow.ShipDelivery(ctx, sellerID, delivery.ID)
	assertCode(t, err, apperrors.CodeDeliveryInvalidStatusTransition)
}

func TestShipDeliveryRequiresOwningSeller(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedParticipants(t)
	h.register(t, "301", "seller", "")
	_, delivery := h.approvedDelivery(t)

	_, err := h.workflow.ShipDelivery(context.Background(), "301", delivery.ID)
	assertCode(t, err, apperrors.CodeNotOwner)
	_, err = h.workflow.ShipDelivery(context.Background(), sellerID, "missing")
	assertKind(t, err, apperrors.KindNotFound)
}

func TestReceivePendingDeliveryFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedParticipants(t)
	_, delivery := h.approvedDelivery(t)

	_, err := h.workflow.ReceiveDelivery(context.Background(), warehouseID, delivery.ID)
	assertKind(t, err, apperrors.KindState)

	stored, err := h.store.GetDelivery(context.Background(), delivery.ID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if stored.Status != domain.DeliveryStatusPending {
		t.Fatalf("status = %s, want pending", stored.Status)
	}
}

func TestReceiveDeliveryCompletesRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedParticipants(t)
	ctx := context.Background()
	request, delivery := h.approvedDelivery(t)
	if _, err := h.workflow.ShipDelivery(ctx, sellerID, delivery.ID); err != nil {
		t.Fatalf("ship: %v", err)
	}

	_, err := h.workflow.ReceiveDelivery(ctx, buyerID, delivery.ID)
	assertKind(t, err, apperrors.KindAuthorization)

	pending, err := h.workflow.Deliveries.ListPending(ctx, warehouseID)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != delivery.ID {
		t.Fatalf("pending = %+v, want the shipped delivery", pending)
	}

	result, err := h.workflow.ReceiveDelivery(ctx, warehouseID, delivery.ID)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !result.RequestCompleted {
		t.Fatal("expected request to complete")
	}
	if result.Delivery.Status != domain.DeliveryStatusReceived || result.Delivery.ReceivedAt == nil {
		t.Fatalf("delivery = %+v, want received with timestamp", result.Delivery)
	}
	envelope := h.singleEnvelope(t, notifydomain.EventDeliveryReceived)
	assertRecipients(t, envelope, buyerID)

	stored, err := h.store.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != domain.RequestStatusCompleted {
		t.Fatalf("request status = %s, want completed", stored.Status)
	}

	_, err = h.workflow.ReceiveDelivery(ctx, warehouseID, delivery.ID)
	assertKind(t, err, apperrors.KindState)

	pending, err = h.workflow.Deliveries.ListPending(ctx, warehouseID)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending = %d, want 0", len(pending))
	}
}

func TestReceiveAssignsUnmatchedWarehouse(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedParticipants(t)
	ctx := context.Background()
	h.register(t, "201", "buyer", "South Gate")
	if _, err := h.workflow.ApproveUser(ctx, adminID, "201"); err != nil {
		t.Fatalf("approve user: %v", err)
	}
	request, err := h.workflow.SubmitRequest(ctx, "201", SubmitRequestInput{Items: h.cementItems()})
	if err != nil {
		t.Fatalf("submit request: %v", err)
	}
	offer := h.submitOffer(t, request.ID, 50)
	approved, err := h.workflow.ApproveOffer(ctx, "201", offer.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := h.workflow.ShipDelivery(ctx, sellerID, approved.Delivery.ID); err != nil {
		t.Fatalf("ship: %v", err)
	}

	result, err := h.workflow.ReceiveDelivery(ctx, warehouseID, approved.Delivery.ID)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	stored, err := h.store.GetDelivery(ctx, approved.Delivery.ID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if stored.WarehouseID != warehouseID || result.Delivery.WarehouseID != warehouseID {
		t.Fatalf("warehouse = %q, want %q", stored.WarehouseID, warehouseID)
	}
}
