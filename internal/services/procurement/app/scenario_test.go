package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	notifyapp "github.com/louisbranch/supplyflow/internal/services/notifications/app"
	notifydomain "github.com/louisbranch/supplyflow/internal/services/notifications/domain"
	notifystorage "github.com/louisbranch/supplyflow/internal/services/notifications/storage"
	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
)

type recordingTransport struct {
	mu       sync.Mutex
	messages map[string][]notifydomain.Message
}

func (r *recordingTransport) Send(_ context.Context, recipient string, msg notifydomain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.messages == nil {
		r.messages = map[string][]notifydomain.Message{}
	}
	r.messages[recipient] = append(r.messages[recipient], msg)
	return nil
}

func (r *recordingTransport) commands(recipient string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var commands []string
	for _, msg := range r.messages[recipient] {
		for _, action := range msg.Actions {
			commands = append(commands, action.Command)
		}
	}
	return commands
}

func (r *recordingTransport) texts(recipient string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var texts []string
	for _, msg := range r.messages[recipient] {
		texts = append(texts, msg.Text)
	}
	return strings.Join(texts, "\n---\n")
}

func TestCementScenarioEndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seedParticipants(t)
	ctx := context.Background()
	transport := &recordingTransport{}
	dispatcher := notifyapp.NewDispatcher(
		h.store.Outbox(),
		notifydomain.NewFanOut(transport, time.Second, nil),
		notifyapp.Config{Consumer: "scenario", BatchSize: 100},
		h.clock.Now,
		nil,
	)
	drain := func() {
		t.Helper()
		h.clock.Advance(time.Second)
		if _, err := dispatcher.RunOnce(ctx); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}

	request, err := h.workflow.SubmitRequest(ctx, buyerID, SubmitRequestInput{
		SupplierName: "Kyzylkum Cement",
		Items:        []domain.ItemInput{{Product: "Cement", Quantity: decimal.NewFromInt(50), Unit: "bag"}},
	})
	if err != nil {
		t.Fatalf("submit request: %v", err)
	}
	drain()

	offer, err := h.workflow.SubmitOffer(ctx, sellerID, request.ID, []domain.ItemInput{{
		Product: "Cement", Quantity: decimal.NewFromInt(50), Unit: "bag", PricePerUnit: decimal.NewFromInt(50),
	}})
	if err != nil {
		t.Fatalf("submit offer: %v", err)
	}
	if !offer.TotalAmount.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("total = %s, want 2500", offer.TotalAmount)
	}
	drain()

	approved, err := h.workflow.ApproveOffer(ctx, buyerID, offer.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	drain()

	if _, err := h.workflow.ShipDelivery(ctx, sellerID, approved.Delivery.ID); err != nil {
		t.Fatalf("ship: %v", err)
	}
	drain()

	received, err := h.workflow.ReceiveDelivery(ctx, warehouseID, approved.Delivery.ID)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !received.RequestCompleted {
		t.Fatal("expected the request to complete")
	}
	drain()

	if got := transport.commands(sellerID); !equalStrings(got, []string{"make_offer", "ship_delivery"}) {
		t.Fatalf("seller commands = %v", got)
	}
	if got := transport.commands(buyerID); !equalStrings(got, []string{"approve_offer", "reject_offer"}) {
		t.Fatalf("buyer commands = %v", got)
	}
	if got := transport.commands(warehouseID); !equalStrings(got, []string{"receive_delivery"}) {
		t.Fatalf("warehouse commands = %v", got)
	}
	if text := transport.texts(sellerID); !strings.Contains(text, "1. Cement: 50 bag") || !strings.Contains(text, "Kyzylkum Cement") {
		t.Fatalf("seller texts = %q, want request preview", text)
	}
	if text := transport.texts(warehouseID); !strings.Contains(text, "2,500.00") {
		t.Fatalf("warehouse texts = %q, want manifest total", text)
	}
	if text := transport.texts(buyerID); !strings.Contains(text, "was received") {
		t.Fatalf("buyer texts = %q, want receipt notice", text)
	}

	pending, err := h.store.Outbox().ListOutboxEvents(ctx, notifystorage.OutboxStatusPending, 100)
	if err != nil {
		t.Fatalf("list pending events: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending events = %d, want 0", len(pending))
	}
}

func equalStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
