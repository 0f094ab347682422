// Package storage declares the procurement repositories. Every state
// transition is a single method so an implementation can apply the change,
// its version check, and its outbox events in one transaction.
package storage

import (
	"context"
	"errors"
	"time"

	notifystorage "github.com/louisbranch/supplyflow/internal/services/notifications/storage"
	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a version check or uniqueness constraint failed.
	ErrConflict = errors.New("record conflict")
)

// UserRepo persists registered users.
type UserRepo interface {
	GetUser(ctx context.Context, identifier string) (domain.User, error)
	// PutUser upserts the user by identifier and enqueues events.
	PutUser(ctx context.Context, user domain.User, events ...notifystorage.OutboxEvent) error
	// ListApprovedUsers lists approved, non-rejected users holding role.
	ListApprovedUsers(ctx context.Context, role domain.Role) ([]domain.User, error)
	// ListPendingUsers lists users awaiting admin approval.
	ListPendingUsers(ctx context.Context) ([]domain.User, error)
}

// RequestRepo persists purchase requests with their items.
type RequestRepo interface {
	CreateRequest(ctx context.Context, request domain.PurchaseRequest, events ...notifystorage.OutboxEvent) error
	GetRequest(ctx context.Context, id string) (domain.PurchaseRequest, error)
	ListRequestsByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.PurchaseRequest, error)
	TransitionRequest(ctx context.Context, transition RequestTransition) error
}

// RequestTransition changes a request status if its version still matches.
// With RejectPendingOffers set, the request's pending offers are rejected in
// the same transaction, and an approved offer on the request is a conflict.
type RequestTransition struct {
	RequestID           string
	ExpectedVersion     int64
	To                  domain.RequestStatus
	At                  time.Time
	RejectPendingOffers bool
	Events              []notifystorage.OutboxEvent
}

// OfferRepo persists seller offers with their items.
type OfferRepo interface {
	CreateOffer(ctx context.Context, offer domain.SellerOffer, events ...notifystorage.OutboxEvent) error
	GetOffer(ctx context.Context, id string) (domain.SellerOffer, error)
	ListOffersByRequest(ctx context.Context, requestID string) ([]domain.SellerOffer, error)
	ListOffersBySeller(ctx context.Context, sellerID string, limit int) ([]domain.SellerOffer, error)
	TransitionOffer(ctx context.Context, transition OfferTransition) error
}

// OfferTransition changes an offer status if its version still matches and
// its request is still active. Delivery, when set, is inserted in the same
// transaction; a second delivery for one offer is a conflict.
type OfferTransition struct {
	OfferID         string
	ExpectedVersion int64
	To              domain.OfferStatus
	At              time.Time
	Delivery        *domain.Delivery
	Events          []notifystorage.OutboxEvent
}

// DeliveryRepo persists deliveries.
type DeliveryRepo interface {
	GetDelivery(ctx context.Context, id string) (domain.Delivery, error)
	GetDeliveryByOffer(ctx context.Context, offerID string) (domain.Delivery, error)
	// ListOpenDeliveries lists deliveries not yet received that are assigned
	// to warehouseID or to no warehouse, oldest first.
	ListOpenDeliveries(ctx context.Context, warehouseID string, limit int) ([]domain.Delivery, error)
	TransitionDelivery(ctx context.Context, transition DeliveryTransition) (DeliveryTransitionResult, error)
}

// DeliveryTransition changes a delivery status if its version still
// matches. WarehouseID, when non-empty, assigns an unassigned delivery.
// SettleRequestID, when set, completes that request in the same
// transaction once all its deliveries are received and no offer is pending.
type DeliveryTransition struct {
	DeliveryID      string
	ExpectedVersion int64
	To              domain.DeliveryStatus
	At              time.Time
	WarehouseID     string
	SettleRequestID string
	Events          []notifystorage.OutboxEvent
}

// DeliveryTransitionResult reports side effects of a delivery transition.
type DeliveryTransitionResult struct {
	RequestCompleted bool
}

// Store is the full procurement persistence boundary.
type Store interface {
	UserRepo
	RequestRepo
	OfferRepo
	DeliveryRepo
}
