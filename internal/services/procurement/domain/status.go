package domain

import (
	apperrors "github.com/louisbranch/supplyflow/internal/platform/errors"
)

// RequestStatus is the lifecycle state of a purchase request.
type RequestStatus string

const (
	RequestStatusActive    RequestStatus = "active"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusCancelled RequestStatus = "cancelled"
)

// OfferStatus is the lifecycle state of a seller offer.
type OfferStatus string

const (
	OfferStatusPending  OfferStatus = "pending"
	OfferStatusApproved OfferStatus = "approved"
	OfferStatusRejected OfferStatus = "rejected"
)

// DeliveryStatus is the lifecycle state of a delivery.
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusShipped  DeliveryStatus = "shipped"
	DeliveryStatusReceived DeliveryStatus = "received"
)

// TransitionRequest validates a request status change.
func TransitionRequest(from, to RequestStatus) error {
	if from == RequestStatusActive && (to == RequestStatusCompleted || to == RequestStatusCancelled) {
		return nil
	}
	return apperrors.WithMetadata(apperrors.CodeRequestInvalidStatusTransition, "request status transition is not allowed", map[string]string{
		"FromStatus": string(from),
		"ToStatus":   string(to),
	})
}

// TransitionOffer validates an offer status change. Only pending offers move.
func TransitionOffer(from, to OfferStatus) error {
	if from == OfferStatusPending && (to == OfferStatusApproved || to == OfferStatusRejected) {
		return nil
	}
	return apperrors.WithMetadata(apperrors.CodeOfferInvalidStatusTransition, "offer status transition is not allowed", map[string]string{
		"FromStatus": string(from),
		"ToStatus":   string(to),
	})
}

// TransitionDelivery validates a delivery status change. Deliveries move
// strictly pending -> shipped -> received.
func TransitionDelivery(from, to DeliveryStatus) error {
	switch {
	case from == DeliveryStatusPending && to == DeliveryStatusShipped:
		return nil
	case from == DeliveryStatusShipped && to == DeliveryStatusReceived:
		return nil
	}
	return apperrors.WithMetadata(apperrors.CodeDeliveryInvalidStatusTransition, "delivery status transition is not allowed", map[string]string{
		"FromStatus": string(from),
		"ToStatus":   string(to),
	})
}
