package domain

import "strings"

// Event types written to the outbox by workflow transitions.
const (
	EventRegistrationPending = "identity.registration_pending"
	EventUserApproved        = "identity.approved"
	EventUserRejected        = "identity.rejected"
	EventRequestSubmitted    = "request.submitted"
	EventRequestCancelled    = "request.cancelled"
	EventOfferSubmitted      = "offer.submitted"
	EventOfferApproved       = "offer.approved"
	EventOfferRejected       = "offer.rejected"
	EventDeliveryAssigned    = "delivery.assigned"
	EventDeliveryShipped     = "delivery.shipped"
	EventDeliveryReceived    = "delivery.received"
)

// NormalizeEventType normalizes a producer-provided event type token.
func NormalizeEventType(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// DedupeKey builds the outbox uniqueness key for one transition. The same
// transition of the same entity never produces two events.
func DedupeKey(eventType, entityID string) string {
	return NormalizeEventType(eventType) + ":" + strings.TrimSpace(entityID)
}
