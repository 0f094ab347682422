// Package errors provides structured, coded errors for the procurement workflow.
package errors

// Code is a machine-readable error code.
type Code string

// Kind groups codes into the classes callers branch on.
type Kind int

const (
	// KindUnspecified is returned for nil errors.
	KindUnspecified Kind = iota
	// KindValidation marks malformed input rejected before any write.
	KindValidation
	// KindNotFound marks an unknown user, request, offer, or delivery.
	KindNotFound
	// KindAuthorization marks a wrong role or a non-owner actor.
	KindAuthorization
	// KindState marks an operation that the current state does not allow.
	KindState
	// KindNotificationDelivery marks a failed outbound message.
	KindNotificationDelivery
	// KindInternal marks everything else.
	KindInternal
)

// String returns the kind label used in logs.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindNotificationDelivery:
		return "notification_delivery"
	case KindInternal:
		return "internal"
	default:
		return "unspecified"
	}
}

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// User errors
	CodeUserIdentifierRequired Code = "USER_IDENTIFIER_REQUIRED"
	CodeUserNameRequired       Code = "USER_NAME_REQUIRED"
	CodeUserPhoneInvalid       Code = "USER_PHONE_INVALID"
	CodeUserInvalidRole        Code = "USER_INVALID_ROLE"

	// Item errors
	CodeItemsEmpty          Code = "ITEMS_EMPTY"
	CodeItemProductRequired Code = "ITEM_PRODUCT_REQUIRED"
	CodeItemUnitRequired    Code = "ITEM_UNIT_REQUIRED"
	CodeItemQuantityInvalid Code = "ITEM_QUANTITY_INVALID"
	CodeItemPriceInvalid    Code = "ITEM_PRICE_INVALID"
	CodeItemTotalMismatch   Code = "ITEM_TOTAL_MISMATCH"
	CodeRequestSiteRequired Code = "REQUEST_SITE_REQUIRED"
	CodeIdentifierMalformed Code = "IDENTIFIER_MALFORMED"
	CodeSheetMalformed      Code = "SHEET_MALFORMED"

	// Lookup errors
	CodeNotFound Code = "NOT_FOUND"

	// Authorization errors
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeUserNotApproved  Code = "USER_NOT_APPROVED"
	CodeNotOwner         Code = "NOT_OWNER"

	// State errors
	CodeRequestNotActive                Code = "REQUEST_NOT_ACTIVE"
	CodeOfferInvalidStatusTransition    Code = "OFFER_INVALID_STATUS_TRANSITION"
	CodeDeliveryInvalidStatusTransition Code = "DELIVERY_INVALID_STATUS_TRANSITION"
	CodeRequestInvalidStatusTransition  Code = "REQUEST_INVALID_STATUS_TRANSITION"
	CodeRequestHasApprovedOffer         Code = "REQUEST_HAS_APPROVED_OFFER"
	CodeConcurrentModification          Code = "CONCURRENT_MODIFICATION"

	// Notification errors
	CodeNotificationDelivery Code = "NOTIFICATION_DELIVERY_FAILED"
)

// Kind maps domain codes to the error class callers branch on.
func (c Code) Kind() Kind {
	switch c {
	case CodeUserIdentifierRequired,
		CodeUserNameRequired,
		CodeUserPhoneInvalid,
		CodeUserInvalidRole,
		CodeItemsEmpty,
		CodeItemProductRequired,
		CodeItemUnitRequired,
		CodeItemQuantityInvalid,
		CodeItemPriceInvalid,
		CodeItemTotalMismatch,
		CodeRequestSiteRequired,
		CodeIdentifierMalformed,
		CodeSheetMalformed:
		return KindValidation

	case CodeNotFound:
		return KindNotFound

	case CodePermissionDenied,
		CodeUserNotApproved,
		CodeNotOwner:
		return KindAuthorization

	case CodeRequestNotActive,
		CodeOfferInvalidStatusTransition,
		CodeDeliveryInvalidStatusTransition,
		CodeRequestInvalidStatusTransition,
		CodeRequestHasApprovedOffer,
		CodeConcurrentModification:
		return KindState

	case CodeNotificationDelivery:
		return KindNotificationDelivery

	default:
		return KindInternal
	}
}
