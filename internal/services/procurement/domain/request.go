package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseRequest is a buyer's request for goods. Only Status changes after
// creation.
type PurchaseRequest struct {
	ID           string
	BuyerID      string
	SupplierName string
	SiteName     string
	Status       RequestStatus
	Items        []RequestItem
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Version      int64
}

// SellerOffer is a seller's priced response to a request.
type SellerOffer struct {
	ID          string
	RequestID   string
	SellerID    string
	TotalAmount decimal.Decimal
	Status      OfferStatus
	Items       []OfferItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int64
}

// Delivery tracks the physical handover of an approved offer.
type Delivery struct {
	ID      string
	OfferID string
	// WarehouseID is empty until a warehouse operator is matched or receives.
	WarehouseID string
	Status      DeliveryStatus
	ShippedAt   *time.Time
	ReceivedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int64
}
