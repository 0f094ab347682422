package domain

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/louisbranch/supplyflow/internal/platform/errors"
)

const (
	// QuantityScale is the number of fractional digits kept for quantities.
	QuantityScale int32 = 3
	// MoneyScale is the number of fractional digits kept for prices and totals.
	MoneyScale int32 = 2
)

// RequestItem is one immutable line of a purchase request.
type RequestItem struct {
	Position    int
	Product     string
	Quantity    decimal.Decimal
	Unit        string
	Description string
}

// OfferItem is one immutable priced line of a seller offer.
type OfferItem struct {
	Position     int
	Product      string
	Quantity     decimal.Decimal
	Unit         string
	PricePerUnit decimal.Decimal
	TotalPrice   decimal.Decimal
	Description  string
}

// ItemInput is the raw item shape shared by request and offer submissions.
// PricePerUnit and TotalPrice are ignored for requests.
type ItemInput struct {
	Product      string
	Quantity     decimal.Decimal
	Unit         string
	Description  string
	PricePerUnit decimal.Decimal
	// TotalPrice is optional; when set it must equal the computed line total.
	TotalPrice *decimal.Decimal
}

// NormalizeRequestItems validates request lines and returns them with
// positions assigned. Any invalid line rejects the whole list.
func NormalizeRequestItems(inputs []ItemInput) ([]RequestItem, error) {
	if len(inputs) == 0 {
		return nil, apperrors.New(apperrors.CodeItemsEmpty, "at least one item is required")
	}
	items := make([]RequestItem, 0, len(inputs))
	for i, input := range inputs {
		position := i + 1
		product, unit, quantity, err := normalizeItemCore(position, input)
		if err != nil {
			return nil, err
		}
		items = append(items, RequestItem{
			Position:    position,
			Product:     product,
			Quantity:    quantity,
			Unit:        unit,
			Description: strings.TrimSpace(input.Description),
		})
	}
	return items, nil
}

// NormalizeOfferItems validates priced lines, computes each line total as
// round(quantity * price_per_unit, 2), and returns the offer total.
func NormalizeOfferItems(inputs []ItemInput) ([]OfferItem, decimal.Decimal, error) {
	if len(inputs) == 0 {
		return nil, decimal.Zero, apperrors.New(apperrors.CodeItemsEmpty, "at least one item is required")
	}
	items := make([]OfferItem, 0, len(inputs))
	total := decimal.Zero
	for i, input := range inputs {
		position := i + 1
		product, unit, quantity, err := normalizeItemCore(position, input)
		if err != nil {
			return nil, decimal.Zero, err
		}
		if input.PricePerUnit.IsNegative() {
			return nil, decimal.Zero, itemError(apperrors.CodeItemPriceInvalid, "price per unit must not be negative", position)
		}
		price := input.PricePerUnit.Round(MoneyScale)
		lineTotal := LineTotal(quantity, price)
		if input.TotalPrice != nil && !input.TotalPrice.Round(MoneyScale).Equal(lineTotal) {
			return nil, decimal.Zero, apperrors.WithMetadata(apperrors.CodeItemTotalMismatch, "item total does not match quantity times price", map[string]string{
				"Position": strconv.Itoa(position),
				"Expected": lineTotal.StringFixed(MoneyScale),
				"Supplied": input.TotalPrice.String(),
			})
		}
		items = append(items, OfferItem{
			Position:     position,
			Product:      product,
			Quantity:     quantity,
			Unit:         unit,
			PricePerUnit: price,
			TotalPrice:   lineTotal,
			Description:  strings.TrimSpace(input.Description),
		})
		total = total.Add(lineTotal)
	}
	return items, total, nil
}

// LineTotal returns quantity * price rounded to money precision.
func LineTotal(quantity, price decimal.Decimal) decimal.Decimal {
	return quantity.Mul(price).Round(MoneyScale)
}

// SumOfferItems returns the sum of the item line totals.
func SumOfferItems(items []OfferItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.TotalPrice)
	}
	return total
}

func normalizeItemCore(position int, input ItemInput) (string, string, decimal.Decimal, error) {
	product := strings.TrimSpace(input.Product)
	if product == "" {
		return "", "", decimal.Zero, itemError(apperrors.CodeItemProductRequired, "product name is required", position)
	}
	unit := strings.TrimSpace(input.Unit)
	if unit == "" {
		return "", "", decimal.Zero, itemError(apperrors.CodeItemUnitRequired, "unit is required", position)
	}
	quantity := input.Quantity.Round(QuantityScale)
	if !quantity.IsPositive() {
		return "", "", decimal.Zero, itemError(apperrors.CodeItemQuantityInvalid, "quantity must be greater than zero", position)
	}
	return product, unit, quantity, nil
}

func itemError(code apperrors.Code, message string, position int) error {
	return apperrors.WithMetadata(code, message, map[string]string{"Position": strconv.Itoa(position)})
}

// ParseQuantity parses a user-entered quantity. A comma is accepted as the
// decimal separator.
func ParseQuantity(raw string) (decimal.Decimal, error) {
	value, err := parseDecimal(raw)
	if err != nil {
		return decimal.Zero, apperrors.Wrap(apperrors.CodeItemQuantityInvalid, "quantity is not a number", err)
	}
	return value.Round(QuantityScale), nil
}

// ParseMoney parses a user-entered amount. A comma is accepted as the
// decimal separator.
func ParseMoney(raw string) (decimal.Decimal, error) {
	value, err := parseDecimal(raw)
	if err != nil {
		return decimal.Zero, apperrors.Wrap(apperrors.CodeItemPriceInvalid, "amount is not a number", err)
	}
	return value.Round(MoneyScale), nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	return decimal.NewFromString(cleaned)
}
