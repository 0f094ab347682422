package domain

import (
	"testing"

	"github.com/shopspring/decimal"

	apperrors "github.com/louisbranch/supplyflow/internal/platform/errors"
)

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", value, err)
	}
	return d
}

func TestNormalizeRequestItems(t *testing.T) {
	items, err := NormalizeRequestItems([]ItemInput{
		{Product: " Cement ", Quantity: dec(t, "10"), Unit: "bag"},
		{Product: "Sand", Quantity: dec(t, "1.23456"), Unit: "t", Description: " fine "},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].Product != "Cement" || items[0].Position != 1 {
		t.Fatalf("first item = %+v", items[0])
	}
	if got := items[1].Quantity.String(); got != "1.235" {
		t.Fatalf("quantity = %s, want 1.235", got)
	}
	if items[1].Description != "fine" {
		t.Fatalf("description = %q, want fine", items[1].Description)
	}
}

func TestNormalizeRequestItemsRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		items []ItemInput
		code  apperrors.Code
	}{
		{name: "empty", items: nil, code: apperrors.CodeItemsEmpty},
		{name: "zero quantity", items: []ItemInput{{Product: "Cement", Quantity: decimal.Zero, Unit: "bag"}}, code: apperrors.CodeItemQuantityInvalid},
		{name: "negative quantity", items: []ItemInput{{Product: "Cement", Quantity: dec(t, "-1"), Unit: "bag"}}, code: apperrors.CodeItemQuantityInvalid},
		{name: "missing unit", items: []ItemInput{{Product: "Cement", Quantity: dec(t, "1")}}, code: apperrors.CodeItemUnitRequired},
		{name: "missing product", items: []ItemInput{{Quantity: dec(t, "1"), Unit: "bag"}}, code: apperrors.CodeItemProductRequired},
		{name: "rounds to zero", items: []ItemInput{{Product: "Cement", Quantity: dec(t, "0.0001"), Unit: "bag"}}, code: apperrors.CodeItemQuantityInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeRequestItems(tt.items)
			domainErr, ok := apperrors.As(err)
			if !ok {
				t.Fatalf("error = %v, want domain error", err)
			}
			if domainErr.Code != tt.code {
				t.Fatalf("code = %s, want %s", domainErr.Code, tt.code)
			}
		})
	}
}

func TestNormalizeOfferItemsComputesTotals(t *testing.T) {
	items, total, err := NormalizeOfferItems([]ItemInput{
		{Product: "Cement", Quantity: dec(t, "10"), Unit: "bag", PricePerUnit: dec(t, "50000")},
		{Product: "Sand", Quantity: dec(t, "0.333"), Unit: "t", PricePerUnit: dec(t, "10.01")},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got := items[0].TotalPrice.StringFixed(MoneyScale); got != "500000.00" {
		t.Fatalf("first total = %s, want 500000.00", got)
	}
	// 0.333 * 10.01 = 3.33333 -> 3.33
	if got := items[1].TotalPrice.StringFixed(MoneyScale); got != "3.33" {
		t.Fatalf("second total = %s, want 3.33", got)
	}
	if got := total.StringFixed(MoneyScale); got != "500003.33" {
		t.Fatalf("offer total = %s, want 500003.33", got)
	}
	if !SumOfferItems(items).Equal(total) {
		t.Fatal("sum of items must equal offer total")
	}
}

func TestNormalizeOfferItemsTotalMismatch(t *testing.T) {
	supplied := dec(t, "499999")
	_, _, err := NormalizeOfferItems([]ItemInput{
		{Product: "Cement", Quantity: dec(t, "10"), Unit: "bag", PricePerUnit: dec(t, "50000"), TotalPrice: &supplied},
	})
	domainErr, ok := apperrors.As(err)
	if !ok || domainErr.Code != apperrors.CodeItemTotalMismatch {
		t.Fatalf("error = %v, want total mismatch", err)
	}
	if domainErr.Metadata["Expected"] != "500000.00" {
		t.Fatalf("expected metadata = %q", domainErr.Metadata["Expected"])
	}

	matching := dec(t, "500000")
	if _, _, err := NormalizeOfferItems([]ItemInput{
		{Product: "Cement", Quantity: dec(t, "10"), Unit: "bag", PricePerUnit: dec(t, "50000"), TotalPrice: &matching},
	}); err != nil {
		t.Fatalf("matching total rejected: %v", err)
	}
}

func TestNormalizeOfferItemsRejectsNegativePrice(t *testing.T) {
	_, _, err := NormalizeOfferItems([]ItemInput{
		{Product: "Cement", Quantity: dec(t, "1"), Unit: "bag", PricePerUnit: dec(t, "-0.01")},
	})
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestParseQuantityAndMoney(t *testing.T) {
	q, err := ParseQuantity(" 12,5 ")
	if err != nil {
		t.Fatalf("parse quantity: %v", err)
	}
	if q.String() != "12.5" {
		t.Fatalf("quantity = %s, want 12.5", q)
	}
	m, err := ParseMoney("1 250,499")
	if err != nil {
		t.Fatalf("parse money: %v", err)
	}
	if m.StringFixed(MoneyScale) != "1250.50" {
		t.Fatalf("money = %s, want 1250.50", m.StringFixed(MoneyScale))
	}
	if _, err := ParseQuantity("ten"); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("ParseQuantity(ten) error = %v, want validation", err)
	}
}
