package tabular

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	apperrors "github.com/louisbranch/supplyflow/internal/platform/errors"
	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
)

func TestRequestTemplateParsesBack(t *testing.T) {
	t.Parallel()

	data, err := RequestTemplate()
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	sheet, err := ParseRequest(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sheet.SiteName != "North Yard" {
		t.Fatalf("site = %q, want example site", sheet.SiteName)
	}
	if len(sheet.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(sheet.Items))
	}
	item := sheet.Items[0]
	if item.Product != "Cement" || item.Unit != "bag" || !item.Quantity.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("item = %+v, want example row", item)
	}
}

func TestParseRequestSkipsBlankProducts(t *testing.T) {
	t.Parallel()

	data := workbook(t, [][]any{
		{"Product_Name", "Quantity", "Unit"},
		{"Sand", "2,5", "t"},
		{"", "1", "t"},
		{"Gravel", 3, "t"},
	})
	sheet, err := ParseRequest(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(sheet.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(sheet.Items))
	}
	if !sheet.Items[0].Quantity.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("quantity = %s, want 2.5", sheet.Items[0].Quantity)
	}
	if sheet.SiteName != "" {
		t.Fatalf("site = %q, want blank without column", sheet.SiteName)
	}
}

func TestParseRequestReportsBadCell(t *testing.T) {
	t.Parallel()

	data := workbook(t, [][]any{
		{"product_name", "quantity", "unit"},
		{"Sand", "lots", "t"},
	})
	_, err := ParseRequest(bytes.NewReader(data))
	domainErr, ok := apperrors.As(err)
	if !ok || domainErr.Code != apperrors.CodeItemQuantityInvalid {
		t.Fatalf("err = %v, want quantity error", err)
	}
	if domainErr.Metadata["Row"] != "2" {
		t.Fatalf("metadata = %v, want row 2", domainErr.Metadata)
	}
}

func TestParseRequestRequiresColumns(t *testing.T) {
	t.Parallel()

	data := workbook(t, [][]any{{"product_name", "unit"}})
	_, err := ParseRequest(bytes.NewReader(data))
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}

	_, err = ParseRequest(bytes.NewReader([]byte("not a workbook")))
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestOfferTemplatePrefillsRequestItems(t *testing.T) {
	t.Parallel()

	data, err := OfferTemplate([]domain.RequestItem{
		{Position: 1, Product: "Cement", Quantity: decimal.NewFromInt(50), Unit: "bag", Description: "M400"},
		{Position: 2, Product: "Sand", Quantity: decimal.RequireFromString("2.5"), Unit: "t"},
	})
	if err != nil {
		t.Fatalf("template: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	formula, err := f.GetCellFormula(offerSheet, "F3")
	if err != nil {
		t.Fatalf("formula: %v", err)
	}
	if formula != "B3*E3" {
		t.Fatalf("formula = %q, want B3*E3", formula)
	}

	// Unpriced rows are skipped.
	items, err := ParseOffer(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("items = %d, want 0 before pricing", len(items))
	}
}

func TestParseOfferReadsPrices(t *testing.T) {
	t.Parallel()

	data := workbook(t, [][]any{
		{"product_name", "quantity", "unit", "material_description", "price_per_unit", "total_price"},
		{"Cement", 50, "bag", "M400", 50, 2500},
		{"Sand", 2, "t", "", "12.5", ""},
		{"Gravel", 1, "t", "", "", ""},
	})
	items, err := ParseOffer(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].TotalPrice == nil || !items[0].TotalPrice.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("total = %v, want 2500", items[0].TotalPrice)
	}
	if items[1].TotalPrice != nil {
		t.Fatalf("total = %v, want nil for blank cell", items[1].TotalPrice)
	}
	if !items[1].PricePerUnit.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("price = %s, want 12.5", items[1].PricePerUnit)
	}

	normalized, total, err := domain.NormalizeOfferItems(items)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(normalized) != 2 || !total.Equal(decimal.NewFromInt(2525)) {
		t.Fatalf("total = %s, want 2525", total)
	}
}

func workbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		if err := writeRow(f, "Sheet1", i+1, row); err != nil {
			t.Fatalf("write row: %v", err)
		}
	}
	data, err := encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}
