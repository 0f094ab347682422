// Package tabular converts between .xlsx workbooks and item lists. Buyers
// fill in a request template; sellers receive an offer template prefilled
// with the request lines and add prices.
package tabular

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	apperrors "github.com/louisbranch/supplyflow/internal/platform/errors"
	"github.com/louisbranch/supplyflow/internal/services/procurement/domain"
)

// Column headers of the workbook contract.
const (
	ColumnSiteName            = "site_name"
	ColumnProductName         = "product_name"
	ColumnQuantity            = "quantity"
	ColumnUnit                = "unit"
	ColumnMaterialDescription = "material_description"
	ColumnPricePerUnit        = "price_per_unit"
	ColumnTotalPrice          = "total_price"
)

const (
	requestSheet = "Request"
	offerSheet   = "Offer"
)

var (
	requestColumns = []string{ColumnSiteName, ColumnProductName, ColumnQuantity, ColumnUnit, ColumnMaterialDescription}
	offerColumns   = []string{ColumnProductName, ColumnQuantity, ColumnUnit, ColumnMaterialDescription, ColumnPricePerUnit, ColumnTotalPrice}
)

// RequestSheet is the content of a filled request workbook.
type RequestSheet struct {
	// SiteName is read from the first data row; blank means the buyer's site.
	SiteName string
	Items    []domain.ItemInput
}

// RequestTemplate returns an empty request workbook with one example row.
func RequestTemplate() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", requestSheet); err != nil {
		return nil, fmt.Errorf("name request sheet: %w", err)
	}
	if err := writeRow(f, requestSheet, 1, toAny(requestColumns)); err != nil {
		return nil, err
	}
	if err := writeRow(f, requestSheet, 2, []any{"North Yard", "Cement", 100, "bag", "Grade M400"}); err != nil {
		return nil, err
	}
	return encode(f)
}

// OfferTemplate returns an offer workbook listing the request lines with
// empty price cells. Each total cell multiplies quantity by price.
func OfferTemplate(items []domain.RequestItem) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", offerSheet); err != nil {
		return nil, fmt.Errorf("name offer sheet: %w", err)
	}
	if err := writeRow(f, offerSheet, 1, toAny(offerColumns)); err != nil {
		return nil, err
	}
	for i, item := range items {
		row := i + 2
		quantity, _ := item.Quantity.Float64()
		if err := writeRow(f, offerSheet, row, []any{item.Product, quantity, item.Unit, item.Description}); err != nil {
			return nil, err
		}
		total := "F" + strconv.Itoa(row)
		if err := f.SetCellFormula(offerSheet, total, fmt.Sprintf("B%d*E%d", row, row)); err != nil {
			return nil, fmt.Errorf("set total formula %s: %w", total, err)
		}
	}
	return encode(f)
}

// ParseRequest reads request lines from the first sheet. Rows without a
// product are skipped. Values are not validated beyond parsing; the
// workflow validates items on submission.
func ParseRequest(r io.Reader) (RequestSheet, error) {
	rows, err := readRows(r)
	if err != nil {
		return RequestSheet{}, err
	}
	index, err := headerIndex(rows, ColumnProductName, ColumnQuantity, ColumnUnit)
	if err != nil {
		return RequestSheet{}, err
	}

	var sheet RequestSheet
	for i, row := range rows[1:] {
		line := i + 2
		if i == 0 {
			sheet.SiteName = cell(row, index, ColumnSiteName)
		}
		product := cell(row, index, ColumnProductName)
		if product == "" {
			continue
		}
		quantity, err := parseCell(line, ColumnQuantity, cell(row, index, ColumnQuantity), domain.ParseQuantity)
		if err != nil {
			return RequestSheet{}, err
		}
		sheet.Items = append(sheet.Items, domain.ItemInput{
			Product:     product,
			Quantity:    quantity,
			Unit:        cell(row, index, ColumnUnit),
			Description: cell(row, index, ColumnMaterialDescription),
		})
	}
	return sheet, nil
}

// ParseOffer reads priced lines from the first sheet. Rows without a
// product or without a price are skipped. A total cell, when filled, is
// carried so the workflow can check it against quantity times price.
func ParseOffer(r io.Reader) ([]domain.ItemInput, error) {
	rows, err := readRows(r)
	if err != nil {
		return nil, err
	}
	index, err := headerIndex(rows, ColumnProductName, ColumnQuantity, ColumnUnit, ColumnPricePerUnit)
	if err != nil {
		return nil, err
	}

	var items []domain.ItemInput
	for i, row := range rows[1:] {
		line := i + 2
		product := cell(row, index, ColumnProductName)
		rawPrice := cell(row, index, ColumnPricePerUnit)
		if product == "" || rawPrice == "" {
			continue
		}
		quantity, err := parseCell(line, ColumnQuantity, cell(row, index, ColumnQuantity), domain.ParseQuantity)
		if err != nil {
			return nil, err
		}
		price, err := parseCell(line, ColumnPricePerUnit, rawPrice, domain.ParseMoney)
		if err != nil {
			return nil, err
		}
		item := domain.ItemInput{
			Product:      product,
			Quantity:     quantity,
			Unit:         cell(row, index, ColumnUnit),
			Description:  cell(row, index, ColumnMaterialDescription),
			PricePerUnit: price,
		}
		if rawTotal := cell(row, index, ColumnTotalPrice); rawTotal != "" {
			total, err := parseCell(line, ColumnTotalPrice, rawTotal, domain.ParseMoney)
			if err != nil {
				return nil, err
			}
			item.TotalPrice = &total
		}
		items = append(items, item)
	}
	return items, nil
}

func readRows(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSheetMalformed, "workbook cannot be read", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, apperrors.New(apperrors.CodeSheetMalformed, "workbook has no sheets")
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSheetMalformed, "sheet cannot be read", err)
	}
	if len(rows) == 0 {
		return nil, apperrors.New(apperrors.CodeSheetMalformed, "sheet has no header row")
	}
	return rows, nil
}

// headerIndex maps normalized header names to column positions and checks
// the required ones are present.
func headerIndex(rows [][]string, required ...string) (map[string]int, error) {
	index := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if _, ok := index[key]; !ok {
			index[key] = i
		}
	}
	for _, name := range required {
		if _, ok := index[name]; !ok {
			return nil, apperrors.WithMetadata(apperrors.CodeSheetMalformed, "required column is missing", map[string]string{"Column": name})
		}
	}
	return index, nil
}

func cell(row []string, index map[string]int, column string) string {
	i, ok := index[column]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseCell(line int, column, raw string, parse func(string) (decimal.Decimal, error)) (decimal.Decimal, error) {
	value, err := parse(raw)
	if err != nil {
		if domainErr, ok := apperrors.As(err); ok {
			return decimal.Zero, apperrors.WithMetadata(domainErr.Code, domainErr.Message, map[string]string{
				"Row":    strconv.Itoa(line),
				"Column": column,
				"Value":  raw,
			})
		}
		return decimal.Zero, err
	}
	return value, nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	for i, value := range values {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("column name %d: %w", i+1, err)
		}
		cellName := col + strconv.Itoa(row)
		if err := f.SetCellValue(sheet, cellName, value); err != nil {
			return fmt.Errorf("set %s!%s: %w", sheet, cellName, err)
		}
	}
	return nil
}

func encode(f *excelize.File) ([]byte, error) {
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
