// Package excel reads and writes inventory spreadsheets.
package excel

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/xuri/excelize/v2"
)

// ErrNoRows is returned when a sheet has a header but no data rows
var ErrNoRows = errors.New("excel file has no data rows")

const inventorySheet = "Inventory"

var headerAliases = map[string]string{
	"material":        "material",
	"material name":   "material",
	"fabric":          "material",
	"item":            "material",
	"color":           "color",
	"colour":          "color",
	"shade":           "color",
	"dye lot":         "dye_lot",
	"lot":             "dye_lot",
	"rolls":           "rolls",
	"roll count":      "rolls",
	"no of rolls":     "rolls",
	"meters per roll": "meters_per_roll",
	"mtr per roll":    "meters_per_roll",
	"roll length":     "meters_per_roll",
	"total meters":    "total_meters",
	"total":           "total_meters",
	"meters":          "total_meters",
	"loose meters":    "loose_meters",
	"loose":           "loose_meters",
}

var exportHeader = []string{"Material", "Color", "Dye Lot", "Rolls", "Meters Per Roll", "Loose Meters", "Total Meters"}

// InventoryRow is one parsed spreadsheet line
type InventoryRow struct {
	// Row is the 1-based sheet row number
	Row           int
	MaterialName  string
	Color         string
	DyeLot        string
	Rolls         int
	MetersPerRoll decimal.Decimal
	TotalMeters   *decimal.Decimal
	LooseMeters   *decimal.Decimal
}

// Request converts the row into an add-batch request
func (r InventoryRow) Request() *domain.AddInventoryBatchRequest {
	return &domain.AddInventoryBatchRequest{
		MaterialName:  r.MaterialName,
		Color:         r.Color,
		DyeLot:        r.DyeLot,
		Rolls:         r.Rolls,
		MetersPerRoll: r.MetersPerRoll,
		TotalMeters:   r.TotalMeters,
		LooseMeters:   r.LooseMeters,
	}
}

// ParseInventory reads the first sheet of an xlsx file. Malformed rows are
// reported in the returned row errors and skipped; blank rows are ignored.
func ParseInventory(reader io.Reader) ([]InventoryRow, []domain.ImportRowError, error) {
	file, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("open excel file: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("excel file has no sheets")
	}

	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("excel file is empty")
	}

	colMap := mapColumns(rows[0])
	for _, required := range []string{"material", "rolls", "meters_per_roll"} {
		if _, ok := colMap[required]; !ok {
			return nil, nil, fmt.Errorf("missing required column: %s", required)
		}
	}

	var result []InventoryRow
	var rowErrors []domain.ImportRowError
	for index := 1; index < len(rows); index++ {
		cells := rows[index]
		name := strings.TrimSpace(readCell(cells, colMap, "material"))
		if name == "" {
			continue
		}
		row, err := parseRow(index+1, name, cells, colMap)
		if err != nil {
			rowErrors = append(rowErrors, domain.ImportRowError{Row: index + 1, Message: err.Error()})
			continue
		}
		result = append(result, row)
	}

	if len(result) == 0 && len(rowErrors) == 0 {
		return nil, nil, ErrNoRows
	}
	return result, rowErrors, nil
}

func parseRow(rowNum int, name string, cells []string, colMap map[string]int) (InventoryRow, error) {
	row := InventoryRow{
		Row:          rowNum,
		MaterialName: name,
		Color:        strings.TrimSpace(readCell(cells, colMap, "color")),
		DyeLot:       strings.TrimSpace(readCell(cells, colMap, "dye_lot")),
	}

	rolls, err := parseInt(readCell(cells, colMap, "rolls"))
	if err != nil {
		return row, fmt.Errorf("invalid rolls: %w", err)
	}
	row.Rolls = rolls

	mpr, err := parseDecimal(readCell(cells, colMap, "meters_per_roll"))
	if err != nil {
		return row, fmt.Errorf("invalid meters per roll: %w", err)
	}
	row.MetersPerRoll = mpr

	if raw := strings.TrimSpace(readCell(cells, colMap, "total_meters")); raw != "" {
		total, err := parseDecimal(raw)
		if err != nil {
			return row, fmt.Errorf("invalid total meters: %w", err)
		}
		row.TotalMeters = &total
	}
	if raw := strings.TrimSpace(readCell(cells, colMap, "loose_meters")); raw != "" {
		loose, err := parseDecimal(raw)
		if err != nil {
			return row, fmt.Errorf("invalid loose meters: %w", err)
		}
		row.LooseMeters = &loose
	}
	return row, nil
}

// WriteInventory writes batches as a single-sheet xlsx workbook
func WriteInventory(w io.Writer, batches []domain.InventoryBatch) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), inventorySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	for col, title := range exportHeader {
		if err := setCell(f, col, 1, title); err != nil {
			return err
		}
	}

	for i := range batches {
		b := &batches[i]
		values := []interface{}{
			b.MaterialName,
			b.Color,
			b.DyeLot,
			b.RollsAvailable,
			b.MetersPerRoll.InexactFloat64(),
			b.LooseMetersAvailable.InexactFloat64(),
			b.AvailableMeters().InexactFloat64(),
		}
		for col, v := range values {
			if err := setCell(f, col, i+2, v); err != nil {
				return err
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setCell(f *excelize.File, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col+1, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(inventorySheet, cell, value)
}

func mapColumns(header []string) map[string]int {
	mapped := make(map[string]int)
	for idx, col := range header {
		normalized := normalizeHeader(col)
		if normalized == "" {
			continue
		}
		canonical, ok := headerAliases[normalized]
		if !ok {
			continue
		}
		if _, exists := mapped[canonical]; !exists {
			mapped[canonical] = idx
		}
	}
	return mapped
}

func normalizeHeader(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "\ufeff")
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", " ")
	value = strings.ReplaceAll(value, ".", "")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

func readCell(row []string, colMap map[string]int, column string) string {
	idx, ok := colMap[column]
	if !ok || idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func parseInt(raw string) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("value is empty")
	}
	asFloat, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if asFloat != float64(int(asFloat)) {
		return 0, fmt.Errorf("must be an integer")
	}
	return int(asFloat), nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return decimal.Zero, fmt.Errorf("value is empty")
	}
	parsed, err := decimal.NewFromString(strings.ReplaceAll(value, ",", ""))
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number")
	}
	return parsed, nil
}
