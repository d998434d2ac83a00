package excel

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"stocktrend/internal/domain"

	"github.com/xuri/excelize/v2"
)

const emptySheetMessage = "Empty sheet"

// MaxDayIndex bounds the reporting period a sheet may declare; every day up to
// the highest index becomes a point in the rebuilt series.
const MaxDayIndex = 3660

const (
	colID           = "id"
	colProductName  = "product name"
	colOpeningStock = "opening inventory"
)

var requiredColumns = []struct {
	key   string
	label string
}{
	{colID, "ID"},
	{colProductName, "Product Name"},
	{colOpeningStock, "Opening Inventory"},
}

// Day headers are matched against the normalized (lowercased, single-spaced)
// header text.
var (
	procurementQtyPattern   = regexp.MustCompile(`^procurement qty \(day (\d+)\)$`)
	procurementPricePattern = regexp.MustCompile(`^procurement price \(day (\d+)\)$`)
	salesQtyPattern         = regexp.MustCompile(`^sales qty \(day (\d+)\)$`)
	salesPricePattern       = regexp.MustCompile(`^sales price \(day (\d+)\)$`)
)

var errEmptySheet = errors.New("empty sheet")

type dayColumns struct {
	procurementQty   int
	procurementPrice int
	salesQty         int
	salesPrice       int
}

func newDayColumns() *dayColumns {
	return &dayColumns{procurementQty: -1, procurementPrice: -1, salesQty: -1, salesPrice: -1}
}

type sheetLayout struct {
	columns map[string]int
	days    []int
	byDay   map[int]*dayColumns
}

// ReadWorkbook reads an uploaded file and parses its first sheet. The
// extension picks the format; unknown extensions try XLSX first, then CSV.
// Only I/O failures are returned as errors; everything about the content is
// reported in the result.
func ReadWorkbook(fileName string, reader io.Reader) (domain.ParseResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return domain.ParseResult{}, fmt.Errorf("read file: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(filepath.Ext(fileName))) {
	case ".csv":
		rows, err := parseCSVRows(data)
		if err != nil {
			return structuralFailure(err), nil
		}
		return parseSheet(rows), nil
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		rows, err := parseExcelRows(data)
		if err != nil {
			return structuralFailure(err), nil
		}
		return parseSheet(rows), nil
	default:
		return ParseWorkbook(data), nil
	}
}

// ParseWorkbook parses the first sheet of an XLSX workbook, falling back to
// CSV when the bytes are not a workbook.
func ParseWorkbook(data []byte) domain.ParseResult {
	if len(data) == 0 {
		return structuralFailure(errEmptySheet)
	}
	rows, err := parseExcelRows(data)
	if err == nil {
		return parseSheet(rows)
	}
	if errors.Is(err, errEmptySheet) {
		return structuralFailure(err)
	}
	csvRows, csvErr := parseCSVRows(data)
	if csvErr != nil {
		return structuralFailure(err)
	}
	return parseSheet(csvRows)
}

func parseSheet(rows [][]string) domain.ParseResult {
	result := domain.ParseResult{
		Rows:     []domain.ParsedRow{},
		Days:     []int{},
		Warnings: []string{},
		Errors:   []string{},
	}

	headerIndex := -1
	for idx, cells := range rows {
		if !isBlankRow(cells) {
			headerIndex = idx
			break
		}
	}
	if headerIndex < 0 || !hasDataRows(rows[headerIndex+1:]) {
		result.Errors = append(result.Errors, emptySheetMessage)
		return result
	}

	layout, ignored := mapSheetColumns(rows[headerIndex])
	missing := make([]string, 0, len(requiredColumns))
	for _, required := range requiredColumns {
		if _, ok := layout.columns[required.key]; !ok {
			missing = append(missing, required.label)
		}
	}
	if len(missing) > 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("Missing required columns: %s", strings.Join(missing, ", ")))
		return result
	}

	result.Days = layout.days
	result.Warnings = append(result.Warnings, ignored...)
	for _, day := range layout.days {
		cols := layout.byDay[day]
		if cols.procurementQty >= 0 && cols.procurementPrice < 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Day %d: found Procurement Qty but missing Procurement Price", day))
		}
		if cols.procurementQty < 0 && cols.procurementPrice >= 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Day %d: found Procurement Price but missing Procurement Qty", day))
		}
		if cols.salesQty >= 0 && cols.salesPrice < 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Day %d: found Sales Qty but missing Sales Price", day))
		}
		if cols.salesQty < 0 && cols.salesPrice >= 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Day %d: found Sales Price but missing Sales Qty", day))
		}
	}
	if len(layout.days) == 0 {
		result.Warnings = append(result.Warnings, `No Day N columns detected (e.g., "Procurement Qty (Day 1)").`)
	}

	for _, cells := range rows[headerIndex+1:] {
		if isBlankRow(cells) {
			continue
		}
		name := strings.TrimSpace(readCell(cells, layout.columns[colProductName]))
		if name == "" {
			result.Warnings = append(result.Warnings, "Skipped a row with empty Product Name")
			continue
		}

		var externalID *float64
		if value, ok := parseNumber(readCell(cells, layout.columns[colID])); ok {
			externalID = &value
		}
		openingRaw := readCell(cells, layout.columns[colOpeningStock])
		opening, _ := parseNumber(openingRaw)
		openingStock, inRange := truncateStock(opening)
		if !inRange {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: Opening Inventory %s is out of range, using 0", name, strings.TrimSpace(openingRaw)))
		}

		metrics := make(map[int]domain.DayMetrics, len(layout.days))
		for _, day := range layout.days {
			cols := layout.byDay[day]
			m := domain.DayMetrics{
				ProcurementQty:   numberOrZero(cells, cols.procurementQty),
				ProcurementPrice: numberOrZero(cells, cols.procurementPrice),
				SalesQty:         numberOrZero(cells, cols.salesQty),
				SalesPrice:       numberOrZero(cells, cols.salesPrice),
			}
			if m.ProcurementQty > 0 && m.ProcurementPrice == 0 {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: Day %d procurement qty > 0 but price = 0", name, day))
			}
			if m.SalesQty > 0 && m.SalesPrice == 0 {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: Day %d sales qty > 0 but price = 0", name, day))
			}
			metrics[day] = m
		}

		result.Rows = append(result.Rows, domain.ParsedRow{
			ExternalID:   externalID,
			Name:         name,
			OpeningStock: openingStock,
			Days:         layout.days,
			MetricsByDay: metrics,
		})
	}
	return result
}

func mapSheetColumns(header []string) (sheetLayout, []string) {
	layout := sheetLayout{
		columns: make(map[string]int),
		byDay:   make(map[int]*dayColumns),
	}
	var ignored []string
	for idx, col := range header {
		normalized := normalizeHeader(col)
		if normalized == "" {
			continue
		}
		if day, slot, ok := matchDayHeader(normalized); ok {
			if day < 1 || day > MaxDayIndex {
				ignored = append(ignored, fmt.Sprintf("Ignored column %q: day index must be between 1 and %d", strings.TrimSpace(col), MaxDayIndex))
				continue
			}
			cols, exists := layout.byDay[day]
			if !exists {
				cols = newDayColumns()
				layout.byDay[day] = cols
				layout.days = append(layout.days, day)
			}
			target := cols.slot(slot)
			if *target < 0 {
				*target = idx
			}
			continue
		}
		if _, exists := layout.columns[normalized]; !exists {
			layout.columns[normalized] = idx
		}
	}
	sort.Ints(layout.days)
	if layout.days == nil {
		layout.days = []int{}
	}
	return layout, ignored
}

func matchDayHeader(normalized string) (int, int, bool) {
	for slot, pattern := range []*regexp.Regexp{
		procurementQtyPattern,
		procurementPricePattern,
		salesQtyPattern,
		salesPricePattern,
	} {
		match := pattern.FindStringSubmatch(normalized)
		if match == nil {
			continue
		}
		day, err := strconv.Atoi(match[1])
		if err != nil {
			return 0, 0, false
		}
		return day, slot, true
	}
	return 0, 0, false
}

func (c *dayColumns) slot(slot int) *int {
	switch slot {
	case 0:
		return &c.procurementQty
	case 1:
		return &c.procurementPrice
	case 2:
		return &c.salesQty
	default:
		return &c.salesPrice
	}
}

func structuralFailure(err error) domain.ParseResult {
	message := err.Error()
	if errors.Is(err, errEmptySheet) {
		message = emptySheetMessage
	}
	return domain.ParseResult{
		Rows:     []domain.ParsedRow{},
		Days:     []int{},
		Warnings: []string{},
		Errors:   []string{message},
	}
}

func parseCSVRows(data []byte) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\ufeff"))))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, errEmptySheet
	}
	return rows, nil
}

func parseExcelRows(data []byte) ([][]string, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open excel file: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, errEmptySheet
	}

	rows, err := file.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, errEmptySheet
	}
	return rows, nil
}

func hasDataRows(rows [][]string) bool {
	for _, cells := range rows {
		if !isBlankRow(cells) {
			return true
		}
	}
	return false
}

func isBlankRow(cells []string) bool {
	for _, cell := range cells {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func normalizeHeader(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "\ufeff")
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

func readCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func numberOrZero(cells []string, idx int) float64 {
	value, _ := parseNumber(readCell(cells, idx))
	return value
}

// truncateStock drops the fraction of an opening stock value. Values whose
// integer part does not fit in an int64 report ok=false and become 0.
func truncateStock(value float64) (int64, bool) {
	whole := math.Trunc(value)
	if whole < math.MinInt64 || whole >= math.MaxInt64 {
		return 0, false
	}
	return int64(whole), true
}

// parseNumber accepts finite decimal numbers with optional thousands
// separators. Blank and non-numeric cells report ok=false.
func parseNumber(raw string) (float64, bool) {
	value := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, false
	}
	return parsed, true
}
