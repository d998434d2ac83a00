package series

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"stocktrend/internal/domain"
)

var csvHeader = []string{"Day", "Product", "Inventory", "ProcurementAmount", "SalesAmount"}

// WriteCSV writes one row per product per day, products in the given order.
func WriteCSV(w io.Writer, items []domain.ProductSeries) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, item := range items {
		for _, point := range item.Points {
			record := []string{
				strconv.Itoa(point.Day),
				safeCell(item.Product.Name),
				formatNumber(point.Inventory),
				formatNumber(point.ProcurementAmount),
				formatNumber(point.SalesAmount),
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("write csv row for %q day %d: %w", item.Product.Name, point.Day, err)
			}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func formatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// safeCell prefixes text a spreadsheet would evaluate as a formula.
func safeCell(value string) string {
	if value != "" && strings.ContainsRune("=+-@\t\r", rune(value[0])) {
		return "'" + value
	}
	return value
}
