package service

import (
	"context"
	"fmt"
	"io"

	"stocktrend/internal/domain"
	"stocktrend/internal/excel"

	"github.com/shopspring/decimal"
)

const (
	msgValidationFailed = "Validation failed"
	msgNoValidRows      = "No valid rows found"
)

// UploadRejectedError is returned when a workbook cannot be imported at all.
// Nothing has been written when it is returned.
type UploadRejectedError struct {
	Message  string
	Errors   []string
	Warnings []string
}

func (e *UploadRejectedError) Error() string {
	if len(e.Errors) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Errors)
}

type UploadInput struct {
	Filename   string
	UploadedBy *int64
	Parsed     domain.ParseResult
}

// ImportWorkbook parses an uploaded file and imports it.
func (s *Service) ImportWorkbook(ctx context.Context, filename string, r io.Reader, uploadedBy *int64) (domain.UploadResult, error) {
	parsed, err := excel.ReadWorkbook(filename, r)
	if err != nil {
		return domain.UploadResult{}, err
	}
	return s.Upload(ctx, UploadInput{Filename: filename, UploadedBy: uploadedBy, Parsed: parsed})
}

// Upload validates a parse result, replaces the stored state of every product
// it names in one atomic write, and reports negative inventory per product.
func (s *Service) Upload(ctx context.Context, input UploadInput) (domain.UploadResult, error) {
	parsed := input.Parsed
	warnings := nonNil(parsed.Warnings)
	if len(parsed.Errors) > 0 {
		return domain.UploadResult{}, &UploadRejectedError{Message: msgValidationFailed, Errors: parsed.Errors, Warnings: warnings}
	}
	if len(parsed.Rows) == 0 {
		return domain.UploadResult{}, &UploadRejectedError{Message: msgNoValidRows, Warnings: warnings}
	}

	imports := make([]domain.ProductImport, 0, len(parsed.Rows))
	for _, row := range parsed.Rows {
		imports = append(imports, domain.ProductImport{
			ExternalID:   row.ExternalID,
			Name:         row.Name,
			OpeningStock: row.OpeningStock,
			Transactions: MaterializeTransactions(row),
		})
	}

	outcome, err := s.store.ImportUpload(ctx, domain.ImportInput{
		Filename:   input.Filename,
		UploadedBy: input.UploadedBy,
		Products:   imports,
	})
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("import upload: %w", err)
	}

	negatives := make([]domain.NegativeInventory, 0)
	summary := domain.UploadSummary{CreatedTx: outcome.CreatedTx}
	for i, row := range parsed.Rows {
		imported := outcome.Products[i]
		if imported.Created {
			summary.CreatedProducts++
		} else {
			summary.UpdatedProducts++
		}
		if day, inventory, ok := FirstNegativeDay(row); ok {
			negatives = append(negatives, domain.NegativeInventory{
				ProductID: imported.ID,
				Name:      row.Name,
				Day:       day,
				Inventory: inventory,
			})
		}
	}
	summary.NegativeInventoryCount = len(negatives)

	s.logger.Info("upload imported",
		"batch_id", outcome.BatchID,
		"filename", input.Filename,
		"rows", len(parsed.Rows),
		"created_products", summary.CreatedProducts,
		"updated_products", summary.UpdatedProducts,
		"transactions", summary.CreatedTx,
		"negative_inventory", summary.NegativeInventoryCount,
		"warnings", len(warnings),
	)

	return domain.UploadResult{
		OK:          true,
		BatchID:     outcome.BatchID,
		Days:        nonNilDays(parsed.Days),
		Warnings:    warnings,
		DataQuality: domain.DataQuality{NegativeInventory: negatives},
		Summary:     summary,
	}, nil
}

// MaterializeTransactions turns a row's day metrics into stored transactions.
// A side is recorded when either its quantity or its price is positive.
func MaterializeTransactions(row domain.ParsedRow) []domain.SeriesTransaction {
	txs := make([]domain.SeriesTransaction, 0, len(row.Days)*2)
	for _, day := range row.Days {
		m := row.MetricsByDay[day]
		if m.ProcurementQty > 0 || m.ProcurementPrice > 0 {
			txs = append(txs, domain.SeriesTransaction{
				DayIndex:  day,
				Kind:      domain.KindProcurement,
				Qty:       m.ProcurementQty,
				UnitPrice: m.ProcurementPrice,
			})
		}
		if m.SalesQty > 0 || m.SalesPrice > 0 {
			txs = append(txs, domain.SeriesTransaction{
				DayIndex:  day,
				Kind:      domain.KindSale,
				Qty:       m.SalesQty,
				UnitPrice: m.SalesPrice,
			})
		}
	}
	return txs
}

// FirstNegativeDay walks the row's days in order and reports the first day
// whose end-of-day inventory drops below zero.
func FirstNegativeDay(row domain.ParsedRow) (int, float64, bool) {
	inventory := decimal.NewFromInt(row.OpeningStock)
	for _, day := range row.Days {
		m := row.MetricsByDay[day]
		inventory = inventory.
			Add(decimal.NewFromFloat(m.ProcurementQty)).
			Sub(decimal.NewFromFloat(m.SalesQty))
		if inventory.IsNegative() {
			return day, inventory.InexactFloat64(), true
		}
	}
	return 0, 0, false
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nonNilDays(days []int) []int {
	if days == nil {
		return []int{}
	}
	return days
}
