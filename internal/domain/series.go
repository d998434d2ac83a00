package domain

import (
	"fmt"
	"strings"
)

type TransactionKind string

const (
	KindProcurement TransactionKind = "PROCUREMENT"
	KindSale        TransactionKind = "SALE"
)

// ParseKind maps a stored kind string onto a TransactionKind. Unknown values
// are rejected instead of being folded into one of the two kinds.
func ParseKind(raw string) (TransactionKind, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(KindProcurement):
		return KindProcurement, nil
	case string(KindSale):
		return KindSale, nil
	default:
		return "", fmt.Errorf("unknown transaction kind %q", raw)
	}
}

type SeriesTransaction struct {
	DayIndex  int             `json:"day_index"`
	Kind      TransactionKind `json:"type"`
	Qty       float64         `json:"qty"`
	UnitPrice float64         `json:"unit_price"`
}

type DayPoint struct {
	Day               int     `json:"day"`
	Inventory         float64 `json:"inventory"`
	ProcurementAmount float64 `json:"procurementAmount"`
	SalesAmount       float64 `json:"salesAmount"`
}
