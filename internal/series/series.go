// Package series turns a product's sparse transaction list into a dense,
// day-ordered inventory and amount series.
package series

import (
	"stocktrend/internal/domain"

	"github.com/shopspring/decimal"
)

type dayTotals struct {
	procQty    decimal.Decimal
	salesQty   decimal.Decimal
	procAmount decimal.Decimal
	saleAmount decimal.Decimal
}

// Build returns one point per day from 1 to the highest day index present in
// txs. Inventory on each point is the end-of-day level starting from
// openingStock; it is never clamped, so negative values pass through.
//
// All sums are exact decimals, which keeps the output identical for any
// permutation of txs. Transactions with a day index below 1 are ignored.
func Build(openingStock int64, txs []domain.SeriesTransaction) []domain.DayPoint {
	maxDay := 0
	byDay := make(map[int]*dayTotals, len(txs))
	for _, tx := range txs {
		if tx.DayIndex < 1 {
			continue
		}
		if tx.DayIndex > maxDay {
			maxDay = tx.DayIndex
		}
		totals, ok := byDay[tx.DayIndex]
		if !ok {
			totals = &dayTotals{}
			byDay[tx.DayIndex] = totals
		}
		qty := decimal.NewFromFloat(tx.Qty)
		amount := qty.Mul(decimal.NewFromFloat(tx.UnitPrice))
		switch tx.Kind {
		case domain.KindProcurement:
			totals.procQty = totals.procQty.Add(qty)
			totals.procAmount = totals.procAmount.Add(amount)
		case domain.KindSale:
			totals.salesQty = totals.salesQty.Add(qty)
			totals.saleAmount = totals.saleAmount.Add(amount)
		}
	}

	points := make([]domain.DayPoint, 0, maxDay)
	inventory := decimal.NewFromInt(openingStock)
	for day := 1; day <= maxDay; day++ {
		point := domain.DayPoint{Day: day}
		if totals, ok := byDay[day]; ok {
			inventory = inventory.Add(totals.procQty).Sub(totals.salesQty)
			point.ProcurementAmount = totals.procAmount.InexactFloat64()
			point.SalesAmount = totals.saleAmount.InexactFloat64()
		}
		point.Inventory = inventory.InexactFloat64()
		points = append(points, point)
	}
	return points
}

// ForProduct builds the chart-facing series for a loaded product.
func ForProduct(item domain.ProductTransactions) domain.ProductSeries {
	return domain.ProductSeries{
		Product: domain.ProductRef{ID: item.Product.ID, Name: item.Product.Name},
		Points:  Build(item.Product.OpeningStock, item.Transactions),
	}
}
