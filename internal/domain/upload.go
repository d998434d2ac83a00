package domain

// DayMetrics holds one day's cells for a product row.
type DayMetrics struct {
	ProcurementQty   float64 `json:"pq"`
	ProcurementPrice float64 `json:"pp"`
	SalesQty         float64 `json:"sq"`
	SalesPrice       float64 `json:"sp"`
}

type ParsedRow struct {
	ExternalID   *float64           `json:"external_id"`
	Name         string             `json:"name"`
	OpeningStock int64              `json:"opening_stock"`
	Days         []int              `json:"days"`
	MetricsByDay map[int]DayMetrics `json:"metrics_by_day"`
}

type ParseResult struct {
	Rows     []ParsedRow `json:"rows"`
	Days     []int       `json:"days"`
	Warnings []string    `json:"warnings"`
	Errors   []string    `json:"errors"`
}

// ProductImport is one parsed row turned into the writes the upload performs.
type ProductImport struct {
	ExternalID   *float64
	Name         string
	OpeningStock int64
	Transactions []SeriesTransaction
}

type ImportInput struct {
	Filename   string
	UploadedBy *int64
	Products   []ProductImport
}

// ImportedProduct reports where each ProductImport landed, in input order.
type ImportedProduct struct {
	ID      int64
	Name    string
	Created bool
}

type ImportOutcome struct {
	BatchID   int64
	Products  []ImportedProduct
	CreatedTx int
}

type NegativeInventory struct {
	ProductID int64   `json:"productId"`
	Name      string  `json:"name"`
	Day       int     `json:"day"`
	Inventory float64 `json:"inventory"`
}

type UploadSummary struct {
	CreatedProducts        int `json:"createdProducts"`
	UpdatedProducts        int `json:"updatedProducts"`
	CreatedTx              int `json:"createdTx"`
	NegativeInventoryCount int `json:"negativeInventoryCount"`
}

type DataQuality struct {
	NegativeInventory []NegativeInventory `json:"negativeInventory"`
}

type UploadResult struct {
	OK          bool          `json:"ok"`
	BatchID     int64         `json:"batchId"`
	Days        []int         `json:"days"`
	Warnings    []string      `json:"warnings"`
	DataQuality DataQuality   `json:"dataQuality"`
	Summary     UploadSummary `json:"summary"`
}
