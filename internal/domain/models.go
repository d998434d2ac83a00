package domain

import "time"

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Session struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	JWTID     string    `json:"jwt_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type UploadBatch struct {
	ID         int64     `json:"id"`
	Filename   string    `json:"filename"`
	UploadedBy *int64    `json:"uploaded_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Product struct {
	ID           int64     `json:"id"`
	ExternalID   *float64  `json:"external_id,omitempty"`
	Name         string    `json:"name"`
	OpeningStock int64     `json:"opening_stock"`
	BatchID      *int64    `json:"batch_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProductRef is the identity pair attached to every series payload.
type ProductRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type ProductSeries struct {
	Product ProductRef `json:"product"`
	Points  []DayPoint `json:"points"`
}

type ProductListFilter struct {
	Search string
	Limit  int
}

// ProductTransactions is a product loaded together with its full transaction set.
type ProductTransactions struct {
	Product      Product
	Transactions []SeriesTransaction
}

// ProductSummary is the row shape of the product search list.
type ProductSummary struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	ExternalID *float64 `json:"external_id"`
}
