package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"stocktrend/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) CreateUser(ctx context.Context, email, username, passwordHash string) (domain.User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, email, username, password_hash, created_at
	`, email, username, passwordHash)
	user, err := scanUserRow(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, ErrConflict
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, username, password_hash, created_at
		FROM users
		WHERE email = $1
	`, email)
	return getUser(row, "email")
}

func (r *Repository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, username, password_hash, created_at
		FROM users
		WHERE id = $1
	`, id)
	return getUser(row, "id")
}

func getUser(row pgx.Row, by string) (*domain.User, error) {
	user, err := scanUserRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by %s: %w", by, err)
	}
	return &user, nil
}

func (r *Repository) CreateSession(ctx context.Context, userID int64, jwtID string, expiresAt time.Time) (domain.Session, error) {
	var session domain.Session
	err := r.pool.QueryRow(ctx, `
		INSERT INTO sessions (user_id, jwt_id, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, jwt_id, expires_at, created_at
	`, userID, jwtID, expiresAt).Scan(
		&session.ID,
		&session.UserID,
		&session.JWTID,
		&session.ExpiresAt,
		&session.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Session{}, ErrConflict
		}
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (r *Repository) GetSessionByJWTID(ctx context.Context, jwtID string) (*domain.Session, error) {
	var session domain.Session
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, jwt_id, expires_at, created_at
		FROM sessions
		WHERE jwt_id = $1
	`, jwtID).Scan(
		&session.ID,
		&session.UserID,
		&session.JWTID,
		&session.ExpiresAt,
		&session.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// DeleteSessions removes every session of userID plus the session named by
// jwtID. Either argument may be zero.
func (r *Repository) DeleteSessions(ctx context.Context, userID int64, jwtID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM sessions
		WHERE ($1::bigint > 0 AND user_id = $1) OR ($2::text <> '' AND jwt_id = $2)
	`, userID, jwtID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) ListProducts(ctx context.Context, filter domain.ProductListFilter) ([]domain.ProductSummary, error) {
	limit := normalizeLimit(filter.Limit)
	search := strings.TrimSpace(filter.Search)

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, external_id
		FROM products
		WHERE ($1 = '' OR name ILIKE $2 ESCAPE '\')
		ORDER BY name ASC, id ASC
		LIMIT $3
	`, search, containsPattern(search), limit)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.ProductSummary, 0, limit)
	for rows.Next() {
		var (
			product    domain.ProductSummary
			externalID sql.NullFloat64
		)
		if err := rows.Scan(&product.ID, &product.Name, &externalID); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if externalID.Valid {
			value := externalID.Float64
			product.ExternalID = &value
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (r *Repository) GetProductTransactions(ctx context.Context, id int64) (*domain.ProductTransactions, error) {
	items, err := r.ListProductTransactions(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return &items[0], nil
}

// ListProductTransactions loads the requested products with their full
// transaction sets. Unknown ids are skipped; the result is ordered by id.
func (r *Repository) ListProductTransactions(ctx context.Context, ids []int64) ([]domain.ProductTransactions, error) {
	if len(ids) == 0 {
		return []domain.ProductTransactions{}, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, external_id, name, opening_stock, batch_id, created_at, updated_at
		FROM products
		WHERE id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ProductTransactions, error) {
		product, err := scanProductRow(row)
		return domain.ProductTransactions{Product: product, Transactions: []domain.SeriesTransaction{}}, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan products: %w", err)
	}
	if len(items) == 0 {
		return items, nil
	}

	index := make(map[int64]int, len(items))
	found := make([]int64, 0, len(items))
	for i, item := range items {
		index[item.Product.ID] = i
		found = append(found, item.Product.ID)
	}

	txRows, err := r.pool.Query(ctx, `
		SELECT product_id, day_index, kind, qty::double precision, unit_price::double precision
		FROM transactions
		WHERE product_id = ANY($1)
		ORDER BY product_id ASC, day_index ASC, id ASC
	`, found)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	defer txRows.Close()

	for txRows.Next() {
		var (
			productID int64
			kind      string
			tx        domain.SeriesTransaction
		)
		if err := txRows.Scan(&productID, &tx.DayIndex, &kind, &tx.Qty, &tx.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Kind, err = domain.ParseKind(kind)
		if err != nil {
			return nil, fmt.Errorf("product %d: %w", productID, err)
		}
		i := index[productID]
		items[i].Transactions = append(items[i].Transactions, tx)
	}
	if err := txRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return items, nil
}

// ImportUpload records the batch and applies every product import inside one
// transaction. Matched products get their opening stock and batch replaced
// and their transactions overwritten.
func (r *Repository) ImportUpload(ctx context.Context, input domain.ImportInput) (domain.ImportOutcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.ImportOutcome{}, fmt.Errorf("begin upload tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Concurrent uploads touching the same product name serialize here.
	// Locks are taken in sorted order so two uploads cannot deadlock.
	for _, key := range lockKeys(input.Products) {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
			return domain.ImportOutcome{}, fmt.Errorf("lock product %q: %w", key, err)
		}
	}

	outcome := domain.ImportOutcome{Products: make([]domain.ImportedProduct, 0, len(input.Products))}
	if err := tx.QueryRow(ctx, `
		INSERT INTO upload_batches (filename, uploaded_by)
		VALUES ($1, $2)
		RETURNING id
	`, input.Filename, input.UploadedBy).Scan(&outcome.BatchID); err != nil {
		return domain.ImportOutcome{}, fmt.Errorf("create upload batch: %w", err)
	}

	var copyRows [][]any
	for _, item := range input.Products {
		productID, found, err := findProductTx(ctx, tx, item.ExternalID, item.Name)
		if err != nil {
			return domain.ImportOutcome{}, err
		}

		if found {
			if _, err := tx.Exec(ctx, `
				UPDATE products
				SET opening_stock = $2, batch_id = $3, updated_at = NOW()
				WHERE id = $1
			`, productID, item.OpeningStock, outcome.BatchID); err != nil {
				return domain.ImportOutcome{}, fmt.Errorf("update product %q: %w", item.Name, err)
			}
			if _, err := tx.Exec(ctx, "DELETE FROM transactions WHERE product_id = $1", productID); err != nil {
				return domain.ImportOutcome{}, fmt.Errorf("clear transactions of %q: %w", item.Name, err)
			}
		} else {
			if err := tx.QueryRow(ctx, `
				INSERT INTO products (external_id, name, opening_stock, batch_id)
				VALUES ($1, $2, $3, $4)
				RETURNING id
			`, item.ExternalID, item.Name, item.OpeningStock, outcome.BatchID).Scan(&productID); err != nil {
				return domain.ImportOutcome{}, fmt.Errorf("insert product %q: %w", item.Name, err)
			}
		}
		outcome.Products = append(outcome.Products, domain.ImportedProduct{ID: productID, Name: item.Name, Created: !found})

		// A repeated name within one upload overwrites the earlier row's
		// transactions, so pending copy rows for this product are dropped.
		if found {
			copyRows = dropProductRows(copyRows, productID)
		}
		for _, t := range item.Transactions {
			qty, err := toNumeric(t.Qty)
			if err != nil {
				return domain.ImportOutcome{}, err
			}
			price, err := toNumeric(t.UnitPrice)
			if err != nil {
				return domain.ImportOutcome{}, err
			}
			copyRows = append(copyRows, []any{productID, t.DayIndex, string(t.Kind), qty, price})
		}
	}

	if len(copyRows) > 0 {
		copied, err := tx.CopyFrom(ctx,
			pgx.Identifier{"transactions"},
			[]string{"product_id", "day_index", "kind", "qty", "unit_price"},
			pgx.CopyFromRows(copyRows),
		)
		if err != nil {
			return domain.ImportOutcome{}, fmt.Errorf("copy transactions: %w", err)
		}
		outcome.CreatedTx = int(copied)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ImportOutcome{}, fmt.Errorf("commit upload tx: %w", err)
	}
	return outcome, nil
}

// findProductTx matches on (external id, name) first, then on name alone.
func findProductTx(ctx context.Context, tx pgx.Tx, externalID *float64, name string) (int64, bool, error) {
	var id int64
	if externalID != nil {
		err := tx.QueryRow(ctx, `
			SELECT id FROM products
			WHERE external_id = $1 AND name = $2
			ORDER BY id ASC
			LIMIT 1
		`, *externalID, name).Scan(&id)
		if err == nil {
			return id, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, false, fmt.Errorf("query product %q by external id: %w", name, err)
		}
	}

	err := tx.QueryRow(ctx, `
		SELECT id FROM products
		WHERE name = $1
		ORDER BY id ASC
		LIMIT 1
	`, name).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	return 0, false, fmt.Errorf("query product %q by name: %w", name, err)
}

func lockKeys(products []domain.ProductImport) []string {
	seen := make(map[string]struct{}, len(products))
	keys := make([]string, 0, len(products))
	for _, item := range products {
		key := strings.ToLower(item.Name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func dropProductRows(rows [][]any, productID int64) [][]any {
	kept := rows[:0]
	for _, row := range rows {
		if row[0].(int64) != productID {
			kept = append(kept, row)
		}
	}
	return kept
}

func toNumeric(value float64) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if err := n.Scan(decimal.NewFromFloat(value).String()); err != nil {
		return pgtype.Numeric{}, fmt.Errorf("encode numeric %v: %w", value, err)
	}
	return n, nil
}

func scanUserRow(row pgx.Row) (domain.User, error) {
	var user domain.User
	err := row.Scan(&user.ID, &user.Email, &user.Username, &user.PasswordHash, &user.CreatedAt)
	return user, err
}

func scanProductRow(row pgx.Row) (domain.Product, error) {
	var (
		product    domain.Product
		externalID sql.NullFloat64
		batchID    sql.NullInt64
	)
	if err := row.Scan(
		&product.ID,
		&externalID,
		&product.Name,
		&product.OpeningStock,
		&batchID,
		&product.CreatedAt,
		&product.UpdatedAt,
	); err != nil {
		return domain.Product{}, err
	}
	if externalID.Valid {
		value := externalID.Float64
		product.ExternalID = &value
	}
	if batchID.Valid {
		value := batchID.Int64
		product.BatchID = &value
	}
	return product, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// containsPattern builds an ILIKE pattern that matches search literally
// anywhere in the value.
func containsPattern(search string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(search)
	return "%" + escaped + "%"
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
