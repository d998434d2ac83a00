package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"stocktrend/internal/auth"
	"stocktrend/internal/domain"
	"stocktrend/internal/repository"
	"stocktrend/internal/series"
)

var ErrNoProductIDs = errors.New("productIds must contain at least one id")

// Store is the persistence surface the service needs. Both the Postgres
// repository and the in-memory store satisfy it.
type Store interface {
	CreateUser(ctx context.Context, email, username, passwordHash string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	CreateSession(ctx context.Context, userID int64, jwtID string, expiresAt time.Time) (domain.Session, error)
	GetSessionByJWTID(ctx context.Context, jwtID string) (*domain.Session, error)
	DeleteSessions(ctx context.Context, userID int64, jwtID string) (int64, error)

	ListProducts(ctx context.Context, filter domain.ProductListFilter) ([]domain.ProductSummary, error)
	GetProductTransactions(ctx context.Context, id int64) (*domain.ProductTransactions, error)
	ListProductTransactions(ctx context.Context, ids []int64) ([]domain.ProductTransactions, error)
	ImportUpload(ctx context.Context, input domain.ImportInput) (domain.ImportOutcome, error)
}

type Service struct {
	store  Store
	tokens *auth.TokenIssuer
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, tokens *auth.TokenIssuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{store: store, tokens: tokens, logger: logger, now: time.Now}
}

const defaultProductLimit = 50

func (s *Service) ListProducts(ctx context.Context, search string, limit int) ([]domain.ProductSummary, error) {
	if limit <= 0 {
		limit = defaultProductLimit
	}
	return s.store.ListProducts(ctx, domain.ProductListFilter{Search: search, Limit: limit})
}

// ProductSeries returns the dense day series of one product, or
// repository.ErrNotFound.
func (s *Service) ProductSeries(ctx context.Context, id int64) (domain.ProductSeries, error) {
	item, err := s.store.GetProductTransactions(ctx, id)
	if err != nil {
		return domain.ProductSeries{}, err
	}
	return series.ForProduct(*item), nil
}

// CompareSeries builds one series per requested product, in request order.
// Unknown and repeated ids are skipped.
func (s *Service) CompareSeries(ctx context.Context, ids []int64) ([]domain.ProductSeries, error) {
	if len(ids) == 0 {
		return nil, ErrNoProductIDs
	}
	items, err := s.store.ListProductTransactions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products for compare: %w", err)
	}
	byID := make(map[int64]domain.ProductTransactions, len(items))
	for _, item := range items {
		byID[item.Product.ID] = item
	}

	out := make([]domain.ProductSeries, 0, len(items))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		item, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, series.ForProduct(item))
	}
	return out, nil
}

// ExportSeries writes the compared series of ids as CSV.
func (s *Service) ExportSeries(ctx context.Context, w io.Writer, ids []int64) error {
	items, err := s.CompareSeries(ctx, ids)
	if err != nil {
		return err
	}
	return series.WriteCSV(w, items)
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
