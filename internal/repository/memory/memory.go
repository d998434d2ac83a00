package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"stocktrend/internal/domain"
	"stocktrend/internal/repository"
)

type storedTransaction struct {
	productID int64
	tx        domain.SeriesTransaction
}

// Store keeps everything in process memory. It backs the server when no
// DATABASE_URL is configured and drives the service and handler tests.
type Store struct {
	mu           sync.RWMutex
	now          func() time.Time
	nextID       int64
	users        map[int64]domain.User
	sessions     map[string]domain.Session
	batches      map[int64]domain.UploadBatch
	products     map[int64]domain.Product
	transactions []storedTransaction
}

func New() *Store {
	return &Store{
		now:      func() time.Time { return time.Now().UTC() },
		users:    map[int64]domain.User{},
		sessions: map[string]domain.Session{},
		batches:  map[int64]domain.UploadBatch{},
		products: map[int64]domain.Product{},
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) CreateUser(_ context.Context, email, username, passwordHash string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Email == email || existing.Username == username {
			return domain.User{}, repository.ErrConflict
		}
	}
	user := domain.User{
		ID:           s.id(),
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Email == email {
			found := user
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (s *Store) CreateSession(_ context.Context, userID int64, jwtID string, expiresAt time.Time) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[jwtID]; exists {
		return domain.Session{}, repository.ErrConflict
	}
	if _, ok := s.users[userID]; !ok {
		return domain.Session{}, repository.ErrNotFound
	}
	session := domain.Session{
		ID:        s.id(),
		UserID:    userID,
		JWTID:     jwtID,
		ExpiresAt: expiresAt,
		CreatedAt: s.now(),
	}
	s.sessions[jwtID] = session
	return session, nil
}

func (s *Store) GetSessionByJWTID(_ context.Context, jwtID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[jwtID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &session, nil
}

func (s *Store) DeleteSessions(_ context.Context, userID int64, jwtID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, session := range s.sessions {
		if (userID > 0 && session.UserID == userID) || (jwtID != "" && session.JWTID == jwtID) {
			delete(s.sessions, key)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductListFilter) ([]domain.ProductSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	out := make([]domain.ProductSummary, 0, len(s.products))
	for _, product := range s.products {
		if search != "" && !strings.Contains(strings.ToLower(product.Name), search) {
			continue
		}
		out = append(out, domain.ProductSummary{ID: product.ID, Name: product.Name, ExternalID: product.ExternalID})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetProductTransactions(ctx context.Context, id int64) (*domain.ProductTransactions, error) {
	items, err := s.ListProductTransactions(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, repository.ErrNotFound
	}
	return &items[0], nil
}

func (s *Store) ListProductTransactions(_ context.Context, ids []int64) ([]domain.ProductTransactions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	items := make([]domain.ProductTransactions, 0, len(wanted))
	for id := range wanted {
		product, ok := s.products[id]
		if !ok {
			continue
		}
		item := domain.ProductTransactions{Product: product, Transactions: []domain.SeriesTransaction{}}
		for _, stored := range s.transactions {
			if stored.productID == id {
				item.Transactions = append(item.Transactions, stored.tx)
			}
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Product.ID < items[j].Product.ID })
	return items, nil
}

// ImportUpload applies the same matching and overwrite rules as the Postgres
// repository under the store's write lock.
func (s *Store) ImportUpload(_ context.Context, input domain.ImportInput) (domain.ImportOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	batch := domain.UploadBatch{ID: s.id(), Filename: input.Filename, UploadedBy: input.UploadedBy, CreatedAt: now}
	s.batches[batch.ID] = batch

	outcome := domain.ImportOutcome{BatchID: batch.ID, Products: make([]domain.ImportedProduct, 0, len(input.Products))}
	for _, item := range input.Products {
		batchID := batch.ID
		product, found := s.findProduct(item.ExternalID, item.Name)
		if found {
			product.OpeningStock = item.OpeningStock
			product.BatchID = &batchID
			product.UpdatedAt = now
			s.clearTransactions(product.ID)
		} else {
			product = domain.Product{
				ID:           s.id(),
				ExternalID:   item.ExternalID,
				Name:         item.Name,
				OpeningStock: item.OpeningStock,
				BatchID:      &batchID,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
		}
		s.products[product.ID] = product

		for _, tx := range item.Transactions {
			s.transactions = append(s.transactions, storedTransaction{productID: product.ID, tx: tx})
		}
		outcome.Products = append(outcome.Products, domain.ImportedProduct{ID: product.ID, Name: item.Name, Created: !found})
	}
	outcome.CreatedTx = s.countBatchTransactions(outcome.Products)
	return outcome, nil
}

func (s *Store) findProduct(externalID *float64, name string) (domain.Product, bool) {
	var byName *domain.Product
	var byBoth *domain.Product
	for id := range s.products {
		product := s.products[id]
		if product.Name != name {
			continue
		}
		if externalID != nil && product.ExternalID != nil && *product.ExternalID == *externalID {
			if byBoth == nil || product.ID < byBoth.ID {
				byBoth = &product
			}
		}
		if byName == nil || product.ID < byName.ID {
			byName = &product
		}
	}
	switch {
	case byBoth != nil:
		return *byBoth, true
	case byName != nil:
		return *byName, true
	default:
		return domain.Product{}, false
	}
}

func (s *Store) clearTransactions(productID int64) {
	kept := s.transactions[:0]
	for _, stored := range s.transactions {
		if stored.productID != productID {
			kept = append(kept, stored)
		}
	}
	s.transactions = kept
}

// countBatchTransactions counts the transactions now stored for the batch's
// products, each product once.
func (s *Store) countBatchTransactions(products []domain.ImportedProduct) int {
	touched := make(map[int64]struct{}, len(products))
	for _, product := range products {
		touched[product.ID] = struct{}{}
	}
	count := 0
	for _, stored := range s.transactions {
		if _, ok := touched[stored.productID]; ok {
			count++
		}
	}
	return count
}

// Batch returns a recorded upload batch.
func (s *Store) Batch(id int64) (domain.UploadBatch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[id]
	return batch, ok
}
