package store

import (
	"sort"
	"sync"

	"github.com/efreitasn/minibourse/internal/domain"
)

// StockStore is the stock registry: a thread-safe in-memory store keyed by
// stock code. It hands out copies; mutations go through Update so that
// readers never observe a half-applied change.
type StockStore struct {
	mu     sync.RWMutex
	stocks map[string]*domain.Stock
}

// NewStockStore creates an empty StockStore.
func NewStockStore() *StockStore {
	return &StockStore{
		stocks: make(map[string]*domain.Stock),
	}
}

// Create registers a new stock. It returns domain.ErrStockAlreadyExists
// if the code is taken.
func (s *StockStore) Create(st *domain.Stock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.stocks[st.Code]; exists {
		return domain.ErrStockAlreadyExists
	}
	s.stocks[st.Code] = st.Clone()
	return nil
}

// Get returns a copy of the stock or domain.ErrStockNotFound.
func (s *StockStore) Get(code string) (*domain.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stocks[code]
	if !ok {
		return nil, domain.ErrStockNotFound
	}
	return st.Clone(), nil
}

// Update applies fn to the stored stock under the write lock. If fn returns
// an error the stock is left unchanged. The updated copy is returned.
func (s *StockStore) Update(code string, fn func(*domain.Stock) error) (*domain.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stocks[code]
	if !ok {
		return nil, domain.ErrStockNotFound
	}
	next := st.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.stocks[code] = next
	return next.Clone(), nil
}

// Put stores st as-is, replacing any existing stock with the same code.
// Used when restoring an undo snapshot.
func (s *StockStore) Put(st *domain.Stock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stocks[st.Code] = st.Clone()
}

// Delete removes a stock. Deleting an unknown code is a no-op.
func (s *StockStore) Delete(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.stocks, code)
}

// List returns copies of all stocks sorted by code. If status is non-nil
// only stocks in that status are returned.
func (s *StockStore) List(status *domain.StockStatus) []*domain.Stock {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Stock, 0, len(s.stocks))
	for _, st := range s.stocks {
		if status != nil && st.Status != *status {
			continue
		}
		result = append(result, st.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result
}
