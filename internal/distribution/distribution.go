// Package distribution tracks the initial share allocations of stocks that
// are pending listing. The sum of allocated quantities of a stock never
// exceeds its issued shares.
package distribution

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/ledger"
	"github.com/efreitasn/minibourse/internal/store"
)

// AllocationRequest is one requested allocation. InvestorID defaults to
// AccountID when empty.
type AllocationRequest struct {
	InvestorID string
	AccountID  string
	Quantity   int64
	Price      int64
}

// Ledger holds the allocations of every stock and keeps the credited
// holdings in step with them.
type Ledger struct {
	mu          sync.Mutex
	allocations map[string]*domain.Allocation // allocation id → allocation
	byStock     map[string][]string           // stock code → allocation ids in creation order
	stocks      *store.StockStore
	shares      *ledger.Ledger
	now         func() time.Time
}

// New creates an empty distribution ledger.
func New(stocks *store.StockStore, shares *ledger.Ledger) *Ledger {
	return &Ledger{
		allocations: make(map[string]*domain.Allocation),
		byStock:     make(map[string][]string),
		stocks:      stocks,
		shares:      shares,
		now:         time.Now,
	}
}

func (l *Ledger) pendingStock(code string) (*domain.Stock, error) {
	st, err := l.stocks.Get(code)
	if err != nil {
		return nil, err
	}
	if st.Status != domain.StockStatusPending {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrStockNotPending, code, st.Status)
	}
	return st, nil
}

// allocatedLocked sums the allocated quantity of a stock. The caller must
// hold l.mu.
func (l *Ledger) allocatedLocked(code string) int64 {
	var total int64
	for _, id := range l.byStock[code] {
		total += l.allocations[id].Quantity
	}
	return total
}

// Distribute allocates shares of a pending stock to the requested accounts
// and credits their holdings. Nothing is recorded unless every request is
// valid and every account exists.
func (l *Ledger) Distribute(code string, reqs []AllocationRequest) ([]*domain.Allocation, error) {
	if len(reqs) == 0 {
		return nil, &domain.ValidationError{Message: "at least one allocation is required"}
	}
	var requested int64
	for i, r := range reqs {
		if r.AccountID == "" {
			return nil, &domain.ValidationError{Message: fmt.Sprintf("allocations[%d].account_id is required", i)}
		}
		if err := domain.ValidateQuantity(r.Quantity); err != nil {
			return nil, fmt.Errorf("allocations[%d]: %w", i, err)
		}
		if err := domain.ValidatePrice(r.Price); err != nil {
			return nil, fmt.Errorf("allocations[%d]: %w", i, err)
		}
		sum, err := domain.AddQuantity(requested, r.Quantity)
		if err != nil {
			return nil, fmt.Errorf("allocations[%d]: %w", i, err)
		}
		requested = sum
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.pendingStock(code)
	if err != nil {
		return nil, err
	}
	existing := l.allocatedLocked(code)
	if total, err := domain.AddQuantity(existing, requested); err != nil || total > st.IssuedShares {
		return nil, fmt.Errorf("%w: %d allocated + %d requested > %d issued",
			domain.ErrDistributionExceedsIssued, existing, requested, st.IssuedShares)
	}

	deltas := make(map[string]int64, len(reqs))
	for _, r := range reqs {
		deltas[r.AccountID] += r.Quantity
	}
	if err := l.shares.AdjustShares(code, deltas); err != nil {
		return nil, err
	}

	now := l.now()
	out := make([]*domain.Allocation, 0, len(reqs))
	for _, r := range reqs {
		investor := r.InvestorID
		if investor == "" {
			investor = r.AccountID
		}
		a := &domain.Allocation{
			ID:         uuid.New().String(),
			StockCode:  code,
			InvestorID: investor,
			AccountID:  r.AccountID,
			Quantity:   r.Quantity,
			Price:      r.Price,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		l.allocations[a.ID] = a
		l.byStock[code] = append(l.byStock[code], a.ID)
		out = append(out, a.Clone())
	}
	return out, nil
}

// Get returns a copy of an allocation.
func (l *Ledger) Get(id string) (*domain.Allocation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.allocations[id]
	if !ok {
		return nil, domain.ErrAllocationNotFound
	}
	return a.Clone(), nil
}

// UpdateEntry changes the quantity of an allocation. Growth is checked
// against the issued shares; shrinking takes the difference back from the
// account.
func (l *Ledger) UpdateEntry(id string, qty int64) (*domain.Allocation, error) {
	if err := domain.ValidateQuantity(qty); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.allocations[id]
	if !ok {
		return nil, domain.ErrAllocationNotFound
	}
	st, err := l.pendingStock(a.StockCode)
	if err != nil {
		return nil, err
	}
	delta := qty - a.Quantity
	if total := l.allocatedLocked(a.StockCode) + delta; total > st.IssuedShares {
		return nil, fmt.Errorf("%w: %d would be allocated, %d issued",
			domain.ErrDistributionExceedsIssued, total, st.IssuedShares)
	}
	if delta != 0 {
		if err := l.shares.AdjustShares(a.StockCode, map[string]int64{a.AccountID: delta}); err != nil {
			return nil, err
		}
	}

	a.Quantity = qty
	a.UpdatedAt = l.now()
	return a.Clone(), nil
}

// RevokeEntry removes an allocation and takes its shares back.
func (l *Ledger) RevokeEntry(id string) (*domain.Allocation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.allocations[id]
	if !ok {
		return nil, domain.ErrAllocationNotFound
	}
	if _, err := l.pendingStock(a.StockCode); err != nil {
		return nil, err
	}
	if err := l.shares.AdjustShares(a.StockCode, map[string]int64{a.AccountID: -a.Quantity}); err != nil {
		return nil, err
	}

	delete(l.allocations, id)
	ids := l.byStock[a.StockCode]
	for i, other := range ids {
		if other == id {
			l.byStock[a.StockCode] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return a.Clone(), nil
}

// List returns copies of the allocations of a stock in creation order.
func (l *Ledger) List(code string) []*domain.Allocation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listLocked(code)
}

func (l *Ledger) listLocked(code string) []*domain.Allocation {
	ids := l.byStock[code]
	out := make([]*domain.Allocation, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.allocations[id].Clone())
	}
	return out
}

// Allocated returns the total quantity allocated for a stock.
func (l *Ledger) Allocated(code string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allocatedLocked(code)
}

// Restore replaces the allocation set of a stock with snapshot and moves
// holdings so that each account again holds what the snapshot credited.
func (l *Ledger) Restore(code string, snapshot []*domain.Allocation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	deltas := make(map[string]int64)
	for _, id := range l.byStock[code] {
		a := l.allocations[id]
		deltas[a.AccountID] -= a.Quantity
	}
	for _, a := range snapshot {
		deltas[a.AccountID] += a.Quantity
	}
	if err := l.shares.AdjustShares(code, deltas); err != nil {
		return err
	}

	for _, id := range l.byStock[code] {
		delete(l.allocations, id)
	}
	ids := make([]string, 0, len(snapshot))
	for _, a := range sortedByCreation(snapshot) {
		l.allocations[a.ID] = a.Clone()
		ids = append(ids, a.ID)
	}
	if len(ids) == 0 {
		delete(l.byStock, code)
	} else {
		l.byStock[code] = ids
	}
	return nil
}

func sortedByCreation(as []*domain.Allocation) []*domain.Allocation {
	out := make([]*domain.Allocation, len(as))
	copy(out, as)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
