package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/efreitasn/minibourse/internal/distribution"
	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/engine"
	"github.com/efreitasn/minibourse/internal/journal"
	"github.com/efreitasn/minibourse/internal/session"
	"github.com/efreitasn/minibourse/internal/store"
	"github.com/efreitasn/minibourse/internal/undo"
)

// CreateStockRequest represents the input for registering a stock.
type CreateStockRequest struct {
	Code           string
	IssuedShares   int64
	ReferencePrice int64 // optional until listing
}

// PriceResponse represents the response for GET /stocks/{code}/price.
type PriceResponse struct {
	StockCode      string
	ReferencePrice int64
	CurrentPrice   *int64 // VWAP over the window; nil when no trades ever
	Window         string
	TradesInWindow int
	LastTradeAt    *time.Time // nil when no trades ever
	BandFloor      int64
	BandCeiling    int64
}

// UndoResult is the outcome of a successful undo.
type UndoResult struct {
	Entry domain.UndoEntry
	Stock *domain.Stock // state after the rollback; nil when the stock was removed
}

// StockService owns the stock lifecycle (create, list, delist, share
// distribution), its undo log, and the public price and book queries.
// Lifecycle mutations and undo serialise on mu, so every undo snapshot is
// taken and applied against a stable registry.
type StockService struct {
	mu         sync.Mutex
	stocks     *store.StockStore
	trades     *store.TradeStore
	prices     *store.PriceHistory
	engine     *engine.Engine
	session    *session.Controller
	dist       *distribution.Ledger
	undo       *undo.Log
	auditor    undo.Auditor
	vwapWindow time.Duration
	now        func() time.Time
}

// NewStockService creates a new StockService with the given dependencies.
// auditor may be nil.
func NewStockService(
	stocks *store.StockStore,
	trades *store.TradeStore,
	prices *store.PriceHistory,
	eng *engine.Engine,
	controller *session.Controller,
	dist *distribution.Ledger,
	undoLog *undo.Log,
	auditor undo.Auditor,
	vwapWindow time.Duration,
) *StockService {
	return &StockService{
		stocks:     stocks,
		trades:     trades,
		prices:     prices,
		engine:     eng,
		session:    controller,
		dist:       dist,
		undo:       undoLog,
		auditor:    auditor,
		vwapWindow: vwapWindow,
		now:        time.Now,
	}
}

func validateCode(code string) error {
	if !stockCodeRegex.MatchString(code) {
		return &domain.ValidationError{Message: "code must match ^[A-Z0-9]{1,10}$"}
	}
	return nil
}

// Create registers a pending stock.
func (s *StockService) Create(caller domain.Caller, req CreateStockRequest) (*domain.Stock, error) {
	if err := validateCode(req.Code); err != nil {
		return nil, err
	}
	if err := domain.ValidateQuantity(req.IssuedShares); err != nil {
		return nil, fmt.Errorf("issued_shares: %w", err)
	}
	if req.ReferencePrice != 0 {
		if err := domain.ValidatePrice(req.ReferencePrice); err != nil {
			return nil, fmt.Errorf("reference_price: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stock := &domain.Stock{
		Code:           req.Code,
		Status:         domain.StockStatusPending,
		IssuedShares:   req.IssuedShares,
		ReferencePrice: req.ReferencePrice,
		BasePrice:      req.ReferencePrice,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.stocks.Create(stock); err != nil {
		return nil, err
	}

	s.undo.Record(stock.Code, domain.UndoKindCreate, domain.UndoSnapshot{}, caller.Name())
	s.audit(journal.TypeStockCreated, stock.Code, caller, map[string]string{
		"issued_shares": strconv.FormatInt(stock.IssuedShares, 10),
	})
	return stock.Clone(), nil
}

// ListStock opens a pending stock for trading at referencePrice, which
// also anchors the day's price band.
func (s *StockService) ListStock(caller domain.Caller, code string, referencePrice int64) (*domain.Stock, error) {
	if err := domain.ValidatePrice(referencePrice); err != nil {
		return nil, fmt.Errorf("reference_price: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.stocks.Get(code)
	if err != nil {
		return nil, err
	}
	listed, err := s.stocks.Update(code, func(st *domain.Stock) error {
		if st.Status != domain.StockStatusPending {
			return fmt.Errorf("%w: %s is %s", domain.ErrStockNotPending, code, st.Status)
		}
		st.Status = domain.StockStatusListed
		st.ReferencePrice = referencePrice
		st.BasePrice = referencePrice
		st.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.undo.Record(code, domain.UndoKindList, domain.UndoSnapshot{Stock: prev}, caller.Name())
	s.audit(journal.TypeStockListed, code, caller, map[string]string{
		"reference_price": strconv.FormatInt(referencePrice, 10),
	})
	return listed, nil
}

// Delist halts trading in a listed stock and cancels its open orders,
// releasing their reservations.
func (s *StockService) Delist(caller domain.Caller, code string) (*domain.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		prev, halted *domain.Stock
		cancelled    int
	)
	err := s.session.Read(func(domain.SessionState) error {
		var err error
		prev, err = s.stocks.Get(code)
		if err != nil {
			return err
		}
		halted, err = s.stocks.Update(code, func(st *domain.Stock) error {
			if st.Status != domain.StockStatusListed {
				return fmt.Errorf("%w: %s is %s", domain.ErrStockNotListed, code, st.Status)
			}
			st.Status = domain.StockStatusHalted
			st.UpdatedAt = s.now()
			return nil
		})
		if err != nil {
			return err
		}
		cancelled, err = s.engine.Expire(code, engine.ExpireAll)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.undo.Record(code, domain.UndoKindDelist, domain.UndoSnapshot{Stock: prev}, caller.Name())
	s.audit(journal.TypeStockDelisted, code, caller, map[string]string{
		"cancelled_orders": strconv.Itoa(cancelled),
	})
	return halted, nil
}

// Distribute allocates shares of a pending stock to investor accounts.
func (s *StockService) Distribute(caller domain.Caller, code string, reqs []distribution.AllocationRequest) ([]*domain.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.dist.List(code)
	allocs, err := s.dist.Distribute(code, reqs)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, a := range allocs {
		total += a.Quantity
	}
	s.recordDistribution(caller, code, before, map[string]string{
		"allocations": strconv.Itoa(len(allocs)),
		"quantity":    strconv.FormatInt(total, 10),
	})
	return allocs, nil
}

// UpdateDistribution changes the quantity of an allocation.
func (s *StockService) UpdateDistribution(caller domain.Caller, id string, qty int64) (*domain.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.dist.Get(id)
	if err != nil {
		return nil, err
	}
	before := s.dist.List(current.StockCode)
	a, err := s.dist.UpdateEntry(id, qty)
	if err != nil {
		return nil, err
	}

	s.recordDistribution(caller, a.StockCode, before, map[string]string{
		"allocation_id": id,
		"quantity":      strconv.FormatInt(qty, 10),
	})
	return a, nil
}

// RevokeDistribution removes an allocation and takes its shares back.
func (s *StockService) RevokeDistribution(caller domain.Caller, id string) (*domain.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.dist.Get(id)
	if err != nil {
		return nil, err
	}
	before := s.dist.List(current.StockCode)
	a, err := s.dist.RevokeEntry(id)
	if err != nil {
		return nil, err
	}

	s.recordDistribution(caller, a.StockCode, before, map[string]string{
		"allocation_id": id,
		"revoked":       "true",
	})
	return a, nil
}

// recordDistribution stores the allocation set as it was before a
// distribution change. The caller must hold s.mu.
func (s *StockService) recordDistribution(caller domain.Caller, code string, before []*domain.Allocation, detail map[string]string) {
	stock, err := s.stocks.Get(code)
	if err != nil {
		slog.Error("distributed stock vanished", "stock", code, "error", err)
		return
	}
	s.undo.Record(code, domain.UndoKindDistribute, domain.UndoSnapshot{Stock: stock, Allocations: before}, caller.Name())
	s.audit(journal.TypeDistributed, code, caller, detail)
}

// Distributions returns the allocations of a stock.
func (s *StockService) Distributions(code string) ([]*domain.Allocation, error) {
	if _, err := s.stocks.Get(code); err != nil {
		return nil, err
	}
	return s.dist.List(code), nil
}

// GetStock returns a stock by code.
func (s *StockService) GetStock(code string) (*domain.Stock, error) {
	return s.stocks.Get(code)
}

// Stocks returns every stock, optionally filtered by status.
func (s *StockService) Stocks(status *domain.StockStatus) []*domain.Stock {
	return s.stocks.List(status)
}

// LatestUndo returns the live undo entry of a stock.
func (s *StockService) LatestUndo(code string) (domain.UndoEntry, error) {
	if _, err := s.stocks.Get(code); err != nil {
		return domain.UndoEntry{}, err
	}
	return s.undo.Latest(code)
}

// UndoLast reverses the most recent lifecycle mutation across all stocks.
func (s *StockService) UndoLast(ctx context.Context, caller domain.Caller) (*UndoResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.undo.UndoLast(ctx, caller.Name(), &stockApplier{s: s})
	if err != nil {
		return nil, err
	}

	res := &UndoResult{Entry: entry}
	if st, err := s.stocks.Get(entry.StockCode); err == nil {
		res.Stock = st
	}
	return res, nil
}

// stockApplier reverses undo entries against the registry and the
// distribution ledger. Guard holds the session and the stock's book for
// the whole check-then-apply step, so no order can rest on the stock
// between Stale and Apply.
type stockApplier struct {
	s          *StockService
	openOrders int
}

func (a *stockApplier) Guard(e domain.UndoEntry, fn func() error) error {
	return a.s.session.Read(func(domain.SessionState) error {
		return a.s.engine.WithBookLocked(e.StockCode, func(open int) error {
			a.openOrders = open
			return fn()
		})
	})
}

// Stale reports whether the stock traded or has open orders since the
// entry was recorded.
func (a *stockApplier) Stale(e domain.UndoEntry) bool {
	return a.s.prices.Has(e.StockCode) || a.openOrders > 0
}

func (a *stockApplier) Apply(e domain.UndoEntry) error {
	switch e.Kind {
	case domain.UndoKindCreate:
		if n := a.s.dist.Allocated(e.StockCode); n > 0 {
			return domain.SystemError(fmt.Errorf("stock %s still has %d shares allocated", e.StockCode, n))
		}
		a.s.stocks.Delete(e.StockCode)
	case domain.UndoKindList, domain.UndoKindDelist:
		if e.Snapshot.Stock == nil {
			return domain.SystemError(fmt.Errorf("%s entry for %s has no stock snapshot", e.Kind, e.StockCode))
		}
		a.s.stocks.Put(e.Snapshot.Stock)
	case domain.UndoKindDistribute:
		return a.s.dist.Restore(e.StockCode, e.Snapshot.Allocations)
	default:
		return domain.SystemError(fmt.Errorf("unknown undo kind %q", e.Kind))
	}
	return nil
}

func (s *StockService) audit(typ, code string, caller domain.Caller, detail map[string]string) {
	if s.auditor == nil {
		return
	}
	if _, err := s.auditor.Append(journal.Entry{
		Type:      typ,
		StockCode: code,
		Actor:     caller.Name(),
		Detail:    detail,
	}); err != nil {
		slog.Error("failed to journal stock event", "type", typ, "stock", code, "error", err)
	}
}

// GetPrice returns the stock's reference price together with the VWAP of
// the trades in the configured window. It falls back to the last trade's
// price when the window is empty.
func (s *StockService) GetPrice(code string) (*PriceResponse, error) {
	stock, err := s.stocks.Get(code)
	if err != nil {
		return nil, err
	}
	floor, ceiling := stock.PriceBand(s.engine.BandPercent())

	resp := &PriceResponse{
		StockCode:      code,
		ReferencePrice: stock.ReferencePrice,
		Window:         formatDuration(s.vwapWindow),
		BandFloor:      floor,
		BandCeiling:    ceiling,
	}

	trades := s.trades.GetByStock(code)
	if len(trades) == 0 {
		return resp, nil
	}

	lastTrade := trades[len(trades)-1]
	resp.LastTradeAt = &lastTrade.ExecutedAt

	// Walk back from the tail until executed_at leaves the window.
	windowStart := s.now().Add(-s.vwapWindow)
	var sumPriceQty, sumQty int64
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		if t.ExecutedAt.Before(windowStart) {
			break
		}
		sumPriceQty += t.Price * t.Quantity
		sumQty += t.Quantity
		resp.TradesInWindow++
	}

	if sumQty > 0 {
		vwap := sumPriceQty / sumQty
		resp.CurrentPrice = &vwap
	} else {
		resp.CurrentPrice = &lastTrade.Price
	}
	return resp, nil
}

// GetBook returns the top depth price levels of a stock's book.
func (s *StockService) GetBook(code string, depth int) (engine.BookSnapshot, error) {
	if depth < 1 || depth > 50 {
		return engine.BookSnapshot{}, &domain.ValidationError{
			Message: "depth must be between 1 and 50",
		}
	}
	return s.engine.GetBook(code, depth)
}

// formatDuration converts a time.Duration to a human-readable string
// like "5m" for the window field.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	minutes := int(d.Minutes())
	if d == time.Duration(minutes)*time.Minute && minutes > 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return d.String()
}
