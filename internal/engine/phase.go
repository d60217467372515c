package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/efreitasn/minibourse/internal/domain"
)

// OnPhaseEnter applies the book-wide work that comes with entering a
// session phase. It runs under the session write lock, so no order
// operation is in flight.
//
//   - ato, atc: one call auction per listed stock
//   - continuous: leftover ATO orders expire, crossed books are swept
//   - closed: every queued order expires
//   - pre_open: each listed stock's price band is re-anchored on its
//     reference price
func (e *Engine) OnPhaseEnter(ctx context.Context, from, to domain.Phase) error {
	switch to {
	case domain.PhaseATO, domain.PhaseATC:
		_, err := e.RunAuctions(ctx, to)
		return err
	case domain.PhaseContinuous:
		if _, err := e.ExpireEverywhere(ExpireType(domain.OrderTypeATO)); err != nil {
			return err
		}
		_, err := e.SweepAll(ctx)
		return err
	case domain.PhaseClosed:
		_, err := e.ExpireEverywhere(ExpireAll)
		return err
	case domain.PhasePreOpen:
		return e.reanchor()
	}
	return fmt.Errorf("unknown phase %q entered from %q", to, from)
}

// RunAuctions runs a call auction for every listed stock.
func (e *Engine) RunAuctions(ctx context.Context, phase domain.Phase) ([]AuctionResult, error) {
	listed := domain.StockStatusListed
	var results []AuctionResult
	var errs []error
	for _, stock := range e.stocks.List(&listed) {
		res, err := e.RunCallAuction(stock.Code, phase)
		if err != nil {
			errs = append(errs, fmt.Errorf("auction %s: %w", stock.Code, err))
			continue
		}
		if res.MatchedVolume > 0 {
			results = append(results, res)
		}
	}
	return results, errors.Join(errs...)
}

// SweepAll sweeps every listed stock's book and returns the number of
// fills produced.
func (e *Engine) SweepAll(ctx context.Context) (int, error) {
	listed := domain.StockStatusListed
	total := 0
	var errs []error
	for _, stock := range e.stocks.List(&listed) {
		n, err := e.Sweep(stock.Code)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep %s: %w", stock.Code, err))
		}
	}
	return total, errors.Join(errs...)
}

func (e *Engine) reanchor() error {
	listed := domain.StockStatusListed
	now := e.now()
	for _, stock := range e.stocks.List(&listed) {
		_, err := e.stocks.Update(stock.Code, func(s *domain.Stock) error {
			s.BasePrice = s.ReferencePrice
			s.UpdatedAt = now
			return nil
		})
		if err != nil {
			return err
		}
	}
	slog.Info("price bands re-anchored")
	return nil
}

// BookSnapshot is an aggregated view of a stock's queued interest.
type BookSnapshot struct {
	StockCode      string
	Bids           []PriceLevel
	Asks           []PriceLevel
	MarketBuyQty   int64
	MarketSellQty  int64
	ReferencePrice int64
	BandFloor      int64
	BandCeiling    int64
	At             time.Time
}

// GetBook returns up to depth aggregated levels per side.
func (e *Engine) GetBook(code string, depth int) (BookSnapshot, error) {
	stock, err := e.stocks.Get(code)
	if err != nil {
		return BookSnapshot{}, err
	}
	floor, ceiling := stock.PriceBand(e.bandPercent)
	snap := BookSnapshot{
		StockCode:      code,
		Bids:           []PriceLevel{},
		Asks:           []PriceLevel{},
		ReferencePrice: stock.ReferencePrice,
		BandFloor:      floor,
		BandCeiling:    ceiling,
		At:             e.now(),
	}

	book, ok := e.books.Get(code)
	if !ok {
		return snap, nil
	}
	book.RLock()
	defer book.RUnlock()

	snap.Bids = book.TopBids(depth)
	snap.Asks = book.TopAsks(depth)
	book.WalkMarket(domain.OrderSideBuy, func(e OrderBookEntry) bool {
		snap.MarketBuyQty += e.Order.RemainingQuantity
		return true
	})
	book.WalkMarket(domain.OrderSideSell, func(e OrderBookEntry) bool {
		snap.MarketSellQty += e.Order.RemainingQuantity
		return true
	})
	return snap, nil
}

// OpenOrderCount returns the number of active orders queued for code.
func (e *Engine) OpenOrderCount(code string) int {
	book, ok := e.books.Get(code)
	if !ok {
		return 0
	}
	book.RLock()
	defer book.RUnlock()
	return book.Len()
}

// WithBookLocked runs fn while holding the write lock of code's book, so no
// order can rest on or trade against the stock until fn returns. fn gets
// the number of active orders queued for code and must not call back into
// the engine for the same stock.
func (e *Engine) WithBookLocked(code string, fn func(openOrders int) error) error {
	book := e.books.GetOrCreate(code)
	book.mu.Lock()
	defer book.mu.Unlock()
	return fn(book.Len())
}

// Snapshot copies an order under its book's read lock.
func (e *Engine) Snapshot(o *domain.Order) *domain.Order {
	book := e.books.GetOrCreate(o.StockCode)
	book.RLock()
	defer book.RUnlock()
	return o.Snapshot()
}

// GetOrder returns a consistent copy of the order.
func (e *Engine) GetOrder(id int64) (*domain.Order, error) {
	o, err := e.orders.Get(id)
	if err != nil {
		return nil, err
	}
	return e.Snapshot(o), nil
}
