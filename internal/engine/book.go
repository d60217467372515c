package engine

import (
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/efreitasn/minibourse/internal/domain"
)

// OrderBookEntry represents a single order resting on the book.
type OrderBookEntry struct {
	Price       int64
	SubmittedAt time.Time
	OrderID     int64
	Order       *domain.Order
}

// PriceLevel represents an aggregated price level in the order book.
type PriceLevel struct {
	Price         int64
	TotalQuantity int64
	OrderCount    int
}

// bidLess defines ordering for the bid side: price descending, then
// submitted_at ascending, then order id ascending. This means Min()
// returns the best bid (highest price, earliest time).
func bidLess(a, b OrderBookEntry) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	return timeLess(a, b)
}

// askLess defines ordering for the ask side: price ascending, then
// submitted_at ascending, then order id ascending. Min() returns the
// best ask (lowest price, earliest time).
func askLess(a, b OrderBookEntry) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	return timeLess(a, b)
}

// timeLess orders unpriced ATO/ATC orders: submitted_at ascending, then
// order id ascending.
func timeLess(a, b OrderBookEntry) bool {
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.OrderID < b.OrderID
}

// OrderBook maintains one stock's queued orders. Limit orders live in two
// price-time B-trees; ATO/ATC orders wait in two time-ordered B-trees for
// the next call auction. A secondary index gives O(log n) removal by id.
type OrderBook struct {
	code       string
	mu         sync.RWMutex
	bids       *btree.BTreeG[OrderBookEntry]
	asks       *btree.BTreeG[OrderBookEntry]
	marketBids *btree.BTreeG[OrderBookEntry]
	marketAsks *btree.BTreeG[OrderBookEntry]
	index      map[int64]OrderBookEntry // order id → entry
}

// NewOrderBook creates an order book for the given stock.
func NewOrderBook(code string) *OrderBook {
	const degree = 32
	return &OrderBook{
		code:       code,
		bids:       btree.NewG[OrderBookEntry](degree, bidLess),
		asks:       btree.NewG[OrderBookEntry](degree, askLess),
		marketBids: btree.NewG[OrderBookEntry](degree, timeLess),
		marketAsks: btree.NewG[OrderBookEntry](degree, timeLess),
		index:      make(map[int64]OrderBookEntry),
	}
}

// Code returns the stock code the book belongs to.
func (ob *OrderBook) Code() string {
	return ob.code
}

// RLock acquires the read lock on the order book.
func (ob *OrderBook) RLock() {
	ob.mu.RLock()
}

// RUnlock releases the read lock on the order book.
func (ob *OrderBook) RUnlock() {
	ob.mu.RUnlock()
}

func entryFor(o *domain.Order) OrderBookEntry {
	return OrderBookEntry{
		Price:       o.Price,
		SubmittedAt: o.SubmittedAt,
		OrderID:     o.ID,
		Order:       o,
	}
}

func (ob *OrderBook) treeFor(t domain.OrderType, side domain.OrderSide) *btree.BTreeG[OrderBookEntry] {
	switch {
	case t.IsMarket() && side == domain.OrderSideBuy:
		return ob.marketBids
	case t.IsMarket():
		return ob.marketAsks
	case side == domain.OrderSideBuy:
		return ob.bids
	default:
		return ob.asks
	}
}

// Insert queues an order on the tree matching its type and side.
func (ob *OrderBook) Insert(o *domain.Order) {
	entry := entryFor(o)
	ob.treeFor(o.Type, o.Side).ReplaceOrInsert(entry)
	ob.index[o.ID] = entry
}

// Remove deletes an order from the book by id. Removing an order that is
// not on the book is a no-op.
func (ob *OrderBook) Remove(orderID int64) {
	entry, ok := ob.index[orderID]
	if !ok {
		return
	}
	delete(ob.index, orderID)
	ob.treeFor(entry.Order.Type, entry.Order.Side).Delete(entry)
}

// Contains reports whether the order is queued on the book.
func (ob *OrderBook) Contains(orderID int64) bool {
	_, ok := ob.index[orderID]
	return ok
}

// BestBid returns the highest-priority limit bid (highest price, earliest time).
func (ob *OrderBook) BestBid() (OrderBookEntry, bool) {
	return ob.bids.Min()
}

// BestAsk returns the highest-priority limit ask (lowest price, earliest time).
func (ob *OrderBook) BestAsk() (OrderBookEntry, bool) {
	return ob.asks.Min()
}

// TopBids returns up to n aggregated price levels from the bid side,
// ordered by price descending.
func (ob *OrderBook) TopBids(n int) []PriceLevel {
	return topLevels(ob.bids, n)
}

// TopAsks returns up to n aggregated price levels from the ask side,
// ordered by price ascending.
func (ob *OrderBook) TopAsks(n int) []PriceLevel {
	return topLevels(ob.asks, n)
}

// topLevels iterates the B-tree in order and aggregates entries into
// at most n price levels.
func topLevels(tree *btree.BTreeG[OrderBookEntry], n int) []PriceLevel {
	if n <= 0 {
		return nil
	}
	levels := make([]PriceLevel, 0, n)
	tree.Ascend(func(entry OrderBookEntry) bool {
		if len(levels) > 0 && levels[len(levels)-1].Price == entry.Price {
			levels[len(levels)-1].TotalQuantity += entry.Order.RemainingQuantity
			levels[len(levels)-1].OrderCount++
			return true
		}
		if len(levels) >= n {
			return false
		}
		levels = append(levels, PriceLevel{
			Price:         entry.Price,
			TotalQuantity: entry.Order.RemainingQuantity,
			OrderCount:    1,
		})
		return true
	})
	return levels
}

// WalkAsks iterates limit asks in order (lowest price first). The callback
// returns true to continue, false to stop.
func (ob *OrderBook) WalkAsks(fn func(OrderBookEntry) bool) {
	ob.asks.Ascend(fn)
}

// WalkBids iterates limit bids in order (highest price first). The callback
// returns true to continue, false to stop.
func (ob *OrderBook) WalkBids(fn func(OrderBookEntry) bool) {
	ob.bids.Ascend(fn)
}

// WalkMarket iterates queued ATO/ATC orders of one side in time order.
func (ob *OrderBook) WalkMarket(side domain.OrderSide, fn func(OrderBookEntry) bool) {
	ob.treeFor(domain.OrderTypeATO, side).Ascend(fn)
}

// Orders returns every queued order, limit orders first.
func (ob *OrderBook) Orders() []*domain.Order {
	orders := make([]*domain.Order, 0, len(ob.index))
	collect := func(e OrderBookEntry) bool {
		orders = append(orders, e.Order)
		return true
	}
	ob.bids.Ascend(collect)
	ob.asks.Ascend(collect)
	ob.marketBids.Ascend(collect)
	ob.marketAsks.Ascend(collect)
	return orders
}

// BidCount returns the number of individual limit bids on the book.
func (ob *OrderBook) BidCount() int {
	return ob.bids.Len()
}

// AskCount returns the number of individual limit asks on the book.
func (ob *OrderBook) AskCount() int {
	return ob.asks.Len()
}

// Len returns the number of queued orders of any type.
func (ob *OrderBook) Len() int {
	return len(ob.index)
}

// BookManager is a thread-safe map of stock code → OrderBook.
type BookManager struct {
	mu    sync.RWMutex
	books map[string]*OrderBook
}

// NewBookManager creates a new BookManager.
func NewBookManager() *BookManager {
	return &BookManager{
		books: make(map[string]*OrderBook),
	}
}

// Get returns the book for code if one has been created.
func (bm *BookManager) Get(code string) (*OrderBook, bool) {
	bm.mu.RLock()
	defer bm.mu.RUnlock()

	book, ok := bm.books[code]
	return book, ok
}

// GetOrCreate returns the order book for the given stock, creating
// one if it doesn't already exist.
func (bm *BookManager) GetOrCreate(code string) *OrderBook {
	bm.mu.RLock()
	book, ok := bm.books[code]
	bm.mu.RUnlock()
	if ok {
		return book
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	// Double-check after acquiring write lock.
	if book, ok = bm.books[code]; ok {
		return book
	}
	book = NewOrderBook(code)
	bm.books[code] = book
	return book
}

// Books returns every book created so far.
func (bm *BookManager) Books() []*OrderBook {
	bm.mu.RLock()
	defer bm.mu.RUnlock()

	books := make([]*OrderBook, 0, len(bm.books))
	for _, b := range bm.books {
		books = append(books, b)
	}
	return books
}
