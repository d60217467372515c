package store

import (
	"sync"

	"github.com/efreitasn/minibourse/internal/domain"
)

// TradeStore is a thread-safe in-memory store for trades,
// keyed by stock code. Trades are append-only and chronological.
type TradeStore struct {
	mu     sync.RWMutex
	trades map[string][]*domain.Trade // stock code → trades (chronological)
}

// NewTradeStore creates an empty TradeStore.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		trades: make(map[string][]*domain.Trade),
	}
}

// Append adds a trade to the stock's chronological list.
func (s *TradeStore) Append(t *domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades[t.StockCode] = append(s.trades[t.StockCode], t)
}

// GetByStock returns all trades for a stock in chronological order.
// Returns an empty slice if no trades exist for the stock.
func (s *TradeStore) GetByStock(code string) []*domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.trades[code]
	if trades == nil {
		return []*domain.Trade{}
	}

	// Return a copy to avoid callers mutating the internal slice.
	result := make([]*domain.Trade, len(trades))
	copy(result, trades)
	return result
}

// PriceHistory is the append-only record of prices established for each
// stock, by continuous fills and by call auctions.
type PriceHistory struct {
	mu      sync.RWMutex
	records map[string][]domain.PriceRecord
}

// NewPriceHistory creates an empty PriceHistory.
func NewPriceHistory() *PriceHistory {
	return &PriceHistory{
		records: make(map[string][]domain.PriceRecord),
	}
}

// Append records a new price for r.StockCode.
func (h *PriceHistory) Append(r domain.PriceRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records[r.StockCode] = append(h.records[r.StockCode], r)
}

// Has reports whether any price was ever recorded for code.
func (h *PriceHistory) Has(code string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.records[code]) > 0
}

// Last returns the most recent price record for code.
func (h *PriceHistory) Last(code string) (domain.PriceRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	recs := h.records[code]
	if len(recs) == 0 {
		return domain.PriceRecord{}, false
	}
	return recs[len(recs)-1], true
}

// List returns a copy of code's price history, oldest first.
func (h *PriceHistory) List(code string) []domain.PriceRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	recs := h.records[code]
	result := make([]domain.PriceRecord, len(recs))
	copy(result, recs)
	return result
}
