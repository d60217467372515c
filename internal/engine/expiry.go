package engine

import (
	"log/slog"

	"github.com/efreitasn/minibourse/internal/domain"
)

// ExpireFilter selects which queued orders an expiry pass cancels.
type ExpireFilter func(o *domain.Order) bool

// ExpireAll matches every queued order.
func ExpireAll(*domain.Order) bool { return true }

// ExpireType matches queued orders of one type.
func ExpireType(t domain.OrderType) ExpireFilter {
	return func(o *domain.Order) bool { return o.Type == t }
}

// Expire cancels the queued orders of one book selected by match, releasing
// each reservation. It returns the number of orders cancelled.
func (e *Engine) Expire(code string, match ExpireFilter) (int, error) {
	book, ok := e.books.Get(code)
	if !ok {
		return 0, nil
	}

	var ev events
	book.mu.Lock()
	n, err := e.expireLocked(book, match, &ev)
	book.mu.Unlock()
	ev.flush()

	if n > 0 {
		slog.Info("orders expired", "stock", code, "count", n)
	}
	return n, err
}

func (e *Engine) expireLocked(book *OrderBook, match ExpireFilter, ev *events) (int, error) {
	n := 0
	for _, order := range book.Orders() {
		// Re-check status (may have been filled since it was queued).
		if !order.Status.Active() || !match(order) {
			continue
		}
		if err := e.cancelLocked(book, order, ev); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ExpireEverywhere runs Expire over every book.
func (e *Engine) ExpireEverywhere(match ExpireFilter) (int, error) {
	total := 0
	for _, book := range e.books.Books() {
		n, err := e.Expire(book.code, match)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
