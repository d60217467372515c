package service

import (
	"sync"
	"testing"

	"github.com/efreitasn/minibourse/internal/domain"
)

type engineSink struct {
	mu        sync.Mutex
	trades    int
	cancelled []int64
	prices    []int64
	books     []string
}

func (s *engineSink) TradeExecuted(*domain.Trade, *domain.Order, *domain.Order) {
	s.mu.Lock()
	s.trades++
	s.mu.Unlock()
}

func (s *engineSink) OrderCancelled(o *domain.Order) {
	s.mu.Lock()
	s.cancelled = append(s.cancelled, o.ID)
	s.mu.Unlock()
}

func (s *engineSink) PriceUpdated(r domain.PriceRecord) {
	s.mu.Lock()
	s.prices = append(s.prices, r.Price)
	s.mu.Unlock()
}

func (s *engineSink) BookUpdated(code string) {
	s.mu.Lock()
	s.books = append(s.books, code)
	s.mu.Unlock()
}

type sessionSink struct {
	changes []domain.SessionState
}

func (s *sessionSink) SessionChanged(_, next domain.SessionState) {
	s.changes = append(s.changes, next)
}

func TestNotifier_ForwardsEngineEvents(t *testing.T) {
	h := newHarness(t)
	sink := &engineSink{}
	h.notifier.AddEngineSink(sink)

	h.listStock(t, "ABC", 10000, 1_000_000)
	h.open(t, "buyer", 10_000_000)
	h.open(t, "seller", 0, HoldingInput{StockCode: "ABC", Quantity: 1000})
	h.toContinuous(t)

	h.place(t, "seller", domain.OrderSideSell, domain.OrderTypeLimit, ptr(int64(10000)), 100)
	h.place(t, "buyer", domain.OrderSideBuy, domain.OrderTypeLimit, ptr(int64(10000)), 100)
	o := h.place(t, "buyer", domain.OrderSideBuy, domain.OrderTypeLimit, ptr(int64(9900)), 100)
	if _, err := h.orderSvc.CancelOrder(investor("buyer"), o.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.trades != 1 {
		t.Errorf("got %d trades, want 1", sink.trades)
	}
	if len(sink.prices) != 1 || sink.prices[0] != 10000 {
		t.Errorf("got prices %v, want [10000]", sink.prices)
	}
	if len(sink.cancelled) != 1 || sink.cancelled[0] != o.ID {
		t.Errorf("got cancelled %v, want [%d]", sink.cancelled, o.ID)
	}
	if len(sink.books) == 0 {
		t.Error("expected book updates")
	}
}

func TestNotifier_ForwardsSessionChanges(t *testing.T) {
	n := NewNotifier(nil, nil)
	sink := &sessionSink{}
	n.AddSessionSink(sink)

	n.SessionChanged(
		domain.SessionState{Phase: domain.PhasePreOpen, Mode: domain.ModeManual},
		domain.SessionState{Phase: domain.PhasePreOpen, Mode: domain.ModeAuto},
	)
	if len(sink.changes) != 1 || sink.changes[0].Mode != domain.ModeAuto {
		t.Errorf("got %+v, want one auto-mode change", sink.changes)
	}
}
