package service

import (
	"context"
	"testing"
	"time"

	"github.com/efreitasn/minibourse/internal/distribution"
	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/engine"
	"github.com/efreitasn/minibourse/internal/journal"
	"github.com/efreitasn/minibourse/internal/ledger"
	"github.com/efreitasn/minibourse/internal/session"
	"github.com/efreitasn/minibourse/internal/store"
	"github.com/efreitasn/minibourse/internal/undo"
)

var staff = domain.Caller{Role: domain.RoleStaff}

func investor(id string) domain.Caller {
	return domain.Caller{AccountID: id, Role: domain.RoleInvestor}
}

func ptr[T any](v T) *T { return &v }

// harness wires the full service stack the way the server does, with an
// in-memory journal.
type harness struct {
	accounts   *store.AccountStore
	ledger     *ledger.Ledger
	stocks     *store.StockStore
	orders     *store.OrderStore
	trades     *store.TradeStore
	prices     *store.PriceHistory
	engine     *engine.Engine
	controller *session.Controller
	dist       *distribution.Ledger
	undo       *undo.Log
	journal    *journal.Journal
	notifier   *Notifier

	accountSvc *AccountService
	orderSvc   *OrderService
	stockSvc   *StockService
	sessionSvc *SessionService
	webhookSvc *WebhookService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	j, err := journal.Open("")
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	h := &harness{
		accounts: store.NewAccountStore(),
		stocks:   store.NewStockStore(),
		orders:   store.NewOrderStore(),
		trades:   store.NewTradeStore(),
		prices:   store.NewPriceHistory(),
		journal:  j,
	}
	h.ledger = ledger.New(h.accounts)
	h.webhookSvc = NewWebhookService(store.NewWebhookStore(), h.accounts, time.Second)
	t.Cleanup(h.webhookSvc.Wait)

	h.notifier = NewNotifier(h.webhookSvc, j)
	h.engine = engine.NewEngine(engine.NewBookManager(), h.ledger, h.stocks, h.orders, h.trades, h.prices, h.notifier, 7)
	h.controller = session.NewController(domain.ModeManual, h.engine, h.notifier)
	h.dist = distribution.New(h.stocks, h.ledger)
	h.undo = undo.NewLog(j)

	h.accountSvc = NewAccountService(h.accounts, h.ledger)
	h.orderSvc = NewOrderService(h.controller, h.engine, h.accounts, h.orders)
	h.stockSvc = NewStockService(h.stocks, h.trades, h.prices, h.engine, h.controller, h.dist, h.undo, j, 5*time.Minute)
	h.sessionSvc = NewSessionService(h.controller, j)
	return h
}

func (h *harness) open(t *testing.T, id string, cash int64, holdings ...HoldingInput) {
	t.Helper()
	if _, err := h.accountSvc.Open(OpenAccountRequest{AccountID: id, InitialCash: cash, InitialHoldings: holdings}); err != nil {
		t.Fatalf("failed to open account %s: %v", id, err)
	}
}

// listStock creates and lists a stock.
func (h *harness) listStock(t *testing.T, code string, ref, issued int64) {
	t.Helper()
	if _, err := h.stockSvc.Create(staff, CreateStockRequest{Code: code, IssuedShares: issued}); err != nil {
		t.Fatalf("failed to create %s: %v", code, err)
	}
	if _, err := h.stockSvc.ListStock(staff, code, ref); err != nil {
		t.Fatalf("failed to list %s: %v", code, err)
	}
}

func (h *harness) advance(t *testing.T, phases ...domain.Phase) {
	t.Helper()
	for _, p := range phases {
		if _, err := h.sessionSvc.Transition(context.Background(), p); err != nil {
			t.Fatalf("transition to %s: %v", p, err)
		}
	}
}

func (h *harness) toContinuous(t *testing.T) {
	t.Helper()
	h.advance(t, domain.PhaseATO, domain.PhaseContinuous)
}

func (h *harness) place(t *testing.T, account string, side domain.OrderSide, typ domain.OrderType, price *int64, qty int64) *domain.Order {
	t.Helper()
	o, err := h.orderSvc.PlaceOrder(investor(account), PlaceOrderRequest{
		StockCode: "ABC",
		Side:      side,
		Type:      typ,
		Price:     price,
		Quantity:  qty,
	})
	if err != nil {
		t.Fatalf("place %s %s: %v", side, typ, err)
	}
	return o
}

func (h *harness) balance(t *testing.T, id string) *BalanceResponse {
	t.Helper()
	b, err := h.accountSvc.GetBalance(staff, id)
	if err != nil {
		t.Fatalf("balance %s: %v", id, err)
	}
	return b
}

func holdingOf(b *BalanceResponse, code string) HoldingBalance {
	for _, h := range b.Holdings {
		if h.StockCode == code {
			return h
		}
	}
	return HoldingBalance{StockCode: code}
}

func journalTypes(t *testing.T, j *journal.Journal, f journal.Filter) []string {
	t.Helper()
	entries, err := j.List(f, 100)
	if err != nil {
		t.Fatalf("journal list: %v", err)
	}
	types := make([]string, len(entries))
	for i, e := range entries {
		types[i] = e.Type
	}
	return types
}
