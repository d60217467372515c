package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/ledger"
	"github.com/efreitasn/minibourse/internal/store"
)

// tb is the part of testing.TB and *rapid.T the helpers need.
type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

// recordingNotifier captures engine events for assertions.
type recordingNotifier struct {
	mu        sync.Mutex
	trades    []*domain.Trade
	cancelled []*domain.Order
	prices    []domain.PriceRecord
	books     []string
}

func (n *recordingNotifier) TradeExecuted(t *domain.Trade, _, _ *domain.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.trades = append(n.trades, t)
}

func (n *recordingNotifier) OrderCancelled(o *domain.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, o)
}

func (n *recordingNotifier) PriceUpdated(r domain.PriceRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.prices = append(n.prices, r)
}

func (n *recordingNotifier) BookUpdated(code string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.books = append(n.books, code)
}

type testEnv struct {
	eng      *Engine
	accounts *store.AccountStore
	ledger   *ledger.Ledger
	stocks   *store.StockStore
	orders   *store.OrderStore
	trades   *store.TradeStore
	prices   *store.PriceHistory
	notifier *recordingNotifier
	clock    time.Time
}

// newTestEnv creates an engine with stock ABC listed at reference price
// 10000 and a ±7% band. The clock advances one millisecond per read so
// every order gets a distinct priority timestamp.
func newTestEnv(t tb) *testEnv {
	t.Helper()
	env := &testEnv{
		accounts: store.NewAccountStore(),
		stocks:   store.NewStockStore(),
		orders:   store.NewOrderStore(),
		trades:   store.NewTradeStore(),
		prices:   store.NewPriceHistory(),
		notifier: &recordingNotifier{},
		clock:    baseTime,
	}
	env.ledger = ledger.New(env.accounts)
	env.eng = NewEngine(NewBookManager(), env.ledger, env.stocks, env.orders, env.trades, env.prices, env.notifier, 7)
	env.eng.now = func() time.Time {
		env.clock = env.clock.Add(time.Millisecond)
		return env.clock
	}
	env.addStock(t, "ABC", domain.StockStatusListed, 10000)
	return env
}

func (env *testEnv) addStock(t tb, code string, status domain.StockStatus, ref int64) {
	t.Helper()
	err := env.stocks.Create(&domain.Stock{
		Code:           code,
		Status:         status,
		IssuedShares:   1_000_000,
		ReferencePrice: ref,
		BasePrice:      ref,
		CreatedAt:      baseTime,
	})
	if err != nil {
		t.Fatalf("create stock %s: %v", code, err)
	}
}

// account registers an account with cash and ABC shares.
func (env *testEnv) account(t tb, id string, cash, shares int64) {
	t.Helper()
	a := &domain.Account{
		AccountID:   id,
		CashBalance: cash,
		Holdings:    map[string]*domain.Holding{},
		CreatedAt:   baseTime,
	}
	if shares > 0 {
		a.Holdings["ABC"] = &domain.Holding{Quantity: shares}
	}
	if err := env.accounts.Create(a); err != nil {
		t.Fatalf("create account %s: %v", id, err)
	}
}

func (env *testEnv) place(t tb, phase domain.Phase, acct string, side domain.OrderSide, typ domain.OrderType, price, qty int64) *domain.Order {
	t.Helper()
	o, err := env.eng.Place(phase, PlaceRequest{
		AccountID: acct,
		StockCode: "ABC",
		Side:      side,
		Type:      typ,
		Price:     price,
		Quantity:  qty,
	})
	if err != nil {
		t.Fatalf("place %s %s %d@%d for %s: %v", side, typ, qty, price, acct, err)
	}
	return o
}

func (env *testEnv) buyLO(t tb, phase domain.Phase, acct string, price, qty int64) *domain.Order {
	t.Helper()
	return env.place(t, phase, acct, domain.OrderSideBuy, domain.OrderTypeLimit, price, qty)
}

func (env *testEnv) sellLO(t tb, phase domain.Phase, acct string, price, qty int64) *domain.Order {
	t.Helper()
	return env.place(t, phase, acct, domain.OrderSideSell, domain.OrderTypeLimit, price, qty)
}

func (env *testEnv) balance(t tb, id string) ledger.Balance {
	t.Helper()
	b, err := env.ledger.Balance(id)
	if err != nil {
		t.Fatalf("balance %s: %v", id, err)
	}
	return b
}

func (env *testEnv) order(t tb, id int64) *domain.Order {
	t.Helper()
	o, err := env.eng.GetOrder(id)
	if err != nil {
		t.Fatalf("get order %d: %v", id, err)
	}
	return o
}

func assertErrorIs(t tb, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func investor(id string) domain.Caller {
	return domain.Caller{AccountID: id, Role: domain.RoleInvestor}
}
