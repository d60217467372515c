package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/ledger"
	"github.com/efreitasn/minibourse/internal/store"
)

// Notifier receives the engine's events once the book lock is released.
// Implementations must not call back into the engine synchronously.
type Notifier interface {
	TradeExecuted(trade *domain.Trade, buy, sell *domain.Order)
	OrderCancelled(order *domain.Order)
	PriceUpdated(record domain.PriceRecord)
	BookUpdated(code string)
}

type nopNotifier struct{}

func (nopNotifier) TradeExecuted(*domain.Trade, *domain.Order, *domain.Order) {}
func (nopNotifier) OrderCancelled(*domain.Order)                              {}
func (nopNotifier) PriceUpdated(domain.PriceRecord)                           {}
func (nopNotifier) BookUpdated(string)                                        {}

// events collects notifications raised under the book lock.
type events []func()

func (ev *events) add(fn func()) {
	*ev = append(*ev, fn)
}

func (ev events) flush() {
	for _, fn := range ev {
		fn()
	}
}

// PlaceRequest is a new order as submitted by an account.
type PlaceRequest struct {
	AccountID string
	StockCode string
	Side      domain.OrderSide
	Type      domain.OrderType
	Price     int64 // 0 for ATO/ATC
	Quantity  int64
}

// ModifyRequest changes the price and/or the remaining quantity of a
// resting limit order. Nil fields are left unchanged.
type ModifyRequest struct {
	Price    *int64
	Quantity *int64
}

// Engine implements order placement, cancellation and modification, and
// the continuous and call-auction matching algorithms. Every mutation of a
// stock's book runs under that book's write lock; callers are expected to
// hold the session read lock and pass the current phase in.
type Engine struct {
	books       *BookManager
	ledger      *ledger.Ledger
	stocks      *store.StockStore
	orders      *store.OrderStore
	trades      *store.TradeStore
	prices      *store.PriceHistory
	notifier    Notifier
	bandPercent int64
	now         func() time.Time
}

// NewEngine creates a new Engine with the given dependencies. A nil
// notifier discards events.
func NewEngine(
	books *BookManager,
	ledger *ledger.Ledger,
	stocks *store.StockStore,
	orders *store.OrderStore,
	trades *store.TradeStore,
	prices *store.PriceHistory,
	notifier Notifier,
	bandPercent int64,
) *Engine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Engine{
		books:       books,
		ledger:      ledger,
		stocks:      stocks,
		orders:      orders,
		trades:      trades,
		prices:      prices,
		notifier:    notifier,
		bandPercent: bandPercent,
		now:         time.Now,
	}
}

// BandPercent returns the configured daily price band width.
func (e *Engine) BandPercent() int64 {
	return e.bandPercent
}

// admits reports whether phase accepts new orders of type t.
func admits(phase domain.Phase, t domain.OrderType) error {
	switch phase {
	case domain.PhasePreOpen, domain.PhaseATO:
		return nil
	case domain.PhaseContinuous, domain.PhaseATC:
		if t == domain.OrderTypeATO {
			return fmt.Errorf("%w: ATO orders are not accepted during %s", domain.ErrPhaseDisallows, phase)
		}
		return nil
	default:
		return fmt.Errorf("%w: market is %s", domain.ErrPhaseDisallows, phase)
	}
}

// checkBand validates an LO price against the stock's daily band.
func (e *Engine) checkBand(stock *domain.Stock, price int64) error {
	floor, ceiling := stock.PriceBand(e.bandPercent)
	if price < floor || price > ceiling {
		return fmt.Errorf("%w: price must be within [%d, %d]", domain.ErrInvalidPrice, floor, ceiling)
	}
	return nil
}

// Place validates and reserves a new order, then either matches it
// immediately (LO during continuous) or queues it for the next auction.
// No state changes on failure.
func (e *Engine) Place(phase domain.Phase, req PlaceRequest) (*domain.Order, error) {
	if !req.Side.Valid() {
		return nil, &domain.ValidationError{Message: "side must be 'buy' or 'sell'"}
	}
	if !req.Type.Valid() {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("Unknown order type: %s. Must be one of: LO, ATO, ATC", req.Type),
		}
	}
	if err := domain.ValidateQuantity(req.Quantity); err != nil {
		return nil, err
	}
	if err := domain.ValidateOrderPrice(req.Type, req.Price); err != nil {
		return nil, err
	}
	if err := admits(phase, req.Type); err != nil {
		return nil, err
	}

	book := e.books.GetOrCreate(req.StockCode)
	book.mu.Lock()

	// The stock is read under the book lock so a concurrent delist either
	// sees this order or prevents it.
	stock, err := e.stocks.Get(req.StockCode)
	if err != nil {
		book.mu.Unlock()
		return nil, err
	}
	if stock.Status != domain.StockStatusListed {
		book.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrStockNotTradable, stock.Code, stock.Status)
	}
	_, ceiling := stock.PriceBand(e.bandPercent)
	reservePrice := req.Price
	if req.Type.IsMarket() {
		reservePrice = ceiling
	} else if err := e.checkBand(stock, req.Price); err != nil {
		book.mu.Unlock()
		return nil, err
	}

	if req.Side == domain.OrderSideBuy {
		var notional int64
		if notional, err = domain.Notional(reservePrice, req.Quantity); err == nil {
			err = e.ledger.ReserveCash(req.AccountID, notional)
		}
	} else {
		err = e.ledger.ReserveShares(req.AccountID, req.StockCode, req.Quantity)
	}
	if err != nil {
		book.mu.Unlock()
		return nil, err
	}

	now := e.now()
	order := &domain.Order{
		ID:                e.orders.NextID(),
		AccountID:         req.AccountID,
		StockCode:         req.StockCode,
		Side:              req.Side,
		Type:              req.Type,
		Price:             req.Price,
		ReservePrice:      reservePrice,
		Quantity:          req.Quantity,
		RemainingQuantity: req.Quantity,
		Status:            domain.OrderStatusOpen,
		SubmittedAt:       now,
		CreatedAt:         now,
		UpdatedAt:         now,
		Trades:            []*domain.Trade{},
	}
	if req.Side == domain.OrderSideSell {
		order.ReservePrice = 0
	}
	e.orders.Create(order)

	var ev events
	err = e.rest(book, phase, order, &ev)
	snap := order.Snapshot()
	book.mu.Unlock()
	ev.flush()

	if err != nil {
		return nil, err
	}
	return snap, nil
}

// rest matches a freshly accepted LO during continuous trading and queues
// whatever remains.
func (e *Engine) rest(book *OrderBook, phase domain.Phase, order *domain.Order, ev *events) error {
	var err error
	if phase == domain.PhaseContinuous && order.Type == domain.OrderTypeLimit {
		err = e.matchIncoming(book, order, ev)
	}
	if order.Status.Active() {
		book.Insert(order)
	}
	code := book.code
	ev.add(func() { e.notifier.BookUpdated(code) })
	return err
}

// matchIncoming runs the continuous match loop for an incoming limit order
// against the opposite side at the resting orders' own prices.
// The caller must hold the book's write lock.
func (e *Engine) matchIncoming(book *OrderBook, order *domain.Order, ev *events) error {
	for order.RemainingQuantity > 0 {
		var best OrderBookEntry
		var found bool
		if order.Side == domain.OrderSideBuy {
			best, found = book.BestAsk()
		} else {
			best, found = book.BestBid()
		}
		if !found {
			return nil
		}

		// Stop once the book no longer crosses.
		if order.Side == domain.OrderSideBuy && order.Price < best.Price {
			return nil
		}
		if order.Side == domain.OrderSideSell && best.Price < order.Price {
			return nil
		}

		resting := best.Order
		qty := min(order.RemainingQuantity, resting.RemainingQuantity)
		buy, sell := order, resting
		if order.Side == domain.OrderSideSell {
			buy, sell = resting, order
		}
		if err := e.executeContinuous(book, buy, sell, resting.Price, qty, ev); err != nil {
			return err
		}
	}
	return nil
}

// sweep resolves a crossed book left by orders queued outside continuous
// trading. The older of the two best orders is treated as resting, so the
// fill happens at its price. The caller must hold the book's write lock.
func (e *Engine) sweep(book *OrderBook, ev *events) (int, error) {
	fills := 0
	for {
		bid, okBid := book.BestBid()
		ask, okAsk := book.BestAsk()
		if !okBid || !okAsk || bid.Price < ask.Price {
			return fills, nil
		}
		price := ask.Price
		if timeLess(bid, ask) {
			price = bid.Price
		}
		qty := min(bid.Order.RemainingQuantity, ask.Order.RemainingQuantity)
		if err := e.executeContinuous(book, bid.Order, ask.Order, price, qty, ev); err != nil {
			return fills, err
		}
		fills++
	}
}

// Sweep runs a continuous sweep over one stock's book.
func (e *Engine) Sweep(code string) (int, error) {
	book, ok := e.books.Get(code)
	if !ok {
		return 0, nil
	}
	var ev events
	book.mu.Lock()
	fills, err := e.sweep(book, &ev)
	if fills > 0 {
		ev.add(func() { e.notifier.BookUpdated(code) })
	}
	book.mu.Unlock()
	ev.flush()
	return fills, err
}

// executeContinuous settles one continuous fill and records its price.
func (e *Engine) executeContinuous(book *OrderBook, buy, sell *domain.Order, price, qty int64, ev *events) error {
	at := e.now()
	if err := e.execute(book, buy, sell, price, qty, domain.TradeSourceContinuous, at, ev); err != nil {
		return err
	}
	e.recordPrice(domain.PriceRecord{
		StockCode:  book.code,
		Price:      price,
		Quantity:   qty,
		Source:     domain.TradeSourceContinuous,
		RecordedAt: at,
	}, ev)
	return nil
}

// execute settles one fill between buy and sell through the ledger and
// then updates both orders, the trade store and the book. A settlement
// failure leaves every order and balance untouched.
func (e *Engine) execute(book *OrderBook, buy, sell *domain.Order, price, qty int64, source domain.TradeSource, at time.Time, ev *events) error {
	err := e.ledger.Settle(ledger.Fill{
		StockCode:    book.code,
		BuyerID:      buy.AccountID,
		SellerID:     sell.AccountID,
		Price:        price,
		Quantity:     qty,
		ReservePrice: buy.ReservePrice,
	})
	if err != nil {
		slog.Error("settlement failed",
			"stock", book.code, "buy_order_id", buy.ID, "sell_order_id", sell.ID, "error", err)
		return domain.SystemError(err)
	}

	buy.Fill(qty, at)
	sell.Fill(qty, at)

	trade := &domain.Trade{
		TradeID:     uuid.New().String(),
		StockCode:   book.code,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		BuyerID:     buy.AccountID,
		SellerID:    sell.AccountID,
		Price:       price,
		Quantity:    qty,
		Source:      source,
		ExecutedAt:  at,
	}
	buy.Trades = append(buy.Trades, trade)
	sell.Trades = append(sell.Trades, trade)
	e.trades.Append(trade)

	if buy.RemainingQuantity == 0 {
		book.Remove(buy.ID)
	}
	if sell.RemainingQuantity == 0 {
		book.Remove(sell.ID)
	}

	buySnap, sellSnap := buy.Snapshot(), sell.Snapshot()
	ev.add(func() { e.notifier.TradeExecuted(trade, buySnap, sellSnap) })
	return nil
}

// recordPrice appends a price record and makes it the stock's reference
// price.
func (e *Engine) recordPrice(rec domain.PriceRecord, ev *events) {
	e.prices.Append(rec)
	_, err := e.stocks.Update(rec.StockCode, func(s *domain.Stock) error {
		s.ReferencePrice = rec.Price
		s.UpdatedAt = rec.RecordedAt
		return nil
	})
	if err != nil {
		slog.Warn("reference price not updated", "stock", rec.StockCode, "error", err)
	}
	ev.add(func() { e.notifier.PriceUpdated(rec) })
}

// Cancel releases the unfilled reservation of an active order and marks it
// cancelled. Staff callers may cancel any order.
func (e *Engine) Cancel(phase domain.Phase, orderID int64, caller domain.Caller) (*domain.Order, error) {
	order, err := e.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(order.AccountID) {
		return nil, domain.ErrOrderNotOwned
	}
	if phase == domain.PhaseClosed {
		return nil, fmt.Errorf("%w: market is closed", domain.ErrPhaseDisallows)
	}

	book := e.books.GetOrCreate(order.StockCode)
	book.mu.Lock()

	if !order.Status.Active() {
		book.mu.Unlock()
		return nil, fmt.Errorf("%w: order is %s", domain.ErrOrderNotCancellable, order.Status)
	}

	var ev events
	err = e.cancelLocked(book, order, &ev)
	snap := order.Snapshot()
	book.mu.Unlock()
	ev.flush()

	if err != nil {
		return nil, err
	}
	return snap, nil
}

// cancelLocked cancels an active order and releases its remaining
// reservation. The caller must hold the book's write lock.
func (e *Engine) cancelLocked(book *OrderBook, order *domain.Order, ev *events) error {
	var err error
	if order.Side == domain.OrderSideBuy {
		err = e.ledger.ReleaseCash(order.AccountID, order.ReservedCash())
	} else {
		err = e.ledger.ReleaseShares(order.AccountID, order.StockCode, order.RemainingQuantity)
	}
	if err != nil {
		return err
	}

	order.Cancel(e.now())
	book.Remove(order.ID)

	snap := order.Snapshot()
	code := book.code
	ev.add(func() {
		e.notifier.OrderCancelled(snap)
		e.notifier.BookUpdated(code)
	})
	return nil
}

// Modify changes a resting limit order during continuous trading. A
// quantity decrease alone is applied in place and keeps time priority.
// A price change or a quantity increase replaces the order with a new one
// that takes a fresh timestamp and is matched again. The reservation delta
// is taken before anything else changes.
func (e *Engine) Modify(phase domain.Phase, orderID int64, caller domain.Caller, req ModifyRequest) (*domain.Order, error) {
	if req.Price == nil && req.Quantity == nil {
		return nil, &domain.ValidationError{Message: "price or quantity is required"}
	}
	order, err := e.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(order.AccountID) {
		return nil, domain.ErrOrderNotOwned
	}
	if order.Type != domain.OrderTypeLimit {
		return nil, fmt.Errorf("%w: only LO orders can be modified", domain.ErrOrderNotModifiable)
	}
	if phase != domain.PhaseContinuous {
		return nil, fmt.Errorf("%w: orders can only be modified during continuous trading", domain.ErrPhaseDisallows)
	}
	if req.Quantity != nil {
		if err := domain.ValidateQuantity(*req.Quantity); err != nil {
			return nil, err
		}
	}
	if req.Price != nil {
		if err := domain.ValidatePrice(*req.Price); err != nil {
			return nil, err
		}
	}

	book := e.books.GetOrCreate(order.StockCode)
	book.mu.Lock()

	if !order.Status.Active() {
		book.mu.Unlock()
		return nil, fmt.Errorf("%w: order is %s", domain.ErrOrderNotActive, order.Status)
	}

	price, qty := order.Price, order.RemainingQuantity
	if req.Price != nil {
		price = *req.Price
	}
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	if price == order.Price && qty == order.RemainingQuantity {
		snap := order.Snapshot()
		book.mu.Unlock()
		return snap, nil
	}

	if price != order.Price {
		stock, err := e.stocks.Get(order.StockCode)
		if err != nil {
			book.mu.Unlock()
			return nil, err
		}
		if err := e.checkBand(stock, price); err != nil {
			book.mu.Unlock()
			return nil, err
		}
	}

	if err := e.adjustReservation(order, price, qty); err != nil {
		book.mu.Unlock()
		return nil, err
	}

	now := e.now()
	var ev events
	result := order

	if price == order.Price && qty < order.RemainingQuantity {
		order.Quantity -= order.RemainingQuantity - qty
		order.RemainingQuantity = qty
		order.UpdatedAt = now
		code := book.code
		ev.add(func() { e.notifier.BookUpdated(code) })
	} else {
		result = e.replace(book, order, price, qty, now)
		err = e.rest(book, phase, result, &ev)
	}

	snap := result.Snapshot()
	book.mu.Unlock()
	ev.flush()

	if err != nil {
		return nil, err
	}
	return snap, nil
}

// adjustReservation moves the difference between the order's current
// reservation and the one needed for price×qty.
func (e *Engine) adjustReservation(order *domain.Order, price, qty int64) error {
	if order.Side == domain.OrderSideBuy {
		needed, err := domain.Notional(price, qty)
		if err != nil {
			return err
		}
		delta := needed - order.ReservedCash()
		switch {
		case delta > 0:
			return e.ledger.ReserveCash(order.AccountID, delta)
		case delta < 0:
			return e.ledger.ReleaseCash(order.AccountID, -delta)
		}
		return nil
	}
	delta := qty - order.RemainingQuantity
	switch {
	case delta > 0:
		return e.ledger.ReserveShares(order.AccountID, order.StockCode, delta)
	case delta < 0:
		return e.ledger.ReleaseShares(order.AccountID, order.StockCode, -delta)
	}
	return nil
}

// replace retires order and returns its successor carrying the new price
// and remaining quantity. The caller must hold the book's write lock.
func (e *Engine) replace(book *OrderBook, old *domain.Order, price, qty int64, now time.Time) *domain.Order {
	next := &domain.Order{
		ID:                e.orders.NextID(),
		AccountID:         old.AccountID,
		StockCode:         old.StockCode,
		Side:              old.Side,
		Type:              old.Type,
		Price:             price,
		Quantity:          qty,
		RemainingQuantity: qty,
		Status:            domain.OrderStatusOpen,
		SubmittedAt:       now,
		CreatedAt:         now,
		UpdatedAt:         now,
		Trades:            []*domain.Trade{},
	}
	if old.Side == domain.OrderSideBuy {
		next.ReservePrice = price
	}
	oldID, nextID := old.ID, next.ID
	next.Replaces = &oldID

	book.Remove(old.ID)
	old.Status = domain.OrderStatusReplaced
	old.RemainingQuantity = 0
	old.ReplacedBy = &nextID
	old.UpdatedAt = now

	e.orders.Create(next)
	return next
}
