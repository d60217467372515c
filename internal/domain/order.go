package domain

import "time"

// OrderType distinguishes the opening/closing auction market orders from
// standing limit orders.
type OrderType string

const (
	OrderTypeATO   OrderType = "ATO"
	OrderTypeATC   OrderType = "ATC"
	OrderTypeLimit OrderType = "LO"
)

// IsMarket reports whether the order type is an unpriced auction order.
func (t OrderType) IsMarket() bool {
	return t == OrderTypeATO || t == OrderTypeATC
}

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	return t == OrderTypeLimit || t.IsMarket()
}

// OrderSide indicates whether an order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusReplaced        OrderStatus = "replaced"
)

// Active reports whether an order in this status can still trade.
func (s OrderStatus) Active() bool {
	return s == OrderStatusOpen || s == OrderStatusPartiallyFilled
}

// Order is a buy or sell instruction submitted by an account.
type Order struct {
	ID                int64
	AccountID         string
	StockCode         string
	Side              OrderSide
	Type              OrderType
	Price             int64 // 0 for ATO/ATC
	ReservePrice      int64 // per-share cash reservation basis for buys
	Quantity          int64
	FilledQuantity    int64
	RemainingQuantity int64
	CancelledQuantity int64
	Status            OrderStatus
	SubmittedAt       time.Time // price-time priority; reset when replaced
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CancelledAt       *time.Time
	Replaces          *int64
	ReplacedBy        *int64
	Trades            []*Trade
}

// Fill records qty shares executed against the order and advances its
// status. The caller must hold the order's book lock.
func (o *Order) Fill(qty int64, at time.Time) {
	o.RemainingQuantity -= qty
	o.FilledQuantity += qty
	if o.RemainingQuantity == 0 {
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
	o.UpdatedAt = at
}

// Cancel moves the unfilled remainder to CancelledQuantity and returns it.
func (o *Order) Cancel(at time.Time) int64 {
	released := o.RemainingQuantity
	o.CancelledQuantity += released
	o.RemainingQuantity = 0
	o.Status = OrderStatusCancelled
	o.CancelledAt = &at
	o.UpdatedAt = at
	return released
}

// ReservedCash returns the cash still locked by an active buy order.
func (o *Order) ReservedCash() int64 {
	if o.Side != OrderSideBuy || !o.Status.Active() {
		return 0
	}
	return o.ReservePrice * o.RemainingQuantity
}

// AveragePrice computes the volume-weighted average execution price
// as sum(trade.price × trade.quantity) / filled_quantity using integer
// arithmetic. Returns (price, true) when trades exist, or (0, false)
// when no trades have been executed.
func (o *Order) AveragePrice() (int64, bool) {
	if len(o.Trades) == 0 || o.FilledQuantity == 0 {
		return 0, false
	}
	var total int64
	for _, t := range o.Trades {
		total += t.Price * t.Quantity
	}
	return total / o.FilledQuantity, true
}

// Snapshot returns a copy of the order safe to hand out after the book
// lock is released.
func (o *Order) Snapshot() *Order {
	c := *o
	c.Trades = make([]*Trade, len(o.Trades))
	copy(c.Trades, o.Trades)
	return &c
}
