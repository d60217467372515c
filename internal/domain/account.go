package domain

import (
	"sync"
	"time"
)

// Holding represents an account's position in a single stock.
type Holding struct {
	Quantity         int64
	ReservedQuantity int64
}

// Available returns the unreserved share quantity.
func (h *Holding) Available() int64 {
	return h.Quantity - h.ReservedQuantity
}

// Account is an investor's cash and share ledger on the exchange.
type Account struct {
	AccountID    string
	CashBalance  int64               // total cash in currency units
	ReservedCash int64               // cash locked by open buy orders
	Holdings     map[string]*Holding // stock code → holding
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Mu           sync.Mutex // per-account lock for balance mutations
}

// AvailableCash returns the account's unreserved cash balance.
func (a *Account) AvailableCash() int64 {
	return a.CashBalance - a.ReservedCash
}

// AvailableQuantity returns the unreserved quantity for the given stock,
// or 0 if the account has no holding in that stock.
func (a *Account) AvailableQuantity(code string) int64 {
	h, ok := a.Holdings[code]
	if !ok {
		return 0
	}
	return h.Available()
}

// Holding returns the holding for code, creating an empty one on first use.
// The caller must hold a.Mu.
func (a *Account) Holding(code string) *Holding {
	h := a.Holdings[code]
	if h == nil {
		h = &Holding{}
		a.Holdings[code] = h
	}
	return h
}
