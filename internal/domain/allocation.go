package domain

import "time"

// Allocation is a share distribution to an investor while a stock is
// pending listing.
type Allocation struct {
	ID         string
	StockCode  string
	InvestorID string
	AccountID  string
	Quantity   int64
	Price      int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone returns a copy of the allocation.
func (a *Allocation) Clone() *Allocation {
	c := *a
	return &c
}
