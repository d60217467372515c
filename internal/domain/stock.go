package domain

import "time"

// StockStatus is the lifecycle state of a stock.
type StockStatus string

const (
	StockStatusPending StockStatus = "pending"
	StockStatusListed  StockStatus = "listed"
	StockStatusHalted  StockStatus = "halted"
)

// Stock is a security registered on the exchange.
type Stock struct {
	Code           string
	Status         StockStatus
	IssuedShares   int64
	ReferencePrice int64
	// BasePrice anchors the trading day's price band. It is set on listing
	// and re-anchored to ReferencePrice when a new day opens.
	BasePrice int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy of the stock for snapshots and responses.
func (s *Stock) Clone() *Stock {
	c := *s
	return &c
}

// PriceBand returns the inclusive floor and ceiling limit prices allowed for
// the day, percent away from BasePrice and aligned to the tick.
func (s *Stock) PriceBand(percent int64) (floor, ceiling int64) {
	ceiling = FloorTick(s.BasePrice * (100 + percent) / 100)
	floor = CeilTick(s.BasePrice * (100 - percent) / 100)
	if floor < TickSize {
		floor = TickSize
	}
	return floor, ceiling
}
