package domain

import "time"

// TradeSource records which matching algorithm produced a trade.
type TradeSource string

const (
	TradeSourceContinuous TradeSource = "continuous"
	TradeSourceATO        TradeSource = "ato"
	TradeSourceATC        TradeSource = "atc"
)

// Trade represents one fill between a buy and a sell order.
type Trade struct {
	TradeID     string
	StockCode   string
	BuyOrderID  int64
	SellOrderID int64
	BuyerID     string
	SellerID    string
	Price       int64
	Quantity    int64
	Source      TradeSource
	ExecutedAt  time.Time
}

// PriceRecord is one entry of a stock's price history. Its existence after
// an undo entry was recorded makes that entry stale.
type PriceRecord struct {
	StockCode  string
	Price      int64
	Quantity   int64
	Source     TradeSource
	RecordedAt time.Time
}
