package engine

import (
	"log/slog"
	"sort"

	"github.com/efreitasn/minibourse/internal/domain"
)

// AuctionResult summarises one call auction run for a stock.
type AuctionResult struct {
	StockCode     string
	Phase         domain.Phase
	Price         int64 // clearing price; 0 when nothing matched
	MatchedVolume int64
	Imbalance     int64 // buy volume minus sell volume at Price
	Trades        int
}

// auctionSide is the executable interest of one side at a price.
type auctionSide struct {
	limits []OrderBookEntry // limit orders in price-time priority
	market []OrderBookEntry // ATO/ATC orders in time priority
}

func (s auctionSide) marketVolume() int64 {
	var v int64
	for _, e := range s.market {
		v += e.Order.RemainingQuantity
	}
	return v
}

// collectAuction gathers the orders taking part in the auction for phase:
// every limit order plus the market orders of the phase's own type.
func collectAuction(book *OrderBook, marketType domain.OrderType) (buys, sells auctionSide) {
	book.WalkBids(func(e OrderBookEntry) bool {
		buys.limits = append(buys.limits, e)
		return true
	})
	book.WalkAsks(func(e OrderBookEntry) bool {
		sells.limits = append(sells.limits, e)
		return true
	})
	book.WalkMarket(domain.OrderSideBuy, func(e OrderBookEntry) bool {
		if e.Order.Type == marketType {
			buys.market = append(buys.market, e)
		}
		return true
	})
	book.WalkMarket(domain.OrderSideSell, func(e OrderBookEntry) bool {
		if e.Order.Type == marketType {
			sells.market = append(sells.market, e)
		}
		return true
	})
	return buys, sells
}

// clearingPrice picks the price that maximises matched volume, then
// minimises the imbalance, then sits closest to the reference price, then
// is the higher one. Candidates are the distinct limit prices plus the
// reference price.
func clearingPrice(buys, sells auctionSide, reference int64) (price, volume, imbalance int64) {
	seen := map[int64]bool{}
	var candidates []int64
	add := func(p int64) {
		if p > 0 && !seen[p] {
			seen[p] = true
			candidates = append(candidates, p)
		}
	}
	add(reference)
	for _, e := range buys.limits {
		add(e.Price)
	}
	for _, e := range sells.limits {
		add(e.Price)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] > candidates[j] })

	marketBuy, marketSell := buys.marketVolume(), sells.marketVolume()
	bestImbalanceAbs := int64(-1)
	bestDistance := int64(-1)
	for _, p := range candidates {
		buyVol, sellVol := marketBuy, marketSell
		for _, e := range buys.limits {
			if e.Price >= p {
				buyVol += e.Order.RemainingQuantity
			}
		}
		for _, e := range sells.limits {
			if e.Price <= p {
				sellVol += e.Order.RemainingQuantity
			}
		}
		matched := min(buyVol, sellVol)
		if matched == 0 {
			continue
		}
		imb := buyVol - sellVol
		imbAbs, dist := abs(imb), abs(p-reference)

		// Candidates descend, so on a full tie the earlier (higher) price stays.
		better := matched > volume ||
			(matched == volume && imbAbs < bestImbalanceAbs) ||
			(matched == volume && imbAbs == bestImbalanceAbs && dist < bestDistance)
		if volume == 0 || better {
			price, volume, imbalance = p, matched, imb
			bestImbalanceAbs, bestDistance = imbAbs, dist
		}
	}
	return price, volume, imbalance
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// allocationQueue orders one side's executable orders at price: limits
// strictly better than price, then market orders, then limits at price.
func allocationQueue(side auctionSide, price int64, buy bool) []*domain.Order {
	var better, at []*domain.Order
	for _, e := range side.limits {
		switch {
		case e.Price == price:
			at = append(at, e.Order)
		case buy && e.Price > price, !buy && e.Price < price:
			better = append(better, e.Order)
		}
	}
	queue := better
	for _, e := range side.market {
		queue = append(queue, e.Order)
	}
	return append(queue, at...)
}

// RunCallAuction matches one stock's book at a single clearing price. It
// must run while no order operation is in flight, which the session
// controller guarantees by holding its write lock. Unmatched limit orders
// stay queued; unmatched market orders wait for a rerun or the end of
// their window.
func (e *Engine) RunCallAuction(code string, phase domain.Phase) (AuctionResult, error) {
	result := AuctionResult{StockCode: code, Phase: phase}

	var marketType domain.OrderType
	var source domain.TradeSource
	switch phase {
	case domain.PhaseATO:
		marketType, source = domain.OrderTypeATO, domain.TradeSourceATO
	case domain.PhaseATC:
		marketType, source = domain.OrderTypeATC, domain.TradeSourceATC
	default:
		return result, domain.ErrPhaseDisallows
	}

	stock, err := e.stocks.Get(code)
	if err != nil {
		return result, err
	}
	book, ok := e.books.Get(code)
	if !ok {
		return result, nil
	}

	var ev events
	book.mu.Lock()
	buys, sells := collectAuction(book, marketType)
	price, volume, imbalance := clearingPrice(buys, sells, stock.ReferencePrice)
	if volume == 0 {
		book.mu.Unlock()
		return result, nil
	}

	buyQueue := allocationQueue(buys, price, true)
	sellQueue := allocationQueue(sells, price, false)
	at := e.now()
	remaining := volume
	i, j := 0, 0
	for remaining > 0 && i < len(buyQueue) && j < len(sellQueue) {
		buy, sell := buyQueue[i], sellQueue[j]
		qty := min(remaining, buy.RemainingQuantity, sell.RemainingQuantity)
		if err := e.execute(book, buy, sell, price, qty, source, at, &ev); err != nil {
			book.mu.Unlock()
			ev.flush()
			return result, err
		}
		result.Trades++
		remaining -= qty
		if buy.RemainingQuantity == 0 {
			i++
		}
		if sell.RemainingQuantity == 0 {
			j++
		}
	}

	result.Price, result.MatchedVolume, result.Imbalance = price, volume-remaining, imbalance
	e.recordPrice(domain.PriceRecord{
		StockCode:  code,
		Price:      price,
		Quantity:   result.MatchedVolume,
		Source:     source,
		RecordedAt: at,
	}, &ev)
	ev.add(func() { e.notifier.BookUpdated(code) })
	book.mu.Unlock()
	ev.flush()

	slog.Info("call auction completed",
		"stock", code, "phase", string(phase), "price", price,
		"volume", result.MatchedVolume, "imbalance", imbalance, "trades", result.Trades)
	return result, nil
}
