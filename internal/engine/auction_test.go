package engine

import (
	"testing"

	"github.com/efreitasn/minibourse/internal/domain"
)

func limitSide(entries ...OrderBookEntry) auctionSide {
	return auctionSide{limits: entries}
}

func limitEntry(id, price, qty int64) OrderBookEntry {
	return OrderBookEntry{
		Price:   price,
		OrderID: id,
		Order:   &domain.Order{ID: id, Price: price, RemainingQuantity: qty, Type: domain.OrderTypeLimit},
	}
}

func marketEntry(id, qty int64) OrderBookEntry {
	return OrderBookEntry{
		OrderID: id,
		Order:   &domain.Order{ID: id, RemainingQuantity: qty, Type: domain.OrderTypeATO},
	}
}

func TestClearingPrice(t *testing.T) {
	tests := []struct {
		name          string
		buys, sells   auctionSide
		reference     int64
		wantPrice     int64
		wantVolume    int64
		wantImbalance int64
	}{
		{
			name:       "maximum volume wins",
			buys:       limitSide(limitEntry(1, 10100, 300)),
			sells:      limitSide(limitEntry(2, 9900, 100), limitEntry(3, 10100, 200)),
			reference:  10000,
			wantPrice:  10100,
			wantVolume: 300,
		},
		{
			name:          "smaller imbalance beats closeness to reference",
			buys:          limitSide(limitEntry(1, 10200, 100), limitEntry(2, 10000, 100)),
			sells:         limitSide(limitEntry(3, 10000, 100)),
			reference:     10000,
			wantPrice:     10200,
			wantVolume:    100,
			wantImbalance: 0,
		},
		{
			name:       "closest to reference on equal volume and imbalance",
			buys:       limitSide(limitEntry(1, 10300, 100)),
			sells:      limitSide(limitEntry(2, 10200, 100)),
			reference:  10000,
			wantPrice:  10200,
			wantVolume: 100,
		},
		{
			name:       "market orders alone clear at the reference",
			buys:       auctionSide{market: []OrderBookEntry{marketEntry(1, 200)}},
			sells:      auctionSide{market: []OrderBookEntry{marketEntry(2, 100)}},
			reference:  10000,
			wantPrice:  10000,
			wantVolume: 100,
			// buy 200 vs sell 100
			wantImbalance: 100,
		},
		{
			name:      "no cross",
			buys:      limitSide(limitEntry(1, 9900, 100)),
			sells:     limitSide(limitEntry(2, 10100, 100)),
			reference: 10000,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, volume, imbalance := clearingPrice(tt.buys, tt.sells, tt.reference)
			if price != tt.wantPrice || volume != tt.wantVolume || imbalance != tt.wantImbalance {
				t.Fatalf("clearingPrice() = (%d, %d, %d), want (%d, %d, %d)",
					price, volume, imbalance, tt.wantPrice, tt.wantVolume, tt.wantImbalance)
			}
		})
	}
}

func TestAllocationQueue_Priority(t *testing.T) {
	side := auctionSide{
		limits: []OrderBookEntry{
			limitEntry(1, 10200, 100),
			limitEntry(2, 10000, 100),
			limitEntry(3, 9900, 100), // not executable for a buy at 10000
		},
		market: []OrderBookEntry{marketEntry(4, 100)},
	}
	queue := allocationQueue(side, 10000, true)
	var ids []int64
	for _, o := range queue {
		ids = append(ids, o.ID)
	}
	want := []int64{1, 4, 2}
	if len(ids) != len(want) {
		t.Fatalf("queue = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("queue = %v, want %v", ids, want)
		}
	}
}

func TestRunCallAuction_UniformPrice(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "x", 5_000_000, 0)
	env.account(t, "w", 5_000_000, 0)
	env.account(t, "y", 0, 100)
	env.account(t, "z", 0, 100)

	bid := env.buyLO(t, preOpen, "x", 10200, 200)
	env.sellLO(t, preOpen, "y", 9900, 100)
	env.place(t, preOpen, "z", sell, ato, 0, 100)
	mktBuy := env.place(t, preOpen, "w", buy, ato, 0, 100)

	res, err := env.eng.RunCallAuction("ABC", domain.PhaseATO)
	if err != nil {
		t.Fatalf("RunCallAuction() error: %v", err)
	}
	if res.Price != 10000 || res.MatchedVolume != 200 || res.Trades != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, tr := range env.notifier.trades {
		if tr.Price != 10000 || tr.Source != domain.TradeSourceATO {
			t.Errorf("trade %+v not at the clearing price", tr)
		}
	}

	// The better-priced LO fills ahead of the market buy.
	if got := env.order(t, bid.ID); got.Status != domain.OrderStatusFilled {
		t.Errorf("LO bid status = %s, want filled", got.Status)
	}
	if got := env.order(t, mktBuy.ID); got.Status != domain.OrderStatusOpen {
		t.Errorf("market bid status = %s, want open", got.Status)
	}

	x := env.balance(t, "x")
	if x.CashBalance != 5_000_000-2_000_000 || x.ReservedCash != 0 || x.Holdings["ABC"].Quantity != 200 {
		t.Errorf("x = %+v", x)
	}
	if w := env.balance(t, "w"); w.ReservedCash != 10700*100 {
		t.Errorf("unfilled market buy reservation = %d", w.ReservedCash)
	}

	recs := env.prices.List("ABC")
	if len(recs) != 1 || recs[0].Price != 10000 || recs[0].Quantity != 200 {
		t.Errorf("price history = %+v", recs)
	}
}

func TestRunCallAuction_SetsReferencePrice(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "x", 5_000_000, 0)
	env.account(t, "y", 0, 100)

	env.buyLO(t, preOpen, "x", 10300, 100)
	env.sellLO(t, preOpen, "y", 10200, 100)

	res, err := env.eng.RunCallAuction("ABC", domain.PhaseATO)
	if err != nil {
		t.Fatalf("RunCallAuction() error: %v", err)
	}
	if res.Price != 10200 {
		t.Fatalf("clearing price = %d, want 10200", res.Price)
	}
	stock, _ := env.stocks.Get("ABC")
	if stock.ReferencePrice != 10200 {
		t.Errorf("reference price = %d, want 10200", stock.ReferencePrice)
	}
	// The buyer reserved at 10300 and paid 10200.
	if x := env.balance(t, "x"); x.ReservedCash != 0 || x.CashBalance != 5_000_000-1_020_000 {
		t.Errorf("x = %+v", x)
	}
}

func TestRunCallAuction_NoCrossDoesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "x", 5_000_000, 0)
	env.account(t, "y", 0, 100)

	env.buyLO(t, preOpen, "x", 9900, 100)
	env.sellLO(t, preOpen, "y", 10100, 100)

	res, err := env.eng.RunCallAuction("ABC", domain.PhaseATO)
	if err != nil {
		t.Fatalf("RunCallAuction() error: %v", err)
	}
	if res.MatchedVolume != 0 || len(env.notifier.trades) != 0 || env.prices.Has("ABC") {
		t.Fatalf("expected no execution, got %+v", res)
	}
}

func TestRunCallAuction_OnlyPhaseMarketType(t *testing.T) {
	env := newTestEnv(t)
	env.account(t, "x", 5_000_000, 0)
	env.account(t, "y", 0, 100)

	atcBuy := env.place(t, preOpen, "x", buy, atc, 0, 100)
	env.sellLO(t, preOpen, "y", 10000, 100)

	res, err := env.eng.RunCallAuction("ABC", domain.PhaseATO)
	if err != nil {
		t.Fatalf("RunCallAuction() error: %v", err)
	}
	if res.MatchedVolume != 0 {
		t.Fatalf("ATC order took part in the opening auction: %+v", res)
	}

	res, err = env.eng.RunCallAuction("ABC", domain.PhaseATC)
	if err != nil {
		t.Fatalf("RunCallAuction() error: %v", err)
	}
	if res.MatchedVolume != 100 || env.order(t, atcBuy.ID).Status != domain.OrderStatusFilled {
		t.Fatalf("closing auction did not fill the ATC order: %+v", res)
	}
}

func TestRunCallAuction_RejectsNonAuctionPhase(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.eng.RunCallAuction("ABC", domain.PhaseContinuous)
	assertErrorIs(t, err, domain.ErrPhaseDisallows)
}
