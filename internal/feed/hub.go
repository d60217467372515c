// Package feed pushes market data to websocket subscribers. It is a
// read-only projection of engine and session events: trades, reference
// price changes, book depth and phase changes.
package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/engine"
)

const (
	sendBuffer = 256
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Channel names. Stock channels carry the stock code after the colon.
const (
	ChannelSession = "session"
	prefixTrades   = "trades:"
	prefixBook     = "book:"
	prefixPrice    = "price:"
)

// TradesChannel returns the trade channel of a stock.
func TradesChannel(code string) string { return prefixTrades + code }

// BookChannel returns the depth channel of a stock.
func BookChannel(code string) string { return prefixBook + code }

// PriceChannel returns the reference price channel of a stock.
func PriceChannel(code string) string { return prefixPrice + code }

func validChannel(ch string) bool {
	if ch == ChannelSession {
		return true
	}
	for _, p := range []string{prefixTrades, prefixBook, prefixPrice} {
		if code, ok := strings.CutPrefix(ch, p); ok {
			return code != ""
		}
	}
	return false
}

// BookSource provides depth snapshots. *engine.Engine implements it.
type BookSource interface {
	GetBook(code string, depth int) (engine.BookSnapshot, error)
}

// Message is the envelope of every frame sent to clients.
type Message struct {
	Channel string    `json:"channel,omitempty"`
	Type    string    `json:"type"`
	Data    any       `json:"data,omitempty"`
	At      time.Time `json:"at"`
}

// Hub tracks connected clients and fans messages out to the ones
// subscribed to each channel.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	books    BookSource
	depth    int
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewHub creates a hub publishing depth snapshots of up to depth levels.
func NewHub(depth int) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		depth:   depth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// CORS is enforced by the HTTP router.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// AttachBooks sets the source of book snapshots. Book updates are dropped
// until it is called.
func (h *Hub) AttachBooks(src BookSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.books = src
}

// ServeHTTP upgrades the request and starts the client's pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		id:            conn.RemoteAddr().String(),
		subscriptions: make(map[string]bool),
	}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	slog.Debug("feed client connected", "client", c.id, "clients", n)
}

// unregister removes c and closes its send channel, at most once.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		slog.Debug("feed client disconnected", "client", c.id, "clients", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

// Publish sends a message to every client subscribed to channel. Clients
// whose buffer is full are disconnected.
func (h *Hub) Publish(channel, typ string, data any) {
	frame, err := json.Marshal(Message{Channel: channel, Type: typ, Data: data, At: h.now()})
	if err != nil {
		slog.Error("failed to encode feed message", "channel", channel, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.IsSubscribed(channel) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("dropping slow feed client", "client", c.id)
		h.unregister(c)
	}
}

// TradeData is the payload of trade messages.
type TradeData struct {
	TradeID    string    `json:"trade_id"`
	StockCode  string    `json:"stock_code"`
	Price      int64     `json:"price"`
	Quantity   int64     `json:"quantity"`
	Source     string    `json:"source"`
	ExecutedAt time.Time `json:"executed_at"`
}

// PriceData is the payload of reference price messages.
type PriceData struct {
	StockCode string `json:"stock_code"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	Source    string `json:"source"`
}

// LevelData is one aggregated price level.
type LevelData struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
	Orders   int   `json:"orders"`
}

// BookData is the payload of depth messages.
type BookData struct {
	StockCode      string      `json:"stock_code"`
	Bids           []LevelData `json:"bids"`
	Asks           []LevelData `json:"asks"`
	MarketBuyQty   int64       `json:"market_buy_quantity"`
	MarketSellQty  int64       `json:"market_sell_quantity"`
	ReferencePrice int64       `json:"reference_price"`
}

// SessionData is the payload of session messages.
type SessionData struct {
	Phase    string `json:"phase"`
	Previous string `json:"previous_phase"`
	Mode     string `json:"mode"`
	Day      int    `json:"day"`
}

// TradeExecuted publishes a fill. Account identities are not part of the
// public feed.
func (h *Hub) TradeExecuted(t *domain.Trade, _, _ *domain.Order) {
	h.Publish(TradesChannel(t.StockCode), "trade", TradeData{
		TradeID:    t.TradeID,
		StockCode:  t.StockCode,
		Price:      t.Price,
		Quantity:   t.Quantity,
		Source:     string(t.Source),
		ExecutedAt: t.ExecutedAt,
	})
}

// OrderCancelled is not part of the public feed; the book update that
// follows it is.
func (h *Hub) OrderCancelled(*domain.Order) {}

// PriceUpdated publishes a new reference price.
func (h *Hub) PriceUpdated(r domain.PriceRecord) {
	h.Publish(PriceChannel(r.StockCode), "price", PriceData{
		StockCode: r.StockCode,
		Price:     r.Price,
		Quantity:  r.Quantity,
		Source:    string(r.Source),
	})
}

// BookUpdated publishes the current depth of a stock.
func (h *Hub) BookUpdated(code string) {
	h.mu.RLock()
	src := h.books
	h.mu.RUnlock()
	if src == nil {
		return
	}

	snap, err := src.GetBook(code, h.depth)
	if err != nil {
		slog.Warn("failed to snapshot book for feed", "stock", code, "error", err)
		return
	}
	h.Publish(BookChannel(code), "book", BookData{
		StockCode:      snap.StockCode,
		Bids:           levels(snap.Bids),
		Asks:           levels(snap.Asks),
		MarketBuyQty:   snap.MarketBuyQty,
		MarketSellQty:  snap.MarketSellQty,
		ReferencePrice: snap.ReferencePrice,
	})
}

// SessionChanged publishes phase and mode changes.
func (h *Hub) SessionChanged(prev, next domain.SessionState) {
	h.Publish(ChannelSession, "session", SessionData{
		Phase:    string(next.Phase),
		Previous: string(prev.Phase),
		Mode:     string(next.Mode),
		Day:      next.Day,
	})
}

func levels(in []engine.PriceLevel) []LevelData {
	out := make([]LevelData, len(in))
	for i, l := range in {
		out[i] = LevelData{Price: l.Price, Quantity: l.TotalQuantity, Orders: l.OrderCount}
	}
	return out
}
