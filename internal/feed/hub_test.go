package feed

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/engine"
)

type stubBooks struct {
	snap engine.BookSnapshot
	err  error
}

func (s stubBooks) GetBook(string, int) (engine.BookSnapshot, error) {
	return s.snap, s.err
}

type decoded struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) decoded {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m decoded
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func subscribe(t *testing.T, conn *websocket.Conn, channels ...string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Request{Op: "subscribe", Channels: channels}))
	for range channels {
		m := read(t, conn)
		require.Equal(t, "subscribed", m.Type, "channel %s", m.Channel)
	}
}

func TestValidChannel(t *testing.T) {
	tests := []struct {
		ch   string
		want bool
	}{
		{"session", true},
		{"trades:ABC", true},
		{"book:ABC", true},
		{"price:ABC", true},
		{"trades:", false},
		{"orders:ABC", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, validChannel(tt.ch), tt.ch)
	}
}

func TestHub_TradeReachesSubscriberOnly(t *testing.T) {
	h := NewHub(5)
	conn := dial(t, h)
	subscribe(t, conn, TradesChannel("ABC"))

	h.TradeExecuted(&domain.Trade{TradeID: "t-0", StockCode: "XYZ", Price: 500, Quantity: 100}, nil, nil)
	h.TradeExecuted(&domain.Trade{
		TradeID:   "t-1",
		StockCode: "ABC",
		BuyerID:   "x",
		SellerID:  "y",
		Price:     10100,
		Quantity:  100,
		Source:    domain.TradeSourceContinuous,
	}, nil, nil)

	m := read(t, conn)
	assert.Equal(t, "trades:ABC", m.Channel)
	assert.Equal(t, "trade", m.Type)

	var data TradeData
	require.NoError(t, json.Unmarshal(m.Data, &data))
	assert.Equal(t, "t-1", data.TradeID)
	assert.Equal(t, int64(10100), data.Price)
	assert.NotContains(t, string(m.Data), "buyer")
}

func TestHub_PriceAndSession(t *testing.T) {
	h := NewHub(5)
	conn := dial(t, h)
	subscribe(t, conn, PriceChannel("ABC"), ChannelSession)

	h.PriceUpdated(domain.PriceRecord{StockCode: "ABC", Price: 10200, Quantity: 300, Source: domain.TradeSourceATO})
	m := read(t, conn)
	assert.Equal(t, "price", m.Type)
	var price PriceData
	require.NoError(t, json.Unmarshal(m.Data, &price))
	assert.Equal(t, int64(10200), price.Price)
	assert.Equal(t, "ato", price.Source)

	h.SessionChanged(
		domain.SessionState{Phase: domain.PhasePreOpen, Mode: domain.ModeManual, Day: 1},
		domain.SessionState{Phase: domain.PhaseATO, Mode: domain.ModeManual, Day: 1},
	)
	m = read(t, conn)
	var sess SessionData
	require.NoError(t, json.Unmarshal(m.Data, &sess))
	assert.Equal(t, SessionData{Phase: "ato", Previous: "pre_open", Mode: "manual", Day: 1}, sess)
}

func TestHub_BookUpdated(t *testing.T) {
	h := NewHub(5)
	conn := dial(t, h)
	subscribe(t, conn, BookChannel("ABC"))

	// Without a book source the update is dropped.
	h.BookUpdated("ABC")

	h.AttachBooks(stubBooks{snap: engine.BookSnapshot{
		StockCode:      "ABC",
		Bids:           []engine.PriceLevel{{Price: 10000, TotalQuantity: 300, OrderCount: 2}},
		ReferencePrice: 10000,
	}})
	h.BookUpdated("ABC")

	m := read(t, conn)
	var book BookData
	require.NoError(t, json.Unmarshal(m.Data, &book))
	assert.Equal(t, []LevelData{{Price: 10000, Quantity: 300, Orders: 2}}, book.Bids)
	assert.Empty(t, book.Asks)

	h.AttachBooks(stubBooks{err: errors.New("gone")})
	h.BookUpdated("ABC")
}

func TestHub_UnsubscribeAndErrors(t *testing.T) {
	h := NewHub(5)
	conn := dial(t, h)
	subscribe(t, conn, TradesChannel("ABC"))

	require.NoError(t, conn.WriteJSON(Request{Op: "unsubscribe", Channels: []string{TradesChannel("ABC")}}))
	assert.Equal(t, "unsubscribed", read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Request{Op: "subscribe", Channels: []string{"orders:ABC"}}))
	assert.Equal(t, "error", read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Request{Op: "shout"}))
	assert.Equal(t, "error", read(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, "error", read(t, conn).Type)

	// Unsubscribed: the trade is not delivered, the session message is.
	subscribe(t, conn, ChannelSession)
	h.TradeExecuted(&domain.Trade{TradeID: "t-1", StockCode: "ABC"}, nil, nil)
	h.SessionChanged(domain.SessionState{}, domain.SessionState{Phase: domain.PhaseClosed})
	assert.Equal(t, "session", read(t, conn).Type)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	h := NewHub(5)
	conn := dial(t, h)
	subscribe(t, conn, ChannelSession)
	require.Equal(t, 1, h.ClientCount())

	h.Close()
	assert.Equal(t, 0, h.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
