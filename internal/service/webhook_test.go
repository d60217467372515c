package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/store"
)

func newTestWebhookService() (*WebhookService, *store.AccountStore) {
	as := store.NewAccountStore()
	ws := store.NewWebhookStore()
	return NewWebhookService(ws, as, 5*time.Second), as
}

func registerAccount(t interface {
	Helper()
	Fatalf(string, ...any)
}, as *store.AccountStore, id string) {
	t.Helper()
	err := as.Create(&domain.Account{
		AccountID:   id,
		CashBalance: 100000,
		Holdings:    make(map[string]*domain.Holding),
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
}

// recorder is a TLS test server that keeps every delivered payload.
type recorder struct {
	server   *httptest.Server
	mu       sync.Mutex
	payloads []map[string]any
	headers  []http.Header
}

func newRecorder(t *testing.T, status int) *recorder {
	r := &recorder{}
	r.server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		var payload map[string]any
		json.Unmarshal(body, &payload)
		r.mu.Lock()
		r.payloads = append(r.payloads, payload)
		r.headers = append(r.headers, req.Header.Clone())
		r.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

// newDispatchService wires a WebhookService whose client trusts rec.
func newDispatchService(t *testing.T, rec *recorder) (*WebhookService, *store.WebhookStore) {
	as := store.NewAccountStore()
	ws := store.NewWebhookStore()
	registerAccount(t, as, "acct-1")
	svc := &WebhookService{
		store:    ws,
		accounts: as,
		client:   rec.server.Client(),
	}
	return svc, ws
}

func subscribe(ws *store.WebhookStore, id, accountID, event, url string) {
	ws.Upsert(&domain.Webhook{
		WebhookID: id,
		AccountID: accountID,
		Event:     event,
		URL:       url,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
}

// --- Upsert tests ---

func TestUpsert_Success_NewSubscriptions(t *testing.T) {
	svc, as := newTestWebhookService()
	registerAccount(t, as, "acct-1")

	webhooks, created, err := svc.Upsert(investor("acct-1"), UpsertWebhookRequest{
		AccountID: "acct-1",
		URL:       "https://example.com/hooks",
		Events:    []string{EventTradeExecuted, EventOrderCancelled},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected created=true")
	}
	if len(webhooks) != 2 {
		t.Fatalf("got %d webhooks, want 2", len(webhooks))
	}
	for _, w := range webhooks {
		if w.WebhookID == "" {
			t.Error("expected webhook_id to be set")
		}
		if w.URL != "https://example.com/hooks" {
			t.Errorf("got url %q", w.URL)
		}
	}
}

func TestUpsert_Success_UpdateExistingURL(t *testing.T) {
	svc, as := newTestWebhookService()
	registerAccount(t, as, "acct-1")
	caller := investor("acct-1")

	first, _, err := svc.Upsert(caller, UpsertWebhookRequest{
		AccountID: "acct-1", URL: "https://example.com/old", Events: []string{EventTradeExecuted},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, created, err := svc.Upsert(caller, UpsertWebhookRequest{
		AccountID: "acct-1", URL: "https://example.com/new", Events: []string{EventTradeExecuted},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected created=false for an existing subscription")
	}
	if second[0].WebhookID != first[0].WebhookID {
		t.Errorf("webhook_id changed from %q to %q", first[0].WebhookID, second[0].WebhookID)
	}
	if second[0].URL != "https://example.com/new" {
		t.Errorf("got url %q, want the new url", second[0].URL)
	}
}

func TestUpsert_Success_DeduplicateEvents(t *testing.T) {
	svc, as := newTestWebhookService()
	registerAccount(t, as, "acct-1")

	webhooks, _, err := svc.Upsert(staff, UpsertWebhookRequest{
		AccountID: "acct-1",
		URL:       "https://example.com/hooks",
		Events:    []string{EventPhaseChanged, EventPhaseChanged},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(webhooks) != 1 {
		t.Errorf("got %d webhooks, want 1", len(webhooks))
	}
}

func TestUpsert_Errors(t *testing.T) {
	tests := []struct {
		name   string
		caller domain.Caller
		req    UpsertWebhookRequest
		want   error
	}{
		{
			name:   "other account",
			caller: investor("acct-2"),
			req:    UpsertWebhookRequest{AccountID: "acct-1", URL: "https://example.com", Events: []string{EventTradeExecuted}},
			want:   domain.ErrCapabilityNotPermitted,
		},
		{
			name:   "account not found",
			caller: staff,
			req:    UpsertWebhookRequest{AccountID: "ghost", URL: "https://example.com", Events: []string{EventTradeExecuted}},
			want:   domain.ErrAccountNotFound,
		},
		{
			name:   "empty url",
			caller: staff,
			req:    UpsertWebhookRequest{AccountID: "acct-1", Events: []string{EventTradeExecuted}},
		},
		{
			name:   "http scheme",
			caller: staff,
			req:    UpsertWebhookRequest{AccountID: "acct-1", URL: "http://example.com", Events: []string{EventTradeExecuted}},
		},
		{
			name:   "url too long",
			caller: staff,
			req:    UpsertWebhookRequest{AccountID: "acct-1", URL: "https://example.com/" + strings.Repeat("a", 2048), Events: []string{EventTradeExecuted}},
		},
		{
			name:   "relative url",
			caller: staff,
			req:    UpsertWebhookRequest{AccountID: "acct-1", URL: "/hooks", Events: []string{EventTradeExecuted}},
		},
		{
			name:   "no events",
			caller: staff,
			req:    UpsertWebhookRequest{AccountID: "acct-1", URL: "https://example.com"},
		},
		{
			name:   "unknown event",
			caller: staff,
			req:    UpsertWebhookRequest{AccountID: "acct-1", URL: "https://example.com", Events: []string{"order.expired"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, as := newTestWebhookService()
			registerAccount(t, as, "acct-1")

			_, _, err := svc.Upsert(tt.caller, tt.req)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Errorf("got error %v, want %v", err, tt.want)
				}
				return
			}
			if _, ok := err.(*domain.ValidationError); !ok {
				t.Errorf("expected *ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestList_AndDelete(t *testing.T) {
	svc, as := newTestWebhookService()
	registerAccount(t, as, "acct-1")
	registerAccount(t, as, "acct-2")

	webhooks, _, err := svc.Upsert(investor("acct-1"), UpsertWebhookRequest{
		AccountID: "acct-1", URL: "https://example.com", Events: []string{EventTradeExecuted, EventOrderCancelled},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list, err := svc.List(investor("acct-1"), "acct-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("got %d webhooks, want 2", len(list))
	}
	if _, err := svc.List(investor("acct-2"), "acct-1", ""); !errors.Is(err, domain.ErrCapabilityNotPermitted) {
		t.Errorf("got error %v, want ErrCapabilityNotPermitted", err)
	}

	if err := svc.Delete(investor("acct-2"), webhooks[0].WebhookID); !errors.Is(err, domain.ErrWebhookNotFound) {
		t.Errorf("got error %v, want ErrWebhookNotFound for a foreign webhook", err)
	}
	if err := svc.Delete(investor("acct-1"), webhooks[0].WebhookID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Delete(investor("acct-1"), webhooks[0].WebhookID); !errors.Is(err, domain.ErrWebhookNotFound) {
		t.Errorf("got error %v, want ErrWebhookNotFound", err)
	}

	list, _ = svc.List(staff, "acct-1", "")
	if len(list) != 1 {
		t.Errorf("got %d webhooks after delete, want 1", len(list))
	}
}

func TestList_EventFilterAndGet(t *testing.T) {
	svc, as := newTestWebhookService()
	registerAccount(t, as, "acct-1")

	webhooks, _, err := svc.Upsert(investor("acct-1"), UpsertWebhookRequest{
		AccountID: "acct-1", URL: "https://example.com", Events: []string{EventTradeExecuted, EventPhaseChanged},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list, err := svc.List(investor("acct-1"), "acct-1", EventPhaseChanged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].Event != EventPhaseChanged {
		t.Errorf("got %+v, want only the phase subscription", list)
	}
	_, err = svc.List(investor("acct-1"), "acct-1", "order.expired")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected *ValidationError for an unknown event, got %T: %v", err, err)
	}

	got, err := svc.Get(investor("acct-1"), webhooks[0].WebhookID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Event != EventTradeExecuted || got.Delivery.Attempts != 0 {
		t.Errorf("got %+v, want an undelivered trade subscription", got)
	}
	if _, err := svc.Get(investor("acct-2"), webhooks[0].WebhookID); !errors.Is(err, domain.ErrWebhookNotFound) {
		t.Errorf("got error %v, want ErrWebhookNotFound for a foreign webhook", err)
	}
}

// --- Dispatch tests ---

func TestDispatchTradeExecuted_SendsCorrectPayload(t *testing.T) {
	rec := newRecorder(t, http.StatusOK)
	svc, ws := newDispatchService(t, rec)
	subscribe(ws, "wh-1", "acct-1", EventTradeExecuted, rec.server.URL+"/hooks")

	trade := &domain.Trade{
		TradeID:    "trd-1",
		StockCode:  "ABC",
		Price:      14800,
		Quantity:   500,
		Source:     domain.TradeSourceContinuous,
		ExecutedAt: time.Date(2026, 2, 16, 16, 29, 0, 0, time.UTC),
	}
	order := &domain.Order{
		ID:                7,
		AccountID:         "acct-1",
		StockCode:         "ABC",
		Side:              domain.OrderSideBuy,
		Status:            domain.OrderStatusPartiallyFilled,
		FilledQuantity:    500,
		RemainingQuantity: 500,
	}

	svc.DispatchTradeExecuted(trade, order)
	svc.Wait()

	if rec.count() != 1 {
		t.Fatalf("got %d requests, want 1", rec.count())
	}
	payload := rec.payloads[0]
	if payload["event"] != EventTradeExecuted {
		t.Errorf("got event %v, want %s", payload["event"], EventTradeExecuted)
	}
	if payload["timestamp"] != "2026-02-16T16:29:00Z" {
		t.Errorf("got timestamp %v", payload["timestamp"])
	}

	data, ok := payload["data"].(map[string]any)
	if !ok {
		t.Fatal("expected data to be a map")
	}
	if data["trade_id"] != "trd-1" {
		t.Errorf("got trade_id %v, want trd-1", data["trade_id"])
	}
	if data["order_id"] != float64(7) {
		t.Errorf("got order_id %v, want 7", data["order_id"])
	}
	if data["trade_price"] != float64(14800) {
		t.Errorf("got trade_price %v, want 14800", data["trade_price"])
	}
	if data["order_status"] != "partially_filled" {
		t.Errorf("got order_status %v, want partially_filled", data["order_status"])
	}

	h := rec.headers[0]
	if h.Get("X-Webhook-Id") != "wh-1" {
		t.Errorf("got X-Webhook-Id %q, want %q", h.Get("X-Webhook-Id"), "wh-1")
	}
	if h.Get("X-Event-Type") != EventTradeExecuted {
		t.Errorf("got X-Event-Type %q", h.Get("X-Event-Type"))
	}
	if h.Get("X-Delivery-Id") == "" {
		t.Error("expected X-Delivery-Id header to be set")
	}
	if h.Get("Content-Type") != "application/json" {
		t.Errorf("got Content-Type %q, want %q", h.Get("Content-Type"), "application/json")
	}
}

func TestDispatchOrderCancelled_SendsCorrectPayload(t *testing.T) {
	rec := newRecorder(t, http.StatusOK)
	svc, ws := newDispatchService(t, rec)
	subscribe(ws, "wh-c", "acct-1", EventOrderCancelled, rec.server.URL)

	at := time.Date(2026, 2, 16, 17, 0, 0, 0, time.UTC)
	svc.DispatchOrderCancelled(&domain.Order{
		ID:                3,
		AccountID:         "acct-1",
		StockCode:         "ABC",
		Side:              domain.OrderSideSell,
		Type:              domain.OrderTypeLimit,
		Price:             10000,
		Quantity:          300,
		FilledQuantity:    100,
		CancelledQuantity: 200,
		Status:            domain.OrderStatusCancelled,
		CancelledAt:       &at,
	})
	svc.Wait()

	if rec.count() != 1 {
		t.Fatalf("got %d requests, want 1", rec.count())
	}
	data := rec.payloads[0]["data"].(map[string]any)
	if data["cancelled_quantity"] != float64(200) {
		t.Errorf("got cancelled_quantity %v, want 200", data["cancelled_quantity"])
	}
	if data["status"] != "cancelled" {
		t.Errorf("got status %v, want cancelled", data["status"])
	}
	if rec.payloads[0]["timestamp"] != "2026-02-16T17:00:00Z" {
		t.Errorf("got timestamp %v", rec.payloads[0]["timestamp"])
	}
}

func TestDispatchPhaseChanged_ReachesEverySubscriber(t *testing.T) {
	rec := newRecorder(t, http.StatusOK)
	svc, ws := newDispatchService(t, rec)
	subscribe(ws, "wh-a", "acct-1", EventPhaseChanged, rec.server.URL)
	subscribe(ws, "wh-b", "acct-2", EventPhaseChanged, rec.server.URL)
	subscribe(ws, "wh-c", "acct-1", EventTradeExecuted, rec.server.URL)

	svc.DispatchPhaseChanged(
		domain.SessionState{Phase: domain.PhasePreOpen, Day: 1},
		domain.SessionState{Phase: domain.PhaseATO, Mode: domain.ModeAuto, Day: 1, EnteredAt: time.Now()},
	)
	svc.Wait()

	if rec.count() != 2 {
		t.Fatalf("got %d requests, want 2", rec.count())
	}
	data := rec.payloads[0]["data"].(map[string]any)
	if data["phase"] != "ato" || data["previous_phase"] != "pre_open" {
		t.Errorf("got %v, want pre_open -> ato", data)
	}
}

func TestDispatch_NoSubscription_NoRequest(t *testing.T) {
	rec := newRecorder(t, http.StatusOK)
	svc, _ := newDispatchService(t, rec)

	order := &domain.Order{ID: 1, AccountID: "acct-1", StockCode: "ABC", Status: domain.OrderStatusFilled}
	svc.DispatchTradeExecuted(&domain.Trade{TradeID: "trd-1", ExecutedAt: time.Now()}, order)
	svc.DispatchOrderCancelled(order)
	svc.DispatchPhaseChanged(domain.SessionState{}, domain.SessionState{Phase: domain.PhaseATO})
	svc.Wait()

	if rec.count() != 0 {
		t.Errorf("got %d requests, want 0 (no subscriptions)", rec.count())
	}
}

func TestDispatch_ServerError_SilentlyIgnored(t *testing.T) {
	rec := newRecorder(t, http.StatusInternalServerError)
	svc, ws := newDispatchService(t, rec)
	subscribe(ws, "wh-err", "acct-1", EventTradeExecuted, rec.server.URL)

	order := &domain.Order{ID: 1, AccountID: "acct-1", StockCode: "ABC", Status: domain.OrderStatusFilled}
	svc.DispatchTradeExecuted(&domain.Trade{TradeID: "trd-1", ExecutedAt: time.Now()}, order)
	svc.Wait()

	if rec.count() != 1 {
		t.Errorf("got %d requests, want 1", rec.count())
	}

	wh, err := ws.Get("wh-err")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wh.Delivery.Attempts != 1 || wh.Delivery.ConsecutiveFailures != 1 || wh.Delivery.LastStatusCode != http.StatusInternalServerError {
		t.Errorf("got delivery %+v, want one failed attempt with status 500", wh.Delivery)
	}
}

func TestDispatch_RecordsDeliveryOutcome(t *testing.T) {
	rec := newRecorder(t, http.StatusNoContent)
	svc, ws := newDispatchService(t, rec)
	subscribe(ws, "wh-ok", "acct-1", EventOrderCancelled, rec.server.URL)
	subscribe(ws, "wh-down", "acct-2", EventOrderCancelled, "https://127.0.0.1:1/unreachable")

	svc.DispatchOrderCancelled(&domain.Order{ID: 1, AccountID: "acct-1", StockCode: "ABC", Status: domain.OrderStatusCancelled})
	svc.DispatchOrderCancelled(&domain.Order{ID: 2, AccountID: "acct-2", StockCode: "ABC", Status: domain.OrderStatusCancelled})
	svc.Wait()

	ok, _ := ws.Get("wh-ok")
	if ok.Delivery.Attempts != 1 || ok.Delivery.Failing() || ok.Delivery.LastStatusCode != http.StatusNoContent {
		t.Errorf("got delivery %+v, want one successful attempt", ok.Delivery)
	}
	if ok.Delivery.LastAttemptAt == nil {
		t.Error("expected the attempt time to be recorded")
	}

	down, _ := ws.Get("wh-down")
	if !down.Delivery.Failing() || down.Delivery.LastStatusCode != 0 || down.Delivery.LastError == "" {
		t.Errorf("got delivery %+v, want a transport failure", down.Delivery)
	}

	// A new URL starts with a clean record.
	if _, _, err := svc.Upsert(staff, UpsertWebhookRequest{AccountID: "acct-1", URL: "https://elsewhere.example.com", Events: []string{EventOrderCancelled}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	moved, _ := ws.Get("wh-ok")
	if moved.Delivery.Attempts != 0 {
		t.Errorf("got delivery %+v after a URL change, want none", moved.Delivery)
	}
}

// TestProperty_WebhookUpsertIdempotency checks that re-registering the same
// (account, event) pair keeps the webhook id, with or without a URL change.
func TestProperty_WebhookUpsertIdempotency(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		svc, as := newTestWebhookService()
		accountID := fmt.Sprintf("acct-%d", rapid.IntRange(1, 9999).Draw(t, "accountSuffix"))
		registerAccount(t, as, accountID)
		caller := investor(accountID)

		event := rapid.SampledFrom([]string{EventTradeExecuted, EventOrderCancelled, EventPhaseChanged}).Draw(t, "event")
		url1 := fmt.Sprintf("https://example.com/hook/%d", rapid.IntRange(1, 99999).Draw(t, "url1"))
		url2 := fmt.Sprintf("https://other.example.com/hook/%d", rapid.IntRange(1, 99999).Draw(t, "url2"))

		first, created, err := svc.Upsert(caller, UpsertWebhookRequest{AccountID: accountID, URL: url1, Events: []string{event}})
		if err != nil {
			t.Fatalf("initial upsert failed: %v", err)
		}
		if !created || len(first) != 1 {
			t.Fatalf("expected one created webhook, got %d (created=%v)", len(first), created)
		}
		id := first[0].WebhookID

		repeats := rapid.IntRange(1, 5).Draw(t, "repeats")
		for i := 0; i < repeats; i++ {
			again, created, err := svc.Upsert(caller, UpsertWebhookRequest{AccountID: accountID, URL: url1, Events: []string{event}})
			if err != nil {
				t.Fatalf("repeat %d failed: %v", i, err)
			}
			if created || again[0].WebhookID != id || again[0].URL != url1 {
				t.Fatalf("repeat %d: got %+v (created=%v), want id %q url %q", i, again[0], created, id, url1)
			}
		}

		moved, created, err := svc.Upsert(caller, UpsertWebhookRequest{AccountID: accountID, URL: url2, Events: []string{event}})
		if err != nil {
			t.Fatalf("url update failed: %v", err)
		}
		if created || moved[0].WebhookID != id || moved[0].URL != url2 {
			t.Fatalf("got %+v (created=%v), want id %q url %q", moved[0], created, id, url2)
		}
	})
}
