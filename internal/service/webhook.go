package service

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/store"
)

// Webhook event types.
const (
	EventTradeExecuted  = "trade.executed"
	EventOrderCancelled = "order.cancelled"
	EventPhaseChanged   = "session.phase_changed"
)

var validWebhookEvents = map[string]bool{
	EventTradeExecuted:  true,
	EventOrderCancelled: true,
	EventPhaseChanged:   true,
}

// UpsertWebhookRequest represents the input for webhook registration.
type UpsertWebhookRequest struct {
	AccountID string
	URL       string
	Events    []string
}

// WebhookService handles webhook CRUD and event dispatch.
type WebhookService struct {
	store    *store.WebhookStore
	accounts *store.AccountStore
	client   *http.Client
	inflight sync.WaitGroup
}

// NewWebhookService creates a new WebhookService with the given dependencies.
func NewWebhookService(
	webhookStore *store.WebhookStore,
	accounts *store.AccountStore,
	webhookTimeout time.Duration,
) *WebhookService {
	return &WebhookService{
		store:    webhookStore,
		accounts: accounts,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
	}
}

// Upsert validates the request and creates or updates webhook subscriptions.
// Returns the resulting webhooks, whether any new subscriptions were created, and any error.
func (s *WebhookService) Upsert(caller domain.Caller, req UpsertWebhookRequest) ([]*domain.Webhook, bool, error) {
	if !caller.CanAccess(req.AccountID) {
		return nil, false, domain.ErrCapabilityNotPermitted
	}
	if !s.accounts.Exists(req.AccountID) {
		return nil, false, domain.ErrAccountNotFound
	}

	if req.URL == "" {
		return nil, false, &domain.ValidationError{Message: "url is required"}
	}
	if len(req.URL) > 2048 {
		return nil, false, &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || !parsed.IsAbs() {
		return nil, false, &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return nil, false, &domain.ValidationError{Message: "url must use https scheme"}
	}

	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must be a non-empty array"}
	}

	// Deduplicate events while preserving order and validating.
	seen := make(map[string]bool, len(req.Events))
	events := make([]string, 0, len(req.Events))
	for _, event := range req.Events {
		if err := validateEvent(event); err != nil {
			return nil, false, err
		}
		if !seen[event] {
			seen[event] = true
			events = append(events, event)
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	anyCreated := false
	webhooks := make([]*domain.Webhook, 0, len(events))

	for _, event := range events {
		stored, created := s.store.Upsert(&domain.Webhook{
			WebhookID: uuid.New().String(),
			AccountID: req.AccountID,
			Event:     event,
			URL:       req.URL,
			CreatedAt: now,
			UpdatedAt: now,
		})
		anyCreated = anyCreated || created
		webhooks = append(webhooks, stored)
	}

	return webhooks, anyCreated, nil
}

func validateEvent(event string) error {
	if !validWebhookEvents[event] {
		return &domain.ValidationError{
			Message: "Unknown event type: " + event + ". Must be one of: trade.executed, order.cancelled, session.phase_changed",
		}
	}
	return nil
}

// List returns the webhook subscriptions of an account, optionally only
// those for event.
func (s *WebhookService) List(caller domain.Caller, accountID, event string) ([]*domain.Webhook, error) {
	if !caller.CanAccess(accountID) {
		return nil, domain.ErrCapabilityNotPermitted
	}
	if event != "" {
		if err := validateEvent(event); err != nil {
			return nil, err
		}
	}
	if !s.accounts.Exists(accountID) {
		return nil, domain.ErrAccountNotFound
	}
	return s.store.ListByAccount(accountID, event), nil
}

// Get returns one subscription with its delivery status.
func (s *WebhookService) Get(caller domain.Caller, webhookID string) (*domain.Webhook, error) {
	w, err := s.store.Get(webhookID)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(w.AccountID) {
		return nil, domain.ErrWebhookNotFound
	}
	return w, nil
}

// Delete removes a webhook subscription owned by the caller.
func (s *WebhookService) Delete(caller domain.Caller, webhookID string) error {
	w, err := s.store.Get(webhookID)
	if err != nil {
		return err
	}
	if !caller.CanAccess(w.AccountID) {
		// Do not reveal other accounts' subscriptions.
		return domain.ErrWebhookNotFound
	}
	return s.store.Delete(webhookID)
}

type eventPayload struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

type tradeExecutedData struct {
	TradeID                string `json:"trade_id"`
	AccountID              string `json:"account_id"`
	OrderID                int64  `json:"order_id"`
	StockCode              string `json:"stock_code"`
	Side                   string `json:"side"`
	TradePrice             int64  `json:"trade_price"`
	TradeQuantity          int64  `json:"trade_quantity"`
	Source                 string `json:"source"`
	OrderStatus            string `json:"order_status"`
	OrderFilledQuantity    int64  `json:"order_filled_quantity"`
	OrderRemainingQuantity int64  `json:"order_remaining_quantity"`
}

type orderEventData struct {
	AccountID         string `json:"account_id"`
	OrderID           int64  `json:"order_id"`
	StockCode         string `json:"stock_code"`
	Side              string `json:"side"`
	Type              string `json:"type"`
	Price             int64  `json:"price"`
	Quantity          int64  `json:"quantity"`
	FilledQuantity    int64  `json:"filled_quantity"`
	CancelledQuantity int64  `json:"cancelled_quantity"`
	RemainingQuantity int64  `json:"remaining_quantity"`
	Status            string `json:"status"`
}

type phaseChangedData struct {
	Phase         string `json:"phase"`
	PreviousPhase string `json:"previous_phase"`
	Mode          string `json:"mode"`
	Day           int    `json:"day"`
}

func timestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// DispatchTradeExecuted notifies the owner of order about one of its fills.
// Fire-and-forget.
func (s *WebhookService) DispatchTradeExecuted(trade *domain.Trade, order *domain.Order) {
	wh := s.store.Subscription(order.AccountID, EventTradeExecuted)
	if wh == nil {
		return
	}

	s.send(wh, eventPayload{
		Event:     EventTradeExecuted,
		Timestamp: timestamp(trade.ExecutedAt),
		Data: tradeExecutedData{
			TradeID:                trade.TradeID,
			AccountID:              order.AccountID,
			OrderID:                order.ID,
			StockCode:              order.StockCode,
			Side:                   string(order.Side),
			TradePrice:             trade.Price,
			TradeQuantity:          trade.Quantity,
			Source:                 string(trade.Source),
			OrderStatus:            string(order.Status),
			OrderFilledQuantity:    order.FilledQuantity,
			OrderRemainingQuantity: order.RemainingQuantity,
		},
	})
}

// DispatchOrderCancelled notifies the order's owner of a cancellation,
// including end-of-session expiry. Fire-and-forget.
func (s *WebhookService) DispatchOrderCancelled(order *domain.Order) {
	wh := s.store.Subscription(order.AccountID, EventOrderCancelled)
	if wh == nil {
		return
	}

	at := order.UpdatedAt
	if order.CancelledAt != nil {
		at = *order.CancelledAt
	}
	s.send(wh, eventPayload{
		Event:     EventOrderCancelled,
		Timestamp: timestamp(at),
		Data: orderEventData{
			AccountID:         order.AccountID,
			OrderID:           order.ID,
			StockCode:         order.StockCode,
			Side:              string(order.Side),
			Type:              string(order.Type),
			Price:             order.Price,
			Quantity:          order.Quantity,
			FilledQuantity:    order.FilledQuantity,
			CancelledQuantity: order.CancelledQuantity,
			RemainingQuantity: order.RemainingQuantity,
			Status:            string(order.Status),
		},
	})
}

// DispatchPhaseChanged notifies every subscriber of a session phase change.
func (s *WebhookService) DispatchPhaseChanged(prev, next domain.SessionState) {
	for _, wh := range s.store.ListByEvent(EventPhaseChanged) {
		s.send(wh, eventPayload{
			Event:     EventPhaseChanged,
			Timestamp: timestamp(next.EnteredAt),
			Data: phaseChangedData{
				Phase:         string(next.Phase),
				PreviousPhase: string(prev.Phase),
				Mode:          string(next.Mode),
				Day:           next.Day,
			},
		})
	}
}

func (s *WebhookService) send(wh *domain.Webhook, payload eventPayload) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.deliver(wh, payload)
	}()
}

// Wait blocks until every delivery started so far has finished.
func (s *WebhookService) Wait() {
	s.inflight.Wait()
}

// deliver sends the webhook payload via HTTP POST with the required headers
// and records the outcome on the subscription. Failures are not retried.
func (s *WebhookService) deliver(wh *domain.Webhook, payload eventPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to encode webhook payload", "webhook_id", wh.WebhookID, "error", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		slog.Warn("invalid webhook request", "webhook_id", wh.WebhookID, "error", err)
		s.record(wh, 0, err)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.New().String())
	req.Header.Set("X-Webhook-Id", wh.WebhookID)
	req.Header.Set("X-Event-Type", payload.Event)

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Warn("webhook delivery failed", "webhook_id", wh.WebhookID, "event", payload.Event, "error", err)
		s.record(wh, 0, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Warn("webhook rejected", "webhook_id", wh.WebhookID, "event", payload.Event, "status", resp.StatusCode)
	}
	s.record(wh, resp.StatusCode, nil)
}

func (s *WebhookService) record(wh *domain.Webhook, statusCode int, err error) {
	if rerr := s.store.RecordDelivery(wh.WebhookID, wh.URL, time.Now().UTC(), statusCode, err); rerr != nil {
		slog.Debug("delivery outcome dropped", "webhook_id", wh.WebhookID, "error", rerr)
	}
}
