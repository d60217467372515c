package store

import (
	"sort"
	"sync"
	"time"

	"github.com/efreitasn/minibourse/internal/domain"
)

// subscriptionKey identifies the single subscription an account may hold
// for an event.
type subscriptionKey struct {
	accountID string
	event     string
}

// WebhookStore is a thread-safe in-memory store for webhook subscriptions.
// Lookups by id serve the API; lookups by key and by event serve dispatch.
type WebhookStore struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Webhook
	byKey   map[subscriptionKey]string   // key → webhook_id
	byEvent map[string]map[string]string // event → account_id → webhook_id
}

// NewWebhookStore creates an empty WebhookStore.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		byID:    make(map[string]*domain.Webhook),
		byKey:   make(map[subscriptionKey]string),
		byEvent: make(map[string]map[string]string),
	}
}

// Upsert registers w unless the account already subscribes to w.Event, in
// which case the existing subscription keeps its id and takes w's URL. A
// URL change resets the delivery status. It returns the stored subscription
// and whether it was created.
func (s *WebhookStore) Upsert(w *domain.Webhook) (*domain.Webhook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subscriptionKey{accountID: w.AccountID, event: w.Event}
	if id, ok := s.byKey[key]; ok {
		existing := s.byID[id]
		if existing.URL != w.URL {
			existing.URL = w.URL
			existing.UpdatedAt = w.UpdatedAt
			existing.Delivery = domain.DeliveryStatus{}
		}
		return clone(existing), false
	}

	stored := clone(w)
	s.byID[w.WebhookID] = stored
	s.byKey[key] = w.WebhookID
	if s.byEvent[w.Event] == nil {
		s.byEvent[w.Event] = make(map[string]string)
	}
	s.byEvent[w.Event][w.AccountID] = w.WebhookID
	return clone(stored), true
}

// Get retrieves a webhook by ID. It returns domain.ErrWebhookNotFound if
// the webhook does not exist.
func (s *WebhookStore) Get(id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	return clone(w), nil
}

// Subscription returns the account's subscription to event, or nil.
func (s *WebhookStore) Subscription(accountID, event string) *domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[subscriptionKey{accountID: accountID, event: event}]
	if !ok {
		return nil
	}
	return clone(s.byID[id])
}

// ListByAccount returns the subscriptions of an account ordered by event.
// A non-empty event narrows the result to that event.
func (s *WebhookStore) ListByAccount(accountID, event string) []*domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.Webhook{}
	for ev, accounts := range s.byEvent {
		if event != "" && ev != event {
			continue
		}
		if id, ok := accounts[accountID]; ok {
			result = append(result, clone(s.byID[id]))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Event < result[j].Event })
	return result
}

// ListByEvent returns every subscription to event ordered by account.
func (s *WebhookStore) ListByEvent(event string) []*domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := s.byEvent[event]
	result := make([]*domain.Webhook, 0, len(accounts))
	for _, id := range accounts {
		result = append(result, clone(s.byID[id]))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AccountID < result[j].AccountID })
	return result
}

// RecordDelivery folds a delivery attempt to url into the subscription's
// status. Attempts against a URL the subscription no longer uses are
// dropped. It returns domain.ErrWebhookNotFound if the subscription was
// deleted meanwhile.
func (s *WebhookStore) RecordDelivery(id, url string, at time.Time, statusCode int, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.byID[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	if w.URL == url {
		w.Delivery.Record(at, statusCode, err)
	}
	return nil
}

// Delete removes a webhook by ID from every index. It returns
// domain.ErrWebhookNotFound if the webhook does not exist.
func (s *WebhookStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.byID[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	delete(s.byID, id)
	delete(s.byKey, subscriptionKey{accountID: w.AccountID, event: w.Event})
	if accounts := s.byEvent[w.Event]; accounts != nil {
		delete(accounts, w.AccountID)
		if len(accounts) == 0 {
			delete(s.byEvent, w.Event)
		}
	}
	return nil
}

// clone copies a webhook so callers never share the stored pointer, which
// upserts and deliveries mutate.
func clone(w *domain.Webhook) *domain.Webhook {
	c := *w
	return &c
}
