package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/service"
)

// WebhookHandler serves the webhook subscription endpoints.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

type upsertWebhookRequest struct {
	AccountID string   `json:"account_id"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
}

type deliveryResponse struct {
	Attempts            int     `json:"attempts"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	LastAttemptAt       *string `json:"last_attempt_at"`
	LastStatusCode      int     `json:"last_status_code,omitempty"`
	LastError           string  `json:"last_error,omitempty"`
}

type subscriptionResponse struct {
	WebhookID string           `json:"webhook_id"`
	AccountID string           `json:"account_id"`
	Event     string           `json:"event"`
	URL       string           `json:"url"`
	CreatedAt string           `json:"created_at"`
	UpdatedAt string           `json:"updated_at"`
	Delivery  deliveryResponse `json:"delivery"`
}

type subscriptionListResponse struct {
	Webhooks []subscriptionResponse `json:"webhooks"`
}

// Upsert handles POST /webhooks. account_id defaults to the caller's.
// It answers 201 when at least one subscription is new.
func (h *WebhookHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertWebhookRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	caller := callerFrom(r)
	if req.AccountID == "" {
		req.AccountID = caller.AccountID
	}

	subs, anyCreated, err := h.webhookSvc.Upsert(caller, service.UpsertWebhookRequest{
		AccountID: req.AccountID,
		URL:       req.URL,
		Events:    req.Events,
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	status := http.StatusOK
	if anyCreated {
		status = http.StatusCreated
	}
	WriteJSON(w, status, toSubscriptionList(subs))
}

// List handles GET /webhooks?account_id=&event=.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r)
	q := r.URL.Query()
	accountID := q.Get("account_id")
	if accountID == "" {
		accountID = caller.AccountID
	}
	if accountID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "account_id query parameter is required")
		return
	}

	subs, err := h.webhookSvc.List(caller, accountID, q.Get("event"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, toSubscriptionList(subs))
}

// Get handles GET /webhooks/{webhook_id}.
func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, err := h.webhookSvc.Get(callerFrom(r), chi.URLParam(r, "webhook_id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, toSubscription(sub))
}

// Delete handles DELETE /webhooks/{webhook_id}.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.webhookSvc.Delete(callerFrom(r), chi.URLParam(r, "webhook_id")); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toSubscriptionList(subs []*domain.Webhook) subscriptionListResponse {
	resp := subscriptionListResponse{Webhooks: make([]subscriptionResponse, len(subs))}
	for i, sub := range subs {
		resp.Webhooks[i] = toSubscription(sub)
	}
	return resp
}

func toSubscription(sub *domain.Webhook) subscriptionResponse {
	return subscriptionResponse{
		WebhookID: sub.WebhookID,
		AccountID: sub.AccountID,
		Event:     sub.Event,
		URL:       sub.URL,
		CreatedAt: formatTime(sub.CreatedAt),
		UpdatedAt: formatTime(sub.UpdatedAt),
		Delivery: deliveryResponse{
			Attempts:            sub.Delivery.Attempts,
			ConsecutiveFailures: sub.Delivery.ConsecutiveFailures,
			LastAttemptAt:       formatTimePtr(sub.Delivery.LastAttemptAt),
			LastStatusCode:      sub.Delivery.LastStatusCode,
			LastError:           sub.Delivery.LastError,
		},
	}
}
