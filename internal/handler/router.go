package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/journal"
	"github.com/efreitasn/minibourse/internal/service"
)

// Services groups the application services the router exposes.
type Services struct {
	Accounts *service.AccountService
	Orders   *service.OrderService
	Stocks   *service.StockService
	Session  *service.SessionService
	Webhooks *service.WebhookService
	Journal  *journal.Journal
	// Feed serves the market-data websocket. Optional.
	Feed http.Handler
}

// NewRouter creates a chi router with all routes registered, request logging,
// CORS, Content-Type validation and caller identity middleware.
func NewRouter(svc Services, logger *slog.Logger, allowedOrigins []string) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", headerAccountID, headerRole},
	}).Handler)
	r.Use(contentTypeJSON)
	r.Use(withCaller)

	accountH := NewAccountHandler(svc.Accounts, svc.Orders)
	orderH := NewOrderHandler(svc.Orders)
	stockH := NewStockHandler(svc.Stocks)
	sessionH := NewSessionHandler(svc.Session)
	auditH := NewAuditHandler(svc.Journal)
	webhookH := NewWebhookHandler(svc.Webhooks)

	// Public routes.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/session", sessionH.State)
	r.Get("/stocks", stockH.List)
	r.Get("/stocks/{code}", stockH.Get)
	r.Get("/stocks/{code}/price", stockH.GetPrice)
	r.Get("/stocks/{code}/book", stockH.GetBook)
	if svc.Feed != nil {
		r.Handle("/ws", svc.Feed)
	}

	// Account routes. Ownership is checked by the services.
	r.With(require(domain.CapManageAccounts)).Post("/accounts", accountH.Open)
	r.Group(func(r chi.Router) {
		r.Use(authenticated)
		r.Get("/accounts/{account_id}/balance", accountH.GetBalance)
		r.Get("/accounts/{account_id}/orders", accountH.ListOrders)

		r.With(require(domain.CapTrade)).Post("/orders", orderH.PlaceOrder)
		r.Get("/orders/{order_id}", orderH.GetOrder)
		r.With(require(domain.CapTrade)).Patch("/orders/{order_id}", orderH.ModifyOrder)
		r.Delete("/orders/{order_id}", orderH.CancelOrder)

		r.Post("/webhooks", webhookH.Upsert)
		r.Get("/webhooks", webhookH.List)
		r.Get("/webhooks/{webhook_id}", webhookH.Get)
		r.Delete("/webhooks/{webhook_id}", webhookH.Delete)
	})

	// Stock administration.
	r.Group(func(r chi.Router) {
		r.Use(require(domain.CapManageStocks))
		r.Post("/stocks", stockH.Create)
		r.Post("/stocks/{code}/list", stockH.ListStock)
		r.Post("/stocks/{code}/delist", stockH.Delist)
		r.Post("/stocks/{code}/distributions", stockH.Distribute)
		r.Get("/stocks/{code}/distributions", stockH.Distributions)
		r.Patch("/distributions/{id}", stockH.UpdateDistribution)
		r.Delete("/distributions/{id}", stockH.RevokeDistribution)
	})

	r.Group(func(r chi.Router) {
		r.Use(require(domain.CapUndo))
		r.Get("/stocks/{code}/undo", stockH.LatestUndo)
		r.Post("/undo", stockH.UndoLast)
	})

	r.Group(func(r chi.Router) {
		r.Use(require(domain.CapManageSession))
		r.Post("/session/transition", sessionH.Transition)
		r.Put("/session/mode", sessionH.SetMode)
		r.Post("/session/auction", sessionH.TriggerAuction)
		r.Post("/session/sweep", sessionH.TriggerSweep)
	})

	r.With(require(domain.CapReadAudit)).Get("/audit", auditH.List)

	return r
}
