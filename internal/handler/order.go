package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// placeOrderRequest is the JSON request body for POST /orders. The owning
// account is the caller's.
type placeOrderRequest struct {
	StockCode string `json:"stock_code"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     *int64 `json:"price"`
	Quantity  int64  `json:"quantity"`
}

// modifyOrderRequest is the JSON request body for PATCH /orders/{order_id}.
type modifyOrderRequest struct {
	Price    *int64 `json:"price"`
	Quantity *int64 `json:"quantity"`
}

// orderResponse is the JSON response for a single order. Price is omitted
// for ATO and ATC orders.
type orderResponse struct {
	OrderID           int64           `json:"order_id"`
	AccountID         string          `json:"account_id"`
	StockCode         string          `json:"stock_code"`
	Side              string          `json:"side"`
	Type              string          `json:"type"`
	Price             *int64          `json:"price,omitempty"`
	Quantity          int64           `json:"quantity"`
	FilledQuantity    int64           `json:"filled_quantity"`
	RemainingQuantity int64           `json:"remaining_quantity"`
	CancelledQuantity int64           `json:"cancelled_quantity"`
	Status            string          `json:"status"`
	SubmittedAt       string          `json:"submitted_at"`
	CreatedAt         string          `json:"created_at"`
	CancelledAt       *string         `json:"cancelled_at"`
	Replaces          *int64          `json:"replaces,omitempty"`
	ReplacedBy        *int64          `json:"replaced_by,omitempty"`
	AveragePrice      *int64          `json:"average_price"`
	Trades            []tradeResponse `json:"trades"`
}

// tradeResponse is a single trade in the order response.
type tradeResponse struct {
	TradeID    string `json:"trade_id"`
	Price      int64  `json:"price"`
	Quantity   int64  `json:"quantity"`
	Source     string `json:"source"`
	ExecutedAt string `json:"executed_at"`
}

// PlaceOrder handles POST /orders.
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	order, err := h.orderSvc.PlaceOrder(callerFrom(r), service.PlaceOrderRequest{
		StockCode: req.StockCode,
		Side:      domain.OrderSide(req.Side),
		Type:      domain.OrderType(req.Type),
		Price:     req.Price,
		Quantity:  req.Quantity,
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildOrderResponse(order))
}

// GetOrder handles GET /orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := h.orderSvc.GetOrder(callerFrom(r), id)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// ModifyOrder handles PATCH /orders/{order_id}.
func (h *OrderHandler) ModifyOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req modifyOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	order, err := h.orderSvc.ModifyOrder(callerFrom(r), id, service.ModifyOrderRequest{
		Price:    req.Price,
		Quantity: req.Quantity,
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// CancelOrder handles DELETE /orders/{order_id}.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := h.orderSvc.CancelOrder(callerFrom(r), id)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "order_id"), 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, http.StatusBadRequest, "validation_error", "order_id must be a positive integer")
		return 0, false
	}
	return id, true
}

func buildOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:           o.ID,
		AccountID:         o.AccountID,
		StockCode:         o.StockCode,
		Side:              string(o.Side),
		Type:              string(o.Type),
		Quantity:          o.Quantity,
		FilledQuantity:    o.FilledQuantity,
		RemainingQuantity: o.RemainingQuantity,
		CancelledQuantity: o.CancelledQuantity,
		Status:            string(o.Status),
		SubmittedAt:       formatTime(o.SubmittedAt),
		CreatedAt:         formatTime(o.CreatedAt),
		CancelledAt:       formatTimePtr(o.CancelledAt),
		Replaces:          o.Replaces,
		ReplacedBy:        o.ReplacedBy,
		Trades:            buildTradeResponses(o.Trades),
	}
	if o.Type == domain.OrderTypeLimit {
		p := o.Price
		resp.Price = &p
	}
	if avg, ok := o.AveragePrice(); ok {
		resp.AveragePrice = &avg
	}
	return resp
}

func buildTradeResponses(trades []*domain.Trade) []tradeResponse {
	result := make([]tradeResponse, len(trades))
	for i, t := range trades {
		result[i] = tradeResponse{
			TradeID:    t.TradeID,
			Price:      t.Price,
			Quantity:   t.Quantity,
			Source:     string(t.Source),
			ExecutedAt: formatTime(t.ExecutedAt),
		}
	}
	return result
}
