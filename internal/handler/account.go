package handler

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/service"
)

// AccountHandler handles HTTP requests for account endpoints.
type AccountHandler struct {
	accountSvc *service.AccountService
	orderSvc   *service.OrderService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc *service.AccountService, orderSvc *service.OrderService) *AccountHandler {
	return &AccountHandler{
		accountSvc: accountSvc,
		orderSvc:   orderSvc,
	}
}

// openAccountRequest is the JSON request body for POST /accounts.
type openAccountRequest struct {
	AccountID       string         `json:"account_id"`
	InitialCash     int64          `json:"initial_cash"`
	InitialHoldings []holdingInput `json:"initial_holdings"`
}

// holdingInput is a single holding in the opening request.
type holdingInput struct {
	StockCode string `json:"stock_code"`
	Quantity  int64  `json:"quantity"`
}

// accountResponse is the JSON response for POST /accounts (201 Created).
type accountResponse struct {
	AccountID   string         `json:"account_id"`
	CashBalance int64          `json:"cash_balance"`
	Holdings    []holdingInput `json:"holdings"`
	CreatedAt   string         `json:"created_at"`
}

// balanceResponse is the JSON response for GET /accounts/{account_id}/balance.
type balanceResponse struct {
	AccountID     string                   `json:"account_id"`
	CashBalance   int64                    `json:"cash_balance"`
	ReservedCash  int64                    `json:"reserved_cash"`
	AvailableCash int64                    `json:"available_cash"`
	Holdings      []holdingBalanceResponse `json:"holdings"`
	UpdatedAt     string                   `json:"updated_at"`
}

type holdingBalanceResponse struct {
	StockCode         string `json:"stock_code"`
	Quantity          int64  `json:"quantity"`
	ReservedQuantity  int64  `json:"reserved_quantity"`
	AvailableQuantity int64  `json:"available_quantity"`
}

// orderSummaryResponse is a single order in the order listing (summary view, no trades).
type orderSummaryResponse struct {
	OrderID           int64  `json:"order_id"`
	StockCode         string `json:"stock_code"`
	Side              string `json:"side"`
	Type              string `json:"type"`
	Price             *int64 `json:"price,omitempty"`
	Quantity          int64  `json:"quantity"`
	FilledQuantity    int64  `json:"filled_quantity"`
	RemainingQuantity int64  `json:"remaining_quantity"`
	CancelledQuantity int64  `json:"cancelled_quantity"`
	Status            string `json:"status"`
	AveragePrice      *int64 `json:"average_price"`
	CreatedAt         string `json:"created_at"`
}

// orderListResponse is the JSON response for GET /accounts/{account_id}/orders.
type orderListResponse struct {
	Orders []orderSummaryResponse `json:"orders"`
	Total  int                    `json:"total"`
	Page   int                    `json:"page"`
	Limit  int                    `json:"limit"`
}

// Open handles POST /accounts.
func (h *AccountHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	holdings := make([]service.HoldingInput, len(req.InitialHoldings))
	for i, h := range req.InitialHoldings {
		holdings[i] = service.HoldingInput{StockCode: h.StockCode, Quantity: h.Quantity}
	}

	account, err := h.accountSvc.Open(service.OpenAccountRequest{
		AccountID:       req.AccountID,
		InitialCash:     req.InitialCash,
		InitialHoldings: holdings,
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	respHoldings := make([]holdingInput, 0, len(account.Holdings))
	for code, holding := range account.Holdings {
		respHoldings = append(respHoldings, holdingInput{StockCode: code, Quantity: holding.Quantity})
	}
	sort.Slice(respHoldings, func(i, j int) bool { return respHoldings[i].StockCode < respHoldings[j].StockCode })

	WriteJSON(w, http.StatusCreated, accountResponse{
		AccountID:   account.AccountID,
		CashBalance: account.CashBalance,
		Holdings:    respHoldings,
		CreatedAt:   formatTime(account.CreatedAt),
	})
}

// GetBalance handles GET /accounts/{account_id}/balance.
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.accountSvc.GetBalance(callerFrom(r), chi.URLParam(r, "account_id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	holdings := make([]holdingBalanceResponse, len(balance.Holdings))
	for i, h := range balance.Holdings {
		holdings[i] = holdingBalanceResponse{
			StockCode:         h.StockCode,
			Quantity:          h.Quantity,
			ReservedQuantity:  h.ReservedQuantity,
			AvailableQuantity: h.AvailableQuantity,
		}
	}

	WriteJSON(w, http.StatusOK, balanceResponse{
		AccountID:     balance.AccountID,
		CashBalance:   balance.CashBalance,
		ReservedCash:  balance.ReservedCash,
		AvailableCash: balance.AvailableCash,
		Holdings:      holdings,
		UpdatedAt:     formatTime(balance.UpdatedAt),
	})
}

// ListOrders handles GET /accounts/{account_id}/orders.
func (h *AccountHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")

	var statusFilter *domain.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.OrderStatus(s)
		statusFilter = &status
	}

	page, ok := queryInt(w, r, "page", 1)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 20)
	if !ok {
		return
	}

	orders, total, err := h.orderSvc.ListOrders(callerFrom(r), accountID, statusFilter, page, limit)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	summaries := make([]orderSummaryResponse, len(orders))
	for i, o := range orders {
		summary := orderSummaryResponse{
			OrderID:           o.ID,
			StockCode:         o.StockCode,
			Side:              string(o.Side),
			Type:              string(o.Type),
			Quantity:          o.Quantity,
			FilledQuantity:    o.FilledQuantity,
			RemainingQuantity: o.RemainingQuantity,
			CancelledQuantity: o.CancelledQuantity,
			Status:            string(o.Status),
			CreatedAt:         formatTime(o.CreatedAt),
		}
		// ATO and ATC orders carry no price.
		if o.Type == domain.OrderTypeLimit {
			p := o.Price
			summary.Price = &p
		}
		if avg, ok := o.AveragePrice(); ok {
			summary.AveragePrice = &avg
		}
		summaries[i] = summary
	}

	WriteJSON(w, http.StatusOK, orderListResponse{
		Orders: summaries,
		Total:  total,
		Page:   page,
		Limit:  limit,
	})
}

// queryInt parses an optional integer query parameter, writing a 400 and
// returning false when it is malformed.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", name+" must be a valid integer")
		return 0, false
	}
	return n, true
}
