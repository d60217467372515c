package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/engine"
	"github.com/efreitasn/minibourse/internal/service"
)

// StockHandler handles HTTP requests for stock endpoints.
type StockHandler struct {
	stockSvc *service.StockService
}

// NewStockHandler creates a new StockHandler.
func NewStockHandler(stockSvc *service.StockService) *StockHandler {
	return &StockHandler{stockSvc: stockSvc}
}

type createStockRequest struct {
	Code           string `json:"code"`
	IssuedShares   int64  `json:"issued_shares"`
	ReferencePrice int64  `json:"reference_price"`
}

type listStockRequest struct {
	ReferencePrice int64 `json:"reference_price"`
}

type stockResponse struct {
	Code           string `json:"code"`
	Status         string `json:"status"`
	IssuedShares   int64  `json:"issued_shares"`
	ReferencePrice int64  `json:"reference_price"`
	BasePrice      int64  `json:"base_price"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type stockListResponse struct {
	Stocks []stockResponse `json:"stocks"`
}

// priceResponse is the JSON response for GET /stocks/{code}/price.
type priceResponse struct {
	StockCode      string  `json:"stock_code"`
	ReferencePrice int64   `json:"reference_price"`
	CurrentPrice   *int64  `json:"current_price"`
	Window         string  `json:"window"`
	TradesInWindow int     `json:"trades_in_window"`
	LastTradeAt    *string `json:"last_trade_at"`
	BandFloor      int64   `json:"band_floor"`
	BandCeiling    int64   `json:"band_ceiling"`
}

// bookLevelResponse is a single price level in the book response.
type bookLevelResponse struct {
	Price         int64 `json:"price"`
	TotalQuantity int64 `json:"total_quantity"`
	OrderCount    int   `json:"order_count"`
}

// bookResponse is the JSON response for GET /stocks/{code}/book.
type bookResponse struct {
	StockCode      string              `json:"stock_code"`
	Bids           []bookLevelResponse `json:"bids"`
	Asks           []bookLevelResponse `json:"asks"`
	MarketBuyQty   int64               `json:"market_buy_quantity"`
	MarketSellQty  int64               `json:"market_sell_quantity"`
	Spread         *int64              `json:"spread"`
	ReferencePrice int64               `json:"reference_price"`
	BandFloor      int64               `json:"band_floor"`
	BandCeiling    int64               `json:"band_ceiling"`
	SnapshotAt     string              `json:"snapshot_at"`
}

type undoEntryResponse struct {
	ID         string `json:"id"`
	Seq        uint64 `json:"seq"`
	StockCode  string `json:"stock_code"`
	Kind       string `json:"kind"`
	RecordedAt string `json:"recorded_at"`
	RecordedBy string `json:"recorded_by"`
}

type undoResponse struct {
	Undone undoEntryResponse `json:"undone"`
	Stock  *stockResponse    `json:"stock"`
}

func buildStockResponse(s *domain.Stock) stockResponse {
	return stockResponse{
		Code:           s.Code,
		Status:         string(s.Status),
		IssuedShares:   s.IssuedShares,
		ReferencePrice: s.ReferencePrice,
		BasePrice:      s.BasePrice,
		CreatedAt:      formatTime(s.CreatedAt),
		UpdatedAt:      formatTime(s.UpdatedAt),
	}
}

func buildUndoEntryResponse(e domain.UndoEntry) undoEntryResponse {
	return undoEntryResponse{
		ID:         e.ID,
		Seq:        e.Seq,
		StockCode:  e.StockCode,
		Kind:       string(e.Kind),
		RecordedAt: formatTime(e.RecordedAt),
		RecordedBy: e.RecordedBy,
	}
}

// Create handles POST /stocks.
func (h *StockHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createStockRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	stock, err := h.stockSvc.Create(callerFrom(r), service.CreateStockRequest{
		Code:           req.Code,
		IssuedShares:   req.IssuedShares,
		ReferencePrice: req.ReferencePrice,
	})
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, buildStockResponse(stock))
}

// List handles GET /stocks.
func (h *StockHandler) List(w http.ResponseWriter, r *http.Request) {
	var status *domain.StockStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := domain.StockStatus(s)
		switch st {
		case domain.StockStatusPending, domain.StockStatusListed, domain.StockStatusHalted:
		default:
			WriteError(w, http.StatusBadRequest, "validation_error",
				"status must be one of: pending, listed, halted")
			return
		}
		status = &st
	}

	stocks := h.stockSvc.Stocks(status)
	resp := stockListResponse{Stocks: make([]stockResponse, len(stocks))}
	for i, s := range stocks {
		resp.Stocks[i] = buildStockResponse(s)
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Get handles GET /stocks/{code}.
func (h *StockHandler) Get(w http.ResponseWriter, r *http.Request) {
	stock, err := h.stockSvc.GetStock(chi.URLParam(r, "code"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildStockResponse(stock))
}

// ListStock handles POST /stocks/{code}/list.
func (h *StockHandler) ListStock(w http.ResponseWriter, r *http.Request) {
	var req listStockRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	stock, err := h.stockSvc.ListStock(callerFrom(r), chi.URLParam(r, "code"), req.ReferencePrice)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildStockResponse(stock))
}

// Delist handles POST /stocks/{code}/delist.
func (h *StockHandler) Delist(w http.ResponseWriter, r *http.Request) {
	stock, err := h.stockSvc.Delist(callerFrom(r), chi.URLParam(r, "code"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildStockResponse(stock))
}

// GetPrice handles GET /stocks/{code}/price.
func (h *StockHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	price, err := h.stockSvc.GetPrice(chi.URLParam(r, "code"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, priceResponse{
		StockCode:      price.StockCode,
		ReferencePrice: price.ReferencePrice,
		CurrentPrice:   price.CurrentPrice,
		Window:         price.Window,
		TradesInWindow: price.TradesInWindow,
		LastTradeAt:    formatTimePtr(price.LastTradeAt),
		BandFloor:      price.BandFloor,
		BandCeiling:    price.BandCeiling,
	})
}

// GetBook handles GET /stocks/{code}/book.
func (h *StockHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	// Default 10, max 50.
	depth, ok := queryInt(w, r, "depth", 10)
	if !ok {
		return
	}

	book, err := h.stockSvc.GetBook(chi.URLParam(r, "code"), depth)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	resp := bookResponse{
		StockCode:      book.StockCode,
		Bids:           buildLevels(book.Bids),
		Asks:           buildLevels(book.Asks),
		MarketBuyQty:   book.MarketBuyQty,
		MarketSellQty:  book.MarketSellQty,
		ReferencePrice: book.ReferencePrice,
		BandFloor:      book.BandFloor,
		BandCeiling:    book.BandCeiling,
		SnapshotAt:     formatTime(book.At),
	}
	if len(book.Bids) > 0 && len(book.Asks) > 0 {
		spread := book.Asks[0].Price - book.Bids[0].Price
		resp.Spread = &spread
	}

	WriteJSON(w, http.StatusOK, resp)
}

func buildLevels(levels []engine.PriceLevel) []bookLevelResponse {
	out := make([]bookLevelResponse, len(levels))
	for i, l := range levels {
		out[i] = bookLevelResponse{
			Price:         l.Price,
			TotalQuantity: l.TotalQuantity,
			OrderCount:    l.OrderCount,
		}
	}
	return out
}

// LatestUndo handles GET /stocks/{code}/undo.
func (h *StockHandler) LatestUndo(w http.ResponseWriter, r *http.Request) {
	e, err := h.stockSvc.LatestUndo(chi.URLParam(r, "code"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildUndoEntryResponse(e))
}

// UndoLast handles POST /undo.
func (h *StockHandler) UndoLast(w http.ResponseWriter, r *http.Request) {
	res, err := h.stockSvc.UndoLast(r.Context(), callerFrom(r))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	resp := undoResponse{Undone: buildUndoEntryResponse(res.Entry)}
	if res.Stock != nil {
		s := buildStockResponse(res.Stock)
		resp.Stock = &s
	}
	WriteJSON(w, http.StatusOK, resp)
}
