package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/minibourse/internal/distribution"
	"github.com/efreitasn/minibourse/internal/domain"
)

type allocationInput struct {
	InvestorID string `json:"investor_id"`
	AccountID  string `json:"account_id"`
	Quantity   int64  `json:"quantity"`
	Price      int64  `json:"price"`
}

type distributeRequest struct {
	Allocations []allocationInput `json:"allocations"`
}

type updateAllocationRequest struct {
	Quantity int64 `json:"quantity"`
}

type allocationResponse struct {
	ID         string `json:"id"`
	StockCode  string `json:"stock_code"`
	InvestorID string `json:"investor_id"`
	AccountID  string `json:"account_id"`
	Quantity   int64  `json:"quantity"`
	Price      int64  `json:"price"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type allocationListResponse struct {
	Allocations []allocationResponse `json:"allocations"`
}

func buildAllocationResponse(a *domain.Allocation) allocationResponse {
	return allocationResponse{
		ID:         a.ID,
		StockCode:  a.StockCode,
		InvestorID: a.InvestorID,
		AccountID:  a.AccountID,
		Quantity:   a.Quantity,
		Price:      a.Price,
		CreatedAt:  formatTime(a.CreatedAt),
		UpdatedAt:  formatTime(a.UpdatedAt),
	}
}

func buildAllocationList(as []*domain.Allocation) allocationListResponse {
	resp := allocationListResponse{Allocations: make([]allocationResponse, len(as))}
	for i, a := range as {
		resp.Allocations[i] = buildAllocationResponse(a)
	}
	return resp
}

// Distribute handles POST /stocks/{code}/distributions.
func (h *StockHandler) Distribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	reqs := make([]distribution.AllocationRequest, len(req.Allocations))
	for i, a := range req.Allocations {
		reqs[i] = distribution.AllocationRequest{
			InvestorID: a.InvestorID,
			AccountID:  a.AccountID,
			Quantity:   a.Quantity,
			Price:      a.Price,
		}
	}

	allocs, err := h.stockSvc.Distribute(callerFrom(r), chi.URLParam(r, "code"), reqs)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, buildAllocationList(allocs))
}

// Distributions handles GET /stocks/{code}/distributions.
func (h *StockHandler) Distributions(w http.ResponseWriter, r *http.Request) {
	allocs, err := h.stockSvc.Distributions(chi.URLParam(r, "code"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildAllocationList(allocs))
}

// UpdateDistribution handles PATCH /distributions/{id}.
func (h *StockHandler) UpdateDistribution(w http.ResponseWriter, r *http.Request) {
	var req updateAllocationRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	a, err := h.stockSvc.UpdateDistribution(callerFrom(r), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildAllocationResponse(a))
}

// RevokeDistribution handles DELETE /distributions/{id}.
func (h *StockHandler) RevokeDistribution(w http.ResponseWriter, r *http.Request) {
	a, err := h.stockSvc.RevokeDistribution(callerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildAllocationResponse(a))
}
