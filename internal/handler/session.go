package handler

import (
	"net/http"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/service"
)

// SessionHandler handles HTTP requests for the market session.
type SessionHandler struct {
	sessionSvc *service.SessionService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionSvc *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionSvc: sessionSvc}
}

type sessionResponse struct {
	Phase     string `json:"phase"`
	Mode      string `json:"mode"`
	Day       int    `json:"day"`
	EnteredAt string `json:"entered_at"`
}

type transitionRequest struct {
	Phase string `json:"phase"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type auctionRequest struct {
	Phase string `json:"phase"`
}

type auctionResultResponse struct {
	StockCode     string `json:"stock_code"`
	Phase         string `json:"phase"`
	Price         int64  `json:"price"`
	MatchedVolume int64  `json:"matched_volume"`
	Imbalance     int64  `json:"imbalance"`
	Trades        int    `json:"trades"`
}

type auctionResponse struct {
	Results []auctionResultResponse `json:"results"`
}

type sweepResponse struct {
	Fills int `json:"fills"`
}

func buildSessionResponse(st domain.SessionState) sessionResponse {
	return sessionResponse{
		Phase:     string(st.Phase),
		Mode:      string(st.Mode),
		Day:       st.Day,
		EnteredAt: formatTime(st.EnteredAt),
	}
}

// State handles GET /session.
func (h *SessionHandler) State(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, buildSessionResponse(h.sessionSvc.State()))
}

// Transition handles POST /session/transition.
func (h *SessionHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	st, err := h.sessionSvc.Transition(r.Context(), domain.Phase(req.Phase))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildSessionResponse(st))
}

// SetMode handles PUT /session/mode.
func (h *SessionHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	st, err := h.sessionSvc.SetMode(domain.Mode(req.Mode))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildSessionResponse(st))
}

// TriggerAuction handles POST /session/auction.
func (h *SessionHandler) TriggerAuction(w http.ResponseWriter, r *http.Request) {
	var req auctionRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	results, err := h.sessionSvc.TriggerCallAuction(r.Context(), callerFrom(r), domain.Phase(req.Phase))
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}

	resp := auctionResponse{Results: make([]auctionResultResponse, len(results))}
	for i, res := range results {
		resp.Results[i] = auctionResultResponse{
			StockCode:     res.StockCode,
			Phase:         string(res.Phase),
			Price:         res.Price,
			MatchedVolume: res.MatchedVolume,
			Imbalance:     res.Imbalance,
			Trades:        res.Trades,
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// TriggerSweep handles POST /session/sweep.
func (h *SessionHandler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.sessionSvc.TriggerContinuousSweep(r.Context())
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, sweepResponse{Fills: n})
}
