package service

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/engine"
	"github.com/efreitasn/minibourse/internal/journal"
	"github.com/efreitasn/minibourse/internal/session"
	"github.com/efreitasn/minibourse/internal/undo"
)

// SessionService exposes the session controller to operators. Every
// administrative call is a manual-source request.
type SessionService struct {
	controller *session.Controller
	auditor    undo.Auditor
}

// NewSessionService creates a new SessionService. auditor may be nil.
func NewSessionService(controller *session.Controller, auditor undo.Auditor) *SessionService {
	return &SessionService{controller: controller, auditor: auditor}
}

// State returns the current session state.
func (s *SessionService) State() domain.SessionState {
	return s.controller.State()
}

// Transition advances the session to target.
func (s *SessionService) Transition(ctx context.Context, target domain.Phase) (domain.SessionState, error) {
	return s.controller.Transition(ctx, target, session.SourceManual)
}

// SetMode switches the session between auto and manual operation.
func (s *SessionService) SetMode(mode domain.Mode) (domain.SessionState, error) {
	return s.controller.SetMode(mode)
}

// TriggerCallAuction reruns the call auction of the current ATO or ATC
// phase and journals each clearing.
func (s *SessionService) TriggerCallAuction(ctx context.Context, caller domain.Caller, phase domain.Phase) ([]engine.AuctionResult, error) {
	if phase != domain.PhaseATO && phase != domain.PhaseATC {
		return nil, &domain.ValidationError{Message: "phase must be 'ato' or 'atc'"}
	}
	results, err := s.controller.TriggerCallAuction(ctx, phase, session.SourceManual)
	if err != nil {
		return nil, err
	}

	for _, r := range results {
		if r.MatchedVolume == 0 || s.auditor == nil {
			continue
		}
		_, err := s.auditor.Append(journal.Entry{
			Type:      journal.TypeAuctionCleared,
			StockCode: r.StockCode,
			Actor:     caller.Name(),
			Detail: map[string]string{
				"phase":  string(r.Phase),
				"price":  strconv.FormatInt(r.Price, 10),
				"volume": strconv.FormatInt(r.MatchedVolume, 10),
			},
		})
		if err != nil {
			slog.Error("failed to journal auction", "stock", r.StockCode, "error", err)
		}
	}
	return results, nil
}

// TriggerContinuousSweep matches crossed books and returns the fill count.
func (s *SessionService) TriggerContinuousSweep(ctx context.Context) (int, error) {
	return s.controller.TriggerContinuousSweep(ctx, session.SourceManual)
}
