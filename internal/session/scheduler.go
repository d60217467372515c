package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/efreitasn/minibourse/internal/domain"
)

// Scheduler drives the session in auto mode. Each tick it advances the
// phase once the configured duration has elapsed, and sweeps crossed books
// periodically during continuous trading. A zero duration keeps the
// session in that phase until someone transitions it by hand.
type Scheduler struct {
	controller    *Controller
	interval      time.Duration
	durations     map[domain.Phase]time.Duration
	sweepInterval time.Duration
	lastSweep     time.Time
}

// NewScheduler creates a scheduler ticking every interval.
func NewScheduler(
	controller *Controller,
	interval time.Duration,
	durations map[domain.Phase]time.Duration,
	sweepInterval time.Duration,
) *Scheduler {
	return &Scheduler{
		controller:    controller,
		interval:      interval,
		durations:     durations,
		sweepInterval: sweepInterval,
	}
}

// Start launches a background goroutine that ticks at the configured
// interval. It stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				s.tick(ctx, t)
			}
		}
	}()
}

// tick performs at most one transition or one sweep.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	st := s.controller.State()
	if st.Mode != domain.ModeAuto {
		return
	}

	if d := s.durations[st.Phase]; d > 0 && now.Sub(st.EnteredAt) >= d {
		next := Next(st.Phase)
		if _, err := s.controller.Transition(ctx, next, SourceScheduler); err != nil {
			s.logSkip("transition", err)
		}
		return
	}

	if st.Phase == domain.PhaseContinuous && s.sweepInterval > 0 && now.Sub(s.lastSweep) >= s.sweepInterval {
		s.lastSweep = now
		fills, err := s.controller.TriggerContinuousSweep(ctx, SourceScheduler)
		if err != nil {
			s.logSkip("sweep", err)
			return
		}
		if fills > 0 {
			slog.Info("scheduled sweep matched orders", "fills", fills)
		}
	}
}

// logSkip logs a scheduler action that lost a race with an operator;
// anything else is an error.
func (s *Scheduler) logSkip(action string, err error) {
	if errors.Is(err, domain.ErrTransitionInProgress) || errors.Is(err, domain.ErrSessionManualMode) ||
		errors.Is(err, domain.ErrInvalidTransition) {
		slog.Debug("scheduler skipped "+action, "reason", err.Error())
		return
	}
	slog.Error("scheduler "+action+" failed", "error", err)
}
