// Package session owns the market session state machine. The phase is only
// reachable through Read, State and the transition operations; order
// operations run inside Read so the phase cannot change under them.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/engine"
)

// Source identifies who asked for a transition or trigger.
type Source string

const (
	SourceManual    Source = "manual"
	SourceScheduler Source = "scheduler"
)

// successor is the only legal next phase of each phase. Closed rolls over
// into the next trading day.
var successor = map[domain.Phase]domain.Phase{
	domain.PhasePreOpen:    domain.PhaseATO,
	domain.PhaseATO:        domain.PhaseContinuous,
	domain.PhaseContinuous: domain.PhaseATC,
	domain.PhaseATC:        domain.PhaseClosed,
	domain.PhaseClosed:     domain.PhasePreOpen,
}

// Next returns the phase that follows p.
func Next(p domain.Phase) domain.Phase {
	return successor[p]
}

// Hooks is the book-wide work the controller runs while it holds the
// session exclusively. *engine.Engine implements it.
type Hooks interface {
	OnPhaseEnter(ctx context.Context, from, to domain.Phase) error
	RunAuctions(ctx context.Context, phase domain.Phase) ([]engine.AuctionResult, error)
	SweepAll(ctx context.Context) (int, error)
}

// Observer is told about every committed phase or mode change, after the
// session lock is released.
type Observer interface {
	SessionChanged(prev, next domain.SessionState)
}

// Controller is the process-wide session state machine.
type Controller struct {
	mu        sync.RWMutex        // write-held while a transition or trigger runs
	busy      sync.Mutex          // at most one transition or trigger in flight
	state     domain.SessionState // Mode is kept in mode
	modeMu    sync.Mutex          // acquired after mu, never before
	mode      domain.Mode
	hooks     Hooks
	observers []Observer
	now       func() time.Time
}

// NewController starts the session in pre_open of day 1.
func NewController(mode domain.Mode, hooks Hooks, observers ...Observer) *Controller {
	c := &Controller{
		mode:      mode,
		hooks:     hooks,
		observers: observers,
		now:       time.Now,
	}
	c.state = domain.SessionState{
		Phase:     domain.PhasePreOpen,
		Day:       1,
		EnteredAt: c.now(),
	}
	return c
}

// State returns the current session state.
func (c *Controller) State() domain.SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot()
}

// snapshot returns the state with the current mode. The caller must hold
// c.mu.
func (c *Controller) snapshot() domain.SessionState {
	c.modeMu.Lock()
	defer c.modeMu.Unlock()
	st := c.state
	st.Mode = c.mode
	return st
}

// Read runs fn with a consistent view of the session. The phase cannot
// change until fn returns. While a transition or trigger holds the session
// the read is refused instead of queued.
func (c *Controller) Read(fn func(domain.SessionState) error) error {
	if !c.mu.TryRLock() {
		return domain.ErrTransitionInProgress
	}
	defer c.mu.RUnlock()
	return fn(c.snapshot())
}

// authorize checks the source against the operating mode. The caller must
// hold c.mu.
func (c *Controller) authorize(source Source) error {
	mode := c.snapshot().Mode
	switch {
	case source == SourceManual && mode == domain.ModeAuto:
		return domain.ErrSessionAutoMode
	case source == SourceScheduler && mode == domain.ModeManual:
		return domain.ErrSessionManualMode
	}
	return nil
}

// exclusive acquires the session for a transition or trigger. A second
// concurrent request is rejected with a conflict.
func (c *Controller) exclusive() (release func(), err error) {
	if !c.busy.TryLock() {
		return nil, domain.ErrTransitionInProgress
	}
	c.mu.Lock()
	return func() {
		c.mu.Unlock()
		c.busy.Unlock()
	}, nil
}

// Transition moves the session to target, which must be the immediate
// successor of the current phase. The phase-entry work runs before the new
// phase becomes visible.
func (c *Controller) Transition(ctx context.Context, target domain.Phase, source Source) (domain.SessionState, error) {
	if !target.Valid() {
		return domain.SessionState{}, &domain.ValidationError{
			Message: fmt.Sprintf("Unknown phase: %s. Must be one of: pre_open, ato, continuous, atc, closed", target),
		}
	}
	release, err := c.exclusive()
	if err != nil {
		return domain.SessionState{}, err
	}

	prev := c.snapshot()
	if err := c.authorize(source); err != nil {
		release()
		return prev, err
	}
	if successor[prev.Phase] != target {
		release()
		return prev, fmt.Errorf("%w: %s cannot follow %s", domain.ErrInvalidTransition, target, prev.Phase)
	}

	start := c.now()
	if err := c.hooks.OnPhaseEnter(ctx, prev.Phase, target); err != nil {
		// Settled fills cannot be rolled back, so the phase still advances.
		slog.Error("phase entry work failed",
			"from", string(prev.Phase), "to", string(target), "error", domain.StackTrace(err))
	}

	c.state.Phase = target
	c.state.EnteredAt = c.now()
	if target == domain.PhasePreOpen {
		c.state.Day++
	}
	next := c.snapshot()
	release()

	slog.Info("session phase changed",
		"from", string(prev.Phase), "to", string(target), "source", string(source),
		"day", next.Day, "duration", next.EnteredAt.Sub(start))
	c.notify(prev, next)
	return next, nil
}

// SetMode switches between auto and manual operation. It never changes the
// phase and is always allowed. It shares the session with order operations
// and only waits for an in-flight transition.
func (c *Controller) SetMode(mode domain.Mode) (domain.SessionState, error) {
	if !mode.Valid() {
		return domain.SessionState{}, &domain.ValidationError{Message: "mode must be 'auto' or 'manual'"}
	}
	c.mu.RLock()
	c.modeMu.Lock()
	prev := c.state
	prev.Mode = c.mode
	c.mode = mode
	next := prev
	next.Mode = mode
	c.modeMu.Unlock()
	c.mu.RUnlock()

	if prev.Mode != next.Mode {
		slog.Info("session mode changed", "from", string(prev.Mode), "to", string(next.Mode))
		c.notify(prev, next)
	}
	return next, nil
}

// TriggerCallAuction reruns the call auction of the current ATO or ATC
// window over every listed stock.
func (c *Controller) TriggerCallAuction(ctx context.Context, phase domain.Phase, source Source) ([]engine.AuctionResult, error) {
	release, err := c.exclusive()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := c.authorize(source); err != nil {
		return nil, err
	}
	if (phase != domain.PhaseATO && phase != domain.PhaseATC) || phase != c.state.Phase {
		return nil, fmt.Errorf("%w: no %s auction during %s", domain.ErrPhaseDisallows, phase, c.state.Phase)
	}
	return c.hooks.RunAuctions(ctx, phase)
}

// TriggerContinuousSweep matches any crossed books during continuous
// trading and returns the number of fills.
func (c *Controller) TriggerContinuousSweep(ctx context.Context, source Source) (int, error) {
	release, err := c.exclusive()
	if err != nil {
		return 0, err
	}
	defer release()

	if err := c.authorize(source); err != nil {
		return 0, err
	}
	if c.state.Phase != domain.PhaseContinuous {
		return 0, fmt.Errorf("%w: sweep requires continuous, market is %s", domain.ErrPhaseDisallows, c.state.Phase)
	}
	return c.hooks.SweepAll(ctx)
}

func (c *Controller) notify(prev, next domain.SessionState) {
	for _, o := range c.observers {
		o.SessionChanged(prev, next)
	}
}
