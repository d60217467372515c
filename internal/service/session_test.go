package service

import (
	"context"
	"errors"
	"testing"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/journal"
)

func TestSessionService_TransitionJournalled(t *testing.T) {
	h := newHarness(t)

	st, err := h.sessionSvc.Transition(context.Background(), domain.PhaseATO)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Phase != domain.PhaseATO {
		t.Errorf("got phase %q, want ato", st.Phase)
	}
	if _, err := h.sessionSvc.Transition(context.Background(), domain.PhaseClosed); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("got error %v, want ErrInvalidTransition", err)
	}

	entries, err := h.journal.List(journal.Filter{Type: journal.TypePhaseChanged}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d phase entries, want 1", len(entries))
	}
	if entries[0].Detail["from"] != "pre_open" || entries[0].Detail["to"] != "ato" {
		t.Errorf("got detail %v, want pre_open -> ato", entries[0].Detail)
	}
}

func TestSessionService_SetModeJournalled(t *testing.T) {
	h := newHarness(t)

	st, err := h.sessionSvc.SetMode(domain.ModeAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Mode != domain.ModeAuto || st.Phase != domain.PhasePreOpen {
		t.Errorf("got %+v, want auto mode in pre_open", st)
	}
	if _, err := h.sessionSvc.Transition(context.Background(), domain.PhaseATO); !errors.Is(err, domain.ErrSessionAutoMode) {
		t.Errorf("got error %v, want ErrSessionAutoMode", err)
	}

	got := journalTypes(t, h.journal, journal.Filter{Type: journal.TypeModeChanged})
	if len(got) != 1 {
		t.Errorf("got %d mode entries, want 1", len(got))
	}
}

func TestTriggerCallAuction(t *testing.T) {
	h := newHarness(t)
	h.listStock(t, "ABC", 10000, 1_000_000)
	h.open(t, "buyer", 10_000_000)
	h.open(t, "seller", 0, HoldingInput{StockCode: "ABC", Quantity: 1000})

	if _, err := h.sessionSvc.TriggerCallAuction(context.Background(), staff, domain.PhaseContinuous); domain.KindOf(err) != domain.KindValidation {
		t.Errorf("got %v, want validation error", err)
	}
	if _, err := h.sessionSvc.TriggerCallAuction(context.Background(), staff, domain.PhaseATO); !errors.Is(err, domain.ErrPhaseDisallows) {
		t.Errorf("got error %v, want ErrPhaseDisallows outside the ATO window", err)
	}

	h.advance(t, domain.PhaseATO)
	h.place(t, "buyer", domain.OrderSideBuy, domain.OrderTypeLimit, ptr(int64(10000)), 100)
	h.place(t, "seller", domain.OrderSideSell, domain.OrderTypeLimit, ptr(int64(10000)), 100)

	results, err := h.sessionSvc.TriggerCallAuction(context.Background(), staff, domain.PhaseATO)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Price != 10000 || results[0].MatchedVolume != 100 {
		t.Fatalf("got %+v, want one clearing of 100 at 10000", results)
	}

	entries, err := h.journal.List(journal.Filter{Type: journal.TypeAuctionCleared}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].StockCode != "ABC" || entries[0].Detail["volume"] != "100" {
		t.Errorf("got %+v, want one ABC clearing of 100", entries)
	}
	if entries[0].Actor != "staff" {
		t.Errorf("got actor %q, want staff", entries[0].Actor)
	}

	if q := holdingOf(h.balance(t, "buyer"), "ABC").Quantity; q != 100 {
		t.Errorf("got buyer ABC %d, want 100", q)
	}
}

func TestTriggerContinuousSweep(t *testing.T) {
	h := newHarness(t)
	if _, err := h.sessionSvc.TriggerContinuousSweep(context.Background()); !errors.Is(err, domain.ErrPhaseDisallows) {
		t.Errorf("got error %v, want ErrPhaseDisallows", err)
	}

	h.toContinuous(t)
	n, err := h.sessionSvc.TriggerContinuousSweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("got %d fills on an empty market, want 0", n)
	}
}
