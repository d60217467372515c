package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Message: "initial_cash must be >= 0"}
	if err.Error() != "initial_cash must be >= 0" {
		t.Errorf("Error() = %q, want %q", err.Error(), "initial_cash must be >= 0")
	}
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	errs := []error{
		ErrAccountAlreadyExists,
		ErrAccountNotFound,
		ErrOrderNotFound,
		ErrOrderNotCancellable,
		ErrOrderNotModifiable,
		ErrOrderNotOwned,
		ErrInvalidQuantity,
		ErrInvalidPrice,
		ErrInsufficientFunds,
		ErrInsufficientShares,
		ErrStockNotFound,
		ErrStockNotTradable,
		ErrStockNotPending,
		ErrPhaseDisallows,
		ErrInvalidTransition,
		ErrTransitionInProgress,
		ErrNothingToUndo,
		ErrUndoStale,
		ErrDistributionExceedsIssued,
		ErrWebhookNotFound,
	}
	for i := 0; i < len(errs); i++ {
		for j := i + 1; j < len(errs); j++ {
			if errors.Is(errs[i], errs[j]) {
				t.Errorf("sentinel errors %d and %d should be distinct", i, j)
			}
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"wrapped sentinel", fmt.Errorf("%w: detail", ErrInvalidPrice), KindBadRequest},
		{"validation", &ValidationError{Message: "bad"}, KindValidation},
		{"insufficient funds", ErrInsufficientFunds, KindInsufficientFunds},
		{"plain error", errors.New("disk full"), KindSystem},
		{"system error", SystemError(errors.New("disk full")), KindSystem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUndoStale_IsRetryable(t *testing.T) {
	err := fmt.Errorf("%w: stock ABC has price history", ErrUndoStale)
	if !IsRetryable(err) {
		t.Error("stale undo must be retryable")
	}
	if IsRetryable(ErrNothingToUndo) {
		t.Error("nothing-to-undo must not be retryable")
	}
	if CodeOf(err) != "undo_stale" {
		t.Errorf("CodeOf() = %q, want undo_stale", CodeOf(err))
	}
}

func TestSystemError_CarriesStack(t *testing.T) {
	err := SystemError(errors.New("pebble: closed"))
	if !strings.Contains(StackTrace(err), "TestSystemError_CarriesStack") {
		t.Errorf("stack trace missing caller frame:\n%s", StackTrace(err))
	}
	if CodeOf(err) != "internal_error" {
		t.Errorf("CodeOf() = %q, want internal_error", CodeOf(err))
	}
}

func TestRole_Can(t *testing.T) {
	if !RoleInvestor.Can(CapTrade) {
		t.Error("investor must be able to trade")
	}
	if RoleInvestor.Can(CapManageSession) {
		t.Error("investor must not manage the session")
	}
	if !RoleStaff.Can(CapUndo) {
		t.Error("staff must be able to undo")
	}
	if !(Caller{Role: RoleStaff}).CanAccess("anyone") {
		t.Error("staff must access every account")
	}
	if (Caller{Role: RoleInvestor, AccountID: "x"}).CanAccess("y") {
		t.Error("investor must not access another account")
	}
}
