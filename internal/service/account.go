package service

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/ledger"
	"github.com/efreitasn/minibourse/internal/store"
)

var (
	accountIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	stockCodeRegex = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)
)

// OpenAccountRequest represents the input for opening a trading account.
type OpenAccountRequest struct {
	AccountID       string
	InitialCash     int64
	InitialHoldings []HoldingInput
}

// HoldingInput represents a single holding in an account opening request.
type HoldingInput struct {
	StockCode string
	Quantity  int64
}

// BalanceResponse represents the response for the account balance endpoint.
type BalanceResponse struct {
	AccountID     string
	CashBalance   int64
	ReservedCash  int64
	AvailableCash int64
	Holdings      []HoldingBalance
	UpdatedAt     time.Time
}

// HoldingBalance represents a single holding in the balance response.
type HoldingBalance struct {
	StockCode         string
	Quantity          int64
	ReservedQuantity  int64
	AvailableQuantity int64
}

// AccountService opens accounts and answers balance queries. It stands in
// for the party-management collaborator that funds accounts.
type AccountService struct {
	store  *store.AccountStore
	ledger *ledger.Ledger
}

// NewAccountService creates a new AccountService.
func NewAccountService(accounts *store.AccountStore, l *ledger.Ledger) *AccountService {
	return &AccountService{store: accounts, ledger: l}
}

// Open validates the request and creates a funded account.
func (s *AccountService) Open(req OpenAccountRequest) (*domain.Account, error) {
	if !accountIDRegex.MatchString(req.AccountID) {
		return nil, &domain.ValidationError{
			Message: "account_id must match ^[a-zA-Z0-9_-]{1,64}$",
		}
	}
	if req.InitialCash < 0 || req.InitialCash > domain.MaxCash {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("initial_cash must be between 0 and %d", domain.MaxCash),
		}
	}

	seen := make(map[string]bool)
	for _, h := range req.InitialHoldings {
		if !stockCodeRegex.MatchString(h.StockCode) {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("holding stock_code must match ^[A-Z0-9]{1,10}$, got %q", h.StockCode),
			}
		}
		if err := domain.ValidateQuantity(h.Quantity); err != nil {
			return nil, fmt.Errorf("holding %s: %w", h.StockCode, err)
		}
		if seen[h.StockCode] {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("duplicate stock_code in initial_holdings: %s", h.StockCode),
			}
		}
		seen[h.StockCode] = true
	}

	holdings := make(map[string]*domain.Holding, len(req.InitialHoldings))
	for _, h := range req.InitialHoldings {
		holdings[h.StockCode] = &domain.Holding{Quantity: h.Quantity}
	}

	now := time.Now()
	account := &domain.Account{
		AccountID:   req.AccountID,
		CashBalance: req.InitialCash,
		Holdings:    holdings,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(account); err != nil {
		return nil, err
	}
	return account, nil
}

// GetBalance returns the account's balances including reservations.
func (s *AccountService) GetBalance(caller domain.Caller, accountID string) (*BalanceResponse, error) {
	if !caller.CanAccess(accountID) {
		return nil, domain.ErrCapabilityNotPermitted
	}
	b, err := s.ledger.Balance(accountID)
	if err != nil {
		return nil, err
	}

	holdings := make([]HoldingBalance, 0, len(b.Holdings))
	for code, h := range b.Holdings {
		holdings = append(holdings, HoldingBalance{
			StockCode:         code,
			Quantity:          h.Quantity,
			ReservedQuantity:  h.ReservedQuantity,
			AvailableQuantity: h.Available(),
		})
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].StockCode < holdings[j].StockCode })

	return &BalanceResponse{
		AccountID:     b.AccountID,
		CashBalance:   b.CashBalance,
		ReservedCash:  b.ReservedCash,
		AvailableCash: b.AvailableCash,
		Holdings:      holdings,
		UpdatedAt:     b.UpdatedAt,
	}, nil
}
