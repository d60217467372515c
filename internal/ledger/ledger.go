// Package ledger owns the cash and share balances of every account. All
// mutations lock the affected accounts, validate first and then apply, so
// a failed call leaves every balance untouched.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/store"
)

// Fill describes one execution to settle between a buyer and a seller.
// ReservePrice is the per-share cash the buy order reserved at placement.
type Fill struct {
	StockCode    string
	BuyerID      string
	SellerID     string
	Price        int64
	Quantity     int64
	ReservePrice int64
}

// Ledger applies atomic reserve, release, settle, credit and debit
// operations on top of the account store.
type Ledger struct {
	accounts *store.AccountStore
	now      func() time.Time
}

// New creates a Ledger over accounts.
func New(accounts *store.AccountStore) *Ledger {
	return &Ledger{accounts: accounts, now: time.Now}
}

// withAccount runs fn with the account's lock held.
func (l *Ledger) withAccount(accountID string, fn func(a *domain.Account) error) error {
	a, err := l.accounts.Get(accountID)
	if err != nil {
		return err
	}
	a.Mu.Lock()
	defer a.Mu.Unlock()

	if err := fn(a); err != nil {
		return err
	}
	a.UpdatedAt = l.now()
	return nil
}

// ReserveCash moves amount from available to reserved cash.
func (l *Ledger) ReserveCash(accountID string, amount int64) error {
	return l.withAccount(accountID, func(a *domain.Account) error {
		if a.AvailableCash() < amount {
			return fmt.Errorf("%w: need %d, available %d", domain.ErrInsufficientFunds, amount, a.AvailableCash())
		}
		a.ReservedCash += amount
		return nil
	})
}

// ReleaseCash returns amount of reserved cash to available.
func (l *Ledger) ReleaseCash(accountID string, amount int64) error {
	return l.withAccount(accountID, func(a *domain.Account) error {
		if a.ReservedCash < amount {
			return domain.SystemError(fmt.Errorf("release %d exceeds reserved cash %d of %s", amount, a.ReservedCash, accountID))
		}
		a.ReservedCash -= amount
		return nil
	})
}

// ReserveShares moves qty shares of code from available to reserved.
func (l *Ledger) ReserveShares(accountID, code string, qty int64) error {
	return l.withAccount(accountID, func(a *domain.Account) error {
		if a.AvailableQuantity(code) < qty {
			return fmt.Errorf("%w: need %d %s, available %d", domain.ErrInsufficientShares, qty, code, a.AvailableQuantity(code))
		}
		a.Holding(code).ReservedQuantity += qty
		return nil
	})
}

// ReleaseShares returns qty reserved shares of code to available.
func (l *Ledger) ReleaseShares(accountID, code string, qty int64) error {
	return l.withAccount(accountID, func(a *domain.Account) error {
		h := a.Holdings[code]
		if h == nil || h.ReservedQuantity < qty {
			return domain.SystemError(fmt.Errorf("release %d %s exceeds reserved shares of %s", qty, code, accountID))
		}
		h.ReservedQuantity -= qty
		return nil
	})
}

// CreditShares adds qty shares of code to the account's holdings.
func (l *Ledger) CreditShares(accountID, code string, qty int64) error {
	return l.withAccount(accountID, func(a *domain.Account) error {
		a.Holding(code).Quantity += qty
		return nil
	})
}

// DebitShares removes qty available shares of code from the account.
func (l *Ledger) DebitShares(accountID, code string, qty int64) error {
	return l.withAccount(accountID, func(a *domain.Account) error {
		if a.AvailableQuantity(code) < qty {
			return fmt.Errorf("%w: need %d %s, available %d", domain.ErrInsufficientShares, qty, code, a.AvailableQuantity(code))
		}
		a.Holdings[code].Quantity -= qty
		return nil
	})
}

// Settle applies one fill: the buyer pays Price×Quantity out of the
// reservation taken at ReservePrice and receives the shares, the seller
// gives up reserved shares and receives the cash. Both accounts are locked
// in ascending id order for the whole update.
func (l *Ledger) Settle(f Fill) error {
	buyer, err := l.accounts.Get(f.BuyerID)
	if err != nil {
		return err
	}
	seller, err := l.accounts.Get(f.SellerID)
	if err != nil {
		return err
	}

	unlock := lockPair(buyer, seller)
	defer unlock()

	cost := f.Price * f.Quantity
	release := f.ReservePrice * f.Quantity
	if buyer.ReservedCash < release || buyer.CashBalance < cost {
		return fmt.Errorf("buyer %s cannot cover %d (reserved %d)", f.BuyerID, cost, buyer.ReservedCash)
	}
	sh := seller.Holdings[f.StockCode]
	if sh == nil || sh.ReservedQuantity < f.Quantity {
		return fmt.Errorf("seller %s has not reserved %d %s", f.SellerID, f.Quantity, f.StockCode)
	}

	now := l.now()
	buyer.CashBalance -= cost
	buyer.ReservedCash -= release
	sh.Quantity -= f.Quantity
	sh.ReservedQuantity -= f.Quantity
	buyer.Holding(f.StockCode).Quantity += f.Quantity
	seller.CashBalance += cost
	buyer.UpdatedAt = now
	seller.UpdatedAt = now
	return nil
}

// lockPair locks a and b in ascending account id order and returns the
// matching unlock. A self-trade locks the account once.
func lockPair(a, b *domain.Account) func() {
	if a == b {
		a.Mu.Lock()
		return a.Mu.Unlock
	}
	first, second := a, b
	if second.AccountID < first.AccountID {
		first, second = second, first
	}
	first.Mu.Lock()
	second.Mu.Lock()
	return func() {
		second.Mu.Unlock()
		first.Mu.Unlock()
	}
}

// AdjustShares applies signed share deltas for code to several accounts at
// once. Every account is looked up and every debit checked against
// available shares before anything changes.
func (l *Ledger) AdjustShares(code string, deltas map[string]int64) error {
	ids := make([]string, 0, len(deltas))
	for id, d := range deltas {
		if d != 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	accounts := make([]*domain.Account, len(ids))
	for i, id := range ids {
		a, err := l.accounts.Get(id)
		if err != nil {
			return err
		}
		accounts[i] = a
	}

	for _, a := range accounts {
		a.Mu.Lock()
		defer a.Mu.Unlock()
	}

	for _, a := range accounts {
		if d := deltas[a.AccountID]; d < 0 && a.AvailableQuantity(code) < -d {
			return fmt.Errorf("%w: %s holds %d %s available, %d to return",
				domain.ErrInsufficientShares, a.AccountID, a.AvailableQuantity(code), code, -d)
		}
	}

	now := l.now()
	for _, a := range accounts {
		a.Holding(code).Quantity += deltas[a.AccountID]
		a.UpdatedAt = now
	}
	return nil
}

// Balance is a point-in-time copy of an account's balances.
type Balance struct {
	AccountID     string
	CashBalance   int64
	ReservedCash  int64
	AvailableCash int64
	Holdings      map[string]domain.Holding
	UpdatedAt     time.Time
}

// Balance returns a consistent snapshot of the account.
func (l *Ledger) Balance(accountID string) (Balance, error) {
	a, err := l.accounts.Get(accountID)
	if err != nil {
		return Balance{}, err
	}
	a.Mu.Lock()
	defer a.Mu.Unlock()

	b := Balance{
		AccountID:     a.AccountID,
		CashBalance:   a.CashBalance,
		ReservedCash:  a.ReservedCash,
		AvailableCash: a.AvailableCash(),
		Holdings:      make(map[string]domain.Holding, len(a.Holdings)),
		UpdatedAt:     a.UpdatedAt,
	}
	for code, h := range a.Holdings {
		b.Holdings[code] = *h
	}
	return b, nil
}
