package domain

import (
	"fmt"
	"math"
)

const (
	// LotSize is the minimum tradable unit of shares.
	LotSize int64 = 100
	// TickSize is the minimum price increment in currency units.
	TickSize int64 = 100

	// MaxQuantity and MaxPrice bound single inputs. A price×quantity
	// product of in-range values, even at a band ceiling above MaxPrice,
	// fits in an int64.
	MaxQuantity int64 = 1_000_000_000
	MaxPrice    int64 = 1_000_000_000

	// MaxCash bounds an account's opening cash, leaving room for proceeds.
	MaxCash int64 = 1_000_000_000_000_000
)

// ValidateQuantity checks the lot rule: positive, a multiple of LotSize
// and at most MaxQuantity.
func ValidateQuantity(qty int64) error {
	if qty <= 0 || qty%LotSize != 0 {
		return fmt.Errorf("%w: quantity must be a positive multiple of %d", ErrInvalidQuantity, LotSize)
	}
	if qty > MaxQuantity {
		return fmt.Errorf("%w: quantity must be at most %d", ErrInvalidQuantity, MaxQuantity)
	}
	return nil
}

// ValidatePrice checks the tick rule: positive, a multiple of TickSize and
// at most MaxPrice.
func ValidatePrice(price int64) error {
	if price <= 0 || price%TickSize != 0 {
		return fmt.Errorf("%w: price must be a positive multiple of %d", ErrInvalidPrice, TickSize)
	}
	if price > MaxPrice {
		return fmt.Errorf("%w: price must be at most %d", ErrInvalidPrice, MaxPrice)
	}
	return nil
}

// Notional returns price×qty, failing with ErrInvalidQuantity when the
// product does not fit in an int64.
func Notional(price, qty int64) (int64, error) {
	if price < 0 || qty < 0 {
		return 0, fmt.Errorf("%w: negative notional operand", ErrInvalidQuantity)
	}
	if price != 0 && qty > math.MaxInt64/price {
		return 0, fmt.Errorf("%w: %d × %d overflows", ErrInvalidQuantity, qty, price)
	}
	return price * qty, nil
}

// AddQuantity returns a+b, failing with ErrInvalidQuantity on overflow.
// Both operands must be non-negative.
func AddQuantity(a, b int64) (int64, error) {
	if a < 0 || b < 0 || a > math.MaxInt64-b {
		return 0, fmt.Errorf("%w: %d + %d overflows", ErrInvalidQuantity, a, b)
	}
	return a + b, nil
}

// ValidateOrderPrice enforces the order-type/price combination: LO carries
// a tick-valid price, ATO and ATC carry none.
func ValidateOrderPrice(t OrderType, price int64) error {
	if t.IsMarket() {
		if price != 0 {
			return fmt.Errorf("%w: %s orders must not include a price", ErrInvalidPrice, t)
		}
		return nil
	}
	return ValidatePrice(price)
}

// FloorTick rounds price down to a multiple of TickSize.
func FloorTick(price int64) int64 {
	return price - price%TickSize
}

// CeilTick rounds price up to a multiple of TickSize.
func CeilTick(price int64) int64 {
	if r := price % TickSize; r != 0 {
		return price + TickSize - r
	}
	return price
}
