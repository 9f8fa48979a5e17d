package utils

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrTooManyDecimal = errors.New("amount has more decimal places than the asset")
)

// ToMinorUnits converts a human-readable amount such as "12.5" into the
// integer minor units of an asset with the given decimals.
func ToMinorUnits(amount string, decimals uint8) (sdkmath.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if d.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("%w: negative amount %q", ErrInvalidAmount, amount)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return sdkmath.Int{}, fmt.Errorf("%w: %q with %d decimals", ErrTooManyDecimal, amount, decimals)
	}
	return sdkmath.NewIntFromBigInt(scaled.BigInt()), nil
}

// FromMinorUnits formats minor units for display, trimming trailing zeros.
func FromMinorUnits(amount sdkmath.Int, decimals uint8) string {
	if amount.IsNil() {
		return "0"
	}
	return decimal.NewFromBigInt(amount.BigInt(), -int32(decimals)).String()
}

// ParseMinorUnits parses a base-10 integer amount as sent by API clients.
func ParseMinorUnits(s string) (sdkmath.Int, error) {
	if s == "" {
		return sdkmath.ZeroInt(), nil
	}
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if v.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("%w: negative amount %q", ErrInvalidAmount, s)
	}
	return v, nil
}
