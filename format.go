package proofflow

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// FormatTokenAmount renders a base-unit amount in whole tokens, rounded to
// four decimal places.
func FormatTokenAmount(v *big.Int, decimals uint8) string {
	return decimal.NewFromBigInt(orZero(v), -int32(decimals)).Round(4).String()
}

// ParseTokenAmount parses a whole-token amount such as "1.5" into base units.
func ParseTokenAmount(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	units := d.Shift(int32(decimals))
	if !units.IsInteger() {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", ErrInvalidAmount, s, decimals)
	}
	return units.BigInt(), nil
}
