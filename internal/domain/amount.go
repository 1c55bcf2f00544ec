package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ScaledPrecision returns 10^precision, the number of base units in one whole unit.
func ScaledPrecision(precision uint8) int64 {
	v := int64(1)
	for range precision {
		v *= 10
	}
	return v
}

// AmountFromString parses a decimal quantity into base units. The input may
// carry one leading sign and one decimal point with at most precision
// fractional digits; it must contain at least one digit.
func AmountFromString(s string, precision uint8) (int64, error) {
	if precision > MaxPrecision {
		return 0, fmt.Errorf("%w: precision %d above %d", ErrInvalidAmountFormat, precision, MaxPrecision)
	}

	body, sign := s, ""
	if body != "" && (body[0] == '-' || body[0] == '+') {
		if body[0] == '-' {
			sign = "-"
		}
		body = body[1:]
	}
	intPart, fracPart, hasPoint := strings.Cut(body, ".")
	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("%w: %q has no digits", ErrInvalidAmountFormat, s)
	}
	if !allDigits(intPart) || !allDigits(fracPart) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmountFormat, s)
	}
	if hasPoint && len(fracPart) > int(precision) {
		return 0, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidAmountFormat, s, precision)
	}

	if intPart == "" {
		intPart = "0"
	}
	normalized := sign + intPart
	if fracPart != "" {
		normalized += "." + fracPart
	}

	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidAmountFormat, s, err)
	}
	scaled := d.Shift(int32(precision))
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidAmountFormat, s)
	}
	return scaled.IntPart(), nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

// AmountToString formats base units as a decimal string. The fractional part
// is printed with exactly precision digits, or omitted when it is zero.
func AmountToString(v int64, precision uint8) string {
	d := decimal.New(v, -int32(precision))
	if precision == 0 || v%ScaledPrecision(precision) == 0 {
		return d.StringFixed(0)
	}
	return d.StringFixed(int32(precision))
}
