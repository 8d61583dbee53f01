// Package money handles monetary amounts as fixed-point decimal strings.
//
// Amounts are single-currency with 2 decimal places ("150.00"), stored
// internally as integer cents to avoid float drift. Stores persist them
// as NUMERIC(12,2).
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrInvalidAmount = errors.New("invalid amount")

// Parse converts a decimal string like "150", "150.5" or "150.50" into
// cents. More than 2 decimal places is rejected rather than truncated.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}

	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" && frac == "" {
		return 0, ErrInvalidAmount
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, ErrInvalidAmount
	}
	for len(frac) < 2 {
		frac += "0"
	}

	var cents int64
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0, ErrInvalidAmount
		}
		d := int64(r - '0')
		if cents > (math.MaxInt64-d)/10 {
			return 0, ErrInvalidAmount
		}
		cents = cents*10 + d
	}

	if neg {
		cents = -cents
	}
	return cents, nil
}

// MustParse is Parse for trusted inputs (constants, values already
// validated on the way in). Panics on malformed input.
func MustParse(s string) int64 {
	c, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("money: parse %q: %v", s, err))
	}
	return c
}

// Format renders cents as a 2-decimal string ("3000" -> "30.00").
func Format(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	s := fmt.Sprintf("%d.%02d", cents/100, cents%100)
	if neg {
		return "-" + s
	}
	return s
}

// Fee computes round(cents * rate) to the nearest cent, half away from
// zero. Used for settlement platform fees.
func Fee(cents int64, rate float64) int64 {
	return int64(math.Round(float64(cents) * rate))
}

// IsPositive reports whether a parsed amount is strictly positive.
func IsPositive(cents int64) bool {
	return cents > 0
}
