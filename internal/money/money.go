// Package money handles whole-unit amounts. Balances carry no minor units.
package money

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrOverflow      = errors.New("amount overflows")
)

// ParseAmount parses a positive whole amount. Thousands may be grouped with
// ',', '.', '_' or spaces, e.g. "1.000.000" or "1,000,000".
func ParseAmount(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	trimmed = strings.TrimPrefix(trimmed, "+")

	var digits strings.Builder
	group := -1
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		switch {
		case c >= '0' && c <= '9':
			digits.WriteByte(c)
			if group >= 0 {
				group++
			}
		case c == ',' || c == '.' || c == '_' || c == ' ':
			if digits.Len() == 0 || (group >= 0 && group != 3) {
				return 0, ErrInvalidAmount
			}
			group = 0
		default:
			return 0, ErrInvalidAmount
		}
	}
	if group >= 0 && group != 3 {
		return 0, ErrInvalidAmount
	}
	value, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if value <= 0 {
		return 0, ErrInvalidAmount
	}
	return value, nil
}

// Add returns a+b, failing instead of wrapping around.
func Add(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Abs returns |v| for any v other than math.MinInt64.
func Abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
