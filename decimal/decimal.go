// Package decimal provides the single arbitrary-precision decimal
// discipline used by every amount that passes through the broker
// engine: addition, subtraction, comparison and floor-rounding, always
// rounding down to an asset's declared number of decimals.
package decimal

import (
	"github.com/shopspring/decimal"
)

// D is the engine-wide decimal value. It is a thin alias over
// shopspring/decimal so call sites never reach for float64 math on
// monetary amounts.
type D = decimal.Decimal

// Zero is the additive identity.
var Zero = decimal.Zero

// Parse parses a base-10 string amount. Invalid input is a caller bug
// (amounts are validated at the deal-creation boundary, outside the
// core), so callers that can't tolerate an error should use MustParse.
func Parse(s string) (D, error) {
	return decimal.NewFromString(s)
}

// MustParse parses s and panics on failure. Only safe for literals and
// values already validated upstream.
func MustParse(s string) D {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic("decimal: invalid literal " + s)
	}
	return d
}

// Add returns a+b.
func Add(a, b D) D { return a.Add(b) }

// Sub returns a-b.
func Sub(a, b D) D { return a.Sub(b) }

// Cmp returns -1, 0 or 1 as a is less than, equal to, or greater than b.
func Cmp(a, b D) int { return a.Cmp(b) }

// GTE reports whether a >= b.
func GTE(a, b D) bool { return a.Cmp(b) >= 0 }

// GT reports whether a > b.
func GT(a, b D) bool { return a.Cmp(b) > 0 }

// LTE reports whether a <= b.
func LTE(a, b D) bool { return a.Cmp(b) <= 0 }

// IsZero reports whether d is exactly zero.
func IsZero(d D) bool { return d.IsZero() }

// IsPositive reports whether d > 0.
func IsPositive(d D) bool { return d.IsPositive() }

// Floor rounds d down (toward negative infinity, but every amount in
// this engine is non-negative so this is truncation) to decimals
// places. This is the ONLY rounding discipline the engine uses — never
// round-half-up, never round-to-even. Commission, surplus and
// gas-reimbursement amounts all pass through here before being
// persisted or enqueued.
func Floor(d D, decimals int32) D {
	return d.Truncate(decimals)
}

// Max returns the greater of a and b.
func Max(a, b D) D {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// MaxZero returns max(0, d) — used by the surplus calculation, which
// must never go negative.
func MaxZero(d D) D {
	return Max(d, Zero)
}

// String renders d in plain decimal form (no exponent notation),
// suitable for persistence and logging.
func String(d D) string { return d.String() }
