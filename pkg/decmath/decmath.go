// Package decmath provides arbitrary-precision decimal arithmetic over
// canonical string values. All monetary math in the engine routes through
// this package; binary floating point never enters an arithmetic path.
package decmath

import (
	"github.com/shopspring/decimal"

	"wallet-ledger-engine/pkg/apperror"
)

// divisionPrecision is the number of fractional digits carried by Div.
// Generous on purpose: chained operations must not lose precision.
const divisionPrecision = 64

// Engine performs string-in/string-out decimal arithmetic.
type Engine struct{}

// New creates a decimal math engine.
func New() *Engine {
	return &Engine{}
}

func parse(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, apperror.ErrNumberFormat(value)
	}
	return d, nil
}

func parsePair(a, b string) (decimal.Decimal, decimal.Decimal, error) {
	da, err := parse(a)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	db, err := parse(b)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return da, db, nil
}

// Add returns a + b.
func (e *Engine) Add(a, b string) (string, error) {
	da, db, err := parsePair(a, b)
	if err != nil {
		return "", err
	}
	return da.Add(db).String(), nil
}

// Sub returns a - b.
func (e *Engine) Sub(a, b string) (string, error) {
	da, db, err := parsePair(a, b)
	if err != nil {
		return "", err
	}
	return da.Sub(db).String(), nil
}

// Mul returns a * b.
func (e *Engine) Mul(a, b string) (string, error) {
	da, db, err := parsePair(a, b)
	if err != nil {
		return "", err
	}
	return da.Mul(db).String(), nil
}

// Div returns a / b carrying the default division precision.
func (e *Engine) Div(a, b string) (string, error) {
	return e.DivWithScale(a, b, divisionPrecision)
}

// DivWithScale returns a / b truncated toward zero at the given number of
// fractional digits. Division never rounds; digits beyond the scale are
// dropped.
func (e *Engine) DivWithScale(a, b string, scale int32) (string, error) {
	da, db, err := parsePair(a, b)
	if err != nil {
		return "", err
	}
	q, _ := da.QuoRem(db, scale)
	return q.String(), nil
}

// Pow returns a raised to the given exponent.
func (e *Engine) Pow(a, exp string) (string, error) {
	da, dexp, err := parsePair(a, exp)
	if err != nil {
		return "", err
	}
	return da.Pow(dexp).String(), nil
}

// Abs returns the absolute value of a.
func (e *Engine) Abs(a string) (string, error) {
	da, err := parse(a)
	if err != nil {
		return "", err
	}
	return da.Abs().String(), nil
}

// Negate returns -a.
func (e *Engine) Negate(a string) (string, error) {
	da, err := parse(a)
	if err != nil {
		return "", err
	}
	return da.Neg().String(), nil
}

// Compare returns -1 when a < b, 0 when a == b and 1 when a > b.
func (e *Engine) Compare(a, b string) (int, error) {
	da, db, err := parsePair(a, b)
	if err != nil {
		return 0, err
	}
	return da.Cmp(db), nil
}

// Ceil rounds a up to the nearest integer.
func (e *Engine) Ceil(a string) (string, error) {
	da, err := parse(a)
	if err != nil {
		return "", err
	}
	return da.Ceil().String(), nil
}

// Floor rounds a down to the nearest integer.
func (e *Engine) Floor(a string) (string, error) {
	da, err := parse(a)
	if err != nil {
		return "", err
	}
	return da.Floor().String(), nil
}

// Round rounds a half-up to the given number of fractional digits.
func (e *Engine) Round(a string, places int32) (string, error) {
	da, err := parse(a)
	if err != nil {
		return "", err
	}
	return da.Round(places).String(), nil
}

// ToScaledInteger converts a decimal value into its fixed-point integer
// representation scaled by 10^decimalPlaces. Excess fractional digits are
// rounded half-up.
func (e *Engine) ToScaledInteger(value string, decimalPlaces int32) (string, error) {
	d, err := parse(value)
	if err != nil {
		return "", err
	}
	return d.Shift(decimalPlaces).Round(0).String(), nil
}

// ToDecimalString converts a fixed-point integer back into a decimal string
// with exactly decimalPlaces fractional digits.
func (e *Engine) ToDecimalString(scaled string, decimalPlaces int32) (string, error) {
	d, err := parse(scaled)
	if err != nil {
		return "", err
	}
	return d.Shift(-decimalPlaces).StringFixed(decimalPlaces), nil
}
