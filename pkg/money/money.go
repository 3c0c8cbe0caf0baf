// Package money centralizes currency arithmetic. Amounts are persisted as
// doubles, but every computation goes through shopspring/decimal so that
// split and refund identities hold exactly after rounding to 2 places.
package money

import (
	"github.com/shopspring/decimal"
)

// Tolerance is the maximum absolute drift accepted when verifying that two
// persisted amounts sum to a third, in currency units.
const Tolerance = 0.01

const places = 2

// Round2 rounds a currency amount to 2 decimal places.
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// Add returns a + b without floating point drift.
func Add(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b)).Float64()
	return f
}

// Sub returns a - b without floating point drift.
func Sub(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Float64()
	return f
}

// Split divides a gross amount into the platform's service charge and the
// hospital's share. The charge is rounded to 2 places and the remainder is
// assigned to the hospital, so serviceCharge + hospitalAmount == amount by
// construction.
func Split(amount, rate float64) (hospitalAmount, serviceCharge float64) {
	amt := decimal.NewFromFloat(amount)
	charge := amt.Mul(decimal.NewFromFloat(rate)).Round(places)
	share := amt.Sub(charge)

	serviceCharge, _ = charge.Float64()
	hospitalAmount, _ = share.Float64()
	return hospitalAmount, serviceCharge
}

// RefundSplit reverses a partial refund proportionally to the original
// split. The service portion is rounded to 2 places and the hospital
// portion absorbs the remainder.
func RefundSplit(refundAmount, originalAmount, originalServiceCharge float64) (hospitalRefund, serviceRefund float64) {
	if originalAmount == 0 {
		return 0, 0
	}
	refund := decimal.NewFromFloat(refundAmount)
	ratio := decimal.NewFromFloat(originalServiceCharge).Div(decimal.NewFromFloat(originalAmount))
	service := refund.Mul(ratio).Round(places)
	hospital := refund.Sub(service)

	serviceRefund, _ = service.Float64()
	hospitalRefund, _ = hospital.Float64()
	return hospitalRefund, serviceRefund
}

// SumsTo reports whether a + b equals total within Tolerance.
func SumsTo(a, b, total float64) bool {
	sum := decimal.NewFromFloat(a).Add(decimal.NewFromFloat(b))
	diff := sum.Sub(decimal.NewFromFloat(total)).Abs()
	return diff.LessThanOrEqual(decimal.NewFromFloat(Tolerance))
}

// Diff returns a - b, rounded to 2 places.
func Diff(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Round(places).Float64()
	return f
}

// Equal reports whether two amounts match within Tolerance.
func Equal(a, b float64) bool {
	diff := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Abs()
	return diff.LessThanOrEqual(decimal.NewFromFloat(Tolerance))
}
