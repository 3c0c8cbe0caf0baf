package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name         string
		amount       float64
		rate         float64
		wantHospital float64
		wantCharge   float64
	}{
		{"default rate", 1000, 0.05, 950, 50},
		{"zero rate", 1000, 0, 1000, 0},
		{"max rate", 1000, 0.5, 500, 500},
		{"rounding", 99.99, 0.05, 94.99, 5.00},
		{"repeating", 10, 1.0 / 3.0, 6.67, 3.33},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hospital, charge := Split(tt.amount, tt.rate)
			assert.InDelta(t, tt.wantHospital, hospital, 0.001)
			assert.InDelta(t, tt.wantCharge, charge, 0.001)
			assert.True(t, SumsTo(hospital, charge, tt.amount),
				"split must sum back to the gross amount")
		})
	}
}

func TestSplit_IdentityHoldsForAwkwardAmounts(t *testing.T) {
	amounts := []float64{0.01, 0.1, 1.15, 333.33, 1234.56, 99999.99}
	rates := []float64{0.01, 0.05, 0.07, 0.125, 0.3, 0.5}
	for _, amount := range amounts {
		for _, rate := range rates {
			hospital, charge := Split(amount, rate)
			assert.True(t, SumsTo(hospital, charge, amount),
				"amount=%v rate=%v hospital=%v charge=%v", amount, rate, hospital, charge)
		}
	}
}

func TestRefundSplit(t *testing.T) {
	// Refund 500 out of 1000 originally split 950/50.
	hospitalRefund, serviceRefund := RefundSplit(500, 1000, 50)
	assert.Equal(t, 475.0, hospitalRefund)
	assert.Equal(t, 25.0, serviceRefund)

	// Full refund reverses the original split exactly.
	hospitalRefund, serviceRefund = RefundSplit(1000, 1000, 50)
	assert.Equal(t, 950.0, hospitalRefund)
	assert.Equal(t, 50.0, serviceRefund)
}

func TestRefundSplit_ZeroOriginal(t *testing.T) {
	hospitalRefund, serviceRefund := RefundSplit(100, 0, 0)
	assert.Zero(t, hospitalRefund)
	assert.Zero(t, serviceRefund)
}

func TestSumsTo_Tolerance(t *testing.T) {
	assert.True(t, SumsTo(950, 50, 1000))
	assert.True(t, SumsTo(949.995, 50, 1000))
	assert.False(t, SumsTo(949.5, 50, 1000))
}

func TestAddSub_NoDrift(t *testing.T) {
	// Classic float trap: 0.1 + 0.2.
	assert.Equal(t, 0.3, Add(0.1, 0.2))
	assert.Equal(t, 0.1, Sub(0.3, 0.2))

	balance := 0.0
	for i := 0; i < 1000; i++ {
		balance = Add(balance, 0.1)
	}
	assert.Equal(t, 100.0, balance)
}

func TestDiff(t *testing.T) {
	assert.Equal(t, -50.0, Diff(100, 150))
	assert.Equal(t, 0.0, Diff(100, 100))
}
