// internal/pricing/goalseek_test.go
package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseGoalSeekInput() GoalSeekInput {
	return GoalSeekInput{
		SystemSizeWatts: dec("8000"),
		AddersTotal:     dec("1200"),
		TaxRate:         dec("0.0825"),
		DealerFee:       dec("0.25"),
		DiscountTotal:   dec("500"),
		MinPPW:          dec("1.50"),
		MaxPPW:          dec("8.00"),
	}
}

func TestGoalSeekPPW_RoundTrip(t *testing.T) {
	tolerance := decimal.New(1, -6)

	for _, ppwStr := range []string{"1.50", "2.75", "3.5041", "5.00", "8.00"} {
		in := baseGoalSeekInput()
		want := dec(ppwStr)

		in.TargetGross = GrossFromPPW(want, in.SystemSizeWatts, in.AddersTotal,
			in.TaxRate, in.DealerFee, in.DiscountTotal)

		got, ok := GoalSeekPPW(in)
		require.True(t, ok, "ppw %s should be reachable", ppwStr)
		assert.True(t, got.Sub(want).Abs().LessThanOrEqual(tolerance),
			"round trip drifted: want %s, got %s", want, got)
	}
}

func TestGoalSeekPPW_TargetAboveBounds(t *testing.T) {
	in := baseGoalSeekInput()
	in.MaxPPW = dec("5.00")

	// Target requires roughly 6.0 ppw, above the 5.0 cap.
	in.TargetGross = GrossFromPPW(dec("6.00"), in.SystemSizeWatts, in.AddersTotal,
		in.TaxRate, in.DealerFee, in.DiscountTotal)

	_, ok := GoalSeekPPW(in)
	assert.False(t, ok)
}

func TestGoalSeekPPW_TargetBelowBounds(t *testing.T) {
	in := baseGoalSeekInput()
	in.TargetGross = GrossFromPPW(dec("1.00"), in.SystemSizeWatts, in.AddersTotal,
		in.TaxRate, in.DealerFee, in.DiscountTotal)

	_, ok := GoalSeekPPW(in)
	assert.False(t, ok)
}

func TestGoalSeekPPW_NegativePPW(t *testing.T) {
	in := baseGoalSeekInput()
	in.MinPPW = dec("0")
	// A target below the adder floor would need a negative base price.
	in.TargetGross = dec("100")

	_, ok := GoalSeekPPW(in)
	assert.False(t, ok)
}

func TestGoalSeekPPW_DegenerateInputs(t *testing.T) {
	cases := map[string]func(*GoalSeekInput){
		"zero watts":     func(in *GoalSeekInput) { in.SystemSizeWatts = dec("0") },
		"negative watts": func(in *GoalSeekInput) { in.SystemSizeWatts = dec("-8000") },
		"fee at 100%":    func(in *GoalSeekInput) { in.DealerFee = dec("1") },
		"negative fee":   func(in *GoalSeekInput) { in.DealerFee = dec("-0.1") },
		"negative tax":   func(in *GoalSeekInput) { in.TaxRate = dec("-0.05") },
		"min above max":  func(in *GoalSeekInput) { in.MinPPW = dec("9.00") },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := baseGoalSeekInput()
			in.TargetGross = dec("40000")
			mutate(&in)

			_, ok := GoalSeekPPW(in)
			assert.False(t, ok)
		})
	}
}

func TestGoalSeekPPW_ClampsBoundaryDrift(t *testing.T) {
	in := baseGoalSeekInput()
	in.TargetGross = GrossFromPPW(in.MinPPW, in.SystemSizeWatts, in.AddersTotal,
		in.TaxRate, in.DealerFee, in.DiscountTotal)

	got, ok := GoalSeekPPW(in)
	require.True(t, ok)
	assert.True(t, got.GreaterThanOrEqual(in.MinPPW), "clamped below min: %s", got)
	assert.True(t, got.LessThanOrEqual(in.MaxPPW))
}

func TestGoalSeekPPW_ZeroFeeZeroTax(t *testing.T) {
	in := GoalSeekInput{
		SystemSizeWatts: dec("10000"),
		TaxRate:         dec("0"),
		DealerFee:       dec("0"),
		AddersTotal:     dec("0"),
		DiscountTotal:   dec("0"),
		MinPPW:          dec("0"),
		MaxPPW:          dec("10"),
		TargetGross:     dec("35000"),
	}

	got, ok := GoalSeekPPW(in)
	require.True(t, ok)
	assert.True(t, got.Equal(dec("3.5")), "got %s", got)
}
