// internal/pricing/calculator_test.go
package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solar-salesops/internal/common/config"
	crmerrors "solar-salesops/internal/common/errors"
	"solar-salesops/internal/models"
)

func testPricingConfig() config.PricingConfig {
	return config.PricingConfig{
		TaxRate:     "0.0825",
		DealerFee:   "0.25",
		BaselinePPW: "2.50",
		PanelWatts:  400,
		MinPPW:      "1.50",
		MaxPPW:      "8.00",
	}
}

func newTestCalculator(t *testing.T) *Calculator {
	calc, err := NewCalculator(testPricingConfig())
	require.NoError(t, err)
	return calc
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCalculateAdderAmount_Flat(t *testing.T) {
	calc := newTestCalculator(t)

	out, err := calc.CalculateAdderAmount(AdderTemplate{
		Name:        "Critter Guard",
		PricingType: models.AdderFlat,
		Amount:      dec("450"),
	}, dec("8000"), AdderInput{Quantity: 2})

	assert.NoError(t, err)
	assert.True(t, out.Amount.Equal(dec("450")), "amount = %s", out.Amount)
	assert.True(t, out.Total.Equal(dec("900")), "total = %s", out.Total)
}

func TestCalculateAdderAmount_PerWatt(t *testing.T) {
	calc := newTestCalculator(t)

	// Per-watt amounts absorb the system size; quantity is forced to 1.
	out, err := calc.CalculateAdderAmount(AdderTemplate{
		Name:        "Premium Panels",
		PricingType: models.AdderPerWatt,
		Amount:      dec("0.15"),
	}, dec("8000"), AdderInput{Quantity: 3})

	assert.NoError(t, err)
	assert.True(t, out.Amount.Equal(dec("1200")), "amount = %s", out.Amount)
	assert.True(t, out.Total.Equal(dec("1200")), "total = %s", out.Total)
}

func TestCalculateAdderAmount_PerPanel(t *testing.T) {
	calc := newTestCalculator(t)

	// 8200W / 400W per panel = 20.5, rounded up to 21 panels.
	out, err := calc.CalculateAdderAmount(AdderTemplate{
		Name:        "Panel Skirts",
		PricingType: models.AdderPerPanel,
		Amount:      dec("25"),
	}, dec("8200"), AdderInput{})

	assert.NoError(t, err)
	assert.True(t, out.Amount.Equal(dec("525")), "amount = %s", out.Amount)
	assert.True(t, out.Total.Equal(dec("525")), "total = %s", out.Total)
}

func TestCalculateAdderAmount_Tiered(t *testing.T) {
	calc := newTestCalculator(t)

	tmpl := AdderTemplate{
		Name:        "Main Panel Upgrade",
		PricingType: models.AdderTiered,
		Tiers: map[string]decimal.Decimal{
			"125A": dec("1800"),
			"200A": dec("2600"),
		},
		DefaultTier: "125A",
	}

	out, err := calc.CalculateAdderAmount(tmpl, dec("8000"), AdderInput{TierSelection: "200A"})
	assert.NoError(t, err)
	assert.True(t, out.Amount.Equal(dec("2600")))

	// Unknown tier falls back to the default.
	out, err = calc.CalculateAdderAmount(tmpl, dec("8000"), AdderInput{TierSelection: "400A"})
	assert.NoError(t, err)
	assert.True(t, out.Amount.Equal(dec("1800")))

	// No default either: config error.
	tmpl.DefaultTier = ""
	_, err = calc.CalculateAdderAmount(tmpl, dec("8000"), AdderInput{TierSelection: "400A"})
	assert.Error(t, err)
	assert.True(t, crmerrors.IsCode(err, crmerrors.ErrCodeValidation))
}

func TestCalculateAdderAmount_Custom(t *testing.T) {
	calc := newTestCalculator(t)

	custom := dec("3200")
	out, err := calc.CalculateAdderAmount(AdderTemplate{
		Name:        "Reroof",
		PricingType: models.AdderCustom,
		Amount:      dec("9999"), // template amount is ignored for custom
	}, dec("8000"), AdderInput{CustomAmount: &custom})

	assert.NoError(t, err)
	assert.True(t, out.Amount.Equal(dec("3200")))

	_, err = calc.CalculateAdderAmount(AdderTemplate{
		Name:        "Reroof",
		PricingType: models.AdderCustom,
	}, dec("8000"), AdderInput{})
	assert.Error(t, err)
}

func TestCalculateAdderAmount_NegativeInputs(t *testing.T) {
	calc := newTestCalculator(t)

	_, err := calc.CalculateAdderAmount(AdderTemplate{
		Name:        "Critter Guard",
		PricingType: models.AdderFlat,
		Amount:      dec("450"),
	}, dec("-1"), AdderInput{})
	assert.True(t, crmerrors.IsCode(err, crmerrors.ErrCodeValidation))

	// Negative amount on a non-discount adder is rejected.
	_, err = calc.CalculateAdderAmount(AdderTemplate{
		Name:        "Broken Config",
		PricingType: models.AdderFlat,
		Amount:      dec("-450"),
	}, dec("8000"), AdderInput{})
	assert.True(t, crmerrors.IsCode(err, crmerrors.ErrCodeValidation))

	// The same amount on a discount adder is fine.
	out, err := calc.CalculateAdderAmount(AdderTemplate{
		Name:        "Promo Discount",
		PricingType: models.AdderFlat,
		Amount:      dec("-450"),
		IsDiscount:  true,
	}, dec("8000"), AdderInput{})
	assert.NoError(t, err)
	assert.True(t, out.Amount.Equal(dec("-450")))
}

func TestCalculateAdderAmount_Deterministic(t *testing.T) {
	calc := newTestCalculator(t)
	tmpl := AdderTemplate{
		Name:        "Premium Panels",
		PricingType: models.AdderPerWatt,
		Amount:      dec("0.15"),
	}

	first, err := calc.CalculateAdderAmount(tmpl, dec("8000"), AdderInput{})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := calc.CalculateAdderAmount(tmpl, dec("8000"), AdderInput{})
		require.NoError(t, err)
		assert.True(t, first.Amount.Equal(again.Amount))
		assert.True(t, first.Total.Equal(again.Total))
	}
}

func TestComputeTotals(t *testing.T) {
	calc := newTestCalculator(t)

	adders := []models.Adder{
		{Name: "Critter Guard", Total: dec("900")},
		{Name: "Promo", Total: dec("-500"), IsDiscount: true},
	}

	totals, err := calc.ComputeTotals(dec("3.50"), dec("8"), adders)
	require.NoError(t, err)

	// gross = (3.50*8000 + 900) * 1.0825 / 0.75 - 500
	expectedGross := dec("3.50").Mul(dec("8000")).Add(dec("900")).
		Mul(dec("1.0825")).Div(dec("0.75")).Sub(dec("500")).Round(2)
	assert.True(t, totals.GrossCost.Equal(expectedGross), "gross = %s, want %s", totals.GrossCost, expectedGross)
	assert.True(t, totals.NetCost.LessThan(totals.GrossCost))
	assert.True(t, totals.GrossPPW.IsPositive())
	assert.True(t, totals.NetPPW.IsPositive())
}

func TestComputeTotals_InvalidInputs(t *testing.T) {
	calc := newTestCalculator(t)

	_, err := calc.ComputeTotals(dec("-1"), dec("8"), nil)
	assert.True(t, crmerrors.IsCode(err, crmerrors.ErrCodeValidation))

	_, err = calc.ComputeTotals(dec("3.50"), dec("0"), nil)
	assert.True(t, crmerrors.IsCode(err, crmerrors.ErrCodeValidation))
}
