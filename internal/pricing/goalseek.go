// internal/pricing/goalseek.go
package pricing

import "github.com/shopspring/decimal"

// GoalSeekInput parameterizes the PPW inversion. Rates are fractions.
type GoalSeekInput struct {
	TargetGross     decimal.Decimal
	SystemSizeWatts decimal.Decimal
	AddersTotal     decimal.Decimal
	TaxRate         decimal.Decimal
	DealerFee       decimal.Decimal
	DiscountTotal   decimal.Decimal
	MinPPW          decimal.Decimal
	MaxPPW          decimal.Decimal
}

// clampTolerance absorbs decimal division drift at the bounds without
// letting a genuinely out-of-range target through.
var clampTolerance = decimal.New(1, -9)

// GoalSeekPPW returns the price per watt that makes
//
//	gross = (ppw*watts + adders) * (1+tax) / (1-fee) - discounts
//
// hit the target. The relationship is affine in ppw for fixed adders and
// discounts, so this solves in closed form instead of searching:
//
//	ppw = ((target + discounts) * (1-fee) / (1+tax) - adders) / watts
//
// If adders ever scale with ppw, this must become a bounded bisection; the
// tests pin the round-trip property that would catch such a change.
//
// Returns false when the inputs are degenerate (watts <= 0, fee >= 1,
// tax < 0, min > max) or the required ppw is negative or outside
// [MinPPW, MaxPPW]. The result is clamped into the bounds.
func GoalSeekPPW(in GoalSeekInput) (decimal.Decimal, bool) {
	one := decimal.NewFromInt(1)

	if !in.SystemSizeWatts.IsPositive() {
		return decimal.Zero, false
	}
	if in.DealerFee.GreaterThanOrEqual(one) || in.DealerFee.IsNegative() {
		return decimal.Zero, false
	}
	if in.TaxRate.IsNegative() {
		return decimal.Zero, false
	}
	if in.MinPPW.GreaterThan(in.MaxPPW) {
		return decimal.Zero, false
	}

	preFee := in.TargetGross.Add(in.DiscountTotal).Mul(one.Sub(in.DealerFee))
	base := preFee.Div(one.Add(in.TaxRate)).Sub(in.AddersTotal)
	ppw := base.Div(in.SystemSizeWatts)

	if ppw.IsNegative() {
		return decimal.Zero, false
	}
	if ppw.LessThan(in.MinPPW.Sub(clampTolerance)) || ppw.GreaterThan(in.MaxPPW.Add(clampTolerance)) {
		return decimal.Zero, false
	}

	if ppw.LessThan(in.MinPPW) {
		ppw = in.MinPPW
	}
	if ppw.GreaterThan(in.MaxPPW) {
		ppw = in.MaxPPW
	}

	return ppw, true
}

// GrossFromPPW is the forward model GoalSeekPPW inverts. The proposal
// service uses it for totals so the two can never drift apart.
func GrossFromPPW(ppw, watts, addersTotal, taxRate, dealerFee, discountTotal decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	base := ppw.Mul(watts).Add(addersTotal)
	return base.Mul(one.Add(taxRate)).Div(one.Sub(dealerFee)).Sub(discountTotal)
}
