// internal/pricing/totals.go
package pricing

import (
	"github.com/shopspring/decimal"

	"solar-salesops/internal/common/errors"
	"solar-salesops/internal/models"
)

// Totals is the derived money block persisted on a proposal.
type Totals struct {
	GrossCost      decimal.Decimal `json:"grossCost"`
	GrossPPW       decimal.Decimal `json:"grossPpw"`
	NetCost        decimal.Decimal `json:"netCost"`
	NetPPW         decimal.Decimal `json:"netPpw"`
	CommissionBase decimal.Decimal `json:"commissionBase"`
}

// money rounds to cents for persisted totals; per-watt figures keep four
// decimal places to survive re-derivation.
func money(d decimal.Decimal) decimal.Decimal { return d.Round(2) }
func ppw(d decimal.Decimal) decimal.Decimal   { return d.Round(4) }

// ComputeTotals derives the full money block for a proposal.
//
// grossCost follows the same model as GoalSeekPPW. netCost is what the
// company keeps after the lender's dealer fee. commissionBase is net minus
// adders and the baseline system cost; it may go negative on underpriced
// deals, which downstream commission plans treat as zero.
func (c *Calculator) ComputeTotals(basePPW, systemSizeKw decimal.Decimal, adders []models.Adder) (Totals, error) {
	if basePPW.IsNegative() {
		return Totals{}, errors.NewValidationError("base ppw must not be negative")
	}
	if !systemSizeKw.IsPositive() {
		return Totals{}, errors.NewValidationError("system size must be positive")
	}

	watts := systemSizeKw.Mul(decimal.NewFromInt(1000))
	addersTotal, discountTotal := SumAdders(adders)

	gross := GrossFromPPW(basePPW, watts, addersTotal, c.taxRate, c.dealerFee, discountTotal)
	one := decimal.NewFromInt(1)
	net := gross.Mul(one.Sub(c.dealerFee))
	commission := net.Sub(addersTotal).Sub(c.baselinePPW.Mul(watts))

	return Totals{
		GrossCost:      money(gross),
		GrossPPW:       ppw(gross.Div(watts)),
		NetCost:        money(net),
		NetPPW:         ppw(net.Div(watts)),
		CommissionBase: money(commission),
	}, nil
}
