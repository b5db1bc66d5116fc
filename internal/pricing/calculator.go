// Package pricing computes proposal money. Everything here is pure and
// decimal-based; persistence and presentation live elsewhere.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"solar-salesops/internal/common/config"
	"solar-salesops/internal/common/errors"
	"solar-salesops/internal/models"
)

// AdderTemplate is the tenant-configured pricing rule for one adder kind.
type AdderTemplate struct {
	Name        string
	PricingType models.AdderPricingType
	Amount      decimal.Decimal
	Tiers       map[string]decimal.Decimal
	DefaultTier string
	IsDiscount  bool
}

// AdderInput carries the per-proposal selections for an adder.
type AdderInput struct {
	Quantity      int
	TierSelection string
	CustomAmount  *decimal.Decimal
}

// AdderAmount is the computed unit amount and line total.
type AdderAmount struct {
	Amount decimal.Decimal `json:"amount"`
	Total  decimal.Decimal `json:"total"`
}

// Calculator holds company pricing defaults. Zero value is unusable; build
// with NewCalculator.
type Calculator struct {
	taxRate     decimal.Decimal
	dealerFee   decimal.Decimal
	baselinePPW decimal.Decimal
	panelWatts  decimal.Decimal
	minPPW      decimal.Decimal
	maxPPW      decimal.Decimal
}

// NewCalculator builds a Calculator from validated pricing config.
func NewCalculator(cfg config.PricingConfig) (*Calculator, error) {
	taxRate, err := decimal.NewFromString(cfg.TaxRate)
	if err != nil {
		return nil, fmt.Errorf("tax_rate: %w", err)
	}
	dealerFee, err := decimal.NewFromString(cfg.DealerFee)
	if err != nil {
		return nil, fmt.Errorf("dealer_fee: %w", err)
	}
	baseline, err := decimal.NewFromString(cfg.BaselinePPW)
	if err != nil {
		return nil, fmt.Errorf("baseline_ppw: %w", err)
	}
	minPPW, err := decimal.NewFromString(cfg.MinPPW)
	if err != nil {
		return nil, fmt.Errorf("min_ppw: %w", err)
	}
	maxPPW, err := decimal.NewFromString(cfg.MaxPPW)
	if err != nil {
		return nil, fmt.Errorf("max_ppw: %w", err)
	}
	if cfg.PanelWatts <= 0 {
		return nil, fmt.Errorf("panel_watts: must be positive")
	}

	return &Calculator{
		taxRate:     taxRate,
		dealerFee:   dealerFee,
		baselinePPW: baseline,
		panelWatts:  decimal.NewFromInt(int64(cfg.PanelWatts)),
		minPPW:      minPPW,
		maxPPW:      maxPPW,
	}, nil
}

func (c *Calculator) TaxRate() decimal.Decimal   { return c.taxRate }
func (c *Calculator) DealerFee() decimal.Decimal { return c.dealerFee }
func (c *Calculator) MinPPW() decimal.Decimal    { return c.minPPW }
func (c *Calculator) MaxPPW() decimal.Decimal    { return c.maxPPW }

// CalculateAdderAmount resolves one adder line from its template and the
// caller's selections.
//
// flat: amount is the template amount. per_watt: amount scales with system
// size and quantity is forced to 1. per_panel: amount is per panel, scaled by
// the derived panel count. tiered: amount comes from the selected tier,
// falling back to the template default. custom: the caller supplies the
// amount. Total = amount * quantity except per_watt, where total = amount.
func (c *Calculator) CalculateAdderAmount(tmpl AdderTemplate, systemSizeWatts decimal.Decimal, in AdderInput) (AdderAmount, error) {
	if systemSizeWatts.IsNegative() {
		return AdderAmount{}, errors.NewValidationError("system size must not be negative")
	}

	quantity := in.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	var amount decimal.Decimal
	switch tmpl.PricingType {
	case models.AdderFlat:
		amount = tmpl.Amount

	case models.AdderPerWatt:
		amount = tmpl.Amount.Mul(systemSizeWatts)
		quantity = 1

	case models.AdderPerPanel:
		if systemSizeWatts.IsZero() {
			return AdderAmount{}, errors.NewValidationError("per_panel adder requires a system size")
		}
		panels := systemSizeWatts.Div(c.panelWatts).Ceil()
		amount = tmpl.Amount.Mul(panels)

	case models.AdderTiered:
		tier, ok := tmpl.Tiers[in.TierSelection]
		if !ok {
			tier, ok = tmpl.Tiers[tmpl.DefaultTier]
		}
		if !ok {
			return AdderAmount{}, errors.NewValidationError(
				fmt.Sprintf("adder %q: tier %q not found and no default tier", tmpl.Name, in.TierSelection))
		}
		amount = tier

	case models.AdderCustom:
		if in.CustomAmount == nil {
			return AdderAmount{}, errors.NewValidationError(
				fmt.Sprintf("adder %q: custom pricing requires an amount", tmpl.Name))
		}
		amount = *in.CustomAmount

	default:
		return AdderAmount{}, errors.NewValidationError(
			fmt.Sprintf("adder %q: unknown pricing type %q", tmpl.Name, tmpl.PricingType))
	}

	if amount.IsNegative() && !tmpl.IsDiscount {
		return AdderAmount{}, errors.NewValidationError(
			fmt.Sprintf("adder %q: negative amount on non-discount adder", tmpl.Name))
	}

	total := amount
	if tmpl.PricingType != models.AdderPerWatt {
		total = amount.Mul(decimal.NewFromInt(int64(quantity)))
	}

	return AdderAmount{Amount: amount, Total: total}, nil
}

// SumAdders splits adder line totals into the add-on sum and the discount
// sum. Discounts come back as a positive magnitude.
func SumAdders(adders []models.Adder) (addersTotal, discountTotal decimal.Decimal) {
	addersTotal = decimal.Zero
	discountTotal = decimal.Zero
	for _, a := range adders {
		if a.IsDiscount {
			discountTotal = discountTotal.Add(a.Total.Abs())
			continue
		}
		addersTotal = addersTotal.Add(a.Total)
	}
	return addersTotal, discountTotal
}
