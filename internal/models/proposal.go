// internal/models/proposal.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ProposalStatus string

const (
	ProposalDraft     ProposalStatus = "draft"
	ProposalFinalized ProposalStatus = "finalized"
)

// AdderPricingType selects how an adder's amount is derived.
type AdderPricingType string

const (
	AdderFlat     AdderPricingType = "flat"
	AdderPerWatt  AdderPricingType = "per_watt"
	AdderPerPanel AdderPricingType = "per_panel"
	AdderTiered   AdderPricingType = "tiered"
	AdderCustom   AdderPricingType = "custom"
)

// Adder is one itemized add-on (or discount) line on a proposal.
type Adder struct {
	Name        string           `json:"name"`
	PricingType AdderPricingType `json:"pricingType"`
	Amount      decimal.Decimal  `json:"amount"`
	Quantity    int              `json:"quantity"`
	Total       decimal.Decimal  `json:"total"`
	IsDiscount  bool             `json:"isDiscount,omitempty"`
	AutoApplied bool             `json:"autoApplied,omitempty"`
}

// Proposal is a versioned pricing snapshot belonging to one deal. Totals are
// always recomputed from inputs; they are never hand-edited.
type Proposal struct {
	ID             uuid.UUID       `json:"id"`
	DealID         uuid.UUID       `json:"dealId"`
	Status         ProposalStatus  `json:"status"`
	BasePPW        decimal.Decimal `json:"basePpw"`
	SystemSizeKw   decimal.Decimal `json:"systemSizeKw"`
	Adders         []Adder         `json:"adders"`
	GoalSeek       bool            `json:"goalSeek"`
	GoalSeekTarget decimal.Decimal `json:"goalSeekTarget"`
	GrossCost      decimal.Decimal `json:"grossCost"`
	GrossPPW       decimal.Decimal `json:"grossPpw"`
	NetCost        decimal.Decimal `json:"netCost"`
	NetPPW         decimal.Decimal `json:"netPpw"`
	CommissionBase decimal.Decimal `json:"commissionBase"`
	FinalizedAt    *time.Time      `json:"finalizedAt,omitempty"`
	FinalizedBy    *uuid.UUID      `json:"finalizedBy,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}
