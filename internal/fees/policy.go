package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/yoonil-computeportal/market-transaction-uex-sub001/internal/entities"
)

var (
	feeFloor          = decimal.NewFromFloat(0.001)
	feeCeiling        = decimal.NewFromInt(100)
	conversionCeiling = decimal.NewFromInt(50)
)

// Assessment is the set of fees computed for one transaction amount. Values
// are snapshotted onto the transaction at assessment time and never
// recomputed retroactively.
type Assessment struct {
	Tier          Tier
	UexBuyerFee   decimal.Decimal
	UexSellerFee  decimal.Decimal
	ManagementFee decimal.Decimal
	ConversionFee decimal.Decimal
	TotalAmount   decimal.Decimal
}

// Policy computes fees from a tiered schedule. Pure aside from reading the
// schedule store.
type Policy struct {
	store *ScheduleStore
}

// NewPolicy builds a fee policy over the given schedule store.
func NewPolicy(store *ScheduleStore) *Policy {
	return &Policy{store: store}
}

// Assess computes all fees for the amount. The applicable tier is the one
// whose volume bracket contains the client's trailing-window volume. For
// amounts that are not positive every fee is exactly zero.
func (p *Policy) Assess(amount, clientVolume decimal.Decimal, sourceCurrency, targetCurrency string) Assessment {
	schedule := p.store.Schedule()
	tier := schedule.TierFor(clientVolume)

	if !amount.IsPositive() {
		return Assessment{Tier: tier}
	}

	a := Assessment{
		Tier:          tier,
		UexBuyerFee:   clamp(amount.Mul(tier.BuyerRate), feeFloor, feeCeiling),
		UexSellerFee:  clamp(amount.Mul(tier.SellerRate), feeFloor, feeCeiling),
		ManagementFee: clamp(amount.Mul(schedule.ManagementRate), feeFloor, feeCeiling),
	}
	if sourceCurrency != targetCurrency {
		a.ConversionFee = clamp(amount.Mul(schedule.ConversionRate), feeFloor, conversionCeiling)
	}

	half := a.ManagementFee.Div(decimal.NewFromInt(2))
	a.TotalAmount = amount.Add(a.UexBuyerFee).Add(half).Add(a.ConversionFee)
	return a
}

// FeeRows materializes the assessment as management tier fee rows for the
// audit trail. The settlement fee is the buyer-facing half of the management
// fee; the ledgered transaction carries the untouched snapshot values.
func (a Assessment) FeeRows(transactionID, currency string) []entities.ManagementTierFee {
	rows := []entities.ManagementTierFee{
		{
			TransactionID: transactionID,
			FeeType:       entities.FeeProcessing,
			Amount:        a.UexBuyerFee,
			Currency:      currency,
			Description:   fmt.Sprintf("buyer processing fee (%s tier)", a.Tier.Name),
		},
		{
			TransactionID: transactionID,
			FeeType:       entities.FeeSettlement,
			Amount:        a.ManagementFee,
			Currency:      currency,
			Description:   "management tier settlement fee",
		},
	}
	if a.ConversionFee.IsPositive() {
		rows = append(rows, entities.ManagementTierFee{
			TransactionID: transactionID,
			FeeType:       entities.FeeCurrencyConversion,
			Amount:        a.ConversionFee,
			Currency:      currency,
			Description:   "currency conversion fee",
		})
	}
	return rows
}

func clamp(v, min, max decimal.Decimal) decimal.Decimal {
	if v.LessThan(min) {
		return min
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}
