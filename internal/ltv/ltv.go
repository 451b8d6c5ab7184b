// Package ltv computes loan-to-value ratios and the presentation-only
// risk tier derived from them.
package ltv

import (
	"github.com/shopspring/decimal"

	"btc-loan-sentinel/internal/model"
)

// Compute returns loan_amount_usd / (btc_collateral * price). ok is
// false when btc_collateral * price <= 0, signaling the caller to skip
// this tick rather than divide by a degenerate denominator.
func Compute(loanAmountUSD, btcCollateral, price decimal.Decimal) (decimal.Decimal, bool) {
	denominator := btcCollateral.Mul(price)
	if !denominator.IsPositive() {
		return decimal.Zero, false
	}
	return loanAmountUSD.Div(denominator), true
}

// MarginCallPrice is the BTC price at which the loan's LTV equals its
// margin_call_ltv: loan_amount_usd / (btc_collateral * margin_call_ltv).
func MarginCallPrice(loanAmountUSD, btcCollateral, marginCallLTV decimal.Decimal) decimal.Decimal {
	denominator := btcCollateral.Mul(marginCallLTV)
	if !denominator.IsPositive() {
		return decimal.Zero
	}
	return loanAmountUSD.Div(denominator)
}

// LiquidationPrice is the BTC price at which the loan's LTV equals its
// liquidation_ltv.
func LiquidationPrice(loanAmountUSD, btcCollateral, liquidationLTV decimal.Decimal) decimal.Decimal {
	denominator := btcCollateral.Mul(liquidationLTV)
	if !denominator.IsPositive() {
		return decimal.Zero
	}
	return loanAmountUSD.Div(denominator)
}

// yellowFraction and orangeFraction place the GREEN/YELLOW/ORANGE
// boundaries at fixed fractions of margin_call_ltv. Only RED and
// LIQUIDATION are pinned to a loan's own thresholds; the earlier
// boundaries are presentation-only, so any monotonic scheme works.
var (
	yellowFraction = decimal.NewFromFloat(0.6)
	orangeFraction = decimal.NewFromFloat(0.85)
)

// RiskTier classifies the current LTV against a loan's own
// margin_call_ltv and liquidation_ltv:
//   - ltv >= liquidation_ltv               -> LIQUIDATION
//   - ltv >= margin_call_ltv                -> RED
//   - ltv >= 0.85 * margin_call_ltv         -> ORANGE
//   - ltv >= 0.6  * margin_call_ltv         -> YELLOW
//   - otherwise                             -> GREEN
func RiskTier(ltv, marginCallLTV, liquidationLTV decimal.Decimal) model.RiskTier {
	switch {
	case ltv.GreaterThanOrEqual(liquidationLTV):
		return model.TierLiquidation
	case ltv.GreaterThanOrEqual(marginCallLTV):
		return model.TierRed
	case ltv.GreaterThanOrEqual(marginCallLTV.Mul(orangeFraction)):
		return model.TierOrange
	case ltv.GreaterThanOrEqual(marginCallLTV.Mul(yellowFraction)):
		return model.TierYellow
	default:
		return model.TierGreen
	}
}
