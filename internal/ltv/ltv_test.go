package ltv

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"btc-loan-sentinel/internal/model"
)

func TestCompute_AtParity(t *testing.T) {
	loanAmount := decimal.NewFromInt(50000)
	collateral := decimal.NewFromInt(1)

	ltv, ok := Compute(loanAmount, collateral, decimal.NewFromInt(100000))
	assert.True(t, ok)
	assert.True(t, ltv.Equal(decimal.NewFromFloat(0.5)))
}

func TestCompute_PriceDropToLiquidation(t *testing.T) {
	loanAmount := decimal.NewFromInt(50000)
	collateral := decimal.NewFromInt(1)

	ltv, ok := Compute(loanAmount, collateral, decimal.NewFromInt(50000))
	assert.True(t, ok)
	assert.True(t, ltv.Equal(decimal.NewFromInt(1)))
}

func TestCompute_DegenerateDenominatorSkipped(t *testing.T) {
	_, ok := Compute(decimal.NewFromInt(50000), decimal.NewFromInt(1), decimal.Zero)
	assert.False(t, ok)

	_, ok = Compute(decimal.NewFromInt(50000), decimal.Zero, decimal.NewFromInt(60000))
	assert.False(t, ok)
}

func TestMarginCallAndLiquidationPrice_S1(t *testing.T) {
	loanAmount := decimal.NewFromInt(50000)
	collateral := decimal.NewFromInt(1)
	marginCall := decimal.NewFromFloat(0.75)
	liquidation := decimal.NewFromFloat(0.90)

	mcp := MarginCallPrice(loanAmount, collateral, marginCall)
	assert.True(t, mcp.Round(2).Equal(decimal.NewFromFloat(66666.67)), "got %s", mcp.String())

	lp := LiquidationPrice(loanAmount, collateral, liquidation)
	assert.True(t, lp.Round(2).Equal(decimal.NewFromFloat(55555.56)), "got %s", lp.String())
}

func TestRiskTier_LiquidationAtParity(t *testing.T) {
	marginCall := decimal.NewFromFloat(0.75)
	liquidation := decimal.NewFromFloat(0.90)

	tier := RiskTier(decimal.NewFromInt(1), marginCall, liquidation)
	assert.Equal(t, model.TierLiquidation, tier)
}

func TestRiskTier_RedAtMarginCall(t *testing.T) {
	marginCall := decimal.NewFromFloat(0.75)
	liquidation := decimal.NewFromFloat(0.90)

	tier := RiskTier(marginCall, marginCall, liquidation)
	assert.Equal(t, model.TierRed, tier)
}

func TestRiskTier_GreenWellBelowThresholds(t *testing.T) {
	marginCall := decimal.NewFromFloat(0.75)
	liquidation := decimal.NewFromFloat(0.90)

	tier := RiskTier(decimal.NewFromFloat(0.30), marginCall, liquidation)
	assert.Equal(t, model.TierGreen, tier)
}
