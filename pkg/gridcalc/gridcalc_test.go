package gridcalc

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotgrid-engine/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPlan_FreshEntryFourLegsPerLeg(t *testing.T) {
	levels := []domain.DCALevel{
		{GapPercent: dec("0"), WeightPercent: dec("20"), TPPercent: dec("1")},
		{GapPercent: dec("-0.5"), WeightPercent: dec("20"), TPPercent: dec("0.5")},
		{GapPercent: dec("-1"), WeightPercent: dec("20"), TPPercent: dec("0.5")},
		{GapPercent: dec("-2"), WeightPercent: dec("40"), TPPercent: dec("0.5")},
	}
	rules := PrecisionRules{
		TickSize:    dec("0.01"),
		StepSize:    dec("0.001"),
		MinQty:      dec("0.001"),
		MinNotional: dec("10"),
	}

	legs, err := Plan(dec("50000"), domain.SideBuy, levels, dec("1000"), rules)
	require.NoError(t, err)
	require.Len(t, legs, 4)

	wantPrices := []string{"50000.00", "49750.00", "49500.00", "49000.00"}
	wantNotionals := []string{"200", "200", "200", "400"}
	wantQtys := []string{"0.004", "0.004", "0.004", "0.008"}
	wantTPs := []string{"50500.00", "49998.75", "49747.50", "49245.00"}

	for i, leg := range legs {
		assert.True(t, leg.Price.Equal(dec(wantPrices[i])), "leg %d price = %s want %s", i, leg.Price, wantPrices[i])
		assert.True(t, leg.Notional.Equal(dec(wantNotionals[i])), "leg %d notional = %s want %s", i, leg.Notional, wantNotionals[i])
		assert.True(t, leg.Quantity.Equal(dec(wantQtys[i])), "leg %d qty = %s want %s", i, leg.Quantity, wantQtys[i])
		assert.True(t, leg.TPPrice.Equal(dec(wantTPs[i])), "leg %d tp = %s want %s", i, leg.TPPrice, wantTPs[i])
	}

	var qtys, prices []decimal.Decimal
	for _, leg := range legs {
		qtys = append(qtys, leg.Quantity)
		prices = append(prices, leg.Price)
	}
	avg := WeightedAverageEntry(qtys, prices)
	assert.True(t, avg.Round(2).Equal(dec("49450.00")), "weighted avg = %s want 49450.00", avg.Round(2))
}

func TestPlan_MinNotionalViolationRejectsWholePlan(t *testing.T) {
	levels := []domain.DCALevel{
		{GapPercent: dec("0"), WeightPercent: dec("100"), TPPercent: dec("1")},
	}
	rules := PrecisionRules{TickSize: dec("0.01"), StepSize: dec("0.001"), MinQty: dec("0.001"), MinNotional: dec("50")}

	_, err := Plan(dec("50000"), domain.SideBuy, levels, dec("10"), rules)
	require.Error(t, err)
	var invalid *PlanInvalid
	require.ErrorAs(t, err, &invalid)
}

func TestPlan_Deterministic(t *testing.T) {
	levels := []domain.DCALevel{
		{GapPercent: dec("0"), WeightPercent: dec("50"), TPPercent: dec("1")},
		{GapPercent: dec("-1"), WeightPercent: dec("50"), TPPercent: dec("1")},
	}
	rules := PrecisionRules{TickSize: dec("0.01"), StepSize: dec("0.001"), MinQty: dec("0.001"), MinNotional: dec("10")}

	a, err := Plan(dec("50000"), domain.SideBuy, levels, dec("1000"), rules)
	require.NoError(t, err)
	b, err := Plan(dec("50000"), domain.SideBuy, levels, dec("1000"), rules)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPlan_RejectsShort(t *testing.T) {
	_, err := Plan(dec("50000"), domain.SideSell, nil, dec("1000"), PrecisionRules{})
	require.Error(t, err)
}
