// Package gridcalc is the pure, deterministic price/quantity math for DCA
// legs and take-profit targets. It has no side effects and no dependency
// on the exchange gateway or the database; the same inputs always produce
// byte-identical output.
package gridcalc

import (
	"fmt"

	"github.com/shopspring/decimal"

	"spotgrid-engine/internal/domain"
)

// PrecisionRules is the per-symbol rounding contract from the precision
// cache (C2): tick size for price, step size for quantity, and the
// exchange's minimum order thresholds.
type PrecisionRules struct {
	TickSize     decimal.Decimal
	StepSize     decimal.Decimal
	MinQty       decimal.Decimal
	MinNotional  decimal.Decimal
}

// PlanInvalid reports why a grid plan was rejected. The whole plan is
// rejected together: there is no partial acceptance of legs.
type PlanInvalid struct {
	LegIndex int
	Reason   string
}

func (e *PlanInvalid) Error() string {
	return fmt.Sprintf("gridcalc: leg %d invalid: %s", e.LegIndex, e.Reason)
}

// Leg is one computed DCA order: an entry price/quantity pair plus the
// take-profit price to place once the entry fills.
type Leg struct {
	Index     int
	Price     decimal.Decimal
	Notional  decimal.Decimal
	Quantity  decimal.Decimal
	TPPercent decimal.Decimal
	TPPrice   decimal.Decimal
}

// Plan computes every DCA leg for a base price and capital allocation.
// Side is always domain.SideBuy today; short positions are rejected
// before reaching this function.
func Plan(basePrice decimal.Decimal, side domain.OrderSide, levels []domain.DCALevel, capital decimal.Decimal, rules PrecisionRules) ([]Leg, error) {
	if side != domain.SideBuy {
		return nil, &PlanInvalid{Reason: "only long (buy) grids are supported"}
	}
	if len(levels) == 0 {
		return nil, &PlanInvalid{Reason: "no DCA levels configured"}
	}
	if basePrice.LessThanOrEqual(decimal.Zero) {
		return nil, &PlanInvalid{Reason: "base price must be positive"}
	}

	legs := make([]Leg, 0, len(levels))
	for i, lvl := range levels {
		entryPrice := entryPriceFor(basePrice, lvl.GapPercent, rules.TickSize)
		notional := capital.Mul(lvl.WeightPercent).Div(decimal.NewFromInt(100))
		qty := roundDown(notional.Div(entryPrice), rules.StepSize)

		if !rules.MinQty.IsZero() && qty.LessThan(rules.MinQty) {
			return nil, &PlanInvalid{LegIndex: i, Reason: fmt.Sprintf("qty %s below min_qty %s", qty, rules.MinQty)}
		}
		if !rules.MinNotional.IsZero() && notional.LessThan(rules.MinNotional) {
			return nil, &PlanInvalid{LegIndex: i, Reason: fmt.Sprintf("notional %s below min_notional %s", notional, rules.MinNotional)}
		}

		tpPrice := tpPriceFor(entryPrice, lvl.TPPercent, rules.TickSize)

		legs = append(legs, Leg{
			Index:     i,
			Price:     entryPrice,
			Notional:  notional,
			Quantity:  qty,
			TPPercent: lvl.TPPercent,
			TPPrice:   tpPrice,
		})
	}
	return legs, nil
}

// entryPriceFor computes price[i] = base_price * (1 + gap_percent/100),
// rounded DOWN to tick size — the conservative side for a long buy.
func entryPriceFor(basePrice, gapPercent, tick decimal.Decimal) decimal.Decimal {
	raw := basePrice.Mul(decimal.NewFromInt(1).Add(gapPercent.Div(decimal.NewFromInt(100))))
	return roundDown(raw, tick)
}

// tpPriceFor computes tp_price[i] = price[i] * (1 + tp_percent/100),
// rounded HALF_UP to tick size.
func tpPriceFor(entryPrice, tpPercent, tick decimal.Decimal) decimal.Decimal {
	raw := entryPrice.Mul(decimal.NewFromInt(1).Add(tpPercent.Div(decimal.NewFromInt(100))))
	return roundHalfUp(raw, tick)
}

// roundDown floors v to the nearest multiple of step. A zero/negative
// step means "no rounding" (used in tests against raw math).
func roundDown(v, step decimal.Decimal) decimal.Decimal {
	if step.LessThanOrEqual(decimal.Zero) {
		return v
	}
	units := v.Div(step).Floor()
	return units.Mul(step)
}

// roundHalfUp rounds v to the nearest multiple of step, ties away from
// zero toward the higher value (HALF_UP).
func roundHalfUp(v, step decimal.Decimal) decimal.Decimal {
	if step.LessThanOrEqual(decimal.Zero) {
		return v
	}
	units := v.Div(step).Round(0)
	return units.Mul(step)
}

// ValidateAgainstRules re-checks an already-computed leg against the
// current precision rules, used by the Position Manager just before
// submitting the order: a TTL refresh of the precision cache between
// plan time and submit time can change tick/step size underneath a
// stale plan.
func ValidateAgainstRules(leg Leg, rules PrecisionRules) error {
	if !rules.MinQty.IsZero() && leg.Quantity.LessThan(rules.MinQty) {
		return &PlanInvalid{LegIndex: leg.Index, Reason: fmt.Sprintf("qty %s below current min_qty %s", leg.Quantity, rules.MinQty)}
	}
	if !rules.MinNotional.IsZero() && leg.Notional.LessThan(rules.MinNotional) {
		return &PlanInvalid{LegIndex: leg.Index, Reason: fmt.Sprintf("notional %s below current min_notional %s", leg.Notional, rules.MinNotional)}
	}
	if !rules.TickSize.IsZero() {
		remainder := leg.Price.Div(rules.TickSize).Sub(leg.Price.Div(rules.TickSize).Floor())
		if !remainder.IsZero() {
			return &PlanInvalid{LegIndex: leg.Index, Reason: "price no longer aligned to current tick_size"}
		}
	}
	return nil
}

// RoundQtyDownToStep rounds a quantity down to the nearest multiple of
// step, the conservative direction when a close quantity must not exceed
// what is actually held.
func RoundQtyDownToStep(qty, step decimal.Decimal) decimal.Decimal {
	return roundDown(qty, step)
}

// RoundQtyUpToStep rounds a quantity up to the nearest multiple of step,
// used when a computed offset quantity must be bumped to clear a
// min_notional floor.
func RoundQtyUpToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.LessThanOrEqual(decimal.Zero) {
		return qty
	}
	units := qty.Div(step).Ceil()
	return units.Mul(step)
}

// WeightedAverageEntry computes Σ(filled_qty·avg_fill_price)/Σ(filled_qty)
// across a set of filled buy legs, per data-model invariant 4.
func WeightedAverageEntry(quantities, prices []decimal.Decimal) decimal.Decimal {
	totalQty := decimal.Zero
	totalNotional := decimal.Zero
	for i := range quantities {
		totalQty = totalQty.Add(quantities[i])
		totalNotional = totalNotional.Add(quantities[i].Mul(prices[i]))
	}
	if totalQty.IsZero() {
		return decimal.Zero
	}
	return totalNotional.Div(totalQty)
}
