package queue

import (
	"github.com/shopspring/decimal"
)

// Priority tiers, highest wins. A pyramid continuation outranks a fresh
// entry with a loss depth below 900% or a replacement count below 99,900;
// a loss-depth entry outranks a replacement-count entry with a count below
// 9,900. The per-axis terms are not capped, so larger values reach past
// the next tier's base. Within a tier, tie-breaks fall through to
// time-in-queue.
var (
	tierPyramidContinuation = decimal.NewFromInt(10_000_000)
	tierLossDepth           = decimal.NewFromInt(1_000_000)
	tierReplacementCount    = decimal.NewFromInt(10_000)

	lossDepthMultiplier        = decimal.NewFromInt(10_000)
	replacementCountMultiplier = decimal.NewFromInt(100)
	timeInQueueMultiplier      = decimal.NewFromFloat(0.001)
)

// ScoreInput is the data priority scoring needs from a queued signal.
type ScoreInput struct {
	IsPyramidContinuation bool
	CurrentLossPercent    decimal.Decimal // negative for a loss
	ReplacementCount      int
	TimeInQueueSeconds    decimal.Decimal
}

// Score computes a signal's priority. Higher wins promotion. The
// function is monotone in each axis when the others are held fixed: more
// negative loss, higher replacement count, and longer queue time all
// push the score up within their tier. Tiers stay apart only within the
// bounds noted on the tier constants above.
func Score(in ScoreInput) decimal.Decimal {
	tieBreak := in.TimeInQueueSeconds.Mul(timeInQueueMultiplier)

	if in.IsPyramidContinuation {
		return tierPyramidContinuation.Add(tieBreak)
	}

	lossDepth := in.CurrentLossPercent.Abs()
	if lossDepth.GreaterThan(decimal.Zero) {
		return tierLossDepth.Add(lossDepth.Mul(lossDepthMultiplier)).Add(tieBreak)
	}

	return tierReplacementCount.Add(decimal.NewFromInt(int64(in.ReplacementCount)).Mul(replacementCountMultiplier)).Add(tieBreak)
}
