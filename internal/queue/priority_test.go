package queue

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestScore_PyramidContinuationAlwaysOutranksFreshEntries(t *testing.T) {
	continuation := Score(ScoreInput{IsPyramidContinuation: true})
	deepLoss := Score(ScoreInput{CurrentLossPercent: decimal.NewFromInt(-99)})
	manyReplacements := Score(ScoreInput{ReplacementCount: 1000})

	assert.True(t, continuation.GreaterThan(deepLoss))
	assert.True(t, continuation.GreaterThan(manyReplacements))
}

func TestScore_LossDepthOutranksReplacementCountTier(t *testing.T) {
	smallLoss := Score(ScoreInput{CurrentLossPercent: decimal.NewFromFloat(-0.01)})
	manyReplacements := Score(ScoreInput{ReplacementCount: 9_000})

	assert.True(t, smallLoss.GreaterThan(manyReplacements))
}

func TestScore_MonotoneInLossDepth(t *testing.T) {
	shallow := Score(ScoreInput{CurrentLossPercent: decimal.NewFromFloat(-1)})
	deep := Score(ScoreInput{CurrentLossPercent: decimal.NewFromFloat(-5)})

	assert.True(t, deep.GreaterThan(shallow))
}

func TestScore_MonotoneInReplacementCount(t *testing.T) {
	fewer := Score(ScoreInput{ReplacementCount: 1})
	more := Score(ScoreInput{ReplacementCount: 5})

	assert.True(t, more.GreaterThan(fewer))
}

func TestScore_TimeInQueueBreaksTiesWithinATier(t *testing.T) {
	waitedLonger := Score(ScoreInput{ReplacementCount: 2, TimeInQueueSeconds: decimal.NewFromInt(600)})
	justQueued := Score(ScoreInput{ReplacementCount: 2, TimeInQueueSeconds: decimal.Zero})

	assert.True(t, waitedLonger.GreaterThan(justQueued))
}

func TestScore_NegativeLossSignIsIgnored(t *testing.T) {
	// CurrentLossPercent is expressed as a negative number; Score must use
	// its magnitude, not its sign, when placing it in the loss-depth tier.
	a := Score(ScoreInput{CurrentLossPercent: decimal.NewFromFloat(-3)})
	b := Score(ScoreInput{CurrentLossPercent: decimal.NewFromFloat(3)})

	assert.True(t, a.Equal(b))
}
