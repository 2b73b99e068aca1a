package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestFillsProcessed_CountsByKind(t *testing.T) {
	FillsProcessed.Reset()

	FillsProcessed.WithLabelValues("entry").Inc()
	FillsProcessed.WithLabelValues("entry").Inc()
	FillsProcessed.WithLabelValues("tp").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(FillsProcessed.WithLabelValues("entry")))
	assert.Equal(t, float64(1), testutil.ToFloat64(FillsProcessed.WithLabelValues("tp")))
}

func TestOpenPositionGroups_ReflectsLastSetValue(t *testing.T) {
	OpenPositionGroups.Set(4)
	assert.Equal(t, float64(4), testutil.ToFloat64(OpenPositionGroups))

	OpenPositionGroups.Set(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(OpenPositionGroups))
}
