package precision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotgrid-engine/pkg/gridcalc"
)

type fakeSource struct {
	calls int
	rules map[string]gridcalc.PrecisionRules
	err   error
}

func (f *fakeSource) FetchRules(ctx context.Context, exchange string) (map[string]gridcalc.PrecisionRules, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rules, nil
}

func TestCache_RefreshesOnTTLExpiry(t *testing.T) {
	src := &fakeSource{rules: map[string]gridcalc.PrecisionRules{"BTCUSDT": {}}}
	c := New(src, Config{TTL: time.Millisecond})

	_, err := c.GetPrecisionForSymbol(context.Background(), "binance", "BTCUSDT")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = c.GetPrecisionForSymbol(context.Background(), "binance", "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, 2, src.calls)
}

func TestCache_StrictModeMissingSymbol(t *testing.T) {
	src := &fakeSource{rules: map[string]gridcalc.PrecisionRules{}}
	c := New(src, Config{Mode: ModeStrict})

	_, err := c.GetPrecisionForSymbol(context.Background(), "binance", "DOGEUSDT")
	require.Error(t, err)
	var missing *MissingSymbolError
	require.ErrorAs(t, err, &missing)
}

func TestCache_LenientModeFallsBackToDefaults(t *testing.T) {
	src := &fakeSource{rules: map[string]gridcalc.PrecisionRules{}}
	defaults := gridcalc.PrecisionRules{MinQty: gridcalc.PrecisionRules{}.MinQty}
	c := New(src, Config{Mode: ModeLenient, Defaults: defaults})

	rules, err := c.GetPrecisionForSymbol(context.Background(), "binance", "DOGEUSDT")
	require.NoError(t, err)
	assert.Equal(t, defaults, rules)
}

func TestCache_StaleServedOnRefreshError(t *testing.T) {
	src := &fakeSource{rules: map[string]gridcalc.PrecisionRules{"BTCUSDT": {}}}
	c := New(src, Config{TTL: time.Millisecond})

	_, err := c.GetPrecisionForSymbol(context.Background(), "binance", "BTCUSDT")
	require.NoError(t, err)

	src.err = errors.New("network blip")
	time.Sleep(2 * time.Millisecond)
	_, err = c.GetPrecisionForSymbol(context.Background(), "binance", "BTCUSDT")
	require.NoError(t, err)
}
