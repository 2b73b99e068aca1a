package binance

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/dnaeon/go-vcr/recorder"
	"github.com/stretchr/testify/assert"
)

// This test uses go-vcr to record/replay a real GetCurrentPrice call.
// It skips by default if the cassette is absent and RECORD_CASSETTES != 1.
func TestProvider_GetCurrentPrice_Recorded(t *testing.T) {
	cassette := filepath.Join("testdata", "cassettes", "binance_ticker_price.yaml")
	if _, err := os.Stat(cassette); os.IsNotExist(err) {
		if os.Getenv("RECORD_CASSETTES") != "1" {
			t.Skipf("cassette missing; set RECORD_CASSETTES=1 to record: %s", cassette)
		}
		err := os.MkdirAll(filepath.Dir(cassette), 0o755)
		assert.NoError(t, err, "mkdir cassettes dir should succeed")
	}

	r, err := recorder.New(cassette)
	assert.NoError(t, err, "recorder.New should not error")
	assert.NotNil(t, r, "recorder should not be nil")
	defer func() { _ = r.Stop() }()

	httpClient := &http.Client{Transport: r}
	provider := New(Config{}, WithHTTPClient(httpClient))

	ticker, err := provider.GetCurrentPrice(context.Background(), "BTCUSDT")
	assert.NoError(t, err, "GetCurrentPrice should not error")
	assert.Equal(t, "BTCUSDT", ticker.Symbol)
	assert.True(t, ticker.Price.IsPositive(), "price should be positive")
}
