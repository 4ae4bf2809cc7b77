package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpscan/fundingmon/internal/config"
)

func lighterTestClient(baseURL string) *LighterClient {
	return NewLighterClient(config.LighterConfig{
		UpstreamConfig: config.UpstreamConfig{
			BaseURL:           baseURL,
			RequestsPerSecond: 1000,
		},
	})
}

func lighterServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/funding-rates", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func TestLighterFetchAndNormalize(t *testing.T) {
	body := `{
		"code": 200,
		"funding_rates": [
			{"market_id": 1, "exchange": "binance", "symbol": "BTC", "rate": -0.000125},
			{"market_id": 1, "exchange": "lighter", "symbol": "BTC", "rate": 0.0003},
			{"market_id": 2, "exchange": "unknown_venue", "symbol": "ETH", "rate": 0.0001}
		]
	}`
	srv := lighterServer(t, body)
	defer srv.Close()

	client := lighterTestClient(srv.URL)
	records, err := client.FetchAndNormalize(context.Background(), srv.Client())
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Mapped venue names distinguish aggregator-sourced data from direct
	// sources; unknown names pass through unchanged.
	btc, ok := records[Key{Exchange: "binance_lighter", Symbol: "BTC"}]
	require.True(t, ok)
	assert.Equal(t, "binance_lighter", btc.Exchange)
	require.NotNil(t, btc.FundingRate)
	assert.Equal(t, "-0.000125", btc.FundingRate.String())

	_, ok = records[Key{Exchange: "lighter", Symbol: "BTC"}]
	assert.True(t, ok)

	eth, ok := records[Key{Exchange: "unknown_venue", Symbol: "ETH"}]
	require.True(t, ok)
	assert.Equal(t, "unknown_venue", eth.Exchange)

	// Funding-rate-only upstream: every other field stays absent.
	assert.Nil(t, btc.Price)
	assert.Nil(t, btc.Volume24h)
	assert.Nil(t, btc.OpenInterest)
	assert.Nil(t, btc.Bid)
	assert.Nil(t, btc.Ask)
	assert.False(t, btc.Time.IsZero())
}

func TestLighterNameMapIsNotAppliedTwice(t *testing.T) {
	// A name that is already a mapping image but not itself a key passes
	// through unchanged.
	body := `{
		"code": 200,
		"funding_rates": [
			{"market_id": 1, "exchange": "binance_lighter", "symbol": "BTC", "rate": 0.001}
		]
	}`
	srv := lighterServer(t, body)
	defer srv.Close()

	client := lighterTestClient(srv.URL)
	records, err := client.FetchAndNormalize(context.Background(), srv.Client())
	require.NoError(t, err)

	_, ok := records[Key{Exchange: "binance_lighter", Symbol: "BTC"}]
	assert.True(t, ok)
}

func TestLighterValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "missing code",
			body: `{"funding_rates": []}`,
		},
		{
			name: "missing funding_rates",
			body: `{"code": 200}`,
		},
		{
			name: "funding_rates not a list",
			body: `{"code": 200, "funding_rates": {"market_id": 1}}`,
		},
		{
			name: "record missing market_id",
			body: `{"code": 200, "funding_rates": [{"exchange": "binance", "symbol": "BTC", "rate": 0.1}]}`,
		},
		{
			name: "record missing exchange",
			body: `{"code": 200, "funding_rates": [{"market_id": 1, "symbol": "BTC", "rate": 0.1}]}`,
		},
		{
			name: "record missing symbol",
			body: `{"code": 200, "funding_rates": [{"market_id": 1, "exchange": "binance", "rate": 0.1}]}`,
		},
		{
			name: "record missing rate",
			body: `{"code": 200, "funding_rates": [{"market_id": 1, "exchange": "binance", "symbol": "BTC"}]}`,
		},
		{
			name: "second record invalid",
			body: `{"code": 200, "funding_rates": [{"market_id": 1, "exchange": "binance", "symbol": "BTC", "rate": 0.1}, {"market_id": 2}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := lighterServer(t, tt.body)
			defer srv.Close()

			client := lighterTestClient(srv.URL)
			records, err := client.FetchAndNormalize(context.Background(), srv.Client())
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "expected validation error, got %v", err)
			// No partial normalization on validation failure.
			assert.Nil(t, records)
		})
	}
}

func TestLighterTransientFailures(t *testing.T) {
	t.Run("non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		client := lighterTestClient(srv.URL)
		_, err := client.FetchAndNormalize(context.Background(), srv.Client())
		require.Error(t, err)
		assert.False(t, IsValidationError(err))
	})

	t.Run("malformed json", func(t *testing.T) {
		srv := lighterServer(t, `{"code": 200, "funding`)
		defer srv.Close()

		client := lighterTestClient(srv.URL)
		_, err := client.FetchAndNormalize(context.Background(), srv.Client())
		require.Error(t, err)
		assert.False(t, IsValidationError(err))
	})
}

func TestLighterConfiguredExchangeMapOverride(t *testing.T) {
	body := `{
		"code": 200,
		"funding_rates": [
			{"market_id": 1, "exchange": "binance", "symbol": "BTC", "rate": 0.001}
		]
	}`
	srv := lighterServer(t, body)
	defer srv.Close()

	client := NewLighterClient(config.LighterConfig{
		UpstreamConfig: config.UpstreamConfig{
			BaseURL:           srv.URL,
			RequestsPerSecond: 1000,
		},
		ExchangeMap: map[string]string{"binance": "binance_agg"},
	})

	records, err := client.FetchAndNormalize(context.Background(), srv.Client())
	require.NoError(t, err)

	_, ok := records[Key{Exchange: "binance_agg", Symbol: "BTC"}]
	assert.True(t, ok)
}
