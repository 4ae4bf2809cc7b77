package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/perpscan/fundingmon/internal/config"
	"github.com/perpscan/fundingmon/internal/models"
)

const lighterName = "lighter"

// DefaultExchangeMap rewrites venue names reported by the Lighter aggregator
// so the same economic venue stays distinguishable from data collected
// directly from that venue. Unknown names pass through unchanged.
var DefaultExchangeMap = map[string]string{
	"binance":     "binance_lighter",
	"bybit":       "bybit_lighter",
	"hyperliquid": "hyperliquid_lighter",
	"lighter":     "lighter",
}

// LighterClient pulls funding rates for several venues from the Lighter
// aggregator in a single request. Only the funding rate is provided; all
// other record fields stay absent.
type LighterClient struct {
	baseURL string
	nameMap map[string]string
	limiter *rate.Limiter
	log     *logrus.Entry
}

func NewLighterClient(cfg config.LighterConfig) *LighterClient {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	nameMap := cfg.ExchangeMap
	if len(nameMap) == 0 {
		nameMap = DefaultExchangeMap
	}
	return &LighterClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		nameMap: nameMap,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     logrus.WithField("upstream", lighterName),
	}
}

func (c *LighterClient) Name() string {
	return lighterName
}

type lighterPayload struct {
	Code         *int             `json:"code"`
	FundingRates *json.RawMessage `json:"funding_rates"`
}

type lighterRate struct {
	MarketID *json.Number `json:"market_id"`
	Exchange *string      `json:"exchange"`
	Symbol   *string      `json:"symbol"`
	Rate     *json.Number `json:"rate"`
}

// FetchAndNormalize issues GET /funding-rates and validates the payload
// shape before any normalization. A shape violation is a ValidationError
// and must not be retried; no partially normalized result is ever returned.
func (c *LighterClient) FetchAndNormalize(ctx context.Context, sess *http.Client) (map[Key]models.MarketRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/funding-rates", nil)
	if err != nil {
		return nil, err
	}

	resp, err := sess.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lighter request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lighter returned status %d", resp.StatusCode)
	}

	var payload lighterPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode lighter response: %w", err)
	}

	rates, err := c.validate(payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	records := make(map[Key]models.MarketRecord, len(rates))
	for i, r := range rates {
		rateValue, err := decimal.NewFromString(r.Rate.String())
		if err != nil {
			return nil, &ValidationError{
				Upstream: lighterName,
				Reason:   fmt.Sprintf("record %d has non-numeric rate %q", i, r.Rate.String()),
			}
		}

		venue := *r.Exchange
		if mapped, ok := c.nameMap[venue]; ok {
			venue = mapped
		}

		rec := models.MarketRecord{
			Time:        now,
			Exchange:    venue,
			Symbol:      *r.Symbol,
			FundingRate: &rateValue,
		}
		records[Key{Exchange: venue, Symbol: rec.Symbol}] = rec
	}

	return records, nil
}

// validate enforces the aggregator contract: a status code field, a list of
// rate records, and per record a market identifier, venue name, symbol and
// rate value. It runs to completion before any record is normalized.
func (c *LighterClient) validate(payload lighterPayload) ([]lighterRate, error) {
	if payload.Code == nil {
		return nil, &ValidationError{Upstream: lighterName, Reason: "response missing 'code' field"}
	}
	if payload.FundingRates == nil {
		return nil, &ValidationError{Upstream: lighterName, Reason: "response missing 'funding_rates' field"}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(*payload.FundingRates, &raw); err != nil {
		return nil, &ValidationError{Upstream: lighterName, Reason: "'funding_rates' must be a list"}
	}

	rates := make([]lighterRate, len(raw))
	for i, msg := range raw {
		if err := json.Unmarshal(msg, &rates[i]); err != nil {
			return nil, &ValidationError{
				Upstream: lighterName,
				Reason:   fmt.Sprintf("record %d is malformed: %v", i, err),
			}
		}
	}

	for i, r := range rates {
		var missing []string
		if r.MarketID == nil {
			missing = append(missing, "market_id")
		}
		if r.Exchange == nil {
			missing = append(missing, "exchange")
		}
		if r.Symbol == nil {
			missing = append(missing, "symbol")
		}
		if r.Rate == nil {
			missing = append(missing, "rate")
		}
		if len(missing) > 0 {
			return nil, &ValidationError{
				Upstream: lighterName,
				Reason:   fmt.Sprintf("record %d missing required fields: %s", i, strings.Join(missing, ", ")),
			}
		}
	}

	return rates, nil
}
