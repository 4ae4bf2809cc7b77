package exchange

import (
	"bytes"
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

const hyperliquidName = "hyperliquid"

// HyperliquidClient pulls the full perpetuals universe from Hyperliquid's
// info endpoint in a single request. The response is a 2-tuple: a meta
// object whose universe list names every instrument, and a parallel list of
// per-instrument market contexts matched by position.
type HyperliquidClient struct {
	baseURL string
	limiter *rate.Limiter
	log     *logrus.Entry
}

func NewHyperliquidClient(cfg config.UpstreamConfig) *HyperliquidClient {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	return &HyperliquidClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     logrus.WithField("upstream", hyperliquidName),
	}
}

func (c *HyperliquidClient) Name() string {
	return hyperliquidName
}

type hyperliquidMeta struct {
	Universe []struct {
		Name string `json:"name"`
	} `json:"universe"`
}

type hyperliquidAssetCtx struct {
	MarkPx       string   `json:"markPx"`
	DayNtlVlm    string   `json:"dayNtlVlm"`
	OpenInterest string   `json:"openInterest"`
	Funding      string   `json:"funding"`
	ImpactPxs    []string `json:"impactPxs"`
}

// FetchAndNormalize issues POST /info {"type":"metaAndAssetCtxs"} and emits
// one record per universe entry with a matching market context. A length
// mismatch between the two lists truncates to the shorter side; a single
// missing row never fails the whole batch.
func (c *HyperliquidClient) FetchAndNormalize(ctx context.Context, sess *http.Client) (map[Key]models.MarketRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]string{"type": "metaAndAssetCtxs"})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/info", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := sess.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hyperliquid returned status %d", resp.StatusCode)
	}

	var payload []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode hyperliquid response: %w", err)
	}
	if len(payload) < 2 {
		return nil, fmt.Errorf("hyperliquid response is not a meta/context pair")
	}

	var meta hyperliquidMeta
	if err := json.Unmarshal(payload[0], &meta); err != nil {
		return nil, fmt.Errorf("failed to decode hyperliquid universe: %w", err)
	}
	var ctxs []hyperliquidAssetCtx
	if err := json.Unmarshal(payload[1], &ctxs); err != nil {
		return nil, fmt.Errorf("failed to decode hyperliquid asset contexts: %w", err)
	}

	n := len(meta.Universe)
	if len(ctxs) < n {
		n = len(ctxs)
	}
	if len(meta.Universe) != len(ctxs) {
		c.log.WithFields(logrus.Fields{
			"universe": len(meta.Universe),
			"contexts": len(ctxs),
		}).Warn("universe/context length mismatch, truncating to shorter list")
	}

	now := time.Now().UTC()
	records := make(map[Key]models.MarketRecord, n)
	for i := 0; i < n; i++ {
		mc := ctxs[i]
		rec := models.MarketRecord{
			Time:         now,
			Exchange:     hyperliquidName,
			Symbol:       meta.Universe[i].Name,
			Price:        parseDecimal(mc.MarkPx),
			Volume24h:    parseDecimal(mc.DayNtlVlm),
			OpenInterest: parseDecimal(mc.OpenInterest),
			FundingRate:  parseDecimal(mc.Funding),
		}
		if len(mc.ImpactPxs) > 0 {
			rec.Bid = parseDecimal(mc.ImpactPxs[0])
		}
		if len(mc.ImpactPxs) > 1 {
			rec.Ask = parseDecimal(mc.ImpactPxs[1])
		}
		records[Key{Exchange: hyperliquidName, Symbol: rec.Symbol}] = rec
	}

	return records, nil
}

// parseDecimal converts an exchange-reported numeric string, preserving its
// precision. Empty or unparseable values read as "not provided".
func parseDecimal(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}
