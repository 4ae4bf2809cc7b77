package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/perpscan/fundingmon/internal/config"
	"github.com/perpscan/fundingmon/internal/models"
)

// PgxPool is the subset of *pgxpool.Pool the aggregation engine reads
// through. pgxmock's PgxPoolIface satisfies it for tests.
type PgxPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Cache is the response-cache surface; *database.RedisClient satisfies it.
// A nil cache disables caching entirely.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// ExchangeFundingSummary is the single-venue view: all symbols ranked
// ascending by windowed average funding rate, with the top long and short
// opportunity lists derived from the ranking.
type ExchangeFundingSummary struct {
	UpdatedAt  time.Time                 `json:"updated_at"`
	Top10Long  []models.OpportunityEntry `json:"top_10_long"`
	Top10Short []models.OpportunityEntry `json:"top_10_short"`
}

// singleExchangeQuery restricts to the trailing window and the most recent
// N samples per symbol (ROW_NUMBER over time DESC), then averages. The
// row-count cap bounds the influence of over-frequent sampling; rows with a
// null funding_rate never enter the window or the count.
const singleExchangeQuery = `
	WITH recent_data AS (
		SELECT
			symbol,
			funding_rate,
			time,
			ROW_NUMBER() OVER (PARTITION BY symbol ORDER BY time DESC) AS rn
		FROM market_data
		WHERE exchange = $1
			AND time > NOW() - make_interval(days => $2)
			AND funding_rate IS NOT NULL
	)
	SELECT
		symbol,
		AVG(funding_rate)::float8 AS avg_funding_rate,
		COUNT(*) AS data_points
	FROM recent_data
	WHERE rn <= $3
	GROUP BY symbol
	ORDER BY avg_funding_rate ASC`

const allExchangesQuery = `
	WITH recent_data AS (
		SELECT
			exchange,
			symbol,
			funding_rate,
			time,
			ROW_NUMBER() OVER (PARTITION BY exchange, symbol ORDER BY time DESC) AS rn
		FROM market_data
		WHERE time > NOW() - make_interval(days => $1)
			AND funding_rate IS NOT NULL
	)
	SELECT
		exchange,
		symbol,
		AVG(funding_rate)::float8 AS avg_funding_rate,
		COUNT(*) AS data_points
	FROM recent_data
	WHERE rn <= $2
	GROUP BY exchange, symbol
	ORDER BY exchange, avg_funding_rate ASC`

// OpportunityService answers the serving API's pre-aggregated funding-rate
// views from the shared time-series table, with a best-effort Redis cache
// in front.
type OpportunityService struct {
	pool  PgxPool
	cache Cache
	cfg   config.AggregationConfig
	log   *logrus.Entry
}

func NewOpportunityService(pool PgxPool, cache Cache, cfg config.AggregationConfig) *OpportunityService {
	return &OpportunityService{
		pool:  pool,
		cache: cache,
		cfg:   cfg,
		log:   logrus.WithField("component", "opportunities"),
	}
}

// GetExchangeOpportunities computes the ranked view for one venue. The long
// list is the head of the ascending ranking; the short list is the reversed
// tail and stays empty until at least TopN symbols have data.
func (s *OpportunityService) GetExchangeOpportunities(ctx context.Context, exchangeName string) (*ExchangeFundingSummary, error) {
	cacheKey := "funding:opportunities:" + exchangeName
	var cached ExchangeFundingSummary
	if s.cacheGet(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	entries, err := s.querySingleExchange(ctx, exchangeName)
	if err != nil {
		return nil, err
	}

	summary := &ExchangeFundingSummary{
		UpdatedAt:  time.Now().UTC(),
		Top10Long:  head(entries, s.cfg.TopN),
		Top10Short: []models.OpportunityEntry{},
	}
	if len(entries) >= s.cfg.TopN {
		summary.Top10Short = reversed(tail(entries, s.cfg.TopN))
	}

	s.cacheSet(ctx, cacheKey, summary)
	return summary, nil
}

// GetOpportunitiesByExchange computes per-venue long/short rankings for
// every configured venue. Venues with no data yet appear with empty lists
// rather than being omitted.
func (s *OpportunityService) GetOpportunitiesByExchange(ctx context.Context) (map[string]models.ExchangeOpportunities, time.Time, error) {
	type byExchangePayload struct {
		Exchanges   map[string]models.ExchangeOpportunities `json:"exchanges"`
		LastUpdated time.Time                               `json:"last_updated"`
	}

	cacheKey := "funding:opportunities:by-exchange"
	var cached byExchangePayload
	if s.cacheGet(ctx, cacheKey, &cached) {
		return cached.Exchanges, cached.LastUpdated, nil
	}

	grouped, err := s.queryAllExchanges(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}

	result := make(map[string]models.ExchangeOpportunities, len(s.cfg.Exchanges))
	for _, venue := range s.cfg.Exchanges {
		entries := grouped[venue] // ascending per venue
		result[venue] = models.ExchangeOpportunities{
			LongOpportunities:  head(entries, s.cfg.TopN),
			ShortOpportunities: head(reversed(entries), s.cfg.TopN),
		}
	}

	now := time.Now().UTC()
	s.cacheSet(ctx, cacheKey, byExchangePayload{Exchanges: result, LastUpdated: now})
	return result, now, nil
}

func (s *OpportunityService) querySingleExchange(ctx context.Context, exchangeName string) ([]models.OpportunityEntry, error) {
	rows, err := s.pool.Query(ctx, singleExchangeQuery, exchangeName, s.cfg.WindowDays, s.cfg.MaxSamples)
	if err != nil {
		return nil, fmt.Errorf("failed to query funding averages: %w", err)
	}
	defer rows.Close()

	var entries []models.OpportunityEntry
	for rows.Next() {
		var e models.OpportunityEntry
		if err := rows.Scan(&e.Symbol, &e.AvgFundingRate, &e.DataPoints); err != nil {
			return nil, fmt.Errorf("failed to scan funding average row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read funding averages: %w", err)
	}
	return entries, nil
}

func (s *OpportunityService) queryAllExchanges(ctx context.Context) (map[string][]models.OpportunityEntry, error) {
	rows, err := s.pool.Query(ctx, allExchangesQuery, s.cfg.WindowDays, s.cfg.MaxSamples)
	if err != nil {
		return nil, fmt.Errorf("failed to query funding averages: %w", err)
	}
	defer rows.Close()

	grouped := make(map[string][]models.OpportunityEntry)
	for rows.Next() {
		var venue string
		var e models.OpportunityEntry
		if err := rows.Scan(&venue, &e.Symbol, &e.AvgFundingRate, &e.DataPoints); err != nil {
			return nil, fmt.Errorf("failed to scan funding average row: %w", err)
		}
		grouped[venue] = append(grouped[venue], e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read funding averages: %w", err)
	}
	return grouped, nil
}

func (s *OpportunityService) cacheGet(ctx context.Context, key string, out interface{}) bool {
	if s.cache == nil || s.cfg.CacheTTLSeconds <= 0 {
		return false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("dropping undecodable cache entry")
		return false
	}
	return true
}

func (s *OpportunityService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil || s.cfg.CacheTTLSeconds <= 0 {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, string(raw), s.cfg.CacheTTL()); err != nil {
		s.log.WithError(err).WithField("key", key).Debug("cache write failed")
	}
}

func head(entries []models.OpportunityEntry, n int) []models.OpportunityEntry {
	if len(entries) < n {
		n = len(entries)
	}
	out := make([]models.OpportunityEntry, n)
	copy(out, entries[:n])
	return out
}

func tail(entries []models.OpportunityEntry, n int) []models.OpportunityEntry {
	if len(entries) < n {
		n = len(entries)
	}
	out := make([]models.OpportunityEntry, n)
	copy(out, entries[len(entries)-n:])
	return out
}

func reversed(entries []models.OpportunityEntry) []models.OpportunityEntry {
	out := make([]models.OpportunityEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}
