package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketRecord is one observation of one instrument from one upstream source
// at one collection instant. Optional fields are nil when the upstream does
// not provide them; nil is never conflated with zero. Records are immutable
// after construction and appended to the market_data table without any
// uniqueness constraint, so duplicate collection runs append rather than
// upsert.
type MarketRecord struct {
	Time         time.Time        `json:"time" db:"time"`
	Exchange     string           `json:"exchange" db:"exchange"`
	Symbol       string           `json:"symbol" db:"symbol"`
	Price        *decimal.Decimal `json:"price" db:"price"`
	Volume24h    *decimal.Decimal `json:"volume_24h" db:"volume_24h"`
	OpenInterest *decimal.Decimal `json:"open_interest" db:"open_interest"`
	FundingRate  *decimal.Decimal `json:"funding_rate" db:"funding_rate"`
	Bid          *decimal.Decimal `json:"bid" db:"bid"`
	Ask          *decimal.Decimal `json:"ask" db:"ask"`
}

// OpportunityEntry is a derived, non-persisted summary row: one symbol
// ranked by its windowed average funding rate.
type OpportunityEntry struct {
	Symbol         string  `json:"symbol"`
	AvgFundingRate float64 `json:"avg_funding_rate"`
	DataPoints     int64   `json:"data_points"`
}

// ExchangeOpportunities holds the ranked long/short opportunity lists for a
// single venue. Negative funding favors longs, positive favors shorts.
type ExchangeOpportunities struct {
	LongOpportunities  []OpportunityEntry `json:"long_opportunities"`
	ShortOpportunities []OpportunityEntry `json:"short_opportunities"`
}
