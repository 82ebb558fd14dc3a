package cache

import "time"

// TTL constants per data source.
// Intraday data goes stale quickly; statements change with quarterly filings.
const (
	TTLQuote      = 30 * time.Second // real-time quote
	TTLKline      = 5 * time.Minute  // daily candles plus derived indicators
	TTLFundFlow   = 5 * time.Minute  // main-force money flow
	TTLNews       = 10 * time.Minute // news headlines
	TTLFinancials = 24 * time.Hour   // statements and valuation ratios
)
