package models

import (
	"time"
)

// Outcome is a single priced selection inside a quote.
type Outcome struct {
	Selection string  `json:"selection"`
	Price     float64 `json:"price"` // decimal odds
}

// QuoteRecord represents one match/market snapshot as delivered by a quote source.
type QuoteRecord struct {
	MatchID   string    `json:"match_id"`
	Timestamp time.Time `json:"timestamp"`
	Market    string    `json:"market"`
	Outcomes  []Outcome `json:"outcomes"`
}

// FlatRow is one (match, timestamp, selection, price) entry produced by the flattener.
type FlatRow struct {
	MatchID   string    `json:"match_id"`
	Timestamp time.Time `json:"timestamp"`
	Market    string    `json:"market"`
	Selection string    `json:"selection"`
	Price     float64   `json:"price"`
}

// Key returns the series the row belongs to.
func (r FlatRow) Key() SeriesKey {
	return SeriesKey{MatchID: r.MatchID, Selection: r.Selection}
}

// SeriesKey groups rows into per (match, selection) time series.
type SeriesKey struct {
	MatchID   string
	Selection string
}

func (k SeriesKey) String() string {
	return k.MatchID + "|" + k.Selection
}

// Less orders series keys by match id, then selection.
func (k SeriesKey) Less(o SeriesKey) bool {
	if k.MatchID != o.MatchID {
		return k.MatchID < o.MatchID
	}
	return k.Selection < o.Selection
}

// PricedRow is a flat row with its implied probability attached.
type PricedRow struct {
	FlatRow
	ImpliedProb float64 `json:"implied_prob"`
}

// AnnotatedRow is the final table row. PrevPrice and PriceDelta are nil for
// the first row of a series.
type AnnotatedRow struct {
	PricedRow
	PrevPrice  *float64 `json:"prev_price"`
	PriceDelta *float64 `json:"price_delta"`
	IsAnomaly  bool     `json:"is_anomaly"`
}

// RejectedRow is a flat row that was excluded from feature computation.
type RejectedRow struct {
	Row FlatRow
	Err error
}

// RunSummary reports the outcome of a single pipeline run.
type RunSummary struct {
	RunID         string        `json:"run_id"`
	TableName     string        `json:"table_name"`
	RowCount      int           `json:"row_count"`
	AnomalyCount  int           `json:"anomaly_count"`
	RejectedCount int           `json:"rejected_count"`
	Duration      time.Duration `json:"duration"`
}
