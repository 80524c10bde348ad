package models

import (
	"fmt"
)

// MalformedRecordError reports a quote record whose structure is missing
// required fields. It aborts the run.
type MalformedRecordError struct {
	Index   int // position of the record in the fetched batch
	MatchID string
	Field   string
	Reason  string
}

func (e *MalformedRecordError) Error() string {
	if e.MatchID != "" {
		return fmt.Sprintf("malformed quote record %d (match %s): %s %s", e.Index, e.MatchID, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed quote record %d: %s %s", e.Index, e.Field, e.Reason)
}

// InvalidPriceError reports a row whose price cannot be turned into an
// implied probability.
type InvalidPriceError struct {
	MatchID   string
	Selection string
	Price     float64
}

func (e *InvalidPriceError) Error() string {
	return fmt.Sprintf("invalid price %v for %s/%s: price must be positive", e.Price, e.MatchID, e.Selection)
}

// SinkError wraps a failure reported by a table sink.
type SinkError struct {
	Sink  string
	Table string
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("%s sink: write table %s: %v", e.Sink, e.Table, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
