package reader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"oddsflow/models"
)

// timestampLayouts are tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

type wireOutcome struct {
	Selection *string  `json:"selection" yaml:"selection"`
	Price     *float64 `json:"price" yaml:"price"`
}

type wireQuote struct {
	MatchID   string         `json:"match_id" yaml:"match_id"`
	Timestamp string         `json:"timestamp" yaml:"timestamp"`
	Market    string         `json:"market" yaml:"market"`
	Outcomes  *[]wireOutcome `json:"outcomes" yaml:"outcomes"`
}

// DecodeJSON parses either a JSON array of quotes or a single quote object.
func DecodeJSON(data []byte) ([]models.QuoteRecord, error) {
	return decodeJSONAt(data, 0)
}

// decodeJSONAt is DecodeJSON with record indexes shifted by offset, for
// payloads that continue an earlier batch.
func decodeJSONAt(data []byte, offset int) ([]models.QuoteRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var wire []wireQuote
	if data[0] == '[' {
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("decode quotes: %w", err)
		}
	} else {
		var single wireQuote
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("decode quote: %w", err)
		}
		wire = []wireQuote{single}
	}
	return toRecords(wire, offset)
}

// DecodeYAML parses a YAML sequence of quotes.
func DecodeYAML(data []byte) ([]models.QuoteRecord, error) {
	var wire []wireQuote
	if err := yaml.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode quotes: %w", err)
	}
	return toRecords(wire, 0)
}

func toRecords(wire []wireQuote, offset int) ([]models.QuoteRecord, error) {
	records := make([]models.QuoteRecord, 0, len(wire))
	for i, w := range wire {
		rec, err := w.record(offset + i)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (w wireQuote) record(index int) (models.QuoteRecord, error) {
	malformed := func(field, reason string) error {
		return &models.MalformedRecordError{Index: index, MatchID: w.MatchID, Field: field, Reason: reason}
	}

	if w.MatchID == "" {
		return models.QuoteRecord{}, malformed("match_id", "is missing")
	}
	if w.Timestamp == "" {
		return models.QuoteRecord{}, malformed("timestamp", "is missing")
	}
	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return models.QuoteRecord{}, malformed("timestamp", err.Error())
	}
	if w.Outcomes == nil {
		return models.QuoteRecord{}, malformed("outcomes", "is missing")
	}

	outcomes := make([]models.Outcome, 0, len(*w.Outcomes))
	for j, o := range *w.Outcomes {
		if o.Selection == nil || *o.Selection == "" {
			return models.QuoteRecord{}, malformed(fmt.Sprintf("outcomes[%d].selection", j), "is missing")
		}
		if o.Price == nil {
			return models.QuoteRecord{}, malformed(fmt.Sprintf("outcomes[%d].price", j), "is missing")
		}
		outcomes = append(outcomes, models.Outcome{Selection: *o.Selection, Price: *o.Price})
	}

	return models.QuoteRecord{
		MatchID:   w.MatchID,
		Timestamp: ts,
		Market:    w.Market,
		Outcomes:  outcomes,
	}, nil
}

func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}
