package processor

import (
	"fmt"

	"oddsflow/models"
)

// Flatten expands every quote record into one row per outcome. Rows keep the
// (record, outcome) order of the input. Records without outcomes contribute
// nothing. A structurally broken record aborts with *models.MalformedRecordError
// and no rows are returned.
func Flatten(records []models.QuoteRecord) ([]models.FlatRow, error) {
	total := 0
	for i, rec := range records {
		if err := validateRecord(i, rec); err != nil {
			return nil, err
		}
		total += len(rec.Outcomes)
	}

	rows := make([]models.FlatRow, 0, total)
	for _, rec := range records {
		for _, outcome := range rec.Outcomes {
			rows = append(rows, models.FlatRow{
				MatchID:   rec.MatchID,
				Timestamp: rec.Timestamp,
				Market:    rec.Market,
				Selection: outcome.Selection,
				Price:     outcome.Price,
			})
		}
	}
	return rows, nil
}

// Duplicate selections inside one record are not rejected here; both rows are
// kept and ordered by input position downstream.
func validateRecord(index int, rec models.QuoteRecord) error {
	if rec.MatchID == "" {
		return &models.MalformedRecordError{Index: index, Field: "match_id", Reason: "is empty"}
	}
	if rec.Timestamp.IsZero() {
		return &models.MalformedRecordError{Index: index, MatchID: rec.MatchID, Field: "timestamp", Reason: "is missing"}
	}
	for j, outcome := range rec.Outcomes {
		if outcome.Selection == "" {
			return &models.MalformedRecordError{
				Index:   index,
				MatchID: rec.MatchID,
				Field:   fmt.Sprintf("outcomes[%d].selection", j),
				Reason:  "is empty",
			}
		}
	}
	return nil
}
