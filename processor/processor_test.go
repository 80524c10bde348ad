package processor

import (
	"errors"
	"math"
	"testing"
	"time"

	"oddsflow/logger"
	"oddsflow/models"
)

var (
	t0 = time.Date(2025, 12, 18, 14, 0, 0, 0, time.UTC)
	t1 = t0.Add(5 * time.Minute)
)

func sampleRecords() []models.QuoteRecord {
	return []models.QuoteRecord{
		{MatchID: "LIV_ARS", Timestamp: t0, Market: "1x2", Outcomes: []models.Outcome{
			{Selection: "Home", Price: 2.10}, {Selection: "Draw", Price: 3.50}, {Selection: "Away", Price: 3.20},
		}},
		{MatchID: "LIV_ARS", Timestamp: t1, Market: "1x2", Outcomes: []models.Outcome{
			{Selection: "Home", Price: 2.15}, {Selection: "Draw", Price: 3.50}, {Selection: "Away", Price: 3.10},
		}},
		{MatchID: "CHE_MUN", Timestamp: t0, Market: "1x2", Outcomes: []models.Outcome{
			{Selection: "Home", Price: 1.95}, {Selection: "Draw", Price: 3.60}, {Selection: "Away", Price: 4.00},
		}},
	}
}

func pricedRows(t *testing.T, records []models.QuoteRecord) []models.PricedRow {
	t.Helper()
	flat, err := Flatten(records)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	priced, rejected := AddImpliedProbability(flat)
	if len(rejected) != 0 {
		t.Fatalf("unexpected rejected rows: %v", rejected)
	}
	return priced
}

func pair(home1, home2 float64) []models.QuoteRecord {
	return []models.QuoteRecord{
		{MatchID: "LIV_ARS", Timestamp: t0, Market: "1x2", Outcomes: []models.Outcome{{Selection: "Home", Price: home1}}},
		{MatchID: "LIV_ARS", Timestamp: t1, Market: "1x2", Outcomes: []models.Outcome{{Selection: "Home", Price: home2}}},
	}
}

func TestFlattenCompleteness(t *testing.T) {
	records := sampleRecords()
	records = append(records, models.QuoteRecord{MatchID: "EMPTY", Timestamp: t0, Market: "1x2"})

	rows, err := Flatten(records)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	want := 0
	for _, r := range records {
		want += len(r.Outcomes)
	}
	if len(rows) != want {
		t.Fatalf("expected %d rows, got %d", want, len(rows))
	}
	// input (record, outcome) order is preserved
	if rows[0].Selection != "Home" || rows[3].Price != 2.15 || rows[8].MatchID != "CHE_MUN" {
		t.Fatalf("unexpected row order: %+v", rows)
	}
}

func TestFlattenRejectsMalformedRecords(t *testing.T) {
	cases := map[string]models.QuoteRecord{
		"missing match":     {Timestamp: t0, Outcomes: []models.Outcome{{Selection: "Home", Price: 2}}},
		"missing timestamp": {MatchID: "LIV_ARS", Outcomes: []models.Outcome{{Selection: "Home", Price: 2}}},
		"empty selection":   {MatchID: "LIV_ARS", Timestamp: t0, Outcomes: []models.Outcome{{Price: 2}}},
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			rows, err := Flatten([]models.QuoteRecord{sampleRecords()[0], rec})
			var malformed *models.MalformedRecordError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedRecordError, got %v", err)
			}
			if malformed.Index != 1 {
				t.Fatalf("expected index 1, got %d", malformed.Index)
			}
			if rows != nil {
				t.Fatalf("expected no rows on error")
			}
		})
	}
}

func TestImpliedProbability(t *testing.T) {
	cases := []struct {
		price float64
		want  float64
	}{
		{2.10, 0.4762},
		{3.50, 0.2857},
		{1.95, 0.5128},
		{4.00, 0.25},
		{3.60, 0.2778},
		{8.0, 0.125},
		// exact quotients need no rounding
		{3.2, 0.3125},
		{1.6, 0.625},
		{1e5, 0.0000},
	}
	for _, c := range cases {
		got, ok := ImpliedProbability(c.price)
		if !ok || got != c.want {
			t.Errorf("ImpliedProbability(%v) = %v, %v; want %v", c.price, got, ok, c.want)
		}
	}
}

func TestImpliedProbabilityHalfToEven(t *testing.T) {
	// 1/2.56 = 0.390625 rounds down
	got, _ := ImpliedProbability(2.56)
	if got != 0.3906 {
		t.Fatalf("expected 0.3906, got %v", got)
	}
	// 1/6.4 = 0.15625 -> 0.1562 under half-to-even
	got, _ = ImpliedProbability(6.4)
	if got != 0.1562 {
		t.Fatalf("expected 0.1562, got %v", got)
	}
}

func TestAddImpliedProbabilityRejectsInvalidPrices(t *testing.T) {
	rows := []models.FlatRow{
		{MatchID: "A", Timestamp: t0, Selection: "Home", Price: 2.0},
		{MatchID: "A", Timestamp: t0, Selection: "Draw", Price: 0},
		{MatchID: "A", Timestamp: t0, Selection: "Away", Price: -1.5},
		{MatchID: "B", Timestamp: t0, Selection: "Home", Price: math.NaN()},
		{MatchID: "B", Timestamp: t0, Selection: "Away", Price: 4.0},
	}
	priced, rejected := AddImpliedProbability(rows)
	if len(priced) != 2 || len(rejected) != 3 {
		t.Fatalf("expected 2 priced and 3 rejected, got %d/%d", len(priced), len(rejected))
	}
	for _, r := range rejected {
		var invalid *models.InvalidPriceError
		if !errors.As(r.Err, &invalid) {
			t.Fatalf("expected InvalidPriceError, got %v", r.Err)
		}
	}
	if priced[0].ImpliedProb != 0.5 || priced[1].ImpliedProb != 0.25 {
		t.Fatalf("unexpected probabilities: %+v", priced)
	}
}

func TestDetectFlagsThresholdMove(t *testing.T) {
	d := NewDetector(0.05, 1, logger.Discard())

	annotated, anomalies := d.Detect(pricedRows(t, pair(2.10, 2.15)))
	if len(annotated) != 2 || len(anomalies) != 1 {
		t.Fatalf("expected 2 rows and 1 anomaly, got %d/%d", len(annotated), len(anomalies))
	}
	row := anomalies[0]
	if row.Price != 2.15 || *row.PrevPrice != 2.10 || *row.PriceDelta != 0.05 {
		t.Fatalf("unexpected anomaly row: %+v delta=%v", row, *row.PriceDelta)
	}

	_, anomalies = d.Detect(pricedRows(t, pair(2.10, 2.12)))
	if len(anomalies) != 0 {
		t.Fatalf("delta 0.02 must not be flagged, got %d anomalies", len(anomalies))
	}
}

func TestDetectDownwardMove(t *testing.T) {
	d := NewDetector(0.05, 1, logger.Discard())
	_, anomalies := d.Detect(pricedRows(t, pair(3.20, 3.10)))
	if len(anomalies) != 1 || *anomalies[0].PriceDelta != -0.1 {
		t.Fatalf("expected one downward anomaly of -0.1, got %+v", anomalies)
	}
}

func TestDetectSingleRowSeries(t *testing.T) {
	d := NewDetector(0, 1, logger.Discard())
	annotated, anomalies := d.Detect(pricedRows(t, sampleRecords()))

	var found bool
	for _, row := range annotated {
		if row.MatchID == "CHE_MUN" && row.Selection == "Draw" {
			found = true
			if row.PrevPrice != nil || row.PriceDelta != nil || row.IsAnomaly {
				t.Fatalf("single row series must have no delta: %+v", row)
			}
		}
	}
	if !found {
		t.Fatalf("CHE_MUN/Draw row missing")
	}
	// threshold 0 flags every row that has a predecessor, including zero moves
	if len(anomalies) != 3 {
		t.Fatalf("expected 3 anomalies at threshold 0, got %d", len(anomalies))
	}
}

func TestDetectOrdering(t *testing.T) {
	records := sampleRecords()
	// feed the later LIV_ARS snapshot first
	records[0], records[1] = records[1], records[0]

	d := NewDetector(DefaultThreshold, 1, logger.Discard())
	annotated, _ := d.Detect(pricedRows(t, records))

	want := []struct {
		match, selection string
		ts               time.Time
	}{
		{"CHE_MUN", "Away", t0},
		{"CHE_MUN", "Draw", t0},
		{"CHE_MUN", "Home", t0},
		{"LIV_ARS", "Away", t0},
		{"LIV_ARS", "Away", t1},
		{"LIV_ARS", "Draw", t0},
		{"LIV_ARS", "Draw", t1},
		{"LIV_ARS", "Home", t0},
		{"LIV_ARS", "Home", t1},
	}
	if len(annotated) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(annotated))
	}
	for i, w := range want {
		got := annotated[i]
		if got.MatchID != w.match || got.Selection != w.selection || !got.Timestamp.Equal(w.ts) {
			t.Fatalf("row %d: got %s/%s@%s, want %s/%s@%s", i,
				got.MatchID, got.Selection, got.Timestamp, w.match, w.selection, w.ts)
		}
	}
}

func TestDetectStableTies(t *testing.T) {
	// two quotes for the same series at the same instant keep input order
	records := []models.QuoteRecord{
		{MatchID: "M", Timestamp: t0, Outcomes: []models.Outcome{{Selection: "Home", Price: 2.0}, {Selection: "Home", Price: 2.5}}},
		{MatchID: "M", Timestamp: t0, Outcomes: []models.Outcome{{Selection: "Home", Price: 3.0}}},
	}
	d := NewDetector(DefaultThreshold, 1, logger.Discard())
	annotated, _ := d.Detect(pricedRows(t, records))
	prices := []float64{annotated[0].Price, annotated[1].Price, annotated[2].Price}
	if prices[0] != 2.0 || prices[1] != 2.5 || prices[2] != 3.0 {
		t.Fatalf("ties not stable: %v", prices)
	}
	if *annotated[1].PrevPrice != 2.0 || *annotated[2].PrevPrice != 2.5 {
		t.Fatalf("unexpected prev prices")
	}
}

func TestDetectDeltaConsistency(t *testing.T) {
	d := NewDetector(DefaultThreshold, 1, logger.Discard())
	annotated, _ := d.Detect(pricedRows(t, sampleRecords()))

	for i, row := range annotated {
		first := i == 0 || annotated[i-1].Key() != row.Key()
		if first {
			if row.PrevPrice != nil || row.PriceDelta != nil {
				t.Fatalf("first row of %s has a delta", row.Key())
			}
			continue
		}
		prev := annotated[i-1]
		if *row.PrevPrice != prev.Price {
			t.Fatalf("prev_price mismatch at %d", i)
		}
		if math.Abs(*row.PriceDelta-(row.Price-prev.Price)) > 1e-9 {
			t.Fatalf("delta mismatch at %d: %v vs %v", i, *row.PriceDelta, row.Price-prev.Price)
		}
	}
}

func TestDetectThresholdMonotonicity(t *testing.T) {
	rows := pricedRows(t, sampleRecords())
	prev := math.MaxInt
	for _, threshold := range []float64{0, 0.01, 0.05, 0.1, 0.5, 1} {
		_, anomalies := NewDetector(threshold, 1, logger.Discard()).Detect(rows)
		if len(anomalies) > prev {
			t.Fatalf("threshold %v increased anomalies to %d (was %d)", threshold, len(anomalies), prev)
		}
		prev = len(anomalies)
	}
}

func TestDetectIdempotent(t *testing.T) {
	d := NewDetector(DefaultThreshold, 1, logger.Discard())
	first, _ := d.Detect(pricedRows(t, sampleRecords()))

	again := make([]models.PricedRow, len(first))
	for i, row := range first {
		again[i] = row.PricedRow
	}
	second, _ := d.Detect(again)

	for i := range first {
		if first[i].IsAnomaly != second[i].IsAnomaly || first[i].Price != second[i].Price {
			t.Fatalf("row %d differs between runs", i)
		}
	}
}

func TestDetectWorkersMatchSequential(t *testing.T) {
	var records []models.QuoteRecord
	for m := 0; m < 20; m++ {
		for s := 0; s < 5; s++ {
			records = append(records, models.QuoteRecord{
				MatchID:   string(rune('A'+m)) + "_X",
				Timestamp: t0.Add(time.Duration(s) * time.Minute),
				Market:    "1x2",
				Outcomes: []models.Outcome{
					{Selection: "Home", Price: 2.0 + float64(s)*0.03},
					{Selection: "Away", Price: 3.0 - float64(s%2)*0.1},
				},
			})
		}
	}
	rows := pricedRows(t, records)

	seq, seqAnom := NewDetector(DefaultThreshold, 1, logger.Discard()).Detect(rows)
	par, parAnom := NewDetector(DefaultThreshold, 8, logger.Discard()).Detect(rows)

	if len(seq) != len(par) || len(seqAnom) != len(parAnom) {
		t.Fatalf("parallel result size differs")
	}
	for i := range seq {
		if seq[i].Key() != par[i].Key() || !seq[i].Timestamp.Equal(par[i].Timestamp) || seq[i].IsAnomaly != par[i].IsAnomaly {
			t.Fatalf("row %d differs: %+v vs %+v", i, seq[i], par[i])
		}
	}
}

func TestDetectEmpty(t *testing.T) {
	annotated, anomalies := NewDetector(DefaultThreshold, 4, logger.Discard()).Detect(nil)
	if len(annotated) != 0 || len(anomalies) != 0 {
		t.Fatalf("expected empty output")
	}
}
