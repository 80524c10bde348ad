package processor

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"oddsflow/logger"
	"oddsflow/models"
)

// DefaultThreshold is the minimum absolute price move flagged as an anomaly.
const DefaultThreshold = 0.05

// Detector groups priced rows into (match, selection) series, walks each
// series in time order and flags price moves of at least the threshold.
//
// Output order is fixed: series ascending by match id then selection, rows
// within a series by timestamp with ties kept in input order.
type Detector struct {
	threshold decimal.Decimal
	raw       float64
	workers   int
	log       *logger.Log
}

func NewDetector(threshold float64, workers int, log *logger.Log) *Detector {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		threshold = DefaultThreshold
	}
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Detector{
		threshold: decimal.NewFromFloat(threshold),
		raw:       threshold,
		workers:   workers,
		log:       log,
	}
}

func (d *Detector) Threshold() float64 {
	return d.raw
}

// Detect annotates every row with its predecessor in the series and returns
// the full table plus the anomalous subset in the same relative order.
func (d *Detector) Detect(rows []models.PricedRow) (annotated, anomalies []models.AnnotatedRow) {
	start := time.Now()
	keys, partitions := partition(rows)

	results := make([][]models.AnnotatedRow, len(keys))
	workers := d.workers
	if workers > len(keys) {
		workers = len(keys)
	}

	if workers <= 1 {
		for i, key := range keys {
			results[i] = d.scan(partitions[key])
		}
	} else {
		jobs := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					results[i] = d.scan(partitions[keys[i]])
				}
			}()
		}
		for i := range keys {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
	}

	annotated = make([]models.AnnotatedRow, 0, len(rows))
	for _, series := range results {
		annotated = append(annotated, series...)
	}
	for _, row := range annotated {
		if row.IsAnomaly {
			anomalies = append(anomalies, row)
		}
	}

	log := d.log.WithComponent("detector")
	log.WithFields(logger.Fields{
		"series":    len(keys),
		"rows":      len(annotated),
		"anomalies": len(anomalies),
		"workers":   workers,
		"threshold": d.raw,
	}).Debug("anomaly detection finished")
	logger.LogPerformanceEntry(log, "detector", "detect", time.Since(start), nil)

	return annotated, anomalies
}

// partition splits rows by series key. Each partition keeps input order; keys
// come back sorted.
func partition(rows []models.PricedRow) ([]models.SeriesKey, map[models.SeriesKey][]models.PricedRow) {
	partitions := make(map[models.SeriesKey][]models.PricedRow)
	keys := make([]models.SeriesKey, 0)
	for _, row := range rows {
		key := row.Key()
		if _, ok := partitions[key]; !ok {
			keys = append(keys, key)
		}
		partitions[key] = append(partitions[key], row)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys, partitions
}

// scan sorts one series by time and computes deltas against the previous row.
// The partition slice is owned by the caller's map and is not shared between
// workers.
func (d *Detector) scan(series []models.PricedRow) []models.AnnotatedRow {
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].Timestamp.Before(series[j].Timestamp)
	})

	out := make([]models.AnnotatedRow, len(series))
	for i, row := range series {
		out[i] = models.AnnotatedRow{PricedRow: row}
		if i == 0 {
			continue
		}
		prevPrice := series[i-1].Price
		out[i].PrevPrice = &prevPrice

		delta, ok := priceDelta(prevPrice, row.Price)
		if !ok {
			raw := row.Price - prevPrice
			out[i].PriceDelta = &raw
			continue
		}
		value := delta.InexactFloat64()
		out[i].PriceDelta = &value
		out[i].IsAnomaly = delta.Abs().GreaterThanOrEqual(d.threshold)
	}
	return out
}

// priceDelta subtracts prices at their shortest decimal form so that
// 2.15 - 2.10 is 0.05 rather than 0.04999999999999982.
func priceDelta(prev, cur float64) (decimal.Decimal, bool) {
	if !finite(prev) || !finite(cur) {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(cur).Sub(decimal.NewFromFloat(prev)), true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
