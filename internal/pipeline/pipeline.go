package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"oddsflow/logger"
	"oddsflow/models"
	"oddsflow/processor"
)

// DefaultTablePrefix names the per-run table, e.g. odds_data_2025-12-18.
const DefaultTablePrefix = "odds_data"

// QuoteSource yields one batch of quote records. Any error is fatal to the run;
// retries belong to the source.
type QuoteSource interface {
	Fetch(ctx context.Context) ([]models.QuoteRecord, error)
}

// TableSink persists a finished table under the given name.
type TableSink interface {
	Write(ctx context.Context, table []models.AnnotatedRow, name string) error
}

// RunRecorder observes finished runs, successful or not.
type RunRecorder interface {
	ObserveRun(summary models.RunSummary, err error)
}

// Pipeline runs fetch, flatten, implied probability, anomaly detection and
// the sink write in that order, once per Run call.
type Pipeline struct {
	source      QuoteSource
	sink        TableSink
	log         *logger.Log
	threshold   float64
	workers     int
	tablePrefix string
	now         func() time.Time
	recorder    RunRecorder
}

type Option func(*Pipeline)

func WithThreshold(threshold float64) Option {
	return func(p *Pipeline) { p.threshold = threshold }
}

func WithWorkers(workers int) Option {
	return func(p *Pipeline) { p.workers = workers }
}

// WithClock replaces the clock used to derive the table name.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithTablePrefix(prefix string) Option {
	return func(p *Pipeline) {
		if prefix != "" {
			p.tablePrefix = prefix
		}
	}
}

func WithRecorder(recorder RunRecorder) Option {
	return func(p *Pipeline) { p.recorder = recorder }
}

func New(source QuoteSource, sink TableSink, log *logger.Log, opts ...Option) *Pipeline {
	if log == nil {
		log = logger.GetLogger()
	}
	p := &Pipeline{
		source:      source,
		sink:        sink,
		log:         log,
		threshold:   processor.DefaultThreshold,
		workers:     1,
		tablePrefix: DefaultTablePrefix,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TableName returns the date stamped table name for a run at the given time.
func TableName(prefix string, at time.Time) string {
	return fmt.Sprintf("%s_%s", prefix, at.UTC().Format("2006-01-02"))
}

// Run executes one pass. Sink errors are returned as the sink reported them.
func (p *Pipeline) Run(ctx context.Context) (summary models.RunSummary, err error) {
	start := time.Now()
	summary = models.RunSummary{
		RunID:     uuid.NewString(),
		TableName: TableName(p.tablePrefix, p.now()),
	}

	log := p.log.WithComponent("pipeline").WithFields(logger.Fields{
		"run_id": summary.RunID,
		"table":  summary.TableName,
	})

	defer func() {
		summary.Duration = time.Since(start)
		if p.recorder != nil {
			p.recorder.ObserveRun(summary, err)
		}
	}()

	log.Info("fetching live market data")
	records, err := p.source.Fetch(ctx)
	if err != nil {
		log.WithError(err).Error("failed to fetch quotes")
		return summary, fmt.Errorf("fetch quotes: %w", err)
	}

	log.WithFields(logger.Fields{"records": len(records)}).Info("transforming and flattening data")
	rows, err := processor.Flatten(records)
	if err != nil {
		log.WithError(err).Error("malformed quote record")
		return summary, err
	}

	priced, rejected := processor.AddImpliedProbability(rows)
	for _, r := range rejected {
		log.WithError(r.Err).WithFields(logger.Fields{
			"match_id":  r.Row.MatchID,
			"selection": r.Row.Selection,
		}).Warn("rejected row")
	}

	log.Info("running anomaly detection")
	detector := processor.NewDetector(p.threshold, p.workers, p.log)
	annotated, anomalies := detector.Detect(priced)
	if len(anomalies) > 0 {
		log.WithFields(logger.Fields{"anomalies": len(anomalies)}).Warn("found pricing anomalies")
	}

	summary.RowCount = len(annotated)
	summary.AnomalyCount = len(anomalies)
	summary.RejectedCount = len(rejected)

	if err = p.sink.Write(ctx, annotated, summary.TableName); err != nil {
		log.WithError(err).Error("failed to write table")
		return summary, err
	}

	logger.LogDataFlowEntry(log, "quote_source", "table_sink", summary.RowCount, "annotated_row")
	metricFields := func() logger.Fields { return logger.Fields{"table": summary.TableName} }
	p.log.LogMetric("pipeline", "row_count", summary.RowCount, "counter", metricFields())
	p.log.LogMetric("pipeline", "anomaly_count", summary.AnomalyCount, "counter", metricFields())
	p.log.LogMetric("pipeline", "rejected_count", summary.RejectedCount, "counter", metricFields())

	log.WithFields(logger.Fields{
		"rows":      summary.RowCount,
		"anomalies": summary.AnomalyCount,
		"rejected":  summary.RejectedCount,
	}).Info("run completed")

	return summary, nil
}
