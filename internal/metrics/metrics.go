// Registers:
//
//	#oddsflow_runs_total{status}
//	#oddsflow_rows_total
//	#oddsflow_anomalies_total
//	#oddsflow_rejected_rows_total
//	#oddsflow_run_duration_seconds
//	#oddsflow_last_success_timestamp_seconds
//
// A run is a short lived batch, so the collectors live in a private registry
// that is pushed to a Pushgateway at the end of the run instead of scraped.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"oddsflow/models"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Recorder holds the run collectors.
type Recorder struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	rows        prometheus.Counter
	anomalies   prometheus.Counter
	rejected    prometheus.Counter
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oddsflow_runs_total",
				Help: "Number of pipeline runs by outcome",
			},
			[]string{"status"},
		),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oddsflow_rows_total",
			Help: "Number of annotated rows handed to the sink",
		}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oddsflow_anomalies_total",
			Help: "Number of rows flagged as price anomalies",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oddsflow_rejected_rows_total",
			Help: "Number of rows rejected for an invalid price",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oddsflow_run_duration_seconds",
			Help:    "Wall time of a pipeline run",
			Buckets: prometheus.DefBuckets,
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oddsflow_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
	}
	r.registry.MustRegister(r.runs, r.rows, r.anomalies, r.rejected, r.duration, r.lastSuccess)
	return r
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRun records the outcome of one run. Counts are only added for
// successful runs.
func (r *Recorder) ObserveRun(summary models.RunSummary, err error) {
	if err != nil {
		r.runs.WithLabelValues(StatusFailure).Inc()
		r.duration.Observe(summary.Duration.Seconds())
		return
	}
	r.runs.WithLabelValues(StatusSuccess).Inc()
	r.rows.Add(float64(summary.RowCount))
	r.anomalies.Add(float64(summary.AnomalyCount))
	r.rejected.Add(float64(summary.RejectedCount))
	r.duration.Observe(summary.Duration.Seconds())
	r.lastSuccess.SetToCurrentTime()
}

// Push sends the collected metrics to a Pushgateway under the given job,
// grouped by run id so concurrent runs do not overwrite each other.
func (r *Recorder) Push(ctx context.Context, url, job, runID string) error {
	pusher := push.New(url, job).Gatherer(r.registry)
	if runID != "" {
		pusher = pusher.Grouping("run_id", runID)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
