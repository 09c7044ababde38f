// Package metrics holds the Prometheus collectors of the upload pipeline.
// A nil *Pipeline is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Upload results.
const (
	ResultProcessed = "processed"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

// Pipeline groups the pipeline collectors.
type Pipeline struct {
	uploads          *prometheus.CounterVec
	scrubAttempts    *prometheus.CounterVec
	optionalFailures *prometheus.CounterVec
	processing       prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Pipeline, error) {
	p := &Pipeline{
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uploads_total",
				Help: "Uploads handled by the pipeline, by result.",
			},
			[]string{"result"},
		),
		scrubAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrub_attempts_total",
				Help: "Scrub strategy attempts, by strategy and result.",
			},
			[]string{"strategy", "result"},
		),
		optionalFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optional_stage_failures_total",
				Help: "Failures of best-effort stages that did not fail the upload.",
			},
			[]string{"stage", "code"},
		),
		processing: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upload_processing_seconds",
			Help:    "Wall time spent processing one upload.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}

	for _, c := range []prometheus.Collector{p.uploads, p.scrubAttempts, p.optionalFailures, p.processing} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pipeline) ObserveUpload(result string, elapsed time.Duration) {
	if p == nil {
		return
	}
	p.uploads.WithLabelValues(result).Inc()
	p.processing.Observe(elapsed.Seconds())
}

func (p *Pipeline) ObserveScrub(strategy, result string) {
	if p == nil {
		return
	}
	p.scrubAttempts.WithLabelValues(strategy, result).Inc()
}

func (p *Pipeline) ObserveOptionalFailure(stage, code string) {
	if p == nil {
		return
	}
	p.optionalFailures.WithLabelValues(stage, code).Inc()
}
