package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "babelfire"

// Pipeline holds the collectors updated by the event handlers.
type Pipeline struct {
	events       *prometheus.CounterVec
	stage        *prometheus.HistogramVec
	translations *prometheus.CounterVec
	translateDur prometheus.Histogram
}

func NewPipeline(reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Handled storage and record events by handler and outcome.",
		}, []string{"handler", "outcome"}),
		stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"stage"}),
		translations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_requests_total",
			Help:      "Translation engine calls by target language and outcome.",
		}, []string{"language", "outcome"}),
		translateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "translation_request_duration_seconds",
			Help:      "Latency of single translation engine calls.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(p.events, p.stage, p.translations, p.translateDur)
	}
	return p
}

func (p *Pipeline) Event(handler, outcome string) {
	if p == nil {
		return
	}
	p.events.WithLabelValues(handler, outcome).Inc()
}

func (p *Pipeline) Stage(stage string, elapsed time.Duration) {
	if p == nil {
		return
	}
	p.stage.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveTranslation matches translate.ObserveFunc.
func (p *Pipeline) ObserveTranslation(to string, err error, elapsed time.Duration) {
	if p == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	p.translations.WithLabelValues(to, outcome).Inc()
	p.translateDur.Observe(elapsed.Seconds())
}
