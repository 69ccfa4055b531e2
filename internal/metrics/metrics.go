// Package metrics exports resolution profiles as Prometheus metrics. The
// Consumer plugs into a resolver via WithProfileConsumer and observes every
// finished profile, failures included.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pthm/stillsuit"
)

// Consumer records resolution profiles into Prometheus collectors.
type Consumer struct {
	resolutions *prometheus.CounterVec
	phases      *prometheus.HistogramVec
	tokenReqs   prometheus.Counter
	tokenHits   prometheus.Counter
}

var _ stillsuit.ProfileConsumer = (*Consumer)(nil)

// New registers the stillsuit collectors with reg and returns the consumer.
// Pass prometheus.DefaultRegisterer for the process-global registry.
func New(reg prometheus.Registerer) *Consumer {
	factory := promauto.With(reg)
	return &Consumer{
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stillsuit_resolutions_total",
			Help: "Resolutions by operation kind and outcome (ok, static, failed).",
		}, []string{"operation", "outcome"}),
		phases: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stillsuit_phase_duration_seconds",
			Help:    "Elapsed time per resolution pipeline phase.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"phase"}),
		tokenReqs: factory.NewCounter(prometheus.CounterOpts{
			Name: "stillsuit_tokenization_requests_total",
			Help: "Search expressions collected for tokenization.",
		}),
		tokenHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "stillsuit_tokenization_cache_hits_total",
			Help: "Tokenization requests answered by the token cache.",
		}),
	}
}

// ConsumeProfile implements stillsuit.ProfileConsumer.
func (c *Consumer) ConsumeProfile(p *stillsuit.Profile) {
	outcome := "ok"
	switch {
	case p.Failed:
		outcome = "failed"
	case p.StaticallyResolved:
		outcome = "static"
	}
	c.resolutions.WithLabelValues(p.Operation, outcome).Inc()

	c.observe("build", p.Timings.Build)
	c.observe("tokenize", p.Timings.Tokenize)
	c.observe("authorize", p.Timings.Authorize)
	c.observe("static_eval", p.Timings.StaticEval)
	c.observe("backend", p.Timings.Backend)
	c.observe("total", p.Timings.Total)

	c.tokenReqs.Add(float64(p.TokenizationRequests))
	c.tokenHits.Add(float64(p.CacheHits))
}

func (c *Consumer) observe(phase string, d time.Duration) {
	if d <= 0 {
		return
	}
	c.phases.WithLabelValues(phase).Observe(d.Seconds())
}
