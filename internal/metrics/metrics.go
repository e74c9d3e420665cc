// Package metrics exposes Prometheus collectors for healing runs.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kamilpajak/testmend/pkg/models"
)

const namespace = "testmend"

// Collectors groups the healing collectors. It records attempts for the
// orchestrator and cache events for the response cache.
type Collectors struct {
	healAttempts *prometheus.CounterVec
	healSeconds  prometheus.Histogram
	cacheEvents  *prometheus.CounterVec
	llmTokens    prometheus.Counter
	llmCost      prometheus.Counter
}

// New creates unregistered collectors.
func New() *Collectors {
	return &Collectors{
		healAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heal_attempts_total",
				Help:      "Total number of healing attempts, partitioned by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		),
		healSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "heal_seconds",
				Help:      "Healing attempt latency in seconds, including re-runs.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
		),
		cacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_events_total",
				Help:      "Response cache events, partitioned by event.",
			},
			[]string{"event"},
		),
		llmTokens: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "Completion tokens consumed by regeneration.",
			},
		),
		llmCost: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_cost_usd_total",
				Help:      "Estimated completion cost in USD.",
			},
		),
	}
}

// Register attaches the collectors to the supplied Prometheus registerer.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.healAttempts,
		c.healSeconds,
		c.cacheEvents,
		c.llmTokens,
		c.llmCost,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// RecordAttempt records one finished healing attempt.
func (c *Collectors) RecordAttempt(a models.HealingAttempt, outcome models.HealOutcome) {
	c.healAttempts.WithLabelValues(string(a.Strategy), string(outcome)).Inc()
	d := a.Duration()
	if d < 0 {
		d = 0
	}
	c.healSeconds.Observe(d.Seconds())
	if a.TokensUsed > 0 {
		c.llmTokens.Add(float64(a.TokensUsed))
	}
	if a.CostUSD > 0 {
		c.llmCost.Add(a.CostUSD)
	}
}

// CacheEvent counts one response cache event.
func (c *Collectors) CacheEvent(event string) {
	c.cacheEvents.WithLabelValues(event).Inc()
}

// Serve exposes the registry on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
