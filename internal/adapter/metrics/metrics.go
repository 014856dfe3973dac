// Package metrics wires the runtime's dispatcher and timer activity into
// Prometheus, observed as a second tracer-like collaborator alongside
// internal/adapter/livetrace: Sink counts traced deliveries, and
// PollDispatchers samples queue depth per dispatcher and the timer heap
// size. DemandsProcessed, TimerCancellations and AgentRestarts are
// registered, but nothing in the runtime increments them.
//
// Grounded on cuemby-warren's pkg/metrics/metrics.go: a package-level
// registry of vectors registered once in init, plus a small Timer helper
// for histogram observations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/webitel/agentflow/internal/core/environment"
)

var (
	DemandsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentflow_demands_enqueued_total",
			Help: "Total number of demands enqueued, by message type.",
		},
		[]string{"message_type"},
	)

	DemandsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentflow_demands_processed_total",
			Help: "Total number of demands whose handler completed, by dispatcher.",
		},
		[]string{"dispatcher"},
	)

	DispatcherQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentflow_dispatcher_queue_depth",
			Help: "Current queue depth per dispatcher key (agent, group or cooperation).",
		},
		[]string{"dispatcher", "key"},
	)

	TimerOutstanding = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentflow_timer_outstanding",
			Help: "Number of scheduled timer entries awaiting their fire time.",
		},
	)

	TimerCancellations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentflow_timer_cancellations_total",
			Help: "Total number of timer handles cancelled.",
		},
	)

	AgentRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentflow_agent_restarts_total",
			Help: "Total number of restart-agent exception reactions applied.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		DemandsEnqueued,
		DemandsProcessed,
		DispatcherQueueDepth,
		TimerOutstanding,
		TimerCancellations,
		AgentRestarts,
	)
}

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Sink is an environment.Tracer that increments DemandsEnqueued, labelled
// by message type, once per traced delivery; pass it to
// environment.WithTracer alongside (or instead of) a livetrace.Hub.Sink.
func Sink(event environment.TraceEvent) {
	DemandsEnqueued.WithLabelValues(event.MessageType).Inc()
}

// PollDispatchers periodically snapshots env's dispatcher queue depths
// into DispatcherQueueDepth and the timer heap size into
// TimerOutstanding, until the returned stop func is called.
func PollDispatchers(env *environment.Environment, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				snap := env.Snapshot()
				for dispatcherName, stats := range snap.Dispatchers {
					for key, depth := range stats {
						DispatcherQueueDepth.WithLabelValues(dispatcherName, key).Set(float64(depth))
					}
				}
				TimerOutstanding.Set(float64(snap.TimerQueued))
			}
		}
	}()
	return func() { close(done) }
}
