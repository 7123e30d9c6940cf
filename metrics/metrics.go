// Package metrics wraps a private prometheus registry exposing the
// process-wide counters the daemon's /metrics endpoint serves (the info
// mailbox has no metrics query): one struct of named
// counters updated from the runtime's hot paths, served over HTTP.
// The surface is deliberately small - actor lifecycle and replay
// outcomes, not I/O throughput.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the process-wide metrics sink. One instance per process,
// created by theater.New and threaded into every actorrt.Runtime it
// spawns, so recording never needs a package-level
// global.
type Recorder struct {
	registry *prometheus.Registry

	actorsSpawned   prometheus.Counter
	actorsTerminal  *prometheus.CounterVec // by final state
	operationsTotal prometheus.Counter
	operationErrors prometheus.Counter
	replayRuns      prometheus.Counter
	replayMismatch  prometheus.Counter
	chainEvents     prometheus.Counter
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		actorsSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "theater_actors_spawned_total",
			Help: "Total number of actors spawned by this process.",
		}),
		actorsTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "theater_actors_terminal_total",
			Help: "Total number of actors reaching a terminal lifecycle state, by state.",
		}, []string{"state"}),
		operationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "theater_operations_total",
			Help: "Total number of operation-mailbox calls processed across all actors.",
		}),
		operationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "theater_operation_errors_total",
			Help: "Total number of operation-mailbox calls that returned an error.",
		}),
		replayRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "theater_replay_runs_total",
			Help: "Total number of replay engine runs completed.",
		}),
		replayMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "theater_replay_mismatches_total",
			Help: "Total number of replay runs that did not succeed (a mismatch or an aborted run).",
		}),
		chainEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "theater_chain_events_total",
			Help: "Total number of events appended across every actor chain.",
		}),
	}
	reg.MustRegister(r.actorsSpawned, r.actorsTerminal, r.operationsTotal,
		r.operationErrors, r.replayRuns, r.replayMismatch, r.chainEvents)
	return r
}

func (r *Recorder) ActorSpawned() { r.actorsSpawned.Inc() }

func (r *Recorder) ActorTerminal(state string) { r.actorsTerminal.WithLabelValues(state).Inc() }

func (r *Recorder) OperationCompleted(err error) {
	r.operationsTotal.Inc()
	if err != nil {
		r.operationErrors.Inc()
	}
}

func (r *Recorder) ReplayFinished(success bool) {
	r.replayRuns.Inc()
	if !success {
		r.replayMismatch.Inc()
	}
}

func (r *Recorder) ChainEventAppended() { r.chainEvents.Inc() }

// Handler serves the registry in the Prometheus exposition format, for
// the daemon to mount at /metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
