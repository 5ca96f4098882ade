// Package metrics exports guest tracker activity to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/paperhub/guest-hub/internal/domain/guest"
	"github.com/paperhub/guest-hub/pkg/circuitbreaker"
	"github.com/paperhub/guest-hub/pkg/logger"
)

// Observer implements guest.Observer with Prometheus counters.
// Persistence failures are also logged, since the tracker swallows them.
type Observer struct {
	log *logger.Logger

	answersRecorded  prometheus.Counter
	promptsShown     prometheus.Counter
	promptsDismissed prometheus.Counter
	persistFailures  *prometheus.CounterVec
	migrations       *prometheus.CounterVec
	activeTrackers   prometheus.Gauge
	breakerState     *prometheus.GaugeVec
}

// Compile-time check.
var _ guest.Observer = (*Observer)(nil)

// NewObserver creates the collectors and registers them with reg.
func NewObserver(reg prometheus.Registerer, log *logger.Logger) (*Observer, error) {
	if log == nil {
		log = logger.Nop()
	}

	o := &Observer{
		log: log.With(logger.Component("metrics")),
		answersRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guest_answers_recorded_total",
			Help: "Answers recorded by guests, including overwrites of an earlier answer.",
		}),
		promptsShown: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guest_auth_prompts_shown_total",
			Help: "Times the sign-in prompt became visible for a guest.",
		}),
		promptsDismissed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guest_auth_prompts_dismissed_total",
			Help: "Times a guest dismissed the sign-in prompt.",
		}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guest_persist_failures_total",
			Help: "Snapshot loads and saves that failed, by tracker operation.",
		}, []string{"op"}),
		migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guest_migrations_total",
			Help: "Guest to account migrations, by outcome.",
		}, []string{"outcome"}),
		activeTrackers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "guest_active_trackers",
			Help: "Trackers currently held in memory.",
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guest_circuit_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"name"}),
	}

	collectors := []prometheus.Collector{
		o.answersRecorded,
		o.promptsShown,
		o.promptsDismissed,
		o.persistFailures,
		o.migrations,
		o.activeTrackers,
		o.breakerState,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// AnswerRecorded implements guest.Observer.
func (o *Observer) AnswerRecorded(guest.GuestID, int) {
	o.answersRecorded.Inc()
}

// PromptShown implements guest.Observer.
func (o *Observer) PromptShown(id guest.GuestID, answerCount int) {
	o.promptsShown.Inc()
	o.log.Debug("auth prompt shown", logger.GuestID(id.String()), logger.AnswerCount(answerCount))
}

// PromptDismissed implements guest.Observer.
func (o *Observer) PromptDismissed(guest.GuestID, int) {
	o.promptsDismissed.Inc()
}

// PersistFailed implements guest.Observer.
func (o *Observer) PersistFailed(id guest.GuestID, op string, err error) {
	o.persistFailures.WithLabelValues(op).Inc()
	o.log.Warn("guest snapshot persistence failed",
		logger.GuestID(id.String()),
		logger.Operation(op),
		logger.Err(err),
	)
}

// MigrationFinished counts a migration attempt.
func (o *Observer) MigrationFinished(succeeded bool) {
	outcome := "failure"
	if succeeded {
		outcome = "success"
	}
	o.migrations.WithLabelValues(outcome).Inc()
}

// TrackerOpened and TrackerClosed keep the in-memory tracker gauge current.
func (o *Observer) TrackerOpened() { o.activeTrackers.Inc() }
func (o *Observer) TrackerClosed() { o.activeTrackers.Dec() }

// BreakerStateChanged matches the circuitbreaker OnStateChange signature.
func (o *Observer) BreakerStateChanged(name string, from, to circuitbreaker.State) {
	o.breakerState.WithLabelValues(name).Set(float64(to))
	o.log.Warn("circuit breaker state changed",
		logger.String("breaker", name),
		logger.String("from", from.String()),
		logger.String("to", to.String()),
	)
}
