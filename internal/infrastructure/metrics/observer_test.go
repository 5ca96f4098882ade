package metrics

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperhub/guest-hub/pkg/circuitbreaker"
	"github.com/paperhub/guest-hub/pkg/logger"
)

// gathered returns the value of the sample matching name and, if given, one label pair.
func gathered(t *testing.T, reg *prometheus.Registry, name string, label ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if len(label) == 2 {
				matched := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == label[0] && lp.GetValue() == label[1] {
						matched = true
					}
				}
				if !matched {
					continue
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s %v not found", name, label)
	return 0
}

func TestObserver_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewObserver(reg, nil)
	require.NoError(t, err)

	o.AnswerRecorded("g", 1)
	o.AnswerRecorded("g", 2)
	o.PromptShown("g", 2)
	o.PromptDismissed("g", 2)
	o.MigrationFinished(true)
	o.MigrationFinished(false)
	o.MigrationFinished(false)
	o.TrackerOpened()
	o.TrackerOpened()
	o.TrackerClosed()

	assert.Equal(t, 2.0, gathered(t, reg, "guest_answers_recorded_total"))
	assert.Equal(t, 1.0, gathered(t, reg, "guest_auth_prompts_shown_total"))
	assert.Equal(t, 1.0, gathered(t, reg, "guest_auth_prompts_dismissed_total"))
	assert.Equal(t, 1.0, gathered(t, reg, "guest_migrations_total", "outcome", "success"))
	assert.Equal(t, 2.0, gathered(t, reg, "guest_migrations_total", "outcome", "failure"))
	assert.Equal(t, 1.0, gathered(t, reg, "guest_active_trackers"))
}

func TestObserver_PersistFailedLogsAndCounts(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(logger.Options{Output: buf, Level: logger.LevelInfo})
	reg := prometheus.NewRegistry()
	o, err := NewObserver(reg, log)
	require.NoError(t, err)

	o.PersistFailed("guest-9", "record_answer", errors.New("redis down"))

	assert.Equal(t, 1.0, gathered(t, reg, "guest_persist_failures_total", "op", "record_answer"))
	assert.Contains(t, buf.String(), "guest-9")
	assert.Contains(t, buf.String(), "redis down")
	assert.Contains(t, buf.String(), "WARN")
}

func TestObserver_BreakerState(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewObserver(reg, nil)
	require.NoError(t, err)

	o.BreakerStateChanged("database", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
	assert.Equal(t, 1.0, gathered(t, reg, "guest_circuit_breaker_state", "name", "database"))
}

func TestNewObserver_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewObserver(reg, nil)
	require.NoError(t, err)

	_, err = NewObserver(reg, nil)
	assert.Error(t, err)
}
