package alert_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xodeeq/poolwatch/internal/alert"
	"github.com/xodeeq/poolwatch/internal/failover"
	"github.com/xodeeq/poolwatch/internal/logsource"
)

// clock is a manually advanced time source for cooldown tests.
type clock struct {
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func errorRateEvent() alert.ErrorRateEvent {
	return alert.ErrorRateEvent{
		Rate:       2.0,
		Threshold:  2,
		WindowSize: 200,
		ErrorCount: 4,
		Pool:       logsource.PoolBlue,
	}
}

func failoverEvent() alert.TransitionEvent {
	return alert.TransitionEvent{Transition: failover.Transition{
		Kind:    failover.KindFailover,
		From:    logsource.PoolBlue,
		To:      logsource.PoolGreen,
		Release: "2024-01-01-abc",
		At:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}}
}

func recoveryEvent() alert.TransitionEvent {
	return alert.TransitionEvent{Transition: failover.Transition{
		Kind: failover.KindRecovery,
		From: logsource.PoolGreen,
		To:   logsource.PoolBlue,
		At:   time.Date(2024, 6, 1, 12, 5, 0, 0, time.UTC),
	}}
}

func TestEngine_FirstAlertAlwaysSends(t *testing.T) {
	clk := newClock()
	e := alert.NewEngine(300*time.Second, nil, clk.Now)

	a, verdict := e.Evaluate(errorRateEvent())

	assert.Equal(t, alert.VerdictSend, verdict)
	require.NotNil(t, a)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, alert.TypeErrorRate, a.Type)
}

func TestEngine_CooldownSuppressesSameType(t *testing.T) {
	clk := newClock()
	e := alert.NewEngine(300*time.Second, nil, clk.Now)

	_, verdict := e.Evaluate(errorRateEvent())
	require.Equal(t, alert.VerdictSend, verdict)

	clk.Advance(299 * time.Second)
	a, verdict := e.Evaluate(errorRateEvent())

	assert.Equal(t, alert.VerdictCooldown, verdict)
	assert.Nil(t, a)
}

func TestEngine_ExactCooldownBoundarySends(t *testing.T) {
	clk := newClock()
	e := alert.NewEngine(300*time.Second, nil, clk.Now)

	_, verdict := e.Evaluate(errorRateEvent())
	require.Equal(t, alert.VerdictSend, verdict)

	clk.Advance(300 * time.Second)
	_, verdict = e.Evaluate(errorRateEvent())

	assert.Equal(t, alert.VerdictSend, verdict)
}

func TestEngine_CooldownIsPerType(t *testing.T) {
	clk := newClock()
	e := alert.NewEngine(300*time.Second, nil, clk.Now)

	_, verdict := e.Evaluate(errorRateEvent())
	require.Equal(t, alert.VerdictSend, verdict)

	// A failover right after an error-rate alert is a different type and
	// has its own cooldown slot.
	_, verdict = e.Evaluate(failoverEvent())
	assert.Equal(t, alert.VerdictSend, verdict)
}

func TestEngine_ZeroCooldownNeverSuppresses(t *testing.T) {
	clk := newClock()
	e := alert.NewEngine(0, nil, clk.Now)

	for i := 0; i < 3; i++ {
		_, verdict := e.Evaluate(errorRateEvent())
		assert.Equal(t, alert.VerdictSend, verdict)
	}
}

func TestEngine_MaintenanceSuppressesFailoverAndErrorRate(t *testing.T) {
	clk := newClock()
	maintenance := true
	e := alert.NewEngine(300*time.Second, func() bool { return maintenance }, clk.Now)

	a, verdict := e.Evaluate(failoverEvent())
	assert.Equal(t, alert.VerdictMaintenance, verdict)
	assert.Nil(t, a)

	a, verdict = e.Evaluate(errorRateEvent())
	assert.Equal(t, alert.VerdictMaintenance, verdict)
	assert.Nil(t, a)
}

func TestEngine_RecoveryIgnoresMaintenanceMode(t *testing.T) {
	clk := newClock()
	e := alert.NewEngine(300*time.Second, func() bool { return true }, clk.Now)

	a, verdict := e.Evaluate(recoveryEvent())

	assert.Equal(t, alert.VerdictSend, verdict)
	require.NotNil(t, a)
	assert.Equal(t, alert.TypeRecovery, a.Type)
}

func TestEngine_RecoveryStillDeduplicatedByCooldown(t *testing.T) {
	clk := newClock()
	e := alert.NewEngine(300*time.Second, func() bool { return true }, clk.Now)

	_, verdict := e.Evaluate(recoveryEvent())
	require.Equal(t, alert.VerdictSend, verdict)

	clk.Advance(10 * time.Second)
	_, verdict = e.Evaluate(recoveryEvent())
	assert.Equal(t, alert.VerdictCooldown, verdict)
}

func TestEngine_MaintenanceDoesNotConsumeCooldown(t *testing.T) {
	// Suppression during maintenance must not stamp the cooldown table:
	// the first real alert after maintenance ends fires immediately.
	clk := newClock()
	maintenance := true
	e := alert.NewEngine(300*time.Second, func() bool { return maintenance }, clk.Now)

	_, verdict := e.Evaluate(failoverEvent())
	require.Equal(t, alert.VerdictMaintenance, verdict)

	clk.Advance(time.Second)
	maintenance = false
	_, verdict = e.Evaluate(failoverEvent())
	assert.Equal(t, alert.VerdictSend, verdict)
}

func TestEngine_MaintenanceReadPerDecision(t *testing.T) {
	// The flag is consulted on every decision so a hot reload is visible
	// to the very next record.
	clk := newClock()
	maintenance := false
	e := alert.NewEngine(0, func() bool { return maintenance }, clk.Now)

	_, verdict := e.Evaluate(failoverEvent())
	require.Equal(t, alert.VerdictSend, verdict)

	maintenance = true
	_, verdict = e.Evaluate(failoverEvent())
	assert.Equal(t, alert.VerdictMaintenance, verdict)
}

func TestRender_FailoverFields(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := failoverEvent().Render(at)

	assert.Equal(t, "Failover detected: blue → green", a.Text)
	assert.Equal(t, "#FFA500", a.Color)
	assert.Equal(t, fieldMap(a), map[string]string{
		"Previous Pool": "blue",
		"Current Pool":  "green",
		"Release ID":    "2024-01-01-abc",
		"Timestamp":     "2024-06-01 12:00:00",
	})
}

func TestRender_ErrorRateFields(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a := errorRateEvent().Render(at)

	assert.Equal(t, "High error rate detected: 2.00%", a.Text)
	assert.Equal(t, "#FF0000", a.Color)
	m := fieldMap(a)
	assert.Equal(t, "2.00%", m["Error Rate"])
	assert.Equal(t, "2%", m["Threshold"])
	assert.Equal(t, "200", m["Window Size"])
	assert.Equal(t, "4", m["5xx Count"])
	assert.Equal(t, "blue", m["Current Pool"])
}

func TestRender_RecoveryFields(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 6, 0, 0, time.UTC)
	a := recoveryEvent().Render(at)

	assert.Equal(t, "Recovery: traffic restored to blue", a.Text)
	assert.Equal(t, "#00FF00", a.Color)
	m := fieldMap(a)
	assert.Equal(t, "blue", m["Recovered Pool"])
	assert.Equal(t, "2024-06-01 12:05:00", m["Timestamp"])
}

func fieldMap(a alert.Alert) map[string]string {
	m := make(map[string]string, len(a.Fields))
	for _, f := range a.Fields {
		m[f.Title] = f.Value
	}
	return m
}
