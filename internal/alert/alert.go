// Package alert decides whether an observed event becomes a notification.
//
// DESIGN: The policy engine applies, in order: maintenance-mode suppression
// (Recovery is exempt), then a per-type cooldown. Cooldown stamps are taken
// at hand-off to the dispatcher, not at delivery confirmation, which bounds
// alert volume even when the webhook is retrying. Maintenance suppression
// leaves the cooldown table untouched so the first real alert after a
// maintenance window fires immediately.
package alert

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xodeeq/poolwatch/internal/failover"
	"github.com/xodeeq/poolwatch/internal/logsource"
)

// Type identifies an alert family for cooldown bookkeeping.
type Type string

const (
	TypeFailover  Type = "failover"
	TypeErrorRate Type = "error_rate"
	TypeRecovery  Type = "recovery"
)

// Attachment colors, one per alert family.
const (
	colorFailover  = "#FFA500"
	colorErrorRate = "#FF0000"
	colorRecovery  = "#00FF00"
	timeLayout     = "2006-01-02 15:04:05"
)

// Field is one title/value pair shown with the notification.
type Field struct {
	Title string
	Value string
	Short bool
}

// Alert is a rendered, ready-to-dispatch notification. The message content
// is self-describing (it carries its own timestamp) so delivery reordering
// cannot confuse the operator.
type Alert struct {
	ID     string
	Type   Type
	Text   string
	Color  string
	Fields []Field
	At     time.Time
}

// Event is an alert candidate produced by the pipeline.
type Event interface {
	AlertType() Type
	Render(at time.Time) Alert
}

// =============================================================================
// EVENTS
// =============================================================================

// ErrorRateEvent is raised whenever the window error rate sits at or above
// the configured threshold. It is level-triggered: the pipeline raises it on
// every record while elevated and the cooldown keeps the volume bounded.
type ErrorRateEvent struct {
	Rate       float64
	Threshold  float64
	WindowSize int
	ErrorCount int
	Pool       logsource.Pool
}

// AlertType implements Event.
func (e ErrorRateEvent) AlertType() Type { return TypeErrorRate }

// Render implements Event.
func (e ErrorRateEvent) Render(at time.Time) Alert {
	return Alert{
		Type:  TypeErrorRate,
		Text:  fmt.Sprintf("High error rate detected: %.2f%%", e.Rate),
		Color: colorErrorRate,
		Fields: []Field{
			{Title: "Error Rate", Value: fmt.Sprintf("%.2f%%", e.Rate), Short: true},
			{Title: "Threshold", Value: fmt.Sprintf("%g%%", e.Threshold), Short: true},
			{Title: "Window Size", Value: fmt.Sprintf("%d", e.WindowSize), Short: true},
			{Title: "5xx Count", Value: fmt.Sprintf("%d", e.ErrorCount), Short: true},
			{Title: "Current Pool", Value: string(e.Pool), Short: true},
			{Title: "Timestamp", Value: at.Format(timeLayout), Short: true},
		},
		At: at,
	}
}

// TransitionEvent wraps an observed pool switch.
type TransitionEvent struct {
	Transition failover.Transition
}

// AlertType implements Event.
func (e TransitionEvent) AlertType() Type {
	if e.Transition.Kind == failover.KindRecovery {
		return TypeRecovery
	}
	return TypeFailover
}

// Render implements Event.
func (e TransitionEvent) Render(at time.Time) Alert {
	tr := e.Transition
	if tr.Kind == failover.KindRecovery {
		return Alert{
			Type:  TypeRecovery,
			Text:  fmt.Sprintf("Recovery: traffic restored to %s", tr.To),
			Color: colorRecovery,
			Fields: []Field{
				{Title: "Recovered Pool", Value: string(tr.To), Short: true},
				{Title: "Timestamp", Value: tr.At.Format(timeLayout), Short: true},
			},
			At: at,
		}
	}
	return Alert{
		Type:  TypeFailover,
		Text:  fmt.Sprintf("Failover detected: %s → %s", tr.From, tr.To),
		Color: colorFailover,
		Fields: []Field{
			{Title: "Previous Pool", Value: string(tr.From), Short: true},
			{Title: "Current Pool", Value: string(tr.To), Short: true},
			{Title: "Release ID", Value: tr.Release, Short: true},
			{Title: "Timestamp", Value: tr.At.Format(timeLayout), Short: true},
		},
		At: at,
	}
}

// =============================================================================
// POLICY ENGINE
// =============================================================================

// Verdict explains what the engine did with a candidate.
type Verdict string

const (
	VerdictSend        Verdict = "send"
	VerdictMaintenance Verdict = "maintenance"
	VerdictCooldown    Verdict = "cooldown"
)

// Engine applies suppression rules and renders alerts. It is owned by the
// single pipeline goroutine and needs no locking.
type Engine struct {
	cooldown    time.Duration
	maintenance func() bool
	now         func() time.Time
	lastSent    map[Type]time.Time
}

// NewEngine creates a policy engine. maintenance is read per decision so a
// hot reload is visible to the next processed record; now is injectable for
// deterministic cooldown tests.
func NewEngine(cooldown time.Duration, maintenance func() bool, now func() time.Time) *Engine {
	if maintenance == nil {
		maintenance = func() bool { return false }
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cooldown:    cooldown,
		maintenance: maintenance,
		now:         now,
		lastSent:    make(map[Type]time.Time),
	}
}

// Evaluate decides whether the event becomes an alert. On VerdictSend the
// returned alert carries a fresh ID and the cooldown stamp for its type has
// already been taken.
func (e *Engine) Evaluate(ev Event) (*Alert, Verdict) {
	now := e.now()
	t := ev.AlertType()

	// Recovery is never silenced by maintenance mode.
	if t != TypeRecovery && e.maintenance() {
		return nil, VerdictMaintenance
	}

	if last, ok := e.lastSent[t]; ok && now.Sub(last) < e.cooldown {
		return nil, VerdictCooldown
	}

	a := ev.Render(now)
	a.ID = uuid.NewString()
	e.lastSent[t] = now
	return &a, VerdictSend
}
