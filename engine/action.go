package engine

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/homehub/coordinator/pubsub"
)

// Kind of intended external effect.
type Kind string

const (
	SetState     Kind = "set-state"
	PublishAlert Kind = "publish-alert"
	TriggerAlarm Kind = "trigger-alarm"
)

// Severities for publish-alert actions.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Action is an intended external effect produced by a rule. An Action with
// NotBefore in the future is deferred: the coordinator hands it to the
// scheduler instead of dispatching immediately.
type Action struct {
	Target    string
	Kind      Kind
	Payload   pubsub.Fields
	NotBefore time.Time
	Rule      string
}

// Deferred reports whether the action is scheduled rather than immediate.
func (a Action) Deferred(now time.Time) bool {
	return a.NotBefore.After(now)
}

// IdempotencyKey identifies an action for deduplication: rapid repeats of
// the same (target, kind, payload) collapse to one delivery.
func (a Action) IdempotencyKey() string {
	payload, _ := json.Marshal(a.Payload) // map keys marshal sorted
	h := fnv.New64a()
	h.Write(payload)
	return fmt.Sprintf("%s|%s|%x", a.Target, a.Kind, h.Sum64())
}

func (a Action) String() string {
	if a.Kind == SetState {
		return fmt.Sprintf("%s %s %v", a.Kind, a.Target, a.Payload["command"])
	}
	return fmt.Sprintf("%s %s", a.Kind, a.Target)
}

// SwitchOff builds a set-state(off) action.
func SwitchOff(target string, rule string) Action {
	return Action{
		Target:  target,
		Kind:    SetState,
		Payload: pubsub.Fields{"command": "off"},
		Rule:    rule,
	}
}

// SwitchOn builds a set-state(on) action.
func SwitchOn(target string, rule string) Action {
	return Action{
		Target:  target,
		Kind:    SetState,
		Payload: pubsub.Fields{"command": "on"},
		Rule:    rule,
	}
}

// Alert builds a publish-alert action.
func Alert(kind string, entity string, severity string, detail string, rule string) Action {
	return Action{
		Target: entity,
		Kind:   PublishAlert,
		Payload: pubsub.Fields{
			"kind":     kind,
			"severity": severity,
			"detail":   detail,
		},
		Rule: rule,
	}
}
