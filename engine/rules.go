package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/homehub/coordinator/config"
	"github.com/homehub/coordinator/pubsub"
)

// RestoreAfter is how long shed devices stay off before the scheduled
// restore.
const RestoreAfter = 30 * time.Minute

// OptimizeTopic is the internal event topic the coordinator emits on its
// periodic optimization cycle; time-driven rules match on it.
const OptimizeTopic = "optimize"

const anomalyMinSamples = 10

// Builtin returns the standard rule set, in registration order.
func Builtin(conf *config.Config) []Rule {
	return []Rule{
		&OccupancyAutoOff{conf: conf},
		&LoadShedding{conf: conf},
		&PeakDeferral{conf: conf},
		&AnomalyAlert{conf: conf},
		&UnauthorizedEntry{conf: conf},
	}
}

// OccupancyAutoOff turns lights off in rooms that report no motion and no
// occupants, outside peak-tariff hours.
type OccupancyAutoOff struct {
	conf *config.Config
}

func (r *OccupancyAutoOff) ID() string { return "occupancy-auto-off" }

func (r *OccupancyAutoOff) Cooldown() time.Duration {
	return r.conf.Coordinator.Cooldown.Or(5 * time.Minute)
}

func (r *OccupancyAutoOff) Match(t Trigger) bool {
	if t.Reading == nil {
		return false
	}
	if t.Reading.Metric != "motion" && t.Reading.Metric != "occupancy_count" {
		return false
	}
	if t.Snapshot.PeakHour {
		return false
	}
	return !t.Snapshot.Occupied(t.Reading.EntityID)
}

func (r *OccupancyAutoOff) Actions(t Trigger) []Action {
	room := t.Reading.EntityID
	var actions []Action
	for _, e := range r.conf.EntitiesInRoom(room) {
		if e.IsLight() && t.Snapshot.IsOn(e.Id) {
			actions = append(actions, SwitchOff(e.Id, r.ID()))
		}
	}
	return actions
}

// LoadShedding turns off the most dispensable running devices when
// aggregate power reaches 80% of the ceiling, until the projected
// reduction brings it back to 70%. Every shed device gets a scheduled
// restore.
type LoadShedding struct {
	conf *config.Config
}

func (r *LoadShedding) ID() string { return "load-shedding" }

func (r *LoadShedding) Cooldown() time.Duration { return time.Minute }

func (r *LoadShedding) Match(t Trigger) bool {
	if t.Reading == nil || t.Reading.Metric != "power_w" {
		return false
	}
	max := r.conf.Thresholds.Max_Power
	return max > 0 && t.Snapshot.AggregatePower() >= max*0.8
}

func (r *LoadShedding) Actions(t Trigger) []Action {
	max := r.conf.Thresholds.Max_Power
	current := t.Snapshot.AggregatePower()
	toReduce := current - max*0.7

	// candidates: running, sheddable devices, most dispensable first
	var candidates []config.EntityConf
	for _, e := range r.conf.Entities {
		if e.IsDevice() && !e.Always_On && t.Snapshot.IsOn(e.Id) {
			candidates = append(candidates, e)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	var actions []Action
	reduced := 0.0
	for _, e := range candidates {
		if reduced >= toReduce {
			break
		}
		draw := t.Snapshot.Value(e.Id, "power_w", e.Power_Rating)
		actions = append(actions, SwitchOff(e.Id, r.ID()))
		restore := SwitchOn(e.Id, r.ID())
		restore.NotBefore = t.Snapshot.At.Add(RestoreAfter)
		actions = append(actions, restore)
		reduced += draw
	}
	return actions
}

// PeakDeferral switches off deferrable devices for the duration of a peak
// tariff window, restoring them at the start of the next off-peak window.
// Runs on the periodic optimization cycle.
type PeakDeferral struct {
	conf *config.Config
}

func (r *PeakDeferral) ID() string { return "peak-deferral" }

func (r *PeakDeferral) Cooldown() time.Duration { return 10 * time.Minute }

func (r *PeakDeferral) Match(t Trigger) bool {
	if t.Event == nil || t.Event.Topic != OptimizeTopic {
		return false
	}
	return t.Snapshot.PeakHour
}

func (r *PeakDeferral) Actions(t Trigger) []Action {
	restoreAt := r.conf.NextOffPeakStart(t.Snapshot.At)
	var actions []Action
	for _, e := range r.conf.Entities {
		if !e.IsDevice() || e.Always_On || e.Priority < 3 {
			continue
		}
		if !t.Snapshot.IsOn(e.Id) {
			continue
		}
		actions = append(actions, SwitchOff(e.Id, r.ID()))
		restore := SwitchOn(e.Id, r.ID())
		restore.NotBefore = restoreAt
		actions = append(actions, restore)
	}
	return actions
}

// AnomalyAlert flags readings far outside the statistical envelope of
// their own history. Crossing the hard bound additionally shuts the
// entity down.
type AnomalyAlert struct {
	conf *config.Config
}

func (r *AnomalyAlert) ID() string { return "anomaly-alert" }

func (r *AnomalyAlert) Cooldown() time.Duration { return time.Minute }

func (r *AnomalyAlert) score(t Trigger) (float64, bool) {
	stat, ok := t.Snapshot.Stat(t.Reading.EntityID, t.Reading.Metric)
	if !ok {
		return 0, false
	}
	// the reading under test is already in the history; score against
	// the envelope without it
	stat = stat.Without(t.Reading.Value)
	if stat.Count < anomalyMinSamples || stat.Stddev == 0 {
		return 0, false
	}
	dev := t.Reading.Value - stat.Mean
	if dev < 0 {
		dev = -dev
	}
	return dev / stat.Stddev, true
}

func (r *AnomalyAlert) Match(t Trigger) bool {
	if t.Reading == nil || t.Reading.Metric != "power_w" {
		return false
	}
	score, ok := r.score(t)
	return ok && score >= r.conf.Thresholds.Anomaly
}

func (r *AnomalyAlert) Actions(t Trigger) []Action {
	score, _ := r.score(t)
	severity := SeverityMedium
	if score >= 2*r.conf.Thresholds.Anomaly {
		severity = SeverityHigh
	}
	detail := fmt.Sprintf("%s %s=%g, score %.1f", t.Reading.EntityID, t.Reading.Metric, t.Reading.Value, score)
	actions := []Action{Alert("anomaly", t.Reading.EntityID, severity, detail, r.ID())}
	if hard := r.conf.Thresholds.Anomaly_Hard; hard > 0 && score >= hard {
		// emergency shutdown
		actions = append(actions, SwitchOff(t.Reading.EntityID, r.ID()))
	}
	return actions
}

// UnauthorizedEntry raises a critical alert and trips the alarm when an
// unrecognized identity shows up at a monitored entry point while the
// system is armed.
type UnauthorizedEntry struct {
	conf *config.Config
}

func (r *UnauthorizedEntry) ID() string { return "unauthorized-entry" }

func (r *UnauthorizedEntry) Cooldown() time.Duration { return time.Minute }

func (r *UnauthorizedEntry) Match(t Trigger) bool {
	if t.Event == nil || t.Event.Topic != "telemetry.identity-event" {
		return false
	}
	if !t.Snapshot.Armed {
		return false
	}
	if t.Event.BoolField("recognized") {
		return false
	}
	return r.conf.IsEntryPoint(t.Event.EntityID())
}

func (r *UnauthorizedEntry) Actions(t Trigger) []Action {
	entity := t.Event.EntityID()
	detail := fmt.Sprintf("unrecognized identity at %s", entity)
	return []Action{
		Alert("unauthorized-entry", entity, SeverityCritical, detail, r.ID()),
		{
			Target:  r.conf.Alarm.Device,
			Kind:    TriggerAlarm,
			Payload: pubsub.Fields{"reason": "unauthorized-entry"},
			Rule:    r.ID(),
		},
	}
}
