package engine

import (
	"time"

	"github.com/Knetic/govaluate"
	"github.com/pkg/errors"

	"github.com/homehub/coordinator/config"
)

// ExprRule is a user-defined trigger loaded from configuration: a
// govaluate expression over the incoming reading and snapshot, plus the
// command or alert to produce on match.
//
// Available parameters: entity, metric, value, room, is_peak, is_armed,
// occupied, aggregate_power, hour.
type ExprRule struct {
	conf     *config.Config
	rc       config.RuleConf
	expr     *govaluate.EvaluableExpression
	cooldown time.Duration
}

// CompileRules compiles the configured expression rules. A rule that does
// not parse fails startup - a broken expression should never ride along
// silently.
func CompileRules(conf *config.Config) ([]Rule, error) {
	var rules []Rule
	for _, rc := range conf.Rules {
		expr, err := govaluate.NewEvaluableExpression(rc.When)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %s", rc.Id)
		}
		rules = append(rules, &ExprRule{
			conf:     conf,
			rc:       rc,
			expr:     expr,
			cooldown: rc.Cooldown.Or(5 * time.Minute),
		})
	}
	return rules, nil
}

func (r *ExprRule) ID() string { return r.rc.Id }

func (r *ExprRule) Cooldown() time.Duration { return r.cooldown }

func (r *ExprRule) Match(t Trigger) bool {
	if t.Reading == nil {
		return false
	}
	room := ""
	if e, ok := r.conf.LookupEntity(t.Reading.EntityID); ok {
		room = e.Room
	}
	params := map[string]interface{}{
		"entity":          t.Reading.EntityID,
		"metric":          t.Reading.Metric,
		"value":           t.Reading.Value,
		"room":            room,
		"is_peak":         t.Snapshot.PeakHour,
		"is_armed":        t.Snapshot.Armed,
		"occupied":        t.Snapshot.Occupied(room),
		"aggregate_power": t.Snapshot.AggregatePower(),
		"hour":            float64(t.Snapshot.At.Hour()),
	}
	result, err := r.expr.Evaluate(params)
	if err != nil {
		// unknown parameter or type mismatch: treat as no match
		return false
	}
	matched, _ := result.(bool)
	return matched
}

func (r *ExprRule) Actions(t Trigger) []Action {
	target := r.rc.Target
	if target == "" {
		target = t.Reading.EntityID
	}
	switch {
	case r.rc.Alert != "":
		return []Action{Alert(r.rc.Id, target, r.rc.Alert, r.rc.When, r.ID())}
	case r.rc.Command == "on":
		return []Action{SwitchOn(target, r.ID())}
	case r.rc.Command == "off":
		return []Action{SwitchOff(target, r.ID())}
	}
	return nil
}
