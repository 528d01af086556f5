// Package engine evaluates trigger rules against incoming events and the
// state snapshot. Rules are registered once at startup and evaluated in
// registration order; each firing is throttled by a per-(rule, entity)
// cooldown. Rules never see each other's actions within one pass -
// feedback only happens through the next event, after the dispatcher has
// applied side effects.
package engine

import (
	"log"
	"sync"
	"time"

	"github.com/homehub/coordinator/pubsub"
	"github.com/homehub/coordinator/state"
)

// Trigger is what a rule predicate sees: the event that just arrived, its
// decoded reading when it carried one, and the state snapshot taken after
// the store update.
type Trigger struct {
	Event    *pubsub.Event
	Reading  *state.Reading
	Snapshot *state.Snapshot
}

// Entity is the entity the trigger concerns, used to key cooldowns.
func (t Trigger) Entity() string {
	if t.Reading != nil {
		return t.Reading.EntityID
	}
	if t.Event != nil {
		return t.Event.EntityID()
	}
	return ""
}

// Rule is a named trigger predicate plus action factory. Rules hold no
// mutable state; the engine tracks their cooldowns.
type Rule interface {
	ID() string
	Cooldown() time.Duration
	Match(t Trigger) bool
	Actions(t Trigger) []Action
}

type Engine struct {
	rules []Rule

	mu    sync.Mutex
	fired map[string]time.Time

	// Clock is swapped in tests.
	Clock func() time.Time
}

func New() *Engine {
	return &Engine{
		fired: map[string]time.Time{},
		Clock: time.Now,
	}
}

// Register adds a rule. Registration order is evaluation order, so runs
// are reproducible. Not safe to call once evaluation has started.
func (e *Engine) Register(rules ...Rule) {
	e.rules = append(e.rules, rules...)
}

// Rules returns the registered rule ids, in order.
func (e *Engine) Rules() []string {
	ids := make([]string, len(e.rules))
	for i, r := range e.rules {
		ids[i] = r.ID()
	}
	return ids
}

// Evaluate runs every rule against the trigger and collects the produced
// actions, in registration order. A rule still cooling down for the
// trigger's entity is skipped silently. A panicking rule is isolated:
// logged, skipped, and the remaining rules still run.
func (e *Engine) Evaluate(t Trigger) []Action {
	now := e.Clock()
	var actions []Action
	for _, rule := range e.rules {
		matched := e.safeMatch(rule, t)
		if !matched {
			continue
		}
		key := rule.ID() + "|" + t.Entity()
		prev, fired, clear := e.clearCooldown(key, rule.Cooldown(), now)
		if !clear {
			continue
		}
		produced, ok := e.safeActions(rule, t)
		if !ok {
			// a panicking factory has not fired; give it back its cooldown
			e.revertCooldown(key, prev, fired)
			continue
		}
		actions = append(actions, produced...)
	}
	return actions
}

// clearCooldown checks and records the firing time for (rule, entity)
// under one lock, so concurrent evaluations cannot double-fire. The
// previous firing is returned so it can be reverted.
func (e *Engine) clearCooldown(key string, cooldown time.Duration, now time.Time) (prev time.Time, fired bool, clear bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, fired = e.fired[key]
	if fired && now.Sub(prev) < cooldown {
		return prev, fired, false
	}
	e.fired[key] = now
	return prev, fired, true
}

func (e *Engine) revertCooldown(key string, prev time.Time, fired bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fired {
		e.fired[key] = prev
	} else {
		delete(e.fired, key)
	}
}

// LastFired reports when the rule last fired for the entity.
func (e *Engine) LastFired(rule string, entity string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.fired[rule+"|"+entity]
	return last, ok
}

func (e *Engine) safeMatch(rule Rule, t Trigger) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("rule %s match panic: %v", rule.ID(), r)
			matched = false
		}
	}()
	return rule.Match(t)
}

func (e *Engine) safeActions(rule Rule, t Trigger) (actions []Action, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("rule %s actions panic: %v", rule.ID(), r)
			actions, ok = nil, false
		}
	}()
	actions = rule.Actions(t)
	for i := range actions {
		if actions[i].Rule == "" {
			actions[i].Rule = rule.ID()
		}
	}
	return actions, true
}
