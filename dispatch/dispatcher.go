// Package dispatch delivers actions to the bus. It deduplicates rapid
// repeats, preserves per-target ordering across a bounded worker pool and
// retries transient publish failures before declaring an action lost.
package dispatch

import (
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/homehub/coordinator/engine"
	"github.com/homehub/coordinator/pubsub"
	"github.com/homehub/coordinator/sink"
)

// Result of a dispatch attempt.
type Result string

const (
	Delivered Result = "delivered"
	Duplicate Result = "duplicate"
	Failed    Result = "failed"
)

const (
	DefaultWindow  = 2 * time.Second
	DefaultWorkers = 4
)

// Retries are the backoff delays between publish attempts.
var Retries = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Dispatcher owns the outbound half of the coordinator. Actions for the
// same target always land on the same worker, so their bus order matches
// their submission order.
type Dispatcher struct {
	pub    pubsub.Publisher
	sink   sink.Sink
	window time.Duration

	sync.Mutex
	seen   map[string]time.Time
	recent []engine.Action

	queues []chan engine.Action
	wg     sync.WaitGroup

	Clock func() time.Time
	Sleep func(time.Duration)
}

func New(pub pubsub.Publisher, snk sink.Sink, window time.Duration, workers int) *Dispatcher {
	if window <= 0 {
		window = DefaultWindow
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	d := &Dispatcher{
		pub:    pub,
		sink:   snk,
		window: window,
		seen:   map[string]time.Time{},
		queues: make([]chan engine.Action, workers),
		Clock:  time.Now,
		Sleep:  time.Sleep,
	}
	for i := range d.queues {
		d.queues[i] = make(chan engine.Action, 16)
		d.wg.Add(1)
		go d.worker(d.queues[i])
	}
	return d
}

func (d *Dispatcher) worker(queue chan engine.Action) {
	defer d.wg.Done()
	for action := range queue {
		d.Dispatch(action)
	}
}

// Submit queues an action for asynchronous dispatch.
func (d *Dispatcher) Submit(action engine.Action) {
	h := fnv.New32a()
	h.Write([]byte(action.Target))
	d.queues[int(h.Sum32())%len(d.queues)] <- action
}

// Dispatch delivers one action synchronously. A repeat of an action
// delivered within the dedup window is dropped; a failed delivery does
// not count, so the same action may be retried immediately.
func (d *Dispatcher) Dispatch(action engine.Action) Result {
	key := action.IdempotencyKey()
	if d.duplicate(key) {
		log.Printf("dropping duplicate action: %s", action)
		return Duplicate
	}

	ev := d.eventFor(action)
	var err error
	for attempt := 0; ; attempt++ {
		err = d.pub.Emit(ev)
		if err == nil {
			d.remember(action, key)
			return Delivered
		}
		if attempt >= len(Retries) {
			break
		}
		log.Printf("dispatch of %s failed, retrying in %s: %s", action, Retries[attempt], err)
		d.Sleep(Retries[attempt])
	}

	log.Printf("dispatch of %s failed permanently: %s", action, err)
	d.sink.Record(sink.Action, map[string]interface{}{
		"target": action.Target,
		"kind":   string(action.Kind),
		"rule":   action.Rule,
		"status": "dispatch-failed",
		"error":  err.Error(),
	})
	// best effort: the bus just failed us, but it may be back
	alert := pubsub.NewAlert("system.error", action.Target, engine.SeverityHigh,
		"action could not be delivered: "+err.Error())
	d.pub.Emit(alert)
	return Failed
}

// recentCap bounds the delivered-action history kept for inspection.
const recentCap = 50

// remember stamps the dedup key and records the delivery.
func (d *Dispatcher) remember(action engine.Action, key string) {
	now := d.Clock()
	d.Lock()
	defer d.Unlock()
	d.seen[key] = now
	// prune expired keys so the map does not grow without bound
	for k, t := range d.seen {
		if now.Sub(t) >= d.window {
			delete(d.seen, k)
		}
	}
	d.recent = append(d.recent, action)
	if len(d.recent) > recentCap {
		d.recent = d.recent[len(d.recent)-recentCap:]
	}
}

// Recent returns the most recently delivered actions, oldest first.
func (d *Dispatcher) Recent() []engine.Action {
	d.Lock()
	defer d.Unlock()
	out := make([]engine.Action, len(d.recent))
	copy(out, d.recent)
	return out
}

func (d *Dispatcher) duplicate(key string) bool {
	now := d.Clock()
	d.Lock()
	defer d.Unlock()
	last, ok := d.seen[key]
	return ok && now.Sub(last) < d.window
}

func (d *Dispatcher) eventFor(action engine.Action) *pubsub.Event {
	str := func(name string) string {
		s, _ := action.Payload[name].(string)
		return s
	}
	switch action.Kind {
	case engine.PublishAlert:
		ev := pubsub.NewAlert(str("kind"), action.Target, str("severity"), str("detail"))
		ev.SetField("rule", action.Rule)
		return ev
	case engine.TriggerAlarm:
		ev := pubsub.NewCommand(action.Target, "trigger", "coordinator")
		for k, v := range action.Payload {
			ev.SetField(k, v)
		}
		ev.SetField("rule", action.Rule)
		return ev
	default:
		command, _ := action.Payload["command"].(string)
		ev := pubsub.NewCommand(action.Target, command, "coordinator")
		for k, v := range action.Payload {
			ev.SetField(k, v)
		}
		ev.SetField("rule", action.Rule)
		return ev
	}
}

// Close drains the worker queues and waits for in-flight dispatches.
func (d *Dispatcher) Close() {
	for _, q := range d.queues {
		close(q)
	}
	d.wg.Wait()
}
