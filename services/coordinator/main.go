// Service tying the event loop together: it ingests telemetry from the
// bus, maintains the state store, evaluates the rule engine on every
// accepted reading and routes the resulting actions either to the
// dispatcher or, for deferred effects, to the scheduler.
//
// The alarm arm/disarm lifecycle is a state machine driven by bus
// commands; the armed flag is persisted so a restart does not silently
// disarm the house.
package coordinator

import (
	"log"
	"sync"
	"time"

	"github.com/barnybug/gofsm"

	"github.com/homehub/coordinator/config"
	"github.com/homehub/coordinator/dispatch"
	"github.com/homehub/coordinator/engine"
	"github.com/homehub/coordinator/pubsub"
	"github.com/homehub/coordinator/scheduler"
	"github.com/homehub/coordinator/services"
	"github.com/homehub/coordinator/sink"
	"github.com/homehub/coordinator/state"
	"github.com/homehub/coordinator/util"
)

// OptimizeInterval is how often time-based rules are re-evaluated without
// waiting for a triggering reading.
const OptimizeInterval = 5 * time.Minute

const alarmKey = "coordinator/alarm"

// The alarm automaton. Commands on the control.alarm topic drive it; any
// other event leaves it untouched.
const alarmAutomaton = `
alarm:
  start: Disarmed
  states:
    Disarmed: {}
    Armed: {}
  transitions:
    Disarmed->Armed:
    - when: command=arm
    Armed->Disarmed:
    - when: command=disarm
`

type Service struct {
	conf       *config.Config
	store      *state.Store
	engine     *engine.Engine
	sched      *scheduler.Scheduler
	dispatcher *dispatch.Dispatcher
	alarm      *gofsm.Automata

	// Clock is swapped in tests.
	Clock func() time.Time
}

var mu sync.Mutex
var current *Service

// Current returns the running coordinator, for the api service. Nil until
// the coordinator has initialized.
func Current() *Service {
	mu.Lock()
	defer mu.Unlock()
	return current
}

func (s *Service) ID() string {
	return "coordinator"
}

func (s *Service) Init() error {
	conf := services.Config
	eng := engine.New()
	eng.Register(engine.Builtin(conf)...)
	rules, err := engine.CompileRules(conf)
	if err != nil {
		return err
	}
	eng.Register(rules...)
	log.Println("Rules registered:", eng.Rules())

	alarm, err := gofsm.Load([]byte(alarmAutomaton))
	if err != nil {
		return err
	}

	var snk sink.Sink = sink.Discard{}
	if conf.Recorder.Path != "" {
		fs, err := sink.NewFileSink(conf.Recorder.Path)
		if err != nil {
			return err
		}
		snk = fs
	}

	s.conf = conf
	s.store = state.NewStore(conf)
	s.engine = eng
	s.sched = scheduler.New()
	s.dispatcher = dispatch.New(services.Publisher, snk,
		conf.Coordinator.Dedup_Window.Or(dispatch.DefaultWindow),
		conf.Coordinator.Workers)
	s.alarm = alarm
	if s.Clock == nil {
		s.Clock = time.Now
	}
	s.restoreAlarm()

	mu.Lock()
	current = s
	mu.Unlock()
	return nil
}

// restoreAlarm reloads the persisted alarm state, erring disarmed.
func (s *Service) restoreAlarm() {
	value, err := services.Stor.Get(alarmKey)
	if err != nil {
		return
	}
	s.alarm.Restore(gofsm.AutomataState{
		"alarm": gofsm.AutomatonState{State: value, Since: s.Clock()},
	})
	s.store.SetArmed(value == "Armed")
	log.Println("Restored alarm state:", value)
}

func (s *Service) Run() error {
	tick := util.NewTicker(0, s.conf.Coordinator.Tick.Or(time.Minute))
	optimize := util.NewTicker(0, OptimizeInterval)

	events := services.Subscriber.Subscribe(
		pubsub.Prefix("telemetry"),
		pubsub.Exact("control.device"),
		pubsub.Exact("control.alarm"))
	for {
		select {
		case ev := <-events:
			s.HandleEvent(ev)
		case change := <-s.alarm.Changes:
			s.alarmChanged(change)
		case <-s.alarm.Actions:
			// transitions carry no extra actions
		case now := <-tick.C:
			s.TickSchedule(now)
		case now := <-optimize.C:
			s.Optimize(now)
		}
	}
}

// HandleEvent is one turn of the loop: update state, evaluate, route.
func (s *Service) HandleEvent(ev *pubsub.Event) {
	switch ev.Topic {
	case "control.alarm":
		s.alarm.Process(ev)
		return
	case "control.device":
		// a manual command overrides anything the coordinator had
		// scheduled for the device
		if ev.Source() != "coordinator" {
			if n := s.sched.CancelTarget(ev.EntityID()); n > 0 {
				log.Printf("Manual override of %s, cancelled %d scheduled actions", ev.EntityID(), n)
			}
		}
		return
	}

	readings := state.ReadingsFromEvent(ev)
	if len(readings) == 0 {
		// not a reading, but identity events still trigger rules
		if ev.Topic == "telemetry.identity-event" {
			s.evaluate(engine.Trigger{Event: ev, Snapshot: s.store.Snapshot()})
			return
		}
		log.Printf("Discarding %s event, no usable readings: %s", ev.Topic, ev)
		return
	}

	// the whole event lands before any rule runs, so a multi-metric
	// event is never seen half-applied
	var changed []*state.Reading
	for i := range readings {
		if s.store.Apply(readings[i]) {
			changed = append(changed, &readings[i])
		}
	}
	if len(changed) == 0 {
		return
	}
	snapshot := s.store.Snapshot()
	for _, r := range changed {
		s.evaluate(engine.Trigger{Event: ev, Reading: r, Snapshot: snapshot})
	}
}

func (s *Service) evaluate(t engine.Trigger) {
	s.route(s.engine.Evaluate(t))
}

// route sends immediate actions to the dispatcher and deferred ones to
// the scheduler.
func (s *Service) route(actions []engine.Action) {
	now := s.Clock()
	for _, action := range actions {
		if action.Deferred(now) {
			id := s.sched.Schedule(action, action.NotBefore)
			log.Printf("Scheduled %s for %s (%s)", action, action.NotBefore.Format(time.RFC3339), id)
		} else {
			s.dispatcher.Submit(action)
		}
	}
}

// TickSchedule releases scheduled actions that have come due.
func (s *Service) TickSchedule(now time.Time) {
	overdue := now.Add(-2 * s.conf.Coordinator.Tick.Or(time.Minute))
	for _, action := range s.sched.Tick(now) {
		if action.NotBefore.Before(overdue) {
			log.Printf("Releasing %s late, was due %s", action, action.NotBefore.Format(time.RFC3339))
		}
		s.dispatcher.Submit(action)
	}
}

// Optimize re-evaluates time-based rules, eg peak deferral, which must
// fire on the clock rather than on a device report.
func (s *Service) Optimize(now time.Time) {
	ev := pubsub.NewEvent(engine.OptimizeTopic, pubsub.Fields{"source": "timer"})
	ev.Timestamp = now
	s.evaluate(engine.Trigger{Event: ev, Snapshot: s.store.Snapshot()})
}

func (s *Service) alarmChanged(change gofsm.Change) {
	log.Printf("Alarm %s->%s", change.Old, change.New)
	armed := change.New == "Armed"
	s.store.SetArmed(armed)
	if err := services.Stor.Set(alarmKey, change.New); err != nil {
		log.Println("Error persisting alarm state:", err)
	}
	fields := pubsub.Fields{
		"entity_id": s.conf.Alarm.Device,
		"state":     change.New,
	}
	ev := pubsub.NewEvent("alarm.state", fields)
	ev.SetRetained(true)
	services.Publisher.Emit(ev)
}

// Snapshot exposes current state to the api service.
func (s *Service) Snapshot() *state.Snapshot {
	return s.store.Snapshot()
}

// Pending exposes the scheduled actions to the api service.
func (s *Service) Pending() []scheduler.Task {
	return s.sched.Pending()
}

// Recent exposes recently dispatched actions to the api service.
func (s *Service) Recent() []engine.Action {
	return s.dispatcher.Recent()
}

// Rules exposes the registered rule ids to the api service.
func (s *Service) Rules() []string {
	return s.engine.Rules()
}

func (s *Service) Armed() bool {
	return s.store.Armed()
}
