// Service for monitoring entities to ensure they are still reporting.
// Watches the configured list of entity ids and raises an alert if no
// telemetry has been seen within the allowed interval, plus a recovery
// alert when it returns.
package watchdog

import (
	"fmt"
	"log"
	"time"

	"github.com/homehub/coordinator/pubsub"
	"github.com/homehub/coordinator/services"
	"github.com/homehub/coordinator/state"
	"github.com/homehub/coordinator/util"
)

// repeatInterval limits how often a stale entity is re-alerted.
const repeatInterval = 12 * time.Hour

type watched struct {
	Timeout     time.Duration
	Alerted     bool
	LastAlerted time.Time
	LastEvent   time.Time
}

type Service struct {
	watches map[string]*watched

	// Clock is swapped in tests.
	Clock func() time.Time
}

func (s *Service) ID() string {
	return "watchdog"
}

func (s *Service) Init() error {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	// grace period: entities count as seen at startup
	now := s.Clock()
	s.watches = map[string]*watched{}
	for entity, timeout := range services.Config.Watchdog {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("bad watchdog timeout for %s: %q", entity, timeout)
		}
		s.watches[entity] = &watched{Timeout: duration, LastEvent: now}
	}
	log.Printf("Watching %d entities", len(s.watches))
	return nil
}

func (s *Service) raise(entity string, kind string, severity string, since time.Time) {
	detail := fmt.Sprintf("%s since %s (%s ago)", entity,
		since.Format(time.Stamp), util.ShortDuration(s.Clock().Sub(since)))
	log.Println("Watchdog:", kind, detail)
	services.Publisher.Emit(pubsub.NewAlert(kind, entity, severity, detail))
}

// CheckEvent refreshes the last-seen time for entities carried by the
// event, raising a recovery for any that had gone stale.
func (s *Service) CheckEvent(ev *pubsub.Event) {
	for _, r := range state.ReadingsFromEvent(ev) {
		w := s.watches[r.EntityID]
		if w == nil {
			continue
		}
		if w.Alerted {
			w.Alerted = false
			s.raise(r.EntityID, "watchdog.recovered", "low", w.LastEvent)
		}
		w.LastEvent = ev.Timestamp
	}
}

// CheckTimeouts raises alerts for entities that have gone quiet.
func (s *Service) CheckTimeouts() {
	now := s.Clock()
	for entity, w := range s.watches {
		if w.Alerted {
			if now.Sub(w.LastAlerted) > repeatInterval {
				w.LastAlerted = now
				s.raise(entity, "watchdog.stale", "low", w.LastEvent)
			}
		} else if now.Sub(w.LastEvent) > w.Timeout {
			w.Alerted = true
			w.LastAlerted = now
			s.raise(entity, "watchdog.stale", "low", w.LastEvent)
		}
	}
}

func (s *Service) Run() error {
	ticker := util.NewTicker(0, time.Minute)
	events := services.Subscriber.Subscribe(pubsub.Prefix("telemetry"))
	for {
		select {
		case ev := <-events:
			s.CheckEvent(ev)
		case <-ticker.C:
			s.CheckTimeouts()
		}
	}
}
