package coordinator

import (
	"bytes"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homehub/coordinator/config"
	"github.com/homehub/coordinator/engine"
	"github.com/homehub/coordinator/pubsub"
	"github.com/homehub/coordinator/pubsub/dummy"
	"github.com/homehub/coordinator/services"
)

func setup(t *testing.T, now time.Time) (*Service, *dummy.Publisher) {
	pub := &dummy.Publisher{}
	services.Config = config.ExampleConfig
	services.Publisher = pub
	services.Stor = services.NewMockStore()

	s := &Service{Clock: func() time.Time { return now }}
	require.NoError(t, s.Init())
	s.store.Clock = s.Clock
	s.engine.Clock = s.Clock
	return s, pub
}

func reading(entity, metric string, value float64, at time.Time) *pubsub.Event {
	ev := pubsub.NewEvent("telemetry.reading", pubsub.Fields{
		"entity_id": entity,
		"metric":    metric,
		"value":     value,
	})
	ev.Timestamp = at
	return ev
}

func TestOccupancyAutoOff(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s, pub := setup(t, now)

	s.HandleEvent(reading("hall_light", "state", 1, now))

	occupancy := pubsub.NewEvent("telemetry.occupancy", pubsub.Fields{
		"room":            "hall",
		"motion":          0.0,
		"occupancy_count": 0.0,
	})
	occupancy.Timestamp = now.Add(time.Second)
	s.HandleEvent(occupancy)

	s.dispatcher.Close()
	require.Len(t, pub.Events, 1)
	ev := pub.Events[0]
	assert.Equal(t, "control.device", ev.Topic)
	assert.Equal(t, "hall_light", ev.EntityID())
	assert.Equal(t, "off", ev.Command())
}

func TestAlarmLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s, pub := setup(t, now)
	assert.False(t, s.Armed())

	s.HandleEvent(pubsub.NewEvent("control.alarm", pubsub.Fields{"command": "arm"}))
	s.alarmChanged(<-s.alarm.Changes)
	assert.True(t, s.Armed())

	value, err := services.Stor.Get(alarmKey)
	require.NoError(t, err)
	assert.Equal(t, "Armed", value)

	require.Len(t, pub.Events, 1)
	assert.Equal(t, "alarm.state", pub.Events[0].Topic)
	assert.Equal(t, "Armed", pub.Events[0].StringField("state"))
	assert.True(t, pub.Events[0].Retained)

	// arming again is not a transition
	s.HandleEvent(pubsub.NewEvent("control.alarm", pubsub.Fields{"command": "arm"}))
	assert.Empty(t, s.alarm.Changes)

	s.HandleEvent(pubsub.NewEvent("control.alarm", pubsub.Fields{"command": "disarm"}))
	s.alarmChanged(<-s.alarm.Changes)
	assert.False(t, s.Armed())

	// a fresh coordinator picks the persisted state back up
	armed := &Service{Clock: s.Clock}
	services.Stor.Set(alarmKey, "Armed")
	require.NoError(t, armed.Init())
	assert.True(t, armed.Armed())
}

func TestManualOverrideCancels(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s, _ := setup(t, now)

	s.sched.Schedule(engine.SwitchOn("washing_machine", "peak-deferral"), now.Add(time.Hour))
	require.Len(t, s.Pending(), 1)

	// coordinator's own commands do not cancel
	s.HandleEvent(pubsub.NewCommand("washing_machine", "off", "coordinator"))
	assert.Len(t, s.Pending(), 1)

	s.HandleEvent(pubsub.NewCommand("washing_machine", "on", "app"))
	assert.Empty(t, s.Pending())
}

func TestPeakDeferralRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 15, 19, 0, 0, 0, time.UTC)
	s, pub := setup(t, now)

	s.HandleEvent(reading("washing_machine", "state", 1, now))
	s.Optimize(now)

	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "washing_machine", pending[0].Action.Target)
	restoreAt := time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC)
	assert.Equal(t, restoreAt, pending[0].FireAt)

	s.TickSchedule(restoreAt.Add(time.Minute))
	assert.Empty(t, s.Pending())

	s.dispatcher.Close()
	require.Len(t, pub.Events, 2)
	assert.Equal(t, "off", pub.Events[0].Command())
	assert.Equal(t, "on", pub.Events[1].Command())
	assert.Equal(t, "washing_machine", pub.Events[1].EntityID())
}

func TestOccupiedRoomStaysOn(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s, pub := setup(t, now)

	s.HandleEvent(reading("hall_light", "state", 1, now))

	// motion arrives in the same event as a zero count; the event must
	// be fully applied before rules run, so the room reads as occupied
	occupancy := pubsub.NewEvent("telemetry.occupancy", pubsub.Fields{
		"room":            "hall",
		"motion":          true,
		"occupancy_count": 0.0,
	})
	occupancy.Timestamp = now.Add(time.Second)
	s.HandleEvent(occupancy)

	s.dispatcher.Close()
	assert.Empty(t, pub.Events)

	// the rule did not fire, so its cooldown is untouched
	_, fired := s.engine.LastFired("occupancy-auto-off", "hall")
	assert.False(t, fired)
}

func TestDiscardedEventLogged(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s, pub := setup(t, now)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stdout)

	// a reading with no metric/value carries nothing usable
	s.HandleEvent(pubsub.NewEvent("telemetry.reading", pubsub.Fields{"entity_id": "hall_light"}))
	assert.Contains(t, buf.String(), "Discarding telemetry.reading event")

	s.dispatcher.Close()
	assert.Empty(t, pub.Events)
}

func TestUnknownEventIgnored(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	s, pub := setup(t, now)

	s.HandleEvent(pubsub.NewEvent("telemetry.bogus", pubsub.Fields{"x": 1}))
	s.dispatcher.Close()
	assert.Empty(t, pub.Events)
}
