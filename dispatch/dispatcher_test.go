package dispatch

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homehub/coordinator/engine"
	"github.com/homehub/coordinator/pubsub/dummy"
	"github.com/homehub/coordinator/sink"
)

type recordingSink struct {
	records []map[string]interface{}
}

func (s *recordingSink) Record(kind sink.Kind, payload map[string]interface{}) error {
	s.records = append(s.records, payload)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func newTest(pub *dummy.Publisher) (*Dispatcher, *recordingSink, *time.Time) {
	snk := &recordingSink{}
	d := New(pub, snk, 2*time.Second, 1)
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	d.Clock = func() time.Time { return now }
	d.Sleep = func(time.Duration) {}
	return d, snk, &now
}

func TestDispatchCommand(t *testing.T) {
	pub := &dummy.Publisher{}
	d, _, _ := newTest(pub)
	defer d.Close()

	result := d.Dispatch(engine.SwitchOff("fan.bedroom", "test"))
	assert.Equal(t, Delivered, result)
	require.Len(t, pub.Events, 1)
	ev := pub.Events[0]
	assert.Equal(t, "control.device", ev.Topic)
	assert.Equal(t, "fan.bedroom", ev.EntityID())
	assert.Equal(t, "off", ev.Command())
	assert.Equal(t, "coordinator", ev.Source())

	recent := d.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "fan.bedroom", recent[0].Target)
}

func TestDispatchAlert(t *testing.T) {
	pub := &dummy.Publisher{}
	d, _, _ := newTest(pub)
	defer d.Close()

	d.Dispatch(engine.Alert("power.anomaly", "heater.main", engine.SeverityHigh, "z=4.1", "anomaly"))
	require.Len(t, pub.Events, 1)
	ev := pub.Events[0]
	assert.Equal(t, "alert.raised", ev.Topic)
	assert.Equal(t, "power.anomaly", ev.StringField("kind"))
	assert.Equal(t, "high", ev.StringField("severity"))
	assert.Equal(t, "anomaly", ev.StringField("rule"))
}

func TestDedupWindow(t *testing.T) {
	pub := &dummy.Publisher{}
	d, _, now := newTest(pub)
	defer d.Close()

	assert.Equal(t, Delivered, d.Dispatch(engine.SwitchOff("fan.bedroom", "a")))
	// same effect from another rule within the window is still a duplicate
	assert.Equal(t, Duplicate, d.Dispatch(engine.SwitchOff("fan.bedroom", "b")))
	// a different target is not
	assert.Equal(t, Delivered, d.Dispatch(engine.SwitchOff("fan.kitchen", "a")))
	assert.Len(t, pub.Events, 2)

	*now = now.Add(2 * time.Second)
	assert.Equal(t, Delivered, d.Dispatch(engine.SwitchOff("fan.bedroom", "a")))
	assert.Len(t, pub.Events, 3)
}

func TestRetrySucceeds(t *testing.T) {
	pub := &dummy.Publisher{Fail: 2, Err: errors.New("broker away")}
	d, snk, _ := newTest(pub)
	defer d.Close()

	var slept []time.Duration
	d.Sleep = func(wait time.Duration) { slept = append(slept, wait) }

	assert.Equal(t, Delivered, d.Dispatch(engine.SwitchOff("fan.bedroom", "test")))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
	assert.Len(t, pub.Events, 1)
	assert.Empty(t, snk.records)
}

func TestRetryExhausted(t *testing.T) {
	pub := &dummy.Publisher{Fail: 10, Err: errors.New("broker away")}
	d, snk, _ := newTest(pub)
	defer d.Close()

	var slept []time.Duration
	d.Sleep = func(wait time.Duration) { slept = append(slept, wait) }

	assert.Equal(t, Failed, d.Dispatch(engine.SwitchOff("fan.bedroom", "test")))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, slept)

	require.Len(t, snk.records, 1)
	assert.Equal(t, "dispatch-failed", snk.records[0]["status"])
	assert.Equal(t, "fan.bedroom", snk.records[0]["target"])

	// initial attempt + 3 retries + 1 alert emit = 5 failures eaten by Fail,
	// so the follow-up alert lands once the publisher recovers
	pub2 := &dummy.Publisher{Fail: 4, Err: errors.New("broker away")}
	d2, _, _ := newTest(pub2)
	defer d2.Close()
	assert.Equal(t, Failed, d2.Dispatch(engine.SwitchOff("fan.bedroom", "test")))
	require.Len(t, pub2.Events, 1)
	assert.Equal(t, "alert.raised", pub2.Events[0].Topic)
	assert.Equal(t, "system.error", pub2.Events[0].StringField("kind"))
}

func TestFailedDispatchNotDeduped(t *testing.T) {
	pub := &dummy.Publisher{Fail: 10, Err: errors.New("broker away")}
	d, _, _ := newTest(pub)
	defer d.Close()

	require.Equal(t, Failed, d.Dispatch(engine.SwitchOff("fan.bedroom", "test")))

	// the failure did not stamp the dedup key, so once the bus recovers
	// the same action goes straight out
	pub.Fail = 0
	assert.Equal(t, Delivered, d.Dispatch(engine.SwitchOff("fan.bedroom", "test")))
	require.Len(t, pub.Events, 1)
	assert.Equal(t, "control.device", pub.Events[0].Topic)
}

func TestSubmitOrdering(t *testing.T) {
	pub := &dummy.Publisher{}
	snk := &recordingSink{}
	d := New(pub, snk, 2*time.Second, 1)
	d.Sleep = func(time.Duration) {}
	// one worker calls Clock sequentially, advance it a tick per call so
	// the repeated off lands outside the dedup window
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	d.Clock = func() time.Time {
		now = now.Add(2 * time.Second)
		return now
	}

	d.Submit(engine.SwitchOff("fan.bedroom", "a"))
	d.Submit(engine.SwitchOn("fan.bedroom", "b"))
	d.Submit(engine.SwitchOff("fan.bedroom", "c"))
	d.Close()

	require.Len(t, pub.Events, 3)
	assert.Equal(t, "off", pub.Events[0].Command())
	assert.Equal(t, "on", pub.Events[1].Command())
	assert.Equal(t, "off", pub.Events[2].Command())
}
