package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewEventTimestamp(t *testing.T) {
	ev := NewEvent("telemetry.reading", Fields{
		"entity_id": "kitchen_light",
		"metric":    "power_w",
		"value":     60.0,
		"timestamp": "2026-02-14T18:00:00Z",
	})
	assert.Equal(t, "telemetry.reading", ev.Topic)
	assert.Equal(t, time.Date(2026, 2, 14, 18, 0, 0, 0, time.UTC), ev.Timestamp)
	assert.Equal(t, "kitchen_light", ev.EntityID())
	assert.Equal(t, "power_w", ev.Metric())
	v, ok := ev.FloatField("value")
	assert.True(t, ok)
	assert.Equal(t, 60.0, v)
}

func TestParseRoundtrip(t *testing.T) {
	ev := NewCommand("kitchen_light", "off", "coordinator")
	back := Parse(ev.String(), "")
	assert.NotNil(t, back)
	assert.Equal(t, "control.device", back.Topic)
	assert.Equal(t, "kitchen_light", back.EntityID())
	assert.Equal(t, "off", back.Command())
}

func TestParseMalformed(t *testing.T) {
	assert.Nil(t, Parse("{not json", "telemetry.reading"))
	assert.Nil(t, Parse(`"scalar"`, "telemetry.reading"))
	// missing timestamp
	assert.Nil(t, Parse(`{"entity_id":"x"}`, "telemetry.reading"))
	// missing topic
	assert.Nil(t, Parse(`{"timestamp":"2026-02-14T18:00:00Z"}`, ""))
}

func TestFloatField(t *testing.T) {
	ev := NewEvent("telemetry.occupancy", Fields{
		"motion":          true,
		"occupancy_count": 2.0,
		"timestamp":       "2026-02-14T18:00:00Z",
	})
	motion, ok := ev.FloatField("motion")
	assert.True(t, ok)
	assert.Equal(t, 1.0, motion)
	assert.True(t, ev.BoolField("occupancy_count"))
	_, ok = ev.FloatField("missing")
	assert.False(t, ok)
}

func TestMatch(t *testing.T) {
	ev := NewEvent("command", Fields{"command": "arm", "timestamp": "2026-02-14T18:00:00Z"})
	assert.True(t, ev.Match("command=arm"))
	assert.False(t, ev.Match("command=disarm"))
	assert.False(t, ev.Match("arm"))
}

func TestMatchers(t *testing.T) {
	assert.True(t, Exact("telemetry.reading").Match("telemetry.reading"))
	assert.False(t, Exact("telemetry.reading").Match("telemetry.readings"))
	assert.True(t, Prefix("telemetry").Match("telemetry.reading"))
	assert.True(t, Prefix("telemetry").Match("telemetry"))
	assert.False(t, Prefix("telemetry").Match("telemetryx"))
	assert.True(t, All().Match("anything"))
}
