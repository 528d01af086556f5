package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRaw(t *testing.T) {
	conf, err := OpenRaw([]byte(ExampleYaml))
	require.NoError(t, err)
	assert.Equal(t, "tcp://127.0.0.1:1883", conf.Mqtt.Broker)
	assert.Equal(t, 2000.0, conf.Thresholds.Max_Power)
	assert.Equal(t, 5*time.Minute, conf.Coordinator.Cooldown.Duration)
	assert.Equal(t, 2*time.Second, conf.Coordinator.Dedup_Window.Duration)

	fridge, ok := conf.LookupEntity("refrigerator")
	require.True(t, ok)
	assert.True(t, fridge.Always_On)
	assert.Equal(t, 150.0, fridge.Power_Rating)

	assert.True(t, conf.IsEntryPoint("door.front"))
	assert.False(t, conf.IsEntryPoint("kitchen_light"))
}

func TestOpenRawInvalidWindow(t *testing.T) {
	_, err := OpenRaw([]byte("tariff:\n  peak:\n    - start: \"25:00\"\n      end: \"26:00\"\n"))
	assert.Error(t, err)
}

func TestEntitiesInRoom(t *testing.T) {
	devices := ExampleConfig.EntitiesInRoom("hall")
	ids := []string{}
	for _, d := range devices {
		ids = append(ids, d.Id)
	}
	// door.front is a sensor, not a device
	assert.ElementsMatch(t, []string{"hall_light", "hall_fan", "alarm.siren"}, ids)
}

func at(hour, min int) time.Time {
	return time.Date(2026, 2, 14, hour, min, 0, 0, time.UTC)
}

func TestWindowInclusive(t *testing.T) {
	w := WindowConf{Start: "18:00", End: "22:00"}
	assert.False(t, w.Contains(at(17, 59)))
	assert.True(t, w.Contains(at(18, 0)))
	assert.True(t, w.Contains(at(20, 30)))
	assert.True(t, w.Contains(at(22, 0)))
	assert.False(t, w.Contains(at(22, 1)))
}

func TestWindowMidnightWrap(t *testing.T) {
	w := WindowConf{Start: "22:00", End: "06:00"}
	assert.True(t, w.Contains(at(22, 0)))
	assert.True(t, w.Contains(at(23, 30)))
	assert.True(t, w.Contains(at(0, 0)))
	assert.True(t, w.Contains(at(6, 0)))
	assert.False(t, w.Contains(at(6, 1)))
	assert.False(t, w.Contains(at(12, 0)))
}

func TestIsPeak(t *testing.T) {
	assert.True(t, ExampleConfig.IsPeak(at(18, 0)))
	assert.False(t, ExampleConfig.IsPeak(at(17, 59)))
	assert.True(t, ExampleConfig.IsOffPeak(at(23, 0)))
	assert.False(t, ExampleConfig.IsOffPeak(at(12, 0)))
}

func TestNextOffPeakStart(t *testing.T) {
	// during peak, next off-peak starts 22:00 the same day
	next := ExampleConfig.NextOffPeakStart(at(19, 0))
	assert.Equal(t, at(22, 0), next)
	// already off-peak
	assert.Equal(t, at(23, 0), ExampleConfig.NextOffPeakStart(at(23, 0)))
}
