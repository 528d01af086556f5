package state

import (
	"github.com/homehub/coordinator/pubsub"
)

// WeatherEntity is the entity id weather observations are filed under.
const WeatherEntity = "weather"

// ReadingsFromEvent normalizes an inbound bus event into readings. An
// event can carry several observations (an occupancy update reports
// motion, count and temperature at once). Returns nil for event shapes
// that carry no readings - the caller discards those with a warning.
func ReadingsFromEvent(ev *pubsub.Event) []Reading {
	switch ev.Topic {
	case "telemetry.reading":
		entity := ev.EntityID()
		metric := ev.Metric()
		value, ok := ev.FloatField("value")
		if entity == "" || metric == "" || !ok {
			return nil
		}
		return []Reading{{EntityID: entity, Metric: metric, Value: value, Timestamp: ev.Timestamp}}

	case "telemetry.occupancy":
		room := ev.StringField("room")
		if room == "" {
			return nil
		}
		var out []Reading
		for _, metric := range []string{"occupancy_count", "motion", "temperature_c", "light_level"} {
			if value, ok := ev.FloatField(metric); ok {
				out = append(out, Reading{EntityID: room, Metric: metric, Value: value, Timestamp: ev.Timestamp})
			}
		}
		return out

	case "telemetry.weather":
		var out []Reading
		for _, metric := range []string{"temperature_c", "humidity", "cloud_cover", "wind_speed"} {
			if value, ok := ev.FloatField(metric); ok {
				out = append(out, Reading{EntityID: WeatherEntity, Metric: metric, Value: value, Timestamp: ev.Timestamp})
			}
		}
		return out
	}
	return nil
}
