package pubsub

import (
	"encoding/json"
	"strings"
	"time"
)

type Fields map[string]interface{}

// Event is one message on the telemetry bus: a topic, a timestamp and a
// loose bag of fields. The wire form is a flat JSON object with "topic" and
// "timestamp" folded in.
type Event struct {
	Topic     string
	Timestamp time.Time
	Fields    Fields
	Retained  bool
}

// TimeFormat is the wire timestamp format (ISO-8601).
const TimeFormat = time.RFC3339Nano

func NewEvent(topic string, fields Fields) *Event {
	timestamp := time.Now().UTC()
	if ts, ok := fields["timestamp"].(string); ok {
		delete(fields, "timestamp")
		if parsed, err := time.Parse(TimeFormat, ts); err == nil {
			timestamp = parsed
		}
	}
	return &Event{Topic: topic, Timestamp: timestamp, Fields: fields}
}

// NewCommand creates a device control event for the control.device topic.
func NewCommand(entity string, command string, source string) *Event {
	fields := Fields{
		"entity_id": entity,
		"command":   command,
		"source":    source,
	}
	return NewEvent("control.device", fields)
}

// NewAlert creates an alert.raised event.
func NewAlert(kind string, entity string, severity string, detail string) *Event {
	fields := Fields{
		"kind":      kind,
		"entity_id": entity,
		"severity":  severity,
		"detail":    detail,
	}
	return NewEvent("alert.raised", fields)
}

func (event *Event) Map() map[string]interface{} {
	data := make(map[string]interface{})
	data["topic"] = event.Topic
	data["timestamp"] = event.Timestamp.UTC().Format(TimeFormat)
	for k, v := range event.Fields {
		data[k] = v
	}
	return data
}

func (event *Event) Bytes() []byte {
	v, _ := json.Marshal(event.Map())
	return v
}

func (event *Event) String() string {
	return string(event.Bytes())
}

func (event *Event) StringField(name string) string {
	ret, _ := event.Fields[name].(string)
	return ret
}

// FloatField returns a numeric field, accepting both JSON numbers and
// booleans (true=1).
func (event *Event) FloatField(name string) (float64, bool) {
	switch v := event.Fields[name].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func (event *Event) IntField(name string) int64 {
	ret, _ := event.Fields[name].(float64)
	return int64(ret)
}

func (event *Event) BoolField(name string) bool {
	switch v := event.Fields[name].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	}
	return false
}

func (event *Event) SetField(name string, value interface{}) {
	event.Fields[name] = value
}

func (event *Event) SetRetained(retained bool) {
	event.Retained = retained
}

func (event *Event) EntityID() string {
	return event.StringField("entity_id")
}

func (event *Event) Source() string {
	return event.StringField("source")
}

func (event *Event) Command() string {
	return event.StringField("command")
}

func (event *Event) Metric() string {
	return event.StringField("metric")
}

// Match implements the gofsm Event interface, so bus events can drive state
// machines. Conditions take the form "field=value", eg "command=arm".
func (event *Event) Match(when string) bool {
	if i := strings.IndexByte(when, '='); i >= 0 {
		return event.StringField(when[:i]) == when[i+1:]
	}
	return false
}

// Parse decodes a wire payload to an Event. Returns nil for malformed
// payloads or payloads missing required fields - callers drop those.
func Parse(msg string, topic string) *Event {
	var fields Fields
	err := json.Unmarshal([]byte(msg), &fields)
	if err != nil {
		return nil
	}
	if t, ok := fields["topic"].(string); ok {
		delete(fields, "topic")
		if topic == "" {
			topic = t
		}
	}
	if topic == "" {
		return nil
	}
	if _, ok := fields["timestamp"].(string); !ok {
		return nil
	}
	return NewEvent(topic, fields)
}
