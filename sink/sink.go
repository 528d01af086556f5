// Package sink is the append-only event/action log. The coordinator
// records through the Sink interface without knowing the storage engine;
// writes are at-least-once, so implementations tolerate duplicates.
package sink

import "log"

// Kind of record.
type Kind string

const (
	Reading Kind = "reading"
	Action  Kind = "action"
	Alert   Kind = "alert"
)

type Sink interface {
	Record(kind Kind, payload map[string]interface{}) error
	Close() error
}

// Multi fans records out to several sinks; a failing sink is logged and
// does not block the others.
type Multi []Sink

func (m Multi) Record(kind Kind, payload map[string]interface{}) error {
	for _, s := range m {
		if err := s.Record(kind, payload); err != nil {
			log.Println("sink record error:", err)
		}
	}
	return nil
}

func (m Multi) Close() error {
	for _, s := range m {
		s.Close()
	}
	return nil
}

// Discard drops everything, for tests and unconfigured deployments.
type Discard struct{}

func (Discard) Record(kind Kind, payload map[string]interface{}) error { return nil }
func (Discard) Close() error                                          { return nil }
