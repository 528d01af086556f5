// Service for recording bus traffic to the durable sinks: telemetry as
// readings, device commands as actions and raised alerts as alerts. The
// file sink is always on when a path is configured; postgres is added
// when a DSN is configured.
package recorder

import (
	"log"

	"github.com/homehub/coordinator/pubsub"
	"github.com/homehub/coordinator/services"
	"github.com/homehub/coordinator/sink"
)

type Service struct {
	sink sink.Sink
}

func (s *Service) ID() string {
	return "recorder"
}

// KindFor maps a bus topic to the sink record kind it is stored under.
// The empty kind means the event is not recorded.
func KindFor(topic string) sink.Kind {
	switch topic {
	case "control.device":
		return sink.Action
	case "alert.raised":
		return sink.Alert
	}
	if pubsub.Prefix("telemetry").Match(topic) {
		return sink.Reading
	}
	return ""
}

func (s *Service) Init() error {
	conf := services.Config.Recorder
	var sinks sink.Multi
	if conf.Path != "" {
		fs, err := sink.NewFileSink(conf.Path)
		if err != nil {
			return err
		}
		sinks = append(sinks, fs)
	}
	if conf.Postgres != "" {
		ps, err := sink.NewPostgresSink(conf.Postgres)
		if err != nil {
			return err
		}
		sinks = append(sinks, ps)
	}
	if len(sinks) == 0 {
		log.Println("No sinks configured, recording disabled")
		s.sink = sink.Discard{}
		return nil
	}
	s.sink = sinks
	return nil
}

func (s *Service) Event(ev *pubsub.Event) {
	kind := KindFor(ev.Topic)
	if kind == "" {
		return
	}
	if err := s.sink.Record(kind, ev.Map()); err != nil {
		log.Println("Error recording event:", err)
	}
}

func (s *Service) Run() error {
	defer s.sink.Close()
	events := services.Subscriber.Subscribe(
		pubsub.Prefix("telemetry"),
		pubsub.Exact("control.device"),
		pubsub.Exact("alert.raised"))
	for ev := range events {
		s.Event(ev)
	}
	return nil
}
