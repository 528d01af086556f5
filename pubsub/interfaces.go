package pubsub

// Publisher is the outbound side of the telemetry bus.
type Publisher interface {
	ID() string
	Emit(ev *Event) error
	Close()
}

// Subscriber is the inbound side. Each Subscribe call returns an
// independent channel; events matching any of the given topics are
// delivered in arrival order.
type Subscriber interface {
	ID() string
	Subscribe(topics ...Topic) <-chan *Event
	Close(<-chan *Event)
}

// Topic matches bus topic names for subscription filtering.
type Topic interface {
	Match(topic string) bool
}
