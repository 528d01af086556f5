// Test doubles for the telemetry bus: a Publisher that records emitted
// events and a Subscriber that replays canned events.
package dummy

import "github.com/homehub/coordinator/pubsub"

// Publisher records everything emitted.
type Publisher struct {
	Events []*pubsub.Event
	// Fail makes the next n Emit calls return an error, for retry tests.
	Fail int
	Err  error
}

func (pub *Publisher) ID() string {
	return "dummy"
}

func (pub *Publisher) Emit(ev *pubsub.Event) error {
	if pub.Fail > 0 {
		pub.Fail--
		return pub.Err
	}
	pub.Events = append(pub.Events, ev)
	return nil
}

func (pub *Publisher) Close() {}

// Subscriber replays its Events to each subscription.
type Subscriber struct {
	Events []*pubsub.Event
}

func (sub *Subscriber) ID() string {
	return "dummy"
}

func (sub *Subscriber) Subscribe(topics ...pubsub.Topic) <-chan *pubsub.Event {
	ch := make(chan *pubsub.Event)
	go func() {
		for _, ev := range sub.Events {
			for _, t := range topics {
				if t.Match(ev.Topic) {
					ch <- ev
					break
				}
			}
		}
		close(ch)
	}()
	return ch
}

func (sub *Subscriber) Close(<-chan *pubsub.Event) {
}
