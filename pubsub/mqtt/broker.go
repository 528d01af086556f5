// MQTT adapter for the telemetry bus, using paho. All coordinator topics
// live under a single prefix ("home/"), one MQTT level per topic name.
//
// Transport failures are retried with exponential backoff (base 1s, cap
// 60s, jitter +-20%); subscriptions are replayed after each reconnect.
// Events published while disconnected are not recovered - the bus is
// at-most-once.
package mqtt

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/homehub/coordinator/pubsub"
)

// Prefix under which all bus topics are published.
const Prefix = "home/"

const (
	backoffBase = time.Second
	backoffCap  = 60 * time.Second
)

type Broker struct {
	broker  string
	client  MQTT.Client
	dropped uint64

	channelsLock sync.Mutex
	channels     []eventChannel

	subsLock sync.Mutex
	subs     map[string]int
}

type eventChannel struct {
	C      chan *pubsub.Event
	topics []pubsub.Topic
}

// NewBroker connects to the given MQTT url. The initial connect is retried
// with the same backoff as reconnects, so the coordinator can start before
// its broker.
func NewBroker(url string, name string) *Broker {
	self := &Broker{broker: url, subs: map[string]int{}}

	hostname, _ := os.Hostname()
	clientID := fmt.Sprintf("%s/%s-%d-%d", name, hostname, os.Getpid(), rand.Int31())

	opts := MQTT.NewClientOptions()
	opts.AddBroker(url)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetDefaultPublishHandler(self.publishHandler)
	opts.SetOnConnectHandler(self.connectHandler)
	opts.SetConnectionLostHandler(self.connectionLostHandler)
	self.client = MQTT.NewClient(opts)

	self.connectWithBackoff()
	return self
}

// Backoff returns the wait before the nth retry (0-based): exponential from
// backoffBase, capped at backoffCap, with +-20% jitter.
func Backoff(attempt int) time.Duration {
	d := backoffBase << uint(attempt)
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

func (self *Broker) connectWithBackoff() {
	for attempt := 0; ; attempt++ {
		token := self.client.Connect()
		token.Wait()
		if token.Error() == nil {
			return
		}
		wait := Backoff(attempt)
		log.Printf("mqtt connect failed: %s (retrying in %s)", token.Error(), wait)
		time.Sleep(wait)
	}
}

func (self *Broker) connectionLostHandler(client MQTT.Client, err error) {
	log.Println("mqtt connection lost:", err)
	go self.connectWithBackoff()
}

func (self *Broker) connectHandler(client MQTT.Client) {
	// replay subscriptions on (re)connect
	self.subsLock.Lock()
	subs := map[string]byte{}
	for topic := range self.subs {
		subs[topic] = 1 // QOS
	}
	self.subsLock.Unlock()

	if len(subs) > 0 {
		log.Println("mqtt connected, resubscribing:", len(subs), "topics")
		if token := self.client.SubscribeMultiple(subs, nil); token.Wait() && token.Error() != nil {
			log.Println("mqtt error subscribing:", token.Error())
		}
	}
}

func (self *Broker) publishHandler(client MQTT.Client, msg MQTT.Message) {
	if len(msg.Topic()) <= len(Prefix) {
		return
	}
	topic := msg.Topic()[len(Prefix):]
	event := pubsub.Parse(string(msg.Payload()), topic)
	if event == nil {
		// a single bad message must not stop the stream
		n := atomic.AddUint64(&self.dropped, 1)
		log.Printf("mqtt dropping malformed message on %s (%d dropped)", topic, n)
		return
	}
	event.SetRetained(msg.Retained())

	self.channelsLock.Lock()
	for _, ch := range self.channels {
		for _, t := range ch.topics {
			if t.Match(topic) {
				ch.C <- event
				break
			}
		}
	}
	self.channelsLock.Unlock()
}

// Dropped returns the count of malformed messages discarded so far.
func (self *Broker) Dropped() uint64 {
	return atomic.LoadUint64(&self.dropped)
}

func (self *Broker) ID() string {
	return "mqtt: " + self.broker
}

func topicToMqtt(topic pubsub.Topic) string {
	switch topic := topic.(type) {
	case *pubsub.ExactTopic:
		return Prefix + topic.Exact
	default:
		// topic names are one MQTT level, so prefix/all matching is
		// done client-side off a wildcard subscription
		return Prefix + "#"
	}
}

func (self *Broker) Subscribe(topics ...pubsub.Topic) <-chan *pubsub.Event {
	subs := map[string]byte{}
	self.subsLock.Lock()
	for _, topic := range topics {
		t := topicToMqtt(topic)
		if self.subs[t] == 0 {
			subs[t] = 1 // QOS
		}
		self.subs[t]++
	}
	self.subsLock.Unlock()

	ch := eventChannel{
		C:      make(chan *pubsub.Event, 16),
		topics: topics,
	}
	self.channelsLock.Lock()
	self.channels = append(self.channels, ch)
	self.channelsLock.Unlock()

	if len(subs) > 0 {
		if token := self.client.SubscribeMultiple(subs, nil); token.Wait() && token.Error() != nil {
			log.Println("mqtt error subscribing:", token.Error())
		}
	}
	return ch.C
}

func (self *Broker) Close(channel <-chan *pubsub.Event) {
	var channels []eventChannel
	self.channelsLock.Lock()
	for _, ch := range self.channels {
		if channel == (<-chan *pubsub.Event)(ch.C) {
			for _, topic := range ch.topics {
				t := topicToMqtt(topic)
				self.subsLock.Lock()
				self.subs[t]--
				remaining := self.subs[t]
				if remaining == 0 {
					delete(self.subs, t)
				}
				self.subsLock.Unlock()
				if remaining == 0 {
					if token := self.client.Unsubscribe(t); token.Wait() && token.Error() != nil {
						log.Println("mqtt error unsubscribing:", token.Error())
					}
				}
			}
			close(ch.C)
		} else {
			channels = append(channels, ch)
		}
	}
	self.channels = channels
	self.channelsLock.Unlock()
}

// Publisher for mqtt
type Publisher struct {
	broker *Broker
}

func (pub *Publisher) ID() string {
	return pub.broker.ID()
}

// Emit publishes an event under the bus prefix at QOS 1.
func (pub *Publisher) Emit(ev *pubsub.Event) error {
	token := pub.broker.client.Publish(Prefix+ev.Topic, 1, ev.Retained, ev.Bytes())
	token.Wait()
	return token.Error()
}

func (pub *Publisher) Close() {
	pub.broker.client.Disconnect(250)
}

// Publisher returns the broker's outbound endpoint.
func (self *Broker) Publisher() pubsub.Publisher {
	return &Publisher{broker: self}
}

// Subscriber returns the broker's inbound endpoint.
func (self *Broker) Subscriber() pubsub.Subscriber {
	return self
}
