// Package services hosts the runnable services and their shared plumbing:
// broker connection, configuration, the persistent store and the service
// registry.
package services

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/homehub/coordinator/config"
	"github.com/homehub/coordinator/pubsub"
	"github.com/homehub/coordinator/pubsub/mqtt"
)

// Service is a runnable unit launched by the coordinator binary.
type Service interface {
	ID() string
	Run() error
}

// ServiceInit is a Service with a setup step run before any service starts.
type ServiceInit interface {
	Service
	Init() error
}

type Flags interface {
	Flags()
}

var serviceMap = map[string]Service{}
var enabled []Service

var Config *config.Config
var Publisher pubsub.Publisher
var Subscriber pubsub.Subscriber
var Stor Store

func SetupLogging() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	log.SetOutput(os.Stdout)
}

// SetupConfig loads configuration from COORD_CONFIG, falling back to the
// built-in example config so the stack can run out of the box.
func SetupConfig() {
	path := os.Getenv("COORD_CONFIG")
	if path == "" {
		log.Println("COORD_CONFIG not set, using example config")
		Config = config.ExampleConfig
		return
	}
	conf, err := config.Open(path)
	if err != nil {
		log.Fatalf("Error reading config %s: %s", path, err)
	}
	Config = conf
}

func SetupBroker(name string) {
	url := os.Getenv("COORD_MQTT")
	if url == "" {
		log.Fatalln("Set COORD_MQTT to the mqtt server. eg: tcp://127.0.0.1:1883")
	}

	broker := mqtt.NewBroker(url, name)
	Publisher = broker.Publisher()
	Subscriber = broker.Subscriber()
}

// SetupStore connects the persistent store. Without a configured redis the
// store is in-memory and state does not survive restarts.
func SetupStore() {
	if Config.Store.Redis == "" {
		log.Println("No redis configured, store is in-memory")
		Stor = NewMockStore()
		return
	}
	store, err := NewRedisStore(Config.Store.Redis)
	if err != nil {
		log.Fatalln("Error connecting to redis:", err)
	}
	Stor = store
}

func SetupFlags() {
	for _, service := range enabled {
		if f, ok := service.(Flags); ok {
			f.Flags()
		}
	}
	flag.Parse()
}

func Register(service Service) {
	if _, exists := serviceMap[service.ID()]; exists {
		log.Fatalf("Duplicate service registered: %s", service.ID())
	}
	serviceMap[service.ID()] = service
}

// Launch runs the named services. All but the last run on their own
// goroutine; the last blocks.
func Launch(ss []string) {
	enabled = []Service{}
	for _, name := range ss {
		if service, ok := serviceMap[name]; ok {
			enabled = append(enabled, service)
		} else {
			log.Fatalf("Service %s does not exist", name)
		}
	}

	SetupFlags()

	for _, service := range enabled {
		if service, ok := service.(ServiceInit); ok {
			err := service.Init()
			if err != nil {
				log.Fatalf("Error init service %s: %s", service.ID(), err.Error())
			}
			log.Printf("Initialized %s\n", service.ID())
		}
	}

	for i, service := range enabled {
		log.Printf("Starting %s\n", service.ID())
		go Heartbeat(service.ID())
		if i < len(enabled)-1 {
			go runService(service)
		} else {
			runService(service)
		}
	}
}

func runService(service Service) {
	err := service.Run()
	if err != nil {
		log.Fatalf("Error running service %s: %s", service.ID(), err.Error())
	}
}

// Heartbeat emits a retained liveness event every minute.
func Heartbeat(id string) {
	started := time.Now()
	fields := pubsub.Fields{
		"entity_id": fmt.Sprintf("heartbeat.%s", id),
		"pid":       os.Getpid(),
		"started":   started.Format(time.RFC3339),
	}

	// wait before the first beat in case the process dies straight away
	time.Sleep(time.Second * 5)

	for {
		fields["uptime"] = int(time.Since(started).Seconds())
		ev := pubsub.NewEvent("heartbeat", fields)
		ev.SetRetained(true)
		Publisher.Emit(ev)
		time.Sleep(time.Second * 60)
	}
}

func Shutdown() {
	if Publisher != nil {
		Publisher.Close()
	}
}
