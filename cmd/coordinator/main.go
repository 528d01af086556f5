package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/homehub/coordinator/services"
	"github.com/homehub/coordinator/services/api"
	"github.com/homehub/coordinator/services/coordinator"
	"github.com/homehub/coordinator/services/recorder"
	"github.com/homehub/coordinator/services/watchdog"
)

func registerServices() {
	services.Register(&coordinator.Service{})
	services.Register(&recorder.Service{})
	services.Register(&api.Service{})
	services.Register(&watchdog.Service{})
}

func usage() {
	fmt.Println("Usage: coordinator run [SERVICE...]")
	fmt.Println()
	fmt.Println("Services:")
	fmt.Println("   coordinator   rule evaluation and action dispatch")
	fmt.Println("   recorder      record bus traffic to the sinks")
	fmt.Println("   api           http status and control endpoint")
	fmt.Println("   watchdog      alert on entities that stop reporting")
	fmt.Println()
	fmt.Println("With no services named, all of them are run.")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("   COORD_MQTT    mqtt broker url, eg tcp://127.0.0.1:1883")
	fmt.Println("   COORD_CONFIG  path to config yaml")
	fmt.Println()
}

var all = []string{"coordinator", "recorder", "api", "watchdog"}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 || flag.Args()[0] != "run" {
		usage()
		os.Exit(1)
	}

	ss := flag.Args()[1:]
	if len(ss) == 0 {
		ss = all
	}

	registerServices()
	services.SetupLogging()
	services.SetupConfig()
	services.SetupBroker("coordinator")
	services.SetupStore()
	defer services.Shutdown()
	services.Launch(ss)
}
