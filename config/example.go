package config

var ExampleYaml = `
mqtt:
  broker: tcp://127.0.0.1:1883
api:
  port: 8723
entities:
  - id: hall_light
    kind: device
    type: light
    room: hall
    priority: 3
    power_rating: 60
  - id: kitchen_light
    kind: device
    type: light
    room: kitchen
    priority: 2
    power_rating: 60
  - id: living_room_light
    kind: device
    type: light
    room: living_room
    priority: 2
    power_rating: 100
  - id: hall_fan
    kind: device
    type: fan
    room: hall
    priority: 2
    power_rating: 75
  - id: refrigerator
    kind: device
    type: appliance
    room: kitchen
    priority: 1
    power_rating: 150
    always_on: true
  - id: washing_machine
    kind: device
    type: appliance
    room: utility
    priority: 3
    power_rating: 500
  - id: water_heater
    kind: device
    type: appliance
    room: utility
    priority: 2
    power_rating: 2000
  - id: door.front
    kind: sensor
    room: hall
    entry_point: true
  - id: alarm.siren
    kind: device
    type: alarm
    room: hall
    always_on: true
tariff:
  peak:
    - start: "18:00"
      end: "22:00"
  off_peak:
    - start: "22:00"
      end: "06:00"
thresholds:
  max_power: 2000
  anomaly: 3.0
  anomaly_hard: 6.0
coordinator:
  cooldown: 5m
  dedup_window: 2s
  tick: 60s
  history: 1000
  workers: 4
rules:
  - id: natural_light
    when: "metric == 'cloud_cover' && value < 30 && !is_peak"
    target: hall_light
    command: "off"
    cooldown: 15m
alarm:
  device: alarm.siren
  entry_points: [door.front]
watchdog:
  refrigerator: 2h
  door.front: 24h
recorder:
  path: /tmp/coordinator-logs
store:
  redis: ""
`

// ExampleConfig is used by tests.
var ExampleConfig *Config

func init() {
	ExampleConfig, _ = OpenRaw([]byte(ExampleYaml))
}
