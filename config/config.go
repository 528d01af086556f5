// Package config loads the coordinator's YAML configuration: the entity
// catalog, tariff windows, thresholds and per-component tuning.
package config

import (
	"io/ioutil"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// EntityConf is one catalog entry: anything observable or controllable.
// Priority is how dispensable an entity is (higher = shed first), not
// urgency.
type EntityConf struct {
	Id           string
	Kind         string // device|room|user|sensor
	Type         string // light|fan|appliance|sensor...
	Room         string
	Priority     int
	Power_Rating float64
	Always_On    bool
	Entry_Point  bool
}

func (e EntityConf) IsDevice() bool {
	return e.Kind == "device"
}

func (e EntityConf) IsLight() bool {
	return e.Kind == "device" && e.Type == "light"
}

// WindowConf is a daily time range, "HH:MM" to "HH:MM", inclusive at both
// ends. Start after End means the window wraps midnight.
type WindowConf struct {
	Start string
	End   string
}

type TariffConf struct {
	Peak     []WindowConf
	Off_Peak []WindowConf
}

type ThresholdsConf struct {
	Max_Power    float64 // aggregate power ceiling, watts
	Anomaly      float64 // z-score bound for alerts
	Anomaly_Hard float64 // z-score bound for emergency shutdown
}

type CoordinatorConf struct {
	Cooldown     Duration // default rule cooldown
	Dedup_Window Duration
	Tick         Duration // scheduler tick cadence
	History      int      // readings kept per entity
	Workers      int      // dispatch pool size
}

// RuleConf is a user-defined trigger: a govaluate expression over the
// snapshot plus the incoming reading, and the command to apply on match.
type RuleConf struct {
	Id       string
	When     string
	Target   string
	Command  string   // on|off
	Alert    string   // severity, for publish-alert rules
	Cooldown Duration
}

type AlarmConf struct {
	Device       string
	Entry_Points []string
}

type MqttConf struct {
	Broker string
}

type ApiConf struct {
	Port int
}

type RecorderConf struct {
	Path     string
	Postgres string
}

type StoreConf struct {
	Redis string
}

type Config struct {
	Mqtt        MqttConf
	Api         ApiConf
	Entities    []EntityConf
	Tariff      TariffConf
	Thresholds  ThresholdsConf
	Coordinator CoordinatorConf
	Rules       []RuleConf
	Alarm       AlarmConf
	Watchdog    map[string]string
	Recorder    RecorderConf
	Store       StoreConf

	entities map[string]EntityConf
}

// Duration wraps time.Duration for yaml values like "5m".
type Duration struct {
	Duration time.Duration
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	val, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = val
	return nil
}

func (d Duration) Or(fallback time.Duration) time.Duration {
	if d.Duration == 0 {
		return fallback
	}
	return d.Duration
}

// Open reads configuration from a file.
func Open(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	return OpenRaw(data)
}

// OpenRaw parses configuration from yaml.
func OpenRaw(data []byte) (*Config, error) {
	conf := &Config{}
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	conf.entities = map[string]EntityConf{}
	for _, e := range conf.Entities {
		conf.entities[e.Id] = e
	}
	for _, w := range append(conf.Tariff.Peak, conf.Tariff.Off_Peak...) {
		if _, _, err := parseWindow(w); err != nil {
			return nil, err
		}
	}
	return conf, nil
}

// LookupEntity returns the catalog entry for an id.
func (c *Config) LookupEntity(id string) (EntityConf, bool) {
	e, ok := c.entities[id]
	return e, ok
}

// EntitiesInRoom lists catalog devices located in the given room.
func (c *Config) EntitiesInRoom(room string) []EntityConf {
	var out []EntityConf
	for _, e := range c.Entities {
		if e.Room == room && e.IsDevice() {
			out = append(out, e)
		}
	}
	return out
}

// IsEntryPoint reports whether the entity is a monitored entry point.
func (c *Config) IsEntryPoint(id string) bool {
	for _, e := range c.Alarm.Entry_Points {
		if e == id {
			return true
		}
	}
	if e, ok := c.entities[id]; ok {
		return e.Entry_Point
	}
	return false
}

func parseMinute(s string) (int, error) {
	hm := strings.Split(s, ":")
	if len(hm) != 2 {
		return 0, errors.Errorf("invalid time %q", s)
	}
	hour, err := strconv.Atoi(hm[0])
	if err != nil {
		return 0, errors.Errorf("invalid time %q", s)
	}
	min, err := strconv.Atoi(hm[1])
	if err != nil || hour < 0 || hour > 23 || min < 0 || min > 59 {
		return 0, errors.Errorf("invalid time %q", s)
	}
	return hour*60 + min, nil
}

func parseWindow(w WindowConf) (int, int, error) {
	start, err := parseMinute(w.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := parseMinute(w.End)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// Contains reports whether t's local time of day falls in the window,
// inclusive at both ends. Windows wrapping midnight are treated as two
// sub-ranges.
func (w WindowConf) Contains(t time.Time) bool {
	start, end, err := parseWindow(w)
	if err != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	if start <= end {
		return start <= minute && minute <= end
	}
	return minute >= start || minute <= end
}

// NextStart returns the next moment at or after t that the window opens.
func (w WindowConf) NextStart(t time.Time) time.Time {
	start, _, err := parseWindow(w)
	if err != nil {
		return t
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), start/60, start%60, 0, 0, t.Location())
	if day.Before(t) {
		day = day.Add(24 * time.Hour)
	}
	return day
}

// IsPeak reports whether t falls in any configured peak window.
func (c *Config) IsPeak(t time.Time) bool {
	for _, w := range c.Tariff.Peak {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// IsOffPeak reports whether t falls in any configured off-peak window.
func (c *Config) IsOffPeak(t time.Time) bool {
	for _, w := range c.Tariff.Off_Peak {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// NextOffPeakStart returns the start of the next off-peak window, or t+30m
// when none is configured.
func (c *Config) NextOffPeakStart(t time.Time) time.Time {
	if c.IsOffPeak(t) {
		return t
	}
	var next time.Time
	for _, w := range c.Tariff.Off_Peak {
		s := w.NextStart(t)
		if next.IsZero() || s.Before(next) {
			next = s
		}
	}
	if next.IsZero() {
		return t.Add(30 * time.Minute)
	}
	return next
}
