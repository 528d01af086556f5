// Package state holds the coordinator's live view of the world: the last
// known reading per (entity, metric), a bounded per-entity history, and the
// derived flags rules key off. All mutation goes through Store.Apply;
// readers get immutable copy-on-read snapshots.
package state

import (
	"math"
	"sync"
	"time"

	"github.com/homehub/coordinator/config"
)

// DefaultHistory readings are kept per entity unless configured otherwise.
const DefaultHistory = 1000

// Reading is one timestamped observation. Boolean observations are stored
// as 0/1.
type Reading struct {
	EntityID  string
	Metric    string
	Value     float64
	Timestamp time.Time
}

func (r Reading) Bool() bool {
	return r.Value != 0
}

// Stat summarizes the history of one (entity, metric): used for the
// anomaly envelope.
type Stat struct {
	Count  int
	Mean   float64
	Stddev float64
}

// Without returns the stat with one sample of value v removed, so the
// envelope for a new reading can exclude the reading itself.
func (s Stat) Without(v float64) Stat {
	if s.Count <= 1 {
		return Stat{}
	}
	n := float64(s.Count)
	sum := s.Mean*n - v
	sumsq := (s.Stddev*s.Stddev+s.Mean*s.Mean)*n - v*v
	mean := sum / (n - 1)
	variance := sumsq/(n-1) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return Stat{Count: s.Count - 1, Mean: mean, Stddev: math.Sqrt(variance)}
}

type sums struct {
	n     int
	sum   float64
	sumsq float64
}

type ring struct {
	buf  []Reading
	head int
	n    int
}

// Store is the single writer of coordinator state. Writers are mutually
// exclusive; readers only hold the lock for the duration of a copy.
type Store struct {
	mu      sync.RWMutex
	latest  map[string]map[string]Reading
	history map[string]*ring
	stats   map[string]map[string]*sums
	size    int
	conf    *config.Config
	armed   bool

	// Clock is swapped in tests.
	Clock func() time.Time
}

func NewStore(conf *config.Config) *Store {
	size := conf.Coordinator.History
	if size <= 0 {
		size = DefaultHistory
	}
	return &Store{
		latest:  map[string]map[string]Reading{},
		history: map[string]*ring{},
		stats:   map[string]map[string]*sums{},
		size:    size,
		conf:    conf,
		Clock:   time.Now,
	}
}

// Apply merges a reading into the store. The reading wins iff it is not
// older than the current value for its (entity, metric) - out-of-order
// readings are dropped, not reordered. The return reports whether the
// visible state changed, which gates rule re-evaluation.
func (s *Store) Apply(r Reading) bool {
	if r.EntityID == "" || r.Metric == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	metrics, ok := s.latest[r.EntityID]
	if !ok {
		metrics = map[string]Reading{}
		s.latest[r.EntityID] = metrics
	}
	cur, seen := metrics[r.Metric]
	if seen && r.Timestamp.Before(cur.Timestamp) {
		return false
	}
	metrics[r.Metric] = r
	s.push(r)
	return !seen || cur.Value != r.Value
}

// push appends to the entity's history ring, evicting strict FIFO by
// arrival order, and maintains the running envelope sums.
func (s *Store) push(r Reading) {
	h, ok := s.history[r.EntityID]
	if !ok {
		h = &ring{buf: make([]Reading, 0, 16)}
		s.history[r.EntityID] = h
	}
	if h.n < s.size {
		h.buf = append(h.buf, r)
		h.n++
	} else {
		evicted := h.buf[h.head]
		h.buf[h.head] = r
		h.head = (h.head + 1) % s.size
		s.account(evicted, -1)
	}
	s.account(r, +1)
}

func (s *Store) account(r Reading, sign float64) {
	metrics, ok := s.stats[r.EntityID]
	if !ok {
		metrics = map[string]*sums{}
		s.stats[r.EntityID] = metrics
	}
	st, ok := metrics[r.Metric]
	if !ok {
		st = &sums{}
		metrics[r.Metric] = st
	}
	st.n += int(sign)
	st.sum += sign * r.Value
	st.sumsq += sign * r.Value * r.Value
}

// SetArmed flips the armed flag, driven by the alarm state machine.
func (s *Store) SetArmed(armed bool) {
	s.mu.Lock()
	s.armed = armed
	s.mu.Unlock()
}

func (s *Store) Armed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.armed
}

// Snapshot returns an immutable copy-on-read view of current state plus
// derived flags, stamped with the store clock.
func (s *Store) Snapshot() *Snapshot {
	now := s.Clock()
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]map[string]Reading, len(s.latest))
	for entity, metrics := range s.latest {
		copied := make(map[string]Reading, len(metrics))
		for metric, r := range metrics {
			copied[metric] = r
		}
		latest[entity] = copied
	}
	stats := make(map[string]map[string]Stat, len(s.stats))
	for entity, metrics := range s.stats {
		copied := make(map[string]Stat, len(metrics))
		for metric, st := range metrics {
			copied[metric] = st.stat()
		}
		stats[entity] = copied
	}
	return &Snapshot{
		At:       now,
		PeakHour: s.conf.IsPeak(now),
		Armed:    s.armed,
		latest:   latest,
		stats:    stats,
		conf:     s.conf,
	}
}

func (st *sums) stat() Stat {
	if st.n <= 0 {
		return Stat{}
	}
	mean := st.sum / float64(st.n)
	variance := st.sumsq/float64(st.n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return Stat{Count: st.n, Mean: mean, Stddev: math.Sqrt(variance)}
}

// Snapshot is a read-only view handed to the rule engine.
type Snapshot struct {
	At       time.Time
	PeakHour bool
	Armed    bool

	latest map[string]map[string]Reading
	stats  map[string]map[string]Stat
	conf   *config.Config
}

func (s *Snapshot) Get(entity, metric string) (Reading, bool) {
	r, ok := s.latest[entity][metric]
	return r, ok
}

// Value returns the latest value for (entity, metric), or fallback.
func (s *Snapshot) Value(entity, metric string, fallback float64) float64 {
	if r, ok := s.latest[entity][metric]; ok {
		return r.Value
	}
	return fallback
}

func (s *Snapshot) Stat(entity, metric string) (Stat, bool) {
	st, ok := s.stats[entity][metric]
	return st, ok
}

// AggregatePower sums the latest power_w reading across all entities.
func (s *Snapshot) AggregatePower() float64 {
	total := 0.0
	for _, metrics := range s.latest {
		if r, ok := metrics["power_w"]; ok {
			total += r.Value
		}
	}
	return total
}

// IsOn reports whether a device is currently on: its explicit state if
// reported, otherwise whether it is drawing power.
func (s *Snapshot) IsOn(entity string) bool {
	if r, ok := s.latest[entity]["state"]; ok {
		return r.Bool()
	}
	return s.Value(entity, "power_w", 0) > 0
}

// Occupied reports whether a room currently has motion or occupants.
func (s *Snapshot) Occupied(room string) bool {
	if r, ok := s.latest[room]["motion"]; ok && r.Bool() {
		return true
	}
	return s.Value(room, "occupancy_count", 0) > 0
}

// Latest returns all readings, keyed by entity then metric. The snapshot
// is already a private copy, so the maps are handed out directly.
func (s *Snapshot) Latest() map[string]map[string]Reading {
	return s.latest
}

// Entities lists entity ids present in the snapshot.
func (s *Snapshot) Entities() []string {
	out := make([]string, 0, len(s.latest))
	for entity := range s.latest {
		out = append(out, entity)
	}
	return out
}

// Config exposes the entity catalog to rules.
func (s *Snapshot) Config() *config.Config {
	return s.conf
}
