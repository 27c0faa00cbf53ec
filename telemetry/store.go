package telemetry

import (
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Sample is the latest reading of a sensor.
type Sample struct {
	ID           string
	Value        float64
	At           time.Time
	MCUTimestamp string
}

// Store holds the latest sample of every sensor. It is safe for concurrent use;
// the controller writes it and any goroutine may read it.
type Store struct {
	samples *xsync.MapOf[string, Sample]
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{samples: xsync.NewMapOf[string, Sample]()}
}

// Update records every reading of frame, overwriting previous samples, and returns the stored samples.
func (s *Store) Update(frame Frame, at time.Time) []Sample {
	out := make([]Sample, 0, len(frame.Readings))
	for _, r := range frame.Readings {
		smp := Sample{ID: r.ID, Value: r.Value, At: at, MCUTimestamp: frame.MCUTimestamp}
		s.samples.Store(r.ID, smp)
		out = append(out, smp)
	}

	return out
}

// Get returns the latest sample of id.
func (s *Store) Get(id string) (Sample, bool) {
	return s.samples.Load(id)
}

// Value returns the latest value of id, or 0 if the sensor has not reported.
func (s *Store) Value(id string) float64 {
	smp, _ := s.samples.Load(id)
	return smp.Value
}

// Snapshot returns the latest value of every sensor.
func (s *Store) Snapshot() map[string]float64 {
	out := make(map[string]float64, s.samples.Size())
	s.samples.Range(func(id string, smp Sample) bool {
		out[id] = smp.Value
		return true
	})

	return out
}

// Samples returns every sample sorted by sensor id.
func (s *Store) Samples() []Sample {
	out := make([]Sample, 0, s.samples.Size())
	s.samples.Range(func(_ string, smp Sample) bool {
		out = append(out, smp)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Len returns the number of sensors seen.
func (s *Store) Len() int {
	return s.samples.Size()
}

// Reset forgets every sample.
func (s *Store) Reset() {
	s.samples.Clear()
}
