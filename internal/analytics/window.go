package analytics

import (
	"slices"
	"sync"
	"time"

	"sdn-stats/internal/models"
)

// Retention is how long a window keeps samples.
const Retention = 60 * time.Second

// Clock supplies "now" to the windows so eviction can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Window keeps the samples of the last Retention, in arrival order.
type Window struct {
	mu      sync.RWMutex
	clock   Clock
	samples []models.Sample
}

// NewWindow creates an empty window
func NewWindow(clock Clock) *Window {
	if clock == nil {
		clock = RealClock{}
	}
	return &Window{clock: clock}
}

// Append adds the sample at the tail and evicts everything older than the
// retention horizon. Time is compared at one-second resolution.
func (w *Window) Append(s models.Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.samples); n > 0 && s.Timestamp.Before(w.samples[n-1].Timestamp) {
		s.Timestamp = w.samples[n-1].Timestamp
	}
	w.samples = append(w.samples, s)

	horizon := Horizon(w.clock.Now())
	drop := 0
	for drop < len(w.samples)-1 && w.samples[drop].Timestamp.Truncate(time.Second).Before(horizon) {
		drop++
	}
	if drop > 0 {
		w.samples = slices.Delete(w.samples, 0, drop)
	}
}

// Snapshot returns a copy of the current contents.
func (w *Window) Snapshot() []models.Sample {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]models.Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Len returns the number of retained samples.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.samples)
}

// Horizon is the oldest second still inside the window at now.
func Horizon(now time.Time) time.Time {
	return now.Add(-Retention).Truncate(time.Second)
}
