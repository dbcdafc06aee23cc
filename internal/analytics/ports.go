package analytics

import (
	"sort"
	"sync"

	"sdn-stats/internal/models"
)

// PortWindows is an arena of windows, one per (device, port) pair. Each window
// evicts on its own; appending to one port never touches another.
type PortWindows struct {
	mu      sync.RWMutex
	clock   Clock
	windows map[models.PortKey]*Window
}

// NewPortWindows creates the arena with an empty window for every key.
func NewPortWindows(clock Clock, keys ...models.PortKey) *PortWindows {
	p := &PortWindows{
		clock:   clock,
		windows: make(map[models.PortKey]*Window, len(keys)),
	}
	for _, k := range keys {
		p.windows[k] = NewWindow(clock)
	}
	return p
}

// Append adds a sample to the window of key. Keys outside the arena are ignored
// and reported as false.
func (p *PortWindows) Append(key models.PortKey, s models.Sample) bool {
	p.mu.RLock()
	w, ok := p.windows[key]
	p.mu.RUnlock()
	if !ok {
		return false
	}

	w.Append(s)
	return true
}

// Keys returns the tracked keys ordered by device and port.
func (p *PortWindows) Keys() []models.PortKey {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]models.PortKey, 0, len(p.windows))
	for k := range p.windows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].IP != keys[j].IP {
			return keys[i].IP < keys[j].IP
		}
		return keys[i].Port < keys[j].Port
	})
	return keys
}

// Snapshot copies every window.
func (p *PortWindows) Snapshot() map[models.PortKey][]models.Sample {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[models.PortKey][]models.Sample, len(p.windows))
	for k, w := range p.windows {
		out[k] = w.Snapshot()
	}
	return out
}

// Len returns the total number of retained samples across ports.
func (p *PortWindows) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, w := range p.windows {
		n += w.Len()
	}
	return n
}
