package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"sdn-stats/internal/analytics"
)

// Dialer opens a feed subscription.
type Dialer func(ctx context.Context, endpoint string) (Source, error)

// RegistryConfig holds the feed endpoints and idle policy.
type RegistryConfig struct {
	DeviceStatsURL string
	PortStatsURL   string
	IdleTimeout    time.Duration
}

// Registry opens monitors on first request and closes them once nobody has
// read them for IdleTimeout. A monitor whose feed ended stays in place, so its
// last window can still be read, until the next lookup replaces it with a
// fresh subscription. Nothing is redialled in the background.
type Registry struct {
	cfg   RegistryConfig
	dial  Dialer
	clock analytics.Clock
	hook  SampleHook

	mu      sync.Mutex
	devices map[string]*DeviceMonitor
	ports   map[string]*PortMonitor
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig, dial Dialer, clock analytics.Clock, hook SampleHook) *Registry {
	if clock == nil {
		clock = analytics.RealClock{}
	}
	return &Registry{
		cfg:     cfg,
		dial:    dial,
		clock:   clock,
		hook:    hook,
		devices: make(map[string]*DeviceMonitor),
		ports:   make(map[string]*PortMonitor),
	}
}

// ErrRegistryClosed is returned by lookups after Close.
var ErrRegistryClosed = errors.New("registry closed")

// Device returns the monitor of the device at ip, opening it if needed.
func (r *Registry) Device(ctx context.Context, ip string) (*DeviceMonitor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if m, ok := r.devices[ip]; ok {
		if !ended(m.Done()) {
			return m, nil
		}
		log.Printf("device monitor %s ended (%v), resubscribing", ip, m.Err())
		_ = m.Close()
		delete(r.devices, ip)
	}

	src, err := r.dial(ctx, r.cfg.DeviceStatsURL)
	if err != nil {
		return nil, err
	}

	m := NewDeviceMonitor(ip, r.clock, r.hook)
	m.Attach(src)
	r.devices[ip] = m
	log.Printf("watching device stats for %s", ip)
	return m, nil
}

// Ports returns the monitor of the given ports on the device at ip.
func (r *Registry) Ports(ctx context.Context, ip string, ports []string) (*PortMonitor, error) {
	ports = normalizePorts(ports)
	if len(ports) == 0 {
		return nil, fmt.Errorf("no ports to watch on %s", ip)
	}
	key := ip + "|" + strings.Join(ports, ",")

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if m, ok := r.ports[key]; ok {
		if !ended(m.Done()) {
			return m, nil
		}
		log.Printf("port monitor %s ended (%v), resubscribing", key, m.Err())
		_ = m.Close()
		delete(r.ports, key)
	}

	src, err := r.dial(ctx, r.cfg.PortStatsURL)
	if err != nil {
		return nil, err
	}

	m := NewPortMonitor(ip, ports, r.clock, r.hook)
	m.Attach(src)
	r.ports[key] = m
	log.Printf("watching port stats for %s ports %v", ip, ports)
	return m, nil
}

// Reap closes monitors idle for longer than IdleTimeout and returns how many
// it closed.
func (r *Registry) Reap() int {
	if r.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := r.clock.Now().Add(-r.cfg.IdleTimeout)

	r.mu.Lock()
	var stale []interface{ Close() error }
	for ip, m := range r.devices {
		if m.IdleSince().Before(cutoff) {
			stale = append(stale, m)
			delete(r.devices, ip)
		}
	}
	for key, m := range r.ports {
		if m.IdleSince().Before(cutoff) {
			stale = append(stale, m)
			delete(r.ports, key)
		}
	}
	r.mu.Unlock()

	for _, m := range stale {
		if err := m.Close(); err != nil {
			log.Printf("failed to close idle monitor: %v", err)
		}
	}
	return len(stale)
}

// Run reaps idle monitors every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Reap(); n > 0 {
				log.Printf("closed %d idle monitors", n)
			}
		}
	}
}

// Close closes every monitor. Later lookups fail with ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	devices := r.devices
	ports := r.ports
	r.devices = make(map[string]*DeviceMonitor)
	r.ports = make(map[string]*PortMonitor)
	r.mu.Unlock()

	for _, m := range devices {
		_ = m.Close()
	}
	for _, m := range ports {
		_ = m.Close()
	}
}

// GetStats returns the registry state for the /stats endpoint.
func (r *Registry) GetStats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices := make([]string, 0, len(r.devices))
	for ip := range r.devices {
		devices = append(devices, ip)
	}
	sort.Strings(devices)

	portSets := make([]string, 0, len(r.ports))
	for key := range r.ports {
		portSets = append(portSets, key)
	}
	sort.Strings(portSets)

	return map[string]interface{}{
		"devices_watched":   devices,
		"port_sets_watched": portSets,
		"retention_seconds": int(analytics.Retention / time.Second),
		"idle_timeout":      r.cfg.IdleTimeout.String(),
	}
}

func ended(done <-chan struct{}) bool {
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

func normalizePorts(ports []string) []string {
	seen := make(map[string]struct{}, len(ports))
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
