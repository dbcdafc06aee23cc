// Package monitor binds a feed subscription, a subject filter and a rolling
// window together. A monitor is what a mounted stats graph is in the console:
// it exists while someone is looking and is closed when they stop.
package monitor

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"sdn-stats/internal/analytics"
	"sdn-stats/internal/filter"
	"sdn-stats/internal/metrics"
	"sdn-stats/internal/models"
	"sdn-stats/internal/subscription"
)

// Feed labels used on metrics.
const (
	FeedDevice = "device_stats"
	FeedPort   = "port_stats"
)

// ThroughputMetric is the metric name port readings are stored under.
const ThroughputMetric = "throughput"

// Source is a feed subscription a monitor consumes.
type Source interface {
	OnMessage(h subscription.Handler)
	OnError(fn func(error))
	Done() <-chan struct{}
	Err() error
	Close() error
}

// SampleHook observes every accepted sample.
type SampleHook func(models.Sample)

// DeviceMonitor keeps the window of one device's stats.
type DeviceMonitor struct {
	target string
	filter filter.Device
	clock  analytics.Clock
	window *analytics.Window
	hook   SampleHook

	mu        sync.Mutex
	source    Source
	closeOnce sync.Once
	lastSeen  time.Time
}

// NewDeviceMonitor creates a monitor for the device at target.
func NewDeviceMonitor(target string, clock analytics.Clock, hook SampleHook) *DeviceMonitor {
	if clock == nil {
		clock = analytics.RealClock{}
	}
	return &DeviceMonitor{
		target:   target,
		filter:   filter.Device{Target: target},
		clock:    clock,
		window:   analytics.NewWindow(clock),
		hook:     hook,
		lastSeen: clock.Now(),
	}
}

// Target returns the device address.
func (m *DeviceMonitor) Target() string { return m.target }

// Attach starts consuming src. The monitor owns src from here on.
func (m *DeviceMonitor) Attach(src Source) {
	m.mu.Lock()
	m.source = src
	m.mu.Unlock()

	metrics.ActiveSubscriptions.Inc()
	src.OnError(func(err error) { logFeedError(FeedDevice, m.target, err) })
	src.OnMessage(func(msg map[string]any) { m.Handle(msg) })
}

// Handle runs one feed message through the filter and, when it matches,
// appends it to the window stamped with the local receipt time.
func (m *DeviceMonitor) Handle(msg map[string]any) bool {
	metrics.MessagesReceived.WithLabelValues(FeedDevice).Inc()

	values, ok := m.filter.Match(msg)
	if !ok {
		metrics.MessagesDropped.WithLabelValues(FeedDevice, dropReason(msg)).Inc()
		return false
	}

	s := models.Sample{
		Timestamp: m.clock.Now(),
		Subject:   m.target,
		Metrics:   values,
	}
	m.window.Append(s)

	metrics.SamplesAccepted.WithLabelValues(FeedDevice).Inc()
	metrics.WindowSamples.WithLabelValues(FeedDevice, m.target).Set(float64(m.window.Len()))
	snap := m.window.Snapshot()
	for name := range values {
		if avg, ok := analytics.RollingAverage(snap, name); ok {
			metrics.RollingAverage.WithLabelValues(m.target, name).Set(avg)
		}
	}

	if m.hook != nil {
		m.hook(s)
	}
	return true
}

// Snapshot returns the current window contents.
func (m *DeviceMonitor) Snapshot() []models.Sample {
	m.touch()
	return m.window.Snapshot()
}

// Done is closed when the attached source terminates. A monitor with no
// source never reports done.
func (m *DeviceMonitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.source == nil {
		return nil
	}
	return m.source.Done()
}

// Err is the terminal error of the attached source.
func (m *DeviceMonitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.source == nil {
		return nil
	}
	return m.source.Err()
}

// IdleSince returns when the monitor was last read.
func (m *DeviceMonitor) IdleSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen
}

// Close closes the source once and drops the window and rolling average gauges
// of this device.
func (m *DeviceMonitor) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		src := m.source
		m.mu.Unlock()

		if src != nil {
			err = src.Close()
			metrics.ActiveSubscriptions.Dec()
		}
		metrics.WindowSamples.DeleteLabelValues(FeedDevice, m.target)
		metrics.RollingAverage.DeletePartialMatch(prometheus.Labels{"device_id": m.target})
	})
	return err
}

func (m *DeviceMonitor) touch() {
	m.mu.Lock()
	m.lastSeen = m.clock.Now()
	m.mu.Unlock()
}

// PortMonitor keeps one window per port of a device.
type PortMonitor struct {
	ip      string
	filter  filter.Ports
	clock   analytics.Clock
	windows *analytics.PortWindows
	hook    SampleHook

	mu        sync.Mutex
	source    Source
	closeOnce sync.Once
	lastSeen  time.Time
}

// NewPortMonitor creates a monitor for the given ports of the device at ip.
func NewPortMonitor(ip string, ports []string, clock analytics.Clock, hook SampleHook) *PortMonitor {
	if clock == nil {
		clock = analytics.RealClock{}
	}
	keys := make([]models.PortKey, 0, len(ports))
	for _, p := range ports {
		keys = append(keys, models.PortKey{IP: ip, Port: p})
	}
	return &PortMonitor{
		ip:       ip,
		filter:   filter.NewPorts(keys...),
		clock:    clock,
		windows:  analytics.NewPortWindows(clock, keys...),
		hook:     hook,
		lastSeen: clock.Now(),
	}
}

// Attach starts consuming src.
func (m *PortMonitor) Attach(src Source) {
	m.mu.Lock()
	m.source = src
	m.mu.Unlock()

	metrics.ActiveSubscriptions.Inc()
	src.OnError(func(err error) { logFeedError(FeedPort, m.ip, err) })
	src.OnMessage(func(msg map[string]any) { m.Handle(msg) })
}

// Handle appends every reading of msg that targets a watched port.
func (m *PortMonitor) Handle(msg map[string]any) bool {
	metrics.MessagesReceived.WithLabelValues(FeedPort).Inc()

	readings, ok := m.filter.Match(msg)
	if !ok {
		metrics.MessagesDropped.WithLabelValues(FeedPort, dropReason(msg)).Inc()
		return false
	}

	now := m.clock.Now()
	for _, r := range readings {
		s := models.Sample{
			Timestamp: now,
			Subject:   r.Key.IP,
			Port:      r.Key.Port,
			Metrics:   map[string]float64{ThroughputMetric: r.Value},
		}
		m.windows.Append(r.Key, s)
		if m.hook != nil {
			m.hook(s)
		}
	}

	metrics.SamplesAccepted.WithLabelValues(FeedPort).Add(float64(len(readings)))
	metrics.WindowSamples.WithLabelValues(FeedPort, m.ip).Set(float64(m.windows.Len()))
	return true
}

// Snapshot returns every port window.
func (m *PortMonitor) Snapshot() map[models.PortKey][]models.Sample {
	m.touch()
	return m.windows.Snapshot()
}

// Keys returns the watched ports.
func (m *PortMonitor) Keys() []models.PortKey {
	return m.windows.Keys()
}

// Done is closed when the attached source terminates.
func (m *PortMonitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.source == nil {
		return nil
	}
	return m.source.Done()
}

// Err is the terminal error of the attached source.
func (m *PortMonitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.source == nil {
		return nil
	}
	return m.source.Err()
}

// IdleSince returns when the monitor was last read.
func (m *PortMonitor) IdleSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen
}

// Close closes the source once.
func (m *PortMonitor) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		src := m.source
		m.mu.Unlock()

		if src != nil {
			err = src.Close()
			metrics.ActiveSubscriptions.Dec()
		}
		metrics.WindowSamples.DeleteLabelValues(FeedPort, m.ip)
	})
	return err
}

func (m *PortMonitor) touch() {
	m.mu.Lock()
	m.lastSeen = m.clock.Now()
	m.mu.Unlock()
}

func dropReason(msg map[string]any) string {
	if _, _, ok := filter.Payload(msg); !ok {
		return "malformed"
	}
	return "subject_mismatch"
}

func logFeedError(feed, subject string, err error) {
	var decodeErr *subscription.DecodeError
	if errors.As(err, &decodeErr) {
		metrics.DecodeErrors.WithLabelValues(feed).Inc()
	}
	log.Printf("%s feed for %s ended: %v", feed, subject, err)
}
