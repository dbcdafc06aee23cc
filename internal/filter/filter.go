// Package filter decides which telemetry messages belong to the subject a
// monitor is watching. Every function here is a pure predicate over the
// decoded payload; anything malformed simply does not match.
package filter

import (
	"sort"

	"sdn-stats/internal/models"
)

const (
	envelopeKey = "data"
	subjectKey  = "ip_address"
	portsKey    = "ports"
)

// Payload extracts the `data` object and its ip_address from a feed message.
func Payload(msg map[string]any) (ip string, data map[string]any, ok bool) {
	data, ok = msg[envelopeKey].(map[string]any)
	if !ok {
		return "", nil, false
	}
	ip, ok = data[subjectKey].(string)
	if !ok || ip == "" {
		return "", nil, false
	}
	return ip, data, true
}

// Metrics collects the numeric fields of a payload. Non-numeric fields, the
// subject identifier among them, are skipped.
func Metrics(data map[string]any) map[string]float64 {
	out := make(map[string]float64, len(data))
	for k, v := range data {
		if f, ok := number(v); ok {
			out[k] = f
		}
	}
	return out
}

// Device accepts messages addressed to a single device.
type Device struct {
	Target string
}

// Match returns the metrics of msg when it is addressed to the target device.
func (f Device) Match(msg map[string]any) (map[string]float64, bool) {
	ip, data, ok := Payload(msg)
	if !ok || ip != f.Target {
		return nil, false
	}
	return Metrics(data), true
}

// Reading is one port's value out of a port stats message.
type Reading struct {
	Key   models.PortKey
	Value float64
}

// Ports accepts (device, port) pairs that belong to a fixed target set.
type Ports struct {
	set map[models.PortKey]struct{}
}

// NewPorts builds a port filter for the given keys.
func NewPorts(keys ...models.PortKey) Ports {
	set := make(map[models.PortKey]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return Ports{set: set}
}

// Accept reports whether key is in the target set.
func (f Ports) Accept(key models.PortKey) bool {
	_, ok := f.set[key]
	return ok
}

// Match returns the readings of msg whose (device, port) pair is in the target
// set, ordered by port name. Ports with a non-numeric value are skipped.
func (f Ports) Match(msg map[string]any) ([]Reading, bool) {
	ip, data, ok := Payload(msg)
	if !ok {
		return nil, false
	}
	ports, ok := data[portsKey].(map[string]any)
	if !ok {
		return nil, false
	}

	var readings []Reading
	for name, raw := range ports {
		key := models.PortKey{IP: ip, Port: name}
		if !f.Accept(key) {
			continue
		}
		v, ok := number(raw)
		if !ok {
			continue
		}
		readings = append(readings, Reading{Key: key, Value: v})
	}
	if len(readings) == 0 {
		return nil, false
	}

	sort.Slice(readings, func(i, j int) bool { return readings[i].Key.Port < readings[j].Key.Port })
	return readings, true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
