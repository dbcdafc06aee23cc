// Package series reshapes window snapshots into the records a line chart
// consumes: a time label plus one numeric field per line.
package series

import (
	"bytes"
	"encoding/json"
	"sort"

	"sdn-stats/internal/analytics"
	"sdn-stats/internal/models"
)

// TimeLayout is the HH:MM:SS label put on every point.
const TimeLayout = "15:04:05"

// Point is one chart record. A metric missing from Values is rendered as a gap.
type Point struct {
	Time   string
	Values map[string]float64
}

// MarshalJSON flattens the point into {"time": "...", "<metric>": n, ...}.
func (p Point) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(p.Values))
	for name := range p.Values {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.WriteString(`{"time":`)
	label, err := json.Marshal(p.Time)
	if err != nil {
		return nil, err
	}
	buf.Write(label)

	for _, name := range names {
		if name == "time" {
			continue
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(p.Values[name])
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Adapt turns a snapshot into chart points, keeping only the listed metrics.
// With no metrics listed every metric in the snapshot is kept.
func Adapt(snapshot []models.Sample, metrics ...string) []Point {
	if len(metrics) == 0 {
		metrics = analytics.MetricNames(snapshot)
	}

	points := make([]Point, 0, len(snapshot))
	for _, s := range snapshot {
		values := make(map[string]float64, len(metrics))
		for _, name := range metrics {
			if v, ok := s.Metric(name); ok {
				values[name] = v
			}
		}
		points = append(points, Point{Time: Label(s), Values: values})
	}
	return points
}

// PortPoint is one value on a port's line.
type PortPoint struct {
	Time  string  `json:"time"`
	Value float64 `json:"value"`
}

// PortSeries is the line of one port.
type PortSeries struct {
	IP     string      `json:"ip_address"`
	Port   string      `json:"port"`
	Metric string      `json:"metric"`
	Points []PortPoint `json:"points"`
}

// AdaptPorts produces one series per port, ordered by device then port.
// Samples without the metric are skipped, leaving a gap in that port's line.
func AdaptPorts(snapshots map[models.PortKey][]models.Sample, metric string) []PortSeries {
	keys := make([]models.PortKey, 0, len(snapshots))
	for k := range snapshots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].IP != keys[j].IP {
			return keys[i].IP < keys[j].IP
		}
		return keys[i].Port < keys[j].Port
	})

	out := make([]PortSeries, 0, len(keys))
	for _, k := range keys {
		ps := PortSeries{IP: k.IP, Port: k.Port, Metric: metric, Points: []PortPoint{}}
		for _, s := range snapshots[k] {
			v, ok := s.Metric(metric)
			if !ok {
				continue
			}
			ps.Points = append(ps.Points, PortPoint{Time: Label(s), Value: v})
		}
		out = append(out, ps)
	}
	return out
}

// Label formats the sample time as HH:MM:SS in UTC.
func Label(s models.Sample) string {
	return s.Timestamp.UTC().Format(TimeLayout)
}
