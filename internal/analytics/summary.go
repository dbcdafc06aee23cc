package analytics

import (
	"math"
	"slices"
	"sort"

	"sdn-stats/internal/models"
)

// Summary describes one metric over a window snapshot.
type Summary struct {
	Count  int     `json:"count"`
	Avg    float64 `json:"avg"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"stddev"`
	Last   float64 `json:"last"`
}

// Summarize computes a Summary for each metric present in the snapshot.
// Samples that lack a metric do not count towards it.
func Summarize(snapshot []models.Sample) map[string]Summary {
	values := make(map[string][]float64)
	for _, s := range snapshot {
		for name, v := range s.Metrics {
			values[name] = append(values[name], v)
		}
	}

	out := make(map[string]Summary, len(values))
	for name, vs := range values {
		avg := calculateAverage(vs)
		out[name] = Summary{
			Count:  len(vs),
			Avg:    avg,
			Min:    slices.Min(vs),
			Max:    slices.Max(vs),
			StdDev: calculateStdDev(vs, avg),
			Last:   vs[len(vs)-1],
		}
	}
	return out
}

// RollingAverage returns the average of one metric over the snapshot.
func RollingAverage(snapshot []models.Sample, metric string) (float64, bool) {
	var vs []float64
	for _, s := range snapshot {
		if v, ok := s.Metric(metric); ok {
			vs = append(vs, v)
		}
	}
	if len(vs) == 0 {
		return 0, false
	}
	return calculateAverage(vs), true
}

// MetricNames lists the metrics seen in the snapshot, sorted.
func MetricNames(snapshot []models.Sample) []string {
	seen := make(map[string]struct{})
	for _, s := range snapshot {
		for name := range s.Metrics {
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func calculateAverage(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// population stddev
func calculateStdDev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))

	return math.Sqrt(variance)
}
