package store

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
)

// Metric is the distance function of a store.
type Metric string

const (
	// MetricCosine scores 1 - cos(a, b); 0 for identical directions.
	MetricCosine Metric = "cosine"
	// MetricL2 scores the Euclidean distance.
	MetricL2 Metric = "l2"
)

// ParseMetric parses a metric name case-insensitively.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricCosine, MetricL2:
		return m, nil
	case "euclidean":
		return MetricL2, nil
	default:
		return "", fmt.Errorf("unknown metric %q", s)
	}
}

// Valid reports whether m is a supported metric.
func (m Metric) Valid() bool {
	return m == MetricCosine || m == MetricL2
}

// Distance scores a against b. Vectors must have equal length.
func (m Metric) Distance(a, b []float32) float64 {
	if m == MetricL2 {
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum)
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	// Clamp rounding noise around identical vectors.
	if d < 0 {
		d = 0
	}
	return d
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func finite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// topMatches sorts matches nearest first, breaking ties by id, and truncates to k.
func topMatches(matches []Match, k int) []Match {
	slices.SortFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Record.ID, b.Record.ID)
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
