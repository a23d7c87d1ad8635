package detectors

import (
	"fmt"
	"math"

	"SensorPull/internal/domain/models"
	domsvc "SensorPull/internal/domain/service"
)

const iqrMinSamples = 4

// IQR flags readings outside the Tukey fences [Q1-k*IQR, Q3+k*IQR].
type IQR struct {
	k float64
}

func NewIQR(k float64) *IQR { return &IQR{k: k} }

func (d *IQR) Name() string { return string(KindIQR) }

func (d *IQR) Evaluate(r models.Reading, s domsvc.Snapshot) models.DetectionVerdict {
	if s.Insufficient() || s.Count() < iqrMinSamples {
		return insufficient(d.Name(), fmt.Sprintf("window has %d samples", s.Count()))
	}
	sorted := s.Sorted()
	q1 := Quantile(sorted, 0.25)
	q3 := Quantile(sorted, 0.75)
	spread := q3 - q1
	lower := q1 - d.k*spread
	upper := q3 + d.k*spread

	switch {
	case r.Value < lower:
		return verdict(d.Name(), true, lower-r.Value, fmt.Sprintf("value %.3f below lower fence %.3f", r.Value, lower))
	case r.Value > upper:
		return verdict(d.Name(), true, r.Value-upper, fmt.Sprintf("value %.3f above upper fence %.3f", r.Value, upper))
	}
	return verdict(d.Name(), false, 0, "")
}

// Quantile returns the p-quantile of ascending sorted values using linear
// interpolation between closest ranks (Hyndman-Fan type 7).
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	if lo < 0 {
		return sorted[0]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}
