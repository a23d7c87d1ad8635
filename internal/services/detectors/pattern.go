package detectors

import (
	"fmt"
	"math"

	"SensorPull/internal/domain/models"
	domsvc "SensorPull/internal/domain/service"
)

// Pattern looks at the last k values of the window for a sustained trend
// (strictly monotonic run with every step larger than stepSigma*stddev) or
// a drift (all k values more than one stddev on the same side of the mean).
type Pattern struct {
	k         int
	stepSigma float64
}

func NewPattern(k int, stepSigma float64) *Pattern {
	return &Pattern{k: k, stepSigma: stepSigma}
}

func (d *Pattern) Name() string { return string(KindPattern) }

func (d *Pattern) Evaluate(_ models.Reading, s domsvc.Snapshot) models.DetectionVerdict {
	if s.Insufficient() || s.Count() < d.k {
		return insufficient(d.Name(), fmt.Sprintf("window has %d samples, pattern needs %d", s.Count(), d.k))
	}
	sd, ok := s.StdDev()
	if !ok {
		return insufficient(d.Name(), "stddev undefined")
	}
	if sd == 0 {
		return verdict(d.Name(), false, 0, "zero variance window")
	}
	vals := s.Values()
	if len(vals) < d.k {
		return insufficient(d.Name(), "window values unavailable")
	}
	run := vals[len(vals)-d.k:]

	if dir, ok := d.trend(run, sd); ok {
		score := math.Abs(run[len(run)-1]-run[0]) / sd
		return verdict(d.Name(), true, score, fmt.Sprintf("%s trend over last %d readings", dir, d.k))
	}
	if side, minZ, ok := drift(run, s.Mean(), sd); ok {
		return verdict(d.Name(), true, minZ, fmt.Sprintf("last %d readings drifted %s the mean", d.k, side))
	}
	return verdict(d.Name(), false, 0, "")
}

func (d *Pattern) trend(run []float64, sd float64) (string, bool) {
	minStep := d.stepSigma * sd
	up, down := true, true
	for i := 1; i < len(run); i++ {
		step := run[i] - run[i-1]
		if !(step > minStep) {
			up = false
		}
		if !(-step > minStep) {
			down = false
		}
	}
	switch {
	case up:
		return "rising", true
	case down:
		return "falling", true
	}
	return "", false
}

func drift(run []float64, mean, sd float64) (string, float64, bool) {
	above, below := true, true
	minZ := math.Inf(1)
	for _, v := range run {
		z := (v - mean) / sd
		if !(z > 1) {
			above = false
		}
		if !(z < -1) {
			below = false
		}
		if math.Abs(z) < minZ {
			minZ = math.Abs(z)
		}
	}
	switch {
	case above:
		return "above", minZ, true
	case below:
		return "below", minZ, true
	}
	return "", 0, false
}
