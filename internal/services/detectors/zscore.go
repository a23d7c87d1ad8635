package detectors

import (
	"fmt"
	"math"

	"SensorPull/internal/domain/models"
	domsvc "SensorPull/internal/domain/service"
)

// ZScore flags readings more than threshold standard deviations from the window mean.
type ZScore struct {
	threshold float64
}

func NewZScore(threshold float64) *ZScore { return &ZScore{threshold: threshold} }

func (d *ZScore) Name() string { return string(KindZScore) }

func (d *ZScore) Evaluate(r models.Reading, s domsvc.Snapshot) models.DetectionVerdict {
	if s.Insufficient() {
		return insufficient(d.Name(), fmt.Sprintf("window has %d samples", s.Count()))
	}
	sd, ok := s.StdDev()
	if !ok {
		return insufficient(d.Name(), "stddev undefined")
	}
	if sd == 0 {
		return verdict(d.Name(), false, 0, "zero variance window")
	}
	z := (r.Value - s.Mean()) / sd
	if math.Abs(z) > d.threshold {
		return verdict(d.Name(), true, z, fmt.Sprintf("z-score %.2f exceeds %.2f", z, d.threshold))
	}
	return verdict(d.Name(), false, z, "")
}
