package detectors

import (
	"fmt"

	"SensorPull/internal/domain/models"
	domsvc "SensorPull/internal/domain/service"
)

// Bounds is an inclusive valid range for a metric.
type Bounds struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// DefaultBounds returns the physical operating ranges of the supported sensors.
func DefaultBounds() map[models.Metric]Bounds {
	return map[models.Metric]Bounds{
		models.MetricTemperature: {Min: -40, Max: 85},
		models.MetricHumidity:    {Min: 0, Max: 100},
		models.MetricPressure:    {Min: 300, Max: 1100},
		models.MetricVibration:   {Min: 0, Max: 50},
	}
}

// Threshold flags readings outside static per-metric bounds. It ignores history.
type Threshold struct {
	bounds map[models.Metric]Bounds
}

func NewThreshold(bounds map[models.Metric]Bounds) *Threshold {
	cp := make(map[models.Metric]Bounds, len(bounds))
	for m, b := range bounds {
		cp[m] = b
	}
	return &Threshold{bounds: cp}
}

func (d *Threshold) Name() string { return string(KindThreshold) }

func (d *Threshold) Evaluate(r models.Reading, _ domsvc.Snapshot) models.DetectionVerdict {
	b, ok := d.bounds[r.Metric]
	if !ok {
		return verdict(d.Name(), false, 0, "no bounds configured")
	}
	switch {
	case r.Value < b.Min:
		return verdict(d.Name(), true, b.Min-r.Value, fmt.Sprintf("%s %.3f below minimum %.3f", r.Metric, r.Value, b.Min))
	case r.Value > b.Max:
		return verdict(d.Name(), true, r.Value-b.Max, fmt.Sprintf("%s %.3f above maximum %.3f", r.Metric, r.Value, b.Max))
	}
	return verdict(d.Name(), false, 0, "")
}
