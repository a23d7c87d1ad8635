package service

import (
	"SensorPull/internal/domain/models"
)

// Snapshot is the read-only window view a detector evaluates against.
type Snapshot interface {
	Count() int
	Mean() float64
	// StdDev returns the sample standard deviation and false when undefined.
	StdDev() (float64, bool)
	Insufficient() bool
	// Values returns window values oldest first.
	Values() []float64
	// Sorted returns window values in ascending order.
	Sorted() []float64
}

// Detector classifies one reading against a window snapshot. Implementations
// are pure and safe for concurrent use.
type Detector interface {
	Name() string
	Evaluate(r models.Reading, s Snapshot) models.DetectionVerdict
}
