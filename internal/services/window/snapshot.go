package window

import (
	"sort"
	"sync"

	domsvc "SensorPull/internal/domain/service"
)

// Snapshot is an immutable copy of a window taken right after an update.
// Detectors may read it concurrently while the window keeps moving.
type Snapshot struct {
	count        int
	capacity     int
	mean         float64
	stddev       float64
	hasStdDev    bool
	insufficient bool
	values       []float64

	sortOnce sync.Once
	sorted   []float64
}

// Count returns the number of values in the window.
func (s *Snapshot) Count() int { return s.count }

// Capacity returns the window capacity at snapshot time.
func (s *Snapshot) Capacity() int { return s.capacity }

// Mean returns the window mean.
func (s *Snapshot) Mean() float64 { return s.mean }

// StdDev returns the sample standard deviation; ok is false when count < 2.
func (s *Snapshot) StdDev() (float64, bool) { return s.stddev, s.hasStdDev }

// Insufficient reports whether the window is still below the minimum sample count.
func (s *Snapshot) Insufficient() bool { return s.insufficient }

// Values returns the window values oldest first. Callers must not modify it.
func (s *Snapshot) Values() []float64 { return s.values }

// Sorted returns the values in ascending order, built on first use.
func (s *Snapshot) Sorted() []float64 {
	s.sortOnce.Do(func() {
		s.sorted = make([]float64, len(s.values))
		copy(s.sorted, s.values)
		sort.Float64s(s.sorted)
	})
	return s.sorted
}

var _ domsvc.Snapshot = (*Snapshot)(nil)
