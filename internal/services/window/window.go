package window

import (
	"math"
	"time"
)

// RollingWindow keeps the last capacity values of one sensor metric and
// maintains count, mean and the sum of squared deviations (M2) incrementally
// with Welford-style add and replace steps. Not safe for concurrent use;
// Arena serializes access per key.
type RollingWindow struct {
	capacity   int
	minSamples int
	keepValues bool

	values []float64 // ring buffer, values[head] is the oldest
	head   int
	count  int

	mean float64
	m2   float64

	replaced int // replacements since the last exact recompute
	lastSeen time.Time
}

// NewRollingWindow creates an empty window. capacity and minSamples are
// assumed validated by the engine config.
func NewRollingWindow(capacity, minSamples int, keepValues bool) *RollingWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &RollingWindow{
		capacity:   capacity,
		minSamples: minSamples,
		keepValues: keepValues,
		values:     make([]float64, capacity),
	}
}

// Update appends v, evicting the oldest value at capacity, and returns a
// snapshot of the window including v.
func (w *RollingWindow) Update(v float64, at time.Time) *Snapshot {
	if w.count < w.capacity {
		w.values[(w.head+w.count)%w.capacity] = v
		w.count++
		delta := v - w.mean
		w.mean += delta / float64(w.count)
		w.m2 += delta * (v - w.mean)
	} else {
		old := w.values[w.head]
		w.values[w.head] = v
		w.head = (w.head + 1) % w.capacity

		prevMean := w.mean
		w.mean += (v - old) / float64(w.count)
		w.m2 += (v - old) * (v - w.mean + old - prevMean)

		w.replaced++
		if w.replaced >= w.capacity {
			w.recompute()
		}
	}
	if w.m2 < 0 {
		w.m2 = 0
	}
	if at.After(w.lastSeen) {
		w.lastSeen = at
	}
	return w.snapshot()
}

// recompute rebuilds mean and M2 with a two-pass sum over the ring. Called
// once per capacity replacements, which keeps updates amortized O(1) and
// stops rounding error from accumulating on long-lived windows.
func (w *RollingWindow) recompute() {
	w.replaced = 0
	if w.count == 0 {
		w.mean, w.m2 = 0, 0
		return
	}
	sum := 0.0
	for i := 0; i < w.count; i++ {
		sum += w.values[(w.head+i)%w.capacity]
	}
	mean := sum / float64(w.count)
	m2 := 0.0
	for i := 0; i < w.count; i++ {
		d := w.values[(w.head+i)%w.capacity] - mean
		m2 += d * d
	}
	w.mean, w.m2 = mean, m2
}

// Len returns the number of values held.
func (w *RollingWindow) Len() int { return w.count }

// Capacity returns the configured maximum size.
func (w *RollingWindow) Capacity() int { return w.capacity }

// Mean returns the running mean, 0 when empty.
func (w *RollingWindow) Mean() float64 { return w.mean }

// Variance returns the sample variance and false when fewer than two values are held.
func (w *RollingWindow) Variance() (float64, bool) {
	if w.count < 2 {
		return 0, false
	}
	return w.m2 / float64(w.count-1), true
}

// LastSeen returns the latest reading timestamp applied to the window.
func (w *RollingWindow) LastSeen() time.Time { return w.lastSeen }

// ordered copies the ring oldest first.
func (w *RollingWindow) ordered() []float64 {
	out := make([]float64, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = w.values[(w.head+i)%w.capacity]
	}
	return out
}

func (w *RollingWindow) snapshot() *Snapshot {
	s := &Snapshot{
		count:    w.count,
		capacity: w.capacity,
		mean:     w.mean,
	}
	if v, ok := w.Variance(); ok {
		s.stddev = math.Sqrt(v)
		s.hasStdDev = true
	}
	s.insufficient = w.count < w.minSamples || !s.hasStdDev
	if w.keepValues {
		s.values = w.ordered()
	}
	return s
}
