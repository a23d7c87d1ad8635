package window

import (
	"math"
	"sync"
	"time"

	"SensorPull/internal/domain/models"
)

// Key identifies one rolling window.
type Key struct {
	SensorID string
	Metric   models.Metric
}

// KeyOf returns the window key of a reading.
func KeyOf(r models.Reading) Key {
	return Key{SensorID: r.SensorID, Metric: r.Metric}
}

type slot struct {
	mu sync.Mutex
	w  *RollingWindow
}

// Arena owns all windows. Updates on one key are serialized by that key's
// lock; the map lock is only held to find or create a slot.
type Arena struct {
	capacity   int
	minSamples int
	keepValues bool

	mu    sync.RWMutex
	slots map[Key]*slot
}

// NewArena creates an arena whose windows share the given sizing.
func NewArena(capacity, minSamples int, keepValues bool) *Arena {
	return &Arena{
		capacity:   capacity,
		minSamples: minSamples,
		keepValues: keepValues,
		slots:      make(map[Key]*slot),
	}
}

func (a *Arena) slotFor(k Key) *slot {
	a.mu.RLock()
	s, ok := a.slots[k]
	a.mu.RUnlock()
	if ok {
		return s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok = a.slots[k]; ok {
		return s
	}
	s = &slot{w: NewRollingWindow(a.capacity, a.minSamples, a.keepValues)}
	a.slots[k] = s
	return s
}

// Update applies v to the key's window and returns the post-update snapshot.
// Eviction, aggregate update and snapshot capture happen under one lock.
func (a *Arena) Update(k Key, v float64, at time.Time) *Snapshot {
	s := a.slotFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Update(v, at)
}

// Stats returns a read-only summary of a key's window.
func (a *Arena) Stats(k Key) (models.WindowStats, bool) {
	a.mu.RLock()
	s, ok := a.slots[k]
	a.mu.RUnlock()
	if !ok {
		return models.WindowStats{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.w
	st := models.WindowStats{
		SensorID: k.SensorID,
		Metric:   k.Metric,
		Count:    w.Len(),
		Capacity: w.Capacity(),
		Mean:     w.Mean(),
		LastSeen: w.LastSeen(),
	}
	if v, ok := w.Variance(); ok {
		st.StdDev = math.Sqrt(v)
	}
	st.InsufficientData = w.Len() < a.minSamples || w.Len() < 2
	vals := w.ordered()
	for i, v := range vals {
		if i == 0 || v < st.Min {
			st.Min = v
		}
		if i == 0 || v > st.Max {
			st.Max = v
		}
	}
	return st, true
}

// Len returns the number of live windows.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.slots)
}

// Reset drops every window. Used at batch partition boundaries.
func (a *Arena) Reset() {
	a.mu.Lock()
	a.slots = make(map[Key]*slot)
	a.mu.Unlock()
}
