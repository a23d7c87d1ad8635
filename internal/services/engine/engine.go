package engine

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"SensorPull/internal/domain/models"
	domsvc "SensorPull/internal/domain/service"
	"SensorPull/internal/services/detectors"
	"SensorPull/internal/services/window"
)

// Engine owns the window arena and the enabled detectors. Decide is the
// single entry point shared by real-time and batch execution.
type Engine struct {
	cfg       Config
	arena     *window.Arena
	detectors []domsvc.Detector
	clock     func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock sets the time source used for Decision.DecidedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.clock = now
		}
	}
}

// New validates cfg and builds an engine. Configuration problems are
// returned as *ConfigError.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dets, err := detectors.Build(cfg.Detectors, cfg.detectorOptions())
	if err != nil {
		return nil, &ConfigError{Field: "detectors", Reason: err.Error()}
	}

	// copy slices/maps so later mutation by the caller cannot leak in
	cfg.Detectors = append([]detectors.Kind(nil), cfg.Detectors...)
	bounds := make(map[models.Metric]detectors.Bounds, len(cfg.Bounds))
	for m, b := range cfg.Bounds {
		bounds[m] = b
	}
	cfg.Bounds = bounds

	e := &Engine{
		cfg:       cfg,
		arena:     window.NewArena(cfg.WindowSize, cfg.MinSamples, cfg.needsValues()),
		detectors: dets,
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Decide validates r, applies it to its window and classifies it. Invalid
// readings return an error wrapping ErrInvalidInput without touching state.
func (e *Engine) Decide(r models.Reading) (models.Decision, error) {
	if err := validateReading(r); err != nil {
		return models.Decision{}, err
	}
	if r.Unit == "" {
		r.Unit = models.DefaultUnit(r.Metric)
	}

	snap := e.arena.Update(window.KeyOf(r), r.Value, r.Timestamp)
	verdicts := e.evaluate(r, snap)

	return models.Decision{
		ID:        DecisionID(r),
		Reading:   r,
		IsAnomaly: Combine(e.cfg.Policy, e.cfg.Quorum, verdicts),
		Policy:    e.cfg.Policy,
		Verdicts:  verdicts,
		DecidedAt: e.clock(),
	}, nil
}

func (e *Engine) evaluate(r models.Reading, snap *window.Snapshot) []models.DetectionVerdict {
	out := make([]models.DetectionVerdict, len(e.detectors))
	if !e.cfg.ParallelDetectors || len(e.detectors) == 1 {
		for i, d := range e.detectors {
			out[i] = d.Evaluate(r, snap)
		}
		return out
	}

	var wg sync.WaitGroup
	for i, d := range e.detectors {
		wg.Add(1)
		go func(i int, d domsvc.Detector) {
			defer wg.Done()
			out[i] = d.Evaluate(r, snap)
		}(i, d)
	}
	wg.Wait()
	return out
}

// Combine folds verdicts under policy. Insufficient verdicts are not votes.
// ANY flags when one conclusive verdict flags. ALL flags when at least
// min(quorum, len(verdicts)) verdicts are conclusive and all of them flag.
func Combine(policy models.Policy, quorum int, verdicts []models.DetectionVerdict) bool {
	conclusive, flagged := 0, 0
	for _, v := range verdicts {
		if !v.Conclusive() {
			continue
		}
		conclusive++
		if v.IsAnomaly {
			flagged++
		}
	}

	if policy == models.PolicyAll {
		need := quorum
		if len(verdicts) < need {
			need = len(verdicts)
		}
		if need < 1 {
			need = 1
		}
		return conclusive >= need && flagged == conclusive
	}
	return flagged > 0
}

// Reset drops every window. Batch mode calls it between partitions when
// windows are configured not to persist.
func (e *Engine) Reset() { e.arena.Reset() }

// Stats returns the current window summary for a key.
func (e *Engine) Stats(sensorID string, metric models.Metric) (models.WindowStats, bool) {
	return e.arena.Stats(window.Key{SensorID: sensorID, Metric: metric})
}

// WindowCount returns the number of live windows.
func (e *Engine) WindowCount() int { return e.arena.Len() }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// DetectorNames lists enabled detectors in evaluation order.
func (e *Engine) DetectorNames() []string {
	out := make([]string, len(e.detectors))
	for i, d := range e.detectors {
		out[i] = d.Name()
	}
	return out
}

// DecisionID derives a stable identifier from the reading, so replaying the
// same reading in batch or real-time mode yields the same ID.
func DecisionID(r models.Reading) string {
	name := fmt.Sprintf("%s|%s|%d|%g", r.SensorID, r.Metric, r.Timestamp.UnixNano(), r.Value)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func validateReading(r models.Reading) error {
	switch {
	case strings.TrimSpace(r.SensorID) == "":
		return &InputError{Field: "sensor_id", Reason: "must not be blank"}
	case !models.IsValidMetric(r.Metric):
		return &InputError{Field: "metric", Reason: fmt.Sprintf("unknown metric %q", r.Metric)}
	case math.IsNaN(r.Value) || math.IsInf(r.Value, 0):
		return &InputError{Field: "value", Reason: fmt.Sprintf("must be finite, got %v", r.Value)}
	case r.Timestamp.IsZero():
		return &InputError{Field: "timestamp", Reason: "must be set"}
	}
	return nil
}
