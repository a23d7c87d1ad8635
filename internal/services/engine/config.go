package engine

import (
	"fmt"
	"math"

	"SensorPull/internal/domain/models"
	"SensorPull/internal/services/detectors"
)

// Config is the immutable detection configuration, built once at startup.
type Config struct {
	WindowSize        int
	MinSamples        int
	ZScoreThreshold   float64
	IQRMultiplier     float64
	Bounds            map[models.Metric]detectors.Bounds
	PatternLength     int
	StepSigma         float64
	Policy            models.Policy
	Quorum            int
	Detectors         []detectors.Kind
	ParallelDetectors bool
}

// DefaultConfig enables every detector with stock tunables under the ANY policy.
func DefaultConfig() Config {
	opts := detectors.DefaultOptions()
	return Config{
		WindowSize:      30,
		MinSamples:      5,
		ZScoreThreshold: opts.ZScoreThreshold,
		IQRMultiplier:   opts.IQRMultiplier,
		Bounds:          opts.Bounds,
		PatternLength:   opts.PatternLength,
		StepSigma:       opts.StepSigma,
		Policy:          models.PolicyAny,
		Quorum:          2,
		Detectors:       detectors.AllKinds(),
	}
}

// Validate checks every field and returns a *ConfigError for the first violation.
func (c Config) Validate() error {
	switch {
	case c.WindowSize < 2:
		return &ConfigError{Field: "window_size", Reason: fmt.Sprintf("must be >= 2, got %d", c.WindowSize)}
	case c.MinSamples < 2:
		return &ConfigError{Field: "min_samples", Reason: fmt.Sprintf("must be >= 2, got %d", c.MinSamples)}
	case c.MinSamples > c.WindowSize:
		return &ConfigError{Field: "min_samples", Reason: fmt.Sprintf("%d exceeds window size %d", c.MinSamples, c.WindowSize)}
	case !positive(c.ZScoreThreshold):
		return &ConfigError{Field: "zscore_threshold", Reason: "must be a positive number"}
	case !positive(c.IQRMultiplier):
		return &ConfigError{Field: "iqr_multiplier", Reason: "must be a positive number"}
	case c.PatternLength < 3:
		return &ConfigError{Field: "pattern_length", Reason: fmt.Sprintf("must be >= 3, got %d", c.PatternLength)}
	case c.PatternLength > c.WindowSize:
		return &ConfigError{Field: "pattern_length", Reason: fmt.Sprintf("%d exceeds window size %d", c.PatternLength, c.WindowSize)}
	case math.IsNaN(c.StepSigma) || math.IsInf(c.StepSigma, 0) || c.StepSigma < 0:
		return &ConfigError{Field: "step_sigma", Reason: "must be a non-negative number"}
	case c.Policy != models.PolicyAny && c.Policy != models.PolicyAll:
		return &ConfigError{Field: "policy", Reason: fmt.Sprintf("unknown policy %q", c.Policy)}
	case c.Quorum < 1:
		return &ConfigError{Field: "quorum", Reason: fmt.Sprintf("must be >= 1, got %d", c.Quorum)}
	case len(c.Detectors) == 0:
		return &ConfigError{Field: "detectors", Reason: "at least one detector must be enabled"}
	}

	seen := make(map[detectors.Kind]bool, len(c.Detectors))
	for _, k := range c.Detectors {
		if _, err := detectors.ParseKind(string(k)); err != nil {
			return &ConfigError{Field: "detectors", Reason: err.Error()}
		}
		if seen[k] {
			return &ConfigError{Field: "detectors", Reason: fmt.Sprintf("duplicate detector %q", k)}
		}
		seen[k] = true
	}

	for m, b := range c.Bounds {
		if !models.IsValidMetric(m) {
			return &ConfigError{Field: "bounds", Reason: fmt.Sprintf("unknown metric %q", m)}
		}
		if !finite(b.Min) || !finite(b.Max) || b.Min >= b.Max {
			return &ConfigError{Field: "bounds." + string(m), Reason: fmt.Sprintf("invalid range [%g, %g]", b.Min, b.Max)}
		}
	}
	return nil
}

func (c Config) detectorOptions() detectors.Options {
	return detectors.Options{
		ZScoreThreshold: c.ZScoreThreshold,
		IQRMultiplier:   c.IQRMultiplier,
		Bounds:          c.Bounds,
		PatternLength:   c.PatternLength,
		StepSigma:       c.StepSigma,
	}
}

// needsValues reports whether any enabled detector reads raw window values.
func (c Config) needsValues() bool {
	for _, k := range c.Detectors {
		if k == detectors.KindIQR || k == detectors.KindPattern {
			return true
		}
	}
	return false
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func positive(f float64) bool { return finite(f) && f > 0 }
