package detectors

import (
	"fmt"
	"strings"

	"SensorPull/internal/domain/models"
	domsvc "SensorPull/internal/domain/service"
)

// Kind enumerates the supported detection strategies.
type Kind string

const (
	KindZScore    Kind = "zscore"
	KindIQR       Kind = "iqr"
	KindThreshold Kind = "threshold"
	KindPattern   Kind = "pattern"
)

// AllKinds lists every detector in evaluation order.
func AllKinds() []Kind {
	return []Kind{KindZScore, KindIQR, KindThreshold, KindPattern}
}

// ParseKind normalizes a detector name from config.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindZScore, KindIQR, KindThreshold, KindPattern:
		return k, nil
	}
	return "", fmt.Errorf("unknown detector %q", s)
}

// Options carries the tunables of every detector.
type Options struct {
	ZScoreThreshold float64
	IQRMultiplier   float64
	Bounds          map[models.Metric]Bounds
	PatternLength   int
	StepSigma       float64
}

// DefaultOptions returns the stock tunables.
func DefaultOptions() Options {
	return Options{
		ZScoreThreshold: 3.0,
		IQRMultiplier:   1.5,
		Bounds:          DefaultBounds(),
		PatternLength:   5,
		StepSigma:       0.5,
	}
}

// Build instantiates detectors for kinds, preserving order.
func Build(kinds []Kind, opts Options) ([]domsvc.Detector, error) {
	out := make([]domsvc.Detector, 0, len(kinds))
	for _, k := range kinds {
		switch k {
		case KindZScore:
			out = append(out, NewZScore(opts.ZScoreThreshold))
		case KindIQR:
			out = append(out, NewIQR(opts.IQRMultiplier))
		case KindThreshold:
			out = append(out, NewThreshold(opts.Bounds))
		case KindPattern:
			out = append(out, NewPattern(opts.PatternLength, opts.StepSigma))
		default:
			return nil, fmt.Errorf("unknown detector %q", k)
		}
	}
	return out, nil
}

func insufficient(name, reason string) models.DetectionVerdict {
	return models.DetectionVerdict{Detector: name, State: models.VerdictInsufficient, Reason: reason}
}

func verdict(name string, anomaly bool, score float64, reason string) models.DetectionVerdict {
	state := models.VerdictNormal
	if anomaly {
		state = models.VerdictAnomaly
	}
	return models.DetectionVerdict{Detector: name, State: state, IsAnomaly: anomaly, Score: score, Reason: reason}
}
