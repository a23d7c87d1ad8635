package usecase

import (
	"time"

	"SensorPull/internal/domain/models"
	drepo "SensorPull/internal/domain/repository"
	"SensorPull/internal/services/engine"
)

// DecisionProcessor runs the engine for one reading and records metrics
// about the outcome. It performs no I/O.
type DecisionProcessor struct {
	engine  *engine.Engine
	metrics drepo.Metrics
}

func NewDecisionProcessor(e *engine.Engine, metrics drepo.Metrics) *DecisionProcessor {
	return &DecisionProcessor{engine: e, metrics: metrics}
}

func (p *DecisionProcessor) Decide(r models.Reading) (models.Decision, error) {
	start := time.Now()
	p.metrics.RecordReading(string(r.Metric))

	d, err := p.engine.Decide(r)
	if err != nil {
		p.metrics.RecordError("invalid_reading")
		return models.Decision{}, err
	}

	for _, v := range d.Verdicts {
		p.metrics.RecordVerdict(v.Detector, string(v.State))
	}
	p.metrics.RecordDecision(string(r.Metric), d.IsAnomaly)
	p.metrics.RecordWindowKeys(p.engine.WindowCount())
	p.metrics.RecordLatency("decide", time.Since(start).Seconds())
	return d, nil
}

// Reset discards every rolling window.
func (p *DecisionProcessor) Reset() {
	p.engine.Reset()
	p.metrics.RecordWindowKeys(0)
}

// Stats returns the current window statistics for one key.
func (p *DecisionProcessor) Stats(sensorID string, metric models.Metric) (models.WindowStats, bool) {
	return p.engine.Stats(sensorID, metric)
}
