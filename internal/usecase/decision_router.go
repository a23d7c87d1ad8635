package usecase

import (
	"context"
	"fmt"

	"SensorPull/internal/domain/models"
	drepo "SensorPull/internal/domain/repository"
	"SensorPull/pkg/logger"
)

// DecisionRouter hands every decision to exactly one sink: anomalies to the
// anomaly sink, everything else to the clean sink as a bare reading.
type DecisionRouter struct {
	clean   drepo.CleanSink
	anomaly drepo.AnomalySink
	metrics drepo.Metrics
	l       *logger.Logger
}

func NewDecisionRouter(clean drepo.CleanSink, anomaly drepo.AnomalySink, metrics drepo.Metrics, l *logger.Logger) *DecisionRouter {
	if l == nil {
		l = logger.NewNop()
	}
	return &DecisionRouter{clean: clean, anomaly: anomaly, metrics: metrics, l: l}
}

func (r *DecisionRouter) Route(ctx context.Context, d models.Decision) error {
	if !d.IsAnomaly {
		if err := r.clean.Accept(ctx, d.Reading); err != nil {
			r.metrics.RecordError("clean_sink")
			return fmt.Errorf("clean sink: %w", err)
		}
		return nil
	}

	r.l.Warn("anomaly detected",
		logger.String("decision_id", d.ID),
		logger.String("sensor_id", d.Reading.SensorID),
		logger.String("metric", string(d.Reading.Metric)),
		logger.Float64("value", d.Reading.Value),
		logger.Strings("detectors", d.FlaggedBy()),
	)
	if err := r.anomaly.Accept(ctx, d); err != nil {
		r.metrics.RecordError("anomaly_sink")
		return fmt.Errorf("anomaly sink: %w", err)
	}
	return nil
}
