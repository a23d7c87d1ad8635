package alert

import (
	"context"
	"fmt"
	"time"

	"SensorPull/internal/domain/models"
	"SensorPull/pkg/cache"
	applogger "SensorPull/pkg/logger"
	"SensorPull/pkg/queue"
)

const alertsPerDayWindow = 24 * time.Hour

// Job is the queue worker for anomaly alerts. It suppresses repeats for the
// same sensor metric within the cooldown and forwards the rest to a Notifier.
type Job struct {
	cache    cache.Service
	notifier Notifier
	cooldown time.Duration
	l        *applogger.Logger
}

func NewJob(c cache.Service, n Notifier, cooldown time.Duration, l *applogger.Logger) *Job {
	if l == nil {
		l = applogger.NewNop()
	}
	return &Job{cache: c, notifier: n, cooldown: cooldown, l: l}
}

func (j *Job) Name() string { return "alert_notifier" }

func (j *Job) Type() string { return models.AlertJobType }

// Handle parses the payload, claims the cooldown and notifies. A failed
// notification gives the cooldown back so the queue retry can send it.
func (j *Job) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[models.AlertPayload](payload)
	if err != nil {
		return queue.Permanent(fmt.Errorf("parse alert: %w", err))
	}

	var lease cache.Lease
	useCooldown := j.cooldown > 0 && j.cache != nil
	if useCooldown {
		var ok bool
		lease, ok, err = j.cache.Claim(ctx, cache.Key("alert", "cooldown", p.CooldownKey()), j.cooldown)
		if err != nil {
			return fmt.Errorf("cooldown: %w", err)
		}
		if !ok {
			j.l.Debug("alert suppressed by cooldown",
				applogger.String("sensor_id", p.SensorID),
				applogger.String("metric", string(p.Metric)),
			)
			return nil
		}
	}

	if err := j.notifier.Notify(ctx, *p); err != nil {
		if useCooldown {
			if rerr := j.cache.Release(ctx, lease); rerr != nil {
				j.l.Warn("release cooldown", applogger.String("sensor_id", p.SensorID), applogger.Error(rerr))
			}
		}
		return err
	}

	var sent int64
	if j.cache != nil {
		sent, err = j.cache.Count(ctx, cache.Key("alert", "count", p.SensorID), alertsPerDayWindow)
		if err != nil {
			j.l.Warn("count alert", applogger.String("sensor_id", p.SensorID), applogger.Error(err))
		}
	}

	j.l.Info("alert sent",
		applogger.String("decision_id", p.DecisionID),
		applogger.String("sensor_id", p.SensorID),
		applogger.String("metric", string(p.Metric)),
		applogger.Float64("value", p.Value),
		applogger.String("severity", p.Severity),
		applogger.Strings("detectors", p.Detectors),
		applogger.Int64("sensor_alerts_24h", sent),
	)
	return nil
}

var _ queue.Job = (*Job)(nil)
