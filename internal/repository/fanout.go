package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SensorPull/internal/domain/models"
	domrepo "SensorPull/internal/domain/repository"
)

// CleanFanout delivers each clean reading to every sink. One failing sink
// does not stop delivery to the others.
type CleanFanout struct {
	sinks []domrepo.CleanSink
}

func NewCleanFanout(sinks ...domrepo.CleanSink) *CleanFanout {
	return &CleanFanout{sinks: sinks}
}

func (f *CleanFanout) Accept(ctx context.Context, r models.Reading) error {
	targets := make([]target, len(f.sinks))
	for i, s := range f.sinks {
		targets[i] = target{name: fmt.Sprintf("%T", s), send: func(ctx context.Context) error { return s.Accept(ctx, r) }}
	}
	return deliver(ctx, targets)
}

// Flush flushes every sink that buffers.
func (f *CleanFanout) Flush(ctx context.Context, at time.Time) error {
	var errs []error
	for _, s := range f.sinks {
		if fl, ok := s.(domrepo.Flusher); ok {
			if err := fl.Flush(ctx, at); err != nil {
				errs = append(errs, fmt.Errorf("%T: %w", s, err))
			}
		}
	}
	return errors.Join(errs...)
}

// AnomalyFanout delivers each anomalous decision to every sink. One failing
// sink does not stop delivery to the others.
type AnomalyFanout struct {
	sinks []domrepo.AnomalySink
}

func NewAnomalyFanout(sinks ...domrepo.AnomalySink) *AnomalyFanout {
	return &AnomalyFanout{sinks: sinks}
}

func (f *AnomalyFanout) Accept(ctx context.Context, d models.Decision) error {
	targets := make([]target, len(f.sinks))
	for i, s := range f.sinks {
		targets[i] = target{name: fmt.Sprintf("%T", s), send: func(ctx context.Context) error { return s.Accept(ctx, d) }}
	}
	return deliver(ctx, targets)
}

type target struct {
	name string
	send func(ctx context.Context) error
}

// DeliveryError lists the sinks of a fan-out that did not accept an item.
type DeliveryError struct {
	errs    []error
	targets []target
}

func (e *DeliveryError) Error() string   { return errors.Join(e.errs...).Error() }
func (e *DeliveryError) Unwrap() []error { return e.errs }

// Failed reports how many sinks still owe the item.
func (e *DeliveryError) Failed() int { return len(e.targets) }

// Redeliver retries the failed sinks. It returns nil once all of them have
// accepted, or a DeliveryError holding the ones that failed again.
func (e *DeliveryError) Redeliver(ctx context.Context) error {
	return deliver(ctx, e.targets)
}

func deliver(ctx context.Context, targets []target) error {
	var failed DeliveryError
	for _, t := range targets {
		if err := t.send(ctx); err != nil {
			failed.errs = append(failed.errs, fmt.Errorf("%s: %w", t.name, err))
			failed.targets = append(failed.targets, t)
		}
	}
	if len(failed.targets) == 0 {
		return nil
	}
	return &failed
}

var _ domrepo.PartialDelivery = (*DeliveryError)(nil)

// DiscardSink accepts and drops everything. Used when no sink is configured.
type DiscardSink struct{}

func (DiscardSink) Accept(context.Context, models.Reading) error { return nil }

type discardAnomalies struct{}

func (discardAnomalies) Accept(context.Context, models.Decision) error { return nil }

// DiscardAnomalies is an AnomalySink that drops decisions.
var DiscardAnomalies domrepo.AnomalySink = discardAnomalies{}
