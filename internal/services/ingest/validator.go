package ingest

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"SensorPull/internal/domain/models"
	applogger "SensorPull/pkg/logger"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts ISO-8601 timestamps with a zone offset or "Z".
// Naive timestamps are taken as UTC. The result is always UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// Validator turns raw sensor records into readings.
type Validator struct {
	v   *validator.Validate
	log *applogger.Logger
}

func NewValidator(log *applogger.Logger) *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("isotime", func(fl validator.FieldLevel) bool {
		_, err := ParseTimestamp(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	if log == nil {
		log = applogger.NewNop()
	}
	return &Validator{v: v, log: log}
}

// Validate splits records into readings and rejected records.
func (val *Validator) Validate(records []models.RawRecord) ([]models.Reading, []models.InvalidRecord) {
	readings := make([]models.Reading, 0, len(records))
	var invalid []models.InvalidRecord

	for _, rec := range records {
		rs, errs := val.ValidateRecord(rec)
		if len(errs) > 0 {
			invalid = append(invalid, models.InvalidRecord{Record: rec, Errors: errs})
			continue
		}
		readings = append(readings, rs...)
	}

	val.log.Info("validation completed",
		applogger.Int("records", len(records)),
		applogger.Int("readings", len(readings)),
		applogger.Int("invalid", len(invalid)),
	)
	return readings, invalid
}

// ValidateRecord returns one reading per metric present in rec, or the
// list of problems that made it invalid.
func (val *Validator) ValidateRecord(rec models.RawRecord) ([]models.Reading, []string) {
	if err := val.v.Struct(rec); err != nil {
		return nil, describe(err)
	}
	ts, err := ParseTimestamp(rec.Timestamp)
	if err != nil {
		return nil, []string{err.Error()}
	}

	sensor := strings.TrimSpace(rec.SensorID)
	values := []struct {
		metric models.Metric
		value  *float64
	}{
		{models.MetricTemperature, rec.Temperature},
		{models.MetricHumidity, rec.Humidity},
		{models.MetricPressure, rec.Pressure},
		{models.MetricVibration, rec.Vibration},
	}

	out := make([]models.Reading, 0, len(values))
	for _, mv := range values {
		if mv.value == nil {
			continue
		}
		out = append(out, models.Reading{
			SensorID:  sensor,
			Metric:    mv.metric,
			Value:     *mv.value,
			Timestamp: ts,
			Unit:      models.DefaultUnit(mv.metric),
		})
	}
	return out, nil
}

func describe(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out = append(out, fmt.Sprintf("missing required field: %s", fe.Field()))
		case "notblank":
			out = append(out, fmt.Sprintf("%s must not be blank", fe.Field()))
		case "isotime":
			out = append(out, fmt.Sprintf("invalid timestamp format: %v", fe.Value()))
		case "finite":
			out = append(out, fmt.Sprintf("%s must be a finite number", fe.Field()))
		default:
			out = append(out, fmt.Sprintf("%s failed validation: %s", fe.Field(), fe.Tag()))
		}
	}
	return out
}
