package models

import (
	"fmt"
	"strings"
	"time"
)

// Metric is the physical quantity a sensor reports.
type Metric string

const (
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
	MetricPressure    Metric = "pressure"
	MetricVibration   Metric = "vibration"
)

// AllMetrics lists supported metrics in canonical order.
func AllMetrics() []Metric {
	return []Metric{MetricTemperature, MetricHumidity, MetricPressure, MetricVibration}
}

// IsValidMetric returns true if m is a supported metric.
func IsValidMetric(m Metric) bool {
	switch m {
	case MetricTemperature, MetricHumidity, MetricPressure, MetricVibration:
		return true
	default:
		return false
	}
}

// ParseMetric normalizes a raw metric name.
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	if !IsValidMetric(m) {
		return "", fmt.Errorf("unknown metric %q", s)
	}
	return m, nil
}

// DefaultUnit returns the canonical unit a metric is reported in.
func DefaultUnit(m Metric) string {
	switch m {
	case MetricTemperature:
		return "celsius"
	case MetricHumidity:
		return "percent"
	case MetricPressure:
		return "hPa"
	case MetricVibration:
		return "mm/s"
	default:
		return ""
	}
}

// Reading is a single validated sensor sample. Treat as immutable.
type Reading struct {
	SensorID  string    `json:"sensor_id"`
	Metric    Metric    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Unit      string    `json:"unit"`
}

// Key returns the "sensor:metric" identity used for windows and cooldowns.
func (r Reading) Key() string {
	return r.SensorID + ":" + string(r.Metric)
}
