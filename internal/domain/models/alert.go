package models

import "math"

// AlertJobType is the queue message type handled by the alert worker.
const AlertJobType = "anomaly_alert"

const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AlertPayload is the body of an anomaly alert job and webhook.
type AlertPayload struct {
	DecisionID string   `json:"decision_id"`
	SensorID   string   `json:"sensor_id"`
	Metric     Metric   `json:"metric"`
	Value      float64  `json:"value"`
	Unit       string   `json:"unit"`
	Timestamp  int64    `json:"timestamp"`
	Detectors  []string `json:"detectors"`
	Reasons    []string `json:"reasons"`
	Score      float64  `json:"score"`
	Severity   string   `json:"severity"`
}

// CooldownKey groups alerts that should not repeat within a cooldown.
func (a AlertPayload) CooldownKey() string {
	return a.SensorID + ":" + string(a.Metric)
}

// NewAlertPayload summarizes an anomalous decision. A reading is critical
// when it breaks a static bound or more than one detector flags it.
func NewAlertPayload(d Decision) AlertPayload {
	p := AlertPayload{
		DecisionID: d.ID,
		SensorID:   d.Reading.SensorID,
		Metric:     d.Reading.Metric,
		Value:      d.Reading.Value,
		Unit:       d.Reading.Unit,
		Timestamp:  d.Reading.Timestamp.Unix(),
		Severity:   SeverityWarning,
	}
	for _, v := range d.Verdicts {
		if !v.IsAnomaly {
			continue
		}
		p.Detectors = append(p.Detectors, v.Detector)
		if v.Reason != "" {
			p.Reasons = append(p.Reasons, v.Reason)
		}
		if s := math.Abs(v.Score); s > p.Score {
			p.Score = s
		}
		if v.Detector == "threshold" {
			p.Severity = SeverityCritical
		}
	}
	if len(p.Detectors) > 1 {
		p.Severity = SeverityCritical
	}
	return p
}
