package models

import "time"

// VerdictState is the outcome class of one detector for one reading.
type VerdictState string

const (
	VerdictNormal       VerdictState = "normal"
	VerdictAnomaly      VerdictState = "anomaly"
	VerdictInsufficient VerdictState = "insufficient_data"
)

// DetectionVerdict is one detector's classification of one reading.
type DetectionVerdict struct {
	Detector  string       `json:"detector"`
	State     VerdictState `json:"state"`
	IsAnomaly bool         `json:"is_anomaly"`
	Score     float64      `json:"score"`
	Reason    string       `json:"reason"`
}

// Conclusive reports whether the detector could evaluate the reading.
func (v DetectionVerdict) Conclusive() bool {
	return v.State != VerdictInsufficient
}

// Policy controls how verdicts combine into a decision.
type Policy string

const (
	PolicyAny Policy = "ANY"
	PolicyAll Policy = "ALL"
)

// Decision is the engine output for one reading. It is handed to exactly
// one sink and never modified afterwards.
type Decision struct {
	ID        string             `json:"id"`
	Reading   Reading            `json:"reading"`
	IsAnomaly bool               `json:"is_anomaly"`
	Policy    Policy             `json:"policy"`
	Verdicts  []DetectionVerdict `json:"verdicts"`
	DecidedAt time.Time          `json:"decided_at"`
}

// FlaggedBy returns names of detectors that flagged the reading.
func (d Decision) FlaggedBy() []string {
	var out []string
	for _, v := range d.Verdicts {
		if v.IsAnomaly {
			out = append(out, v.Detector)
		}
	}
	return out
}

// WindowStats is a read-only view of a key's rolling window, for APIs.
type WindowStats struct {
	SensorID         string    `json:"sensor_id"`
	Metric           Metric    `json:"metric"`
	Count            int       `json:"count"`
	Capacity         int       `json:"capacity"`
	Mean             float64   `json:"mean"`
	StdDev           float64   `json:"stddev"`
	Min              float64   `json:"min"`
	Max              float64   `json:"max"`
	InsufficientData bool      `json:"insufficient_data"`
	LastSeen         time.Time `json:"last_seen"`
}

// AnomalyRecord is a stored anomalous decision as served by the history API.
type AnomalyRecord struct {
	DecisionID string    `json:"decision_id"`
	SensorID   string    `json:"sensor_id"`
	Metric     Metric    `json:"metric"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit"`
	Timestamp  time.Time `json:"timestamp"`
	Policy     Policy    `json:"policy"`
	Detectors  []string  `json:"detectors"`
	DecidedAt  time.Time `json:"decided_at"`
}
