package models

// Requests for HTTP endpoints. Defined in domain for consistency and reuse.

type WindowRequest struct {
	SensorID string `query:"sensor_id" json:"sensor_id" validate:"required,notblank"`
	Metric   string `query:"metric" json:"metric" default:"temperature" validate:"oneof=temperature humidity pressure vibration"`
}

type IngestRequest struct {
	SensorID    string   `json:"sensor_id" validate:"required,notblank"`
	Timestamp   string   `json:"timestamp" validate:"required"`
	Temperature *float64 `json:"temperature" validate:"required"`
	Humidity    *float64 `json:"humidity"`
	Pressure    *float64 `json:"pressure"`
	Vibration   *float64 `json:"vibration"`
}

// ToRaw converts the request into a raw record for the ingestion validator.
func (r IngestRequest) ToRaw() RawRecord {
	return RawRecord{
		SensorID:    r.SensorID,
		Timestamp:   r.Timestamp,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Pressure:    r.Pressure,
		Vibration:   r.Vibration,
	}
}

type AnomaliesRequest struct {
	SensorID string `query:"sensor_id" json:"sensor_id" validate:"required,notblank"`
	Limit    int    `query:"limit" json:"limit" default:"50" validate:"min=1,max=1000"`
}
