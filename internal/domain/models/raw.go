package models

// RawRecord is a sensor payload as delivered by the IoT API, Kafka or WebSocket.
// One record may carry several metrics.
type RawRecord struct {
	SensorID    string   `json:"sensor_id" validate:"required,notblank"`
	Timestamp   string   `json:"timestamp" validate:"required,isotime"`
	Temperature *float64 `json:"temperature" validate:"required,finite"`
	Humidity    *float64 `json:"humidity,omitempty" validate:"omitempty,finite"`
	Pressure    *float64 `json:"pressure,omitempty" validate:"omitempty,finite"`
	Vibration   *float64 `json:"vibration,omitempty" validate:"omitempty,finite"`
	Location    string   `json:"location,omitempty"`
}

// InvalidRecord pairs a rejected record with the reasons it was rejected.
type InvalidRecord struct {
	Record RawRecord `json:"record"`
	Errors []string  `json:"errors"`
}
