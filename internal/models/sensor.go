package models

import "time"

// Sensor value bounds mirror the P-BIT hardware ranges.
const (
	TemperatureMin = -50.0
	TemperatureMax = 100.0
	PercentMin     = 0.0
	PercentMax     = 100.0
	SoundMin       = 0.0
	SoundMax       = 200.0
	LightMin       = 0.0
	LightMax       = 100000.0

	// MaxBatchReadings caps a single ingest request.
	MaxBatchReadings = 100

	// Query limits for range reads.
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// SensorReading is a single timestamped measurement submitted by a device.
// Every sensor column is optional; a reading usually carries a subset.
type SensorReading struct {
	Timestamp    time.Time `json:"timestamp" validate:"required"`
	Temperature  *float64  `json:"temperature" validate:"omitempty,gte=-50,lte=100"`
	Thermometer  *float64  `json:"thermometer" validate:"omitempty,gte=-50,lte=100"`
	Humidity     *float64  `json:"humidity" validate:"omitempty,gte=0,lte=100"`
	Moisture     *float64  `json:"moisture" validate:"omitempty,gte=0,lte=100"`
	Light        *float64  `json:"light" validate:"omitempty,gte=0,lte=100000"`
	Sound        *float64  `json:"sound" validate:"omitempty,gte=0,lte=200"`
	BatteryLevel *float64  `json:"battery_level" validate:"omitempty,gte=0,lte=100"`
}

// DeviceData is a persisted sensor reading. Rows are append-only.
type DeviceData struct {
	ID           string    `db:"id" json:"id"`
	DeviceID     string    `db:"device_id" json:"device_id"`
	Timestamp    time.Time `db:"timestamp" json:"timestamp"`
	Temperature  *float64  `db:"temperature" json:"temperature"`
	Thermometer  *float64  `db:"thermometer" json:"thermometer"`
	Humidity     *float64  `db:"humidity" json:"humidity"`
	Moisture     *float64  `db:"moisture" json:"moisture"`
	Light        *float64  `db:"light" json:"light"`
	Sound        *float64  `db:"sound" json:"sound"`
	BatteryLevel *float64  `db:"battery_level" json:"battery_level"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// BLEBatchRequest is one upload from the companion app relaying readings it
// collected over BLE. The device is referenced by MAC when the hardware has
// one, otherwise by its server-assigned id. Anonymous students authenticate
// inline with first name and PIN.
type BLEBatchRequest struct {
	MacAddress  *string         `json:"mac_address" validate:"omitempty,mac"`
	DeviceID    *string         `json:"device_id" validate:"required_without=MacAddress,omitempty,uuid"`
	ClassroomID string          `json:"classroom_id" validate:"required"`
	FirstName   *string         `json:"first_name" validate:"omitempty,max=50"`
	PinCode     *string         `json:"pin_code" validate:"omitempty,len=4,numeric"`
	Readings    []SensorReading `json:"readings" validate:"required,min=1,max=100,dive"`
}

// DataRangeQuery filters a time range read.
type DataRangeQuery struct {
	DeviceID string
	Start    *time.Time
	End      *time.Time
	Limit    int
	Order    string
}

// SensorType names one measurement column of device_data.
type SensorType string

const (
	SensorTemperature SensorType = "temperature"
	SensorThermometer SensorType = "thermometer"
	SensorHumidity    SensorType = "humidity"
	SensorMoisture    SensorType = "moisture"
	SensorLight       SensorType = "light"
	SensorSound       SensorType = "sound"
)

// SensorTypes lists the queryable measurement columns.
var SensorTypes = []SensorType{
	SensorTemperature,
	SensorThermometer,
	SensorHumidity,
	SensorMoisture,
	SensorLight,
	SensorSound,
}

// Valid reports whether the sensor type names a known column.
func (s SensorType) Valid() bool {
	for _, known := range SensorTypes {
		if s == known {
			return true
		}
	}
	return false
}

// SensorAggregate summarises one (device, sensor-type) pair.
type SensorAggregate struct {
	DeviceID        string     `db:"device_id" json:"device_id"`
	SensorType      SensorType `db:"sensor_type" json:"sensor_type"`
	Count           int64      `db:"count" json:"count"`
	Min             *float64   `db:"min" json:"min"`
	Max             *float64   `db:"max" json:"max"`
	Avg             *float64   `db:"avg" json:"avg"`
	Latest          *float64   `db:"latest" json:"latest"`
	LatestTimestamp *time.Time `db:"latest_timestamp" json:"latest_timestamp"`
}

// IngestResult reports the outcome of a batch ingest.
type IngestResult struct {
	DeviceID      string `json:"device_id"`
	RecordedCount int    `json:"recorded_count"`
	SkippedCount  int    `json:"skipped_count"`
	TotalReadings int    `json:"total_readings"`
}
