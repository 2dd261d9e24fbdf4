package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pbit-labs/pbit-classroom-api/internal/models"
)

// SensorRepository stores and reads device_data, the append-only sensor
// time series.
type SensorRepository struct {
	db *sqlx.DB
}

// NewSensorRepository constructs the repository.
func NewSensorRepository(db *sqlx.DB) *SensorRepository {
	return &SensorRepository{db: db}
}

const dataColumns = `id, device_id, timestamp, temperature, thermometer, humidity, moisture, light, sound, battery_level, created_at`

// InsertBatch stores validated readings for a device in one transaction and
// refreshes the device's battery level, last_seen and is_active from the
// latest reading that carries a battery value. The readings slice must
// already have passed range validation.
func (r *SensorRepository) InsertBatch(ctx context.Context, deviceID string, readings []models.SensorReading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert batch: %w", err)
	}
	defer tx.Rollback()

	const insert = `INSERT INTO device_data (id, device_id, timestamp, temperature, thermometer, humidity, moisture, light, sound, battery_level, created_at) VALUES (:id, :device_id, :timestamp, :temperature, :thermometer, :humidity, :moisture, :light, :sound, :battery_level, :created_at)`

	now := time.Now().UTC()
	var battery *float64
	var lastSeen time.Time

	for _, reading := range readings {
		row := models.DeviceData{
			ID:           uuid.NewString(),
			DeviceID:     deviceID,
			Timestamp:    reading.Timestamp,
			Temperature:  reading.Temperature,
			Thermometer:  reading.Thermometer,
			Humidity:     reading.Humidity,
			Moisture:     reading.Moisture,
			Light:        reading.Light,
			Sound:        reading.Sound,
			BatteryLevel: reading.BatteryLevel,
			CreatedAt:    now,
		}
		if _, err := tx.NamedExecContext(ctx, insert, row); err != nil {
			return fmt.Errorf("insert reading: %w", err)
		}
		if reading.BatteryLevel != nil {
			battery = reading.BatteryLevel
		}
		if reading.Timestamp.After(lastSeen) {
			lastSeen = reading.Timestamp
		}
	}

	if battery != nil {
		const update = `UPDATE devices SET battery_level = $2, last_seen = $3, is_active = TRUE, updated_at = $4 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, deviceID, *battery, lastSeen, now); err != nil {
			return fmt.Errorf("update device status: %w", err)
		}
	} else {
		const update = `UPDATE devices SET last_seen = $2, is_active = TRUE, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, deviceID, lastSeen, now); err != nil {
			return fmt.Errorf("update device status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert batch: %w", err)
	}
	return nil
}

// Range returns readings inside an inclusive time window, newest first
// unless ascending order was requested.
func (r *SensorRepository) Range(ctx context.Context, q models.DataRangeQuery) ([]models.DeviceData, error) {
	conditions := []string{"device_id = $1"}
	args := []interface{}{q.DeviceID}

	if q.Start != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", len(args)+1))
		args = append(args, *q.Start)
	}
	if q.End != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", len(args)+1))
		args = append(args, *q.End)
	}

	direction := "DESC"
	if strings.EqualFold(q.Order, "asc") {
		direction = "ASC"
	}

	limit := q.Limit
	if limit <= 0 {
		limit = models.DefaultQueryLimit
	}
	if limit > models.MaxQueryLimit {
		limit = models.MaxQueryLimit
	}

	query := fmt.Sprintf("SELECT %s FROM device_data WHERE %s ORDER BY timestamp %s LIMIT %d", dataColumns, strings.Join(conditions, " AND "), direction, limit)

	var rows []models.DeviceData
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query reading range: %w", err)
	}
	return rows, nil
}

// Latest returns the most recent reading for a device, or sql.ErrNoRows
// when the device has never reported.
func (r *SensorRepository) Latest(ctx context.Context, deviceID string) (*models.DeviceData, error) {
	const query = `SELECT ` + dataColumns + ` FROM device_data WHERE device_id = $1 ORDER BY timestamp DESC LIMIT 1`
	var row models.DeviceData
	if err := r.db.GetContext(ctx, &row, query, deviceID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("query latest reading: %w", err)
	}
	return &row, nil
}

// Aggregates summarises each sensor column for a device: row count, min,
// max, average, plus the latest value and its timestamp. Columns with no
// data are omitted. Column names come from the fixed SensorTypes allowlist,
// never from user input.
func (r *SensorRepository) Aggregates(ctx context.Context, deviceID string, sensorType *models.SensorType) ([]models.SensorAggregate, error) {
	types := models.SensorTypes
	if sensorType != nil {
		types = []models.SensorType{*sensorType}
	}

	parts := make([]string, 0, len(types))
	for _, st := range types {
		col := string(st)
		parts = append(parts, fmt.Sprintf(`SELECT device_id, '%[1]s' AS sensor_type, COUNT(%[1]s) AS count, MIN(%[1]s) AS min, MAX(%[1]s) AS max, AVG(%[1]s) AS avg,
(SELECT %[1]s FROM device_data WHERE device_id = $1 AND %[1]s IS NOT NULL ORDER BY timestamp DESC LIMIT 1) AS latest,
(SELECT timestamp FROM device_data WHERE device_id = $1 AND %[1]s IS NOT NULL ORDER BY timestamp DESC LIMIT 1) AS latest_timestamp
FROM device_data WHERE device_id = $1 AND %[1]s IS NOT NULL GROUP BY device_id`, col))
	}
	query := strings.Join(parts, " UNION ALL ")

	var aggregates []models.SensorAggregate
	if err := r.db.SelectContext(ctx, &aggregates, query, deviceID); err != nil {
		return nil, fmt.Errorf("query sensor aggregates: %w", err)
	}
	return aggregates, nil
}
