package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pbit-labs/pbit-classroom-api/internal/models"
)

// DeviceRepository handles persistence of devices, per-user bookmarks and
// classroom assignments.
type DeviceRepository struct {
	db *sqlx.DB
}

// NewDeviceRepository constructs the repository.
func NewDeviceRepository(db *sqlx.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

const deviceColumns = `id, mac_address, is_active, battery_level, last_seen, created_at, updated_at`

// FindByID returns a device by primary key.
func (r *DeviceRepository) FindByID(ctx context.Context, id string) (*models.Device, error) {
	const query = `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1 LIMIT 1`
	var device models.Device
	if err := r.db.GetContext(ctx, &device, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find device by id: %w", err)
	}
	return &device, nil
}

// FindByMAC returns the device with the given normalised MAC address.
func (r *DeviceRepository) FindByMAC(ctx context.Context, mac string) (*models.Device, error) {
	const query = `SELECT ` + deviceColumns + ` FROM devices WHERE mac_address = $1 LIMIT 1`
	var device models.Device
	if err := r.db.GetContext(ctx, &device, query, mac); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find device by mac: %w", err)
	}
	return &device, nil
}

// Create inserts a device row. A concurrent insert of the same MAC surfaces
// as a unique violation.
func (r *DeviceRepository) Create(ctx context.Context, device *models.Device) error {
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	const query = `INSERT INTO devices (id, mac_address, is_active, battery_level, last_seen, created_at, updated_at) VALUES (:id, :mac_address, :is_active, :battery_level, :last_seen, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, device); err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

// Delete removes a device together with its bookmarks, assignments and
// stored readings.
func (r *DeviceRepository) Delete(ctx context.Context, deviceID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete device: %w", err)
	}
	defer tx.Rollback()

	steps := []string{
		`DELETE FROM device_data WHERE device_id = $1`,
		`DELETE FROM device_assignments WHERE device_id = $1`,
		`DELETE FROM device_bookmarks WHERE device_id = $1`,
		`DELETE FROM devices WHERE id = $1`,
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step, deviceID); err != nil {
			return fmt.Errorf("delete device cascade: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete device: %w", err)
	}
	return nil
}

// CreateBookmark attaches a per-user nickname to a device. Duplicate
// (user, device) or (user, nickname) pairs surface as unique violations.
func (r *DeviceRepository) CreateBookmark(ctx context.Context, bookmark *models.DeviceBookmark) error {
	if bookmark.ID == "" {
		bookmark.ID = uuid.NewString()
	}
	if bookmark.CreatedAt.IsZero() {
		bookmark.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO device_bookmarks (id, device_id, user_id, nickname, created_at) VALUES (:id, :device_id, :user_id, :nickname, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, bookmark); err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("create device bookmark: %w", err)
	}
	return nil
}

// FindBookmark returns the user's bookmark for a device, if any.
func (r *DeviceRepository) FindBookmark(ctx context.Context, userID, deviceID string) (*models.DeviceBookmark, error) {
	const query = `SELECT id, device_id, user_id, nickname, created_at FROM device_bookmarks WHERE user_id = $1 AND device_id = $2 LIMIT 1`
	var bookmark models.DeviceBookmark
	if err := r.db.GetContext(ctx, &bookmark, query, userID, deviceID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find device bookmark: %w", err)
	}
	return &bookmark, nil
}

// FindBookmarkByID returns a bookmark by primary key.
func (r *DeviceRepository) FindBookmarkByID(ctx context.Context, id string) (*models.DeviceBookmark, error) {
	const query = `SELECT id, device_id, user_id, nickname, created_at FROM device_bookmarks WHERE id = $1 LIMIT 1`
	var bookmark models.DeviceBookmark
	if err := r.db.GetContext(ctx, &bookmark, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find device bookmark by id: %w", err)
	}
	return &bookmark, nil
}

// ListBookmarks returns a user's bookmarks joined with device status.
func (r *DeviceRepository) ListBookmarks(ctx context.Context, userID string) ([]models.BookmarkedDevice, error) {
	const query = `SELECT b.id, b.device_id, b.user_id, b.nickname, b.created_at, d.mac_address, d.is_active, d.battery_level, d.last_seen
FROM device_bookmarks b
JOIN devices d ON d.id = b.device_id
WHERE b.user_id = $1
ORDER BY b.created_at DESC`

	var bookmarks []models.BookmarkedDevice
	if err := r.db.SelectContext(ctx, &bookmarks, query, userID); err != nil {
		return nil, fmt.Errorf("list device bookmarks: %w", err)
	}
	return bookmarks, nil
}

// DeleteBookmark removes a bookmark by primary key.
func (r *DeviceRepository) DeleteBookmark(ctx context.Context, id string) error {
	const query = `DELETE FROM device_bookmarks WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete device bookmark: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete device bookmark: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CreateAssignment binds a device to a classroom scope. A second assignment
// of the same device in the same classroom surfaces as a unique violation.
func (r *DeviceRepository) CreateAssignment(ctx context.Context, assignment *models.DeviceAssignment) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = now
	}
	assignment.UpdatedAt = now

	const query = `INSERT INTO device_assignments (id, device_id, classroom_id, assignment_type, assignment_id, created_at, updated_at) VALUES (:id, :device_id, :classroom_id, :assignment_type, :assignment_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("create device assignment: %w", err)
	}
	return nil
}

// FindAssignment returns the assignment row for a (device, classroom) pair.
func (r *DeviceRepository) FindAssignment(ctx context.Context, deviceID, classroomID string) (*models.DeviceAssignment, error) {
	const query = `SELECT id, device_id, classroom_id, assignment_type, assignment_id, created_at, updated_at FROM device_assignments WHERE device_id = $1 AND classroom_id = $2 LIMIT 1`
	var assignment models.DeviceAssignment
	if err := r.db.GetContext(ctx, &assignment, query, deviceID, classroomID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find device assignment: %w", err)
	}
	return &assignment, nil
}

// UpdateAssignment changes the scope of an existing assignment.
func (r *DeviceRepository) UpdateAssignment(ctx context.Context, assignment *models.DeviceAssignment) error {
	assignment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE device_assignments SET assignment_type = :assignment_type, assignment_id = :assignment_id, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, assignment); err != nil {
		return fmt.Errorf("update device assignment: %w", err)
	}
	return nil
}

// DeleteAssignment removes the assignment for a (device, classroom) pair.
func (r *DeviceRepository) DeleteAssignment(ctx context.Context, deviceID, classroomID string) error {
	const query = `DELETE FROM device_assignments WHERE device_id = $1 AND classroom_id = $2`
	res, err := r.db.ExecContext(ctx, query, deviceID, classroomID)
	if err != nil {
		return fmt.Errorf("delete device assignment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete device assignment: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountAssignmentsOwnedBy counts live assignments of a device in classrooms
// owned by the given teacher. Used to block deletes while a device is still
// in use.
func (r *DeviceRepository) CountAssignmentsOwnedBy(ctx context.Context, deviceID, ownerID string) (int, error) {
	const query = `SELECT COUNT(*) FROM device_assignments da JOIN classes c ON c.id = da.classroom_id WHERE da.device_id = $1 AND c.owner_id = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, deviceID, ownerID); err != nil {
		return 0, fmt.Errorf("count device assignments: %w", err)
	}
	return count, nil
}

const assignedDeviceColumns = `d.id AS device_id, d.mac_address, d.is_active, d.battery_level, d.last_seen, da.assignment_type, da.assignment_id`

// PublicDevices returns devices assigned to the whole classroom.
func (r *DeviceRepository) PublicDevices(ctx context.Context, classroomID string) ([]models.AssignedDevice, error) {
	const query = `SELECT ` + assignedDeviceColumns + ` FROM device_assignments da JOIN devices d ON d.id = da.device_id WHERE da.classroom_id = $1 AND da.assignment_type = 'public'`
	var devices []models.AssignedDevice
	if err := r.db.SelectContext(ctx, &devices, query, classroomID); err != nil {
		return nil, fmt.Errorf("list public devices: %w", err)
	}
	return devices, nil
}

// StudentDevices returns devices assigned directly to one student.
func (r *DeviceRepository) StudentDevices(ctx context.Context, classroomID, studentID string) ([]models.AssignedDevice, error) {
	const query = `SELECT ` + assignedDeviceColumns + ` FROM device_assignments da JOIN devices d ON d.id = da.device_id WHERE da.classroom_id = $1 AND da.assignment_type = 'student' AND da.assignment_id = $2`
	var devices []models.AssignedDevice
	if err := r.db.SelectContext(ctx, &devices, query, classroomID, studentID); err != nil {
		return nil, fmt.Errorf("list student devices: %w", err)
	}
	return devices, nil
}

// GroupDevices returns devices assigned to any group the student belongs to.
func (r *DeviceRepository) GroupDevices(ctx context.Context, classroomID, studentID string) ([]models.AssignedDevice, error) {
	const query = `SELECT ` + assignedDeviceColumns + ` FROM device_assignments da
JOIN devices d ON d.id = da.device_id
JOIN group_memberships gm ON gm.group_id = da.assignment_id
WHERE da.classroom_id = $1 AND da.assignment_type = 'group' AND gm.student_id = $2`
	var devices []models.AssignedDevice
	if err := r.db.SelectContext(ctx, &devices, query, classroomID, studentID); err != nil {
		return nil, fmt.Errorf("list group devices: %w", err)
	}
	return devices, nil
}

// AllAssignedDevices returns every assignment in the classroom, for owners.
func (r *DeviceRepository) AllAssignedDevices(ctx context.Context, classroomID string) ([]models.AssignedDevice, error) {
	const query = `SELECT ` + assignedDeviceColumns + ` FROM device_assignments da JOIN devices d ON d.id = da.device_id WHERE da.classroom_id = $1`
	var devices []models.AssignedDevice
	if err := r.db.SelectContext(ctx, &devices, query, classroomID); err != nil {
		return nil, fmt.Errorf("list assigned devices: %w", err)
	}
	return devices, nil
}

// AssignmentClassrooms lists the classrooms a device is assigned to.
func (r *DeviceRepository) AssignmentClassrooms(ctx context.Context, deviceID string) ([]string, error) {
	const query = `SELECT classroom_id FROM device_assignments WHERE device_id = $1`
	var classrooms []string
	if err := r.db.SelectContext(ctx, &classrooms, query, deviceID); err != nil {
		return nil, fmt.Errorf("list assignment classrooms: %w", err)
	}
	return classrooms, nil
}

// HasPublicAssignment reports whether the device is publicly assigned in
// any classroom. Anonymous read paths are limited to such devices.
func (r *DeviceRepository) HasPublicAssignment(ctx context.Context, deviceID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM device_assignments WHERE device_id = $1 AND assignment_type = 'public')`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, deviceID); err != nil {
		return false, fmt.Errorf("check public assignment: %w", err)
	}
	return exists, nil
}
