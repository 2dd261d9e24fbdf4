package models

import "time"

// Device is the physical P-BIT sensor. Identity is the normalised MAC
// address when the hardware exposes one, otherwise a generated UUID with a
// NULL MAC. Ownership lives in bookmarks, not on the device row.
type Device struct {
	ID           string     `db:"id" json:"id"`
	MacAddress   *string    `db:"mac_address" json:"mac_address"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	BatteryLevel float64    `db:"battery_level" json:"battery_level"`
	LastSeen     *time.Time `db:"last_seen" json:"last_seen"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// DeviceBookmark is a per-user nickname for a shared device. Several
// teachers may bookmark the same physical device.
type DeviceBookmark struct {
	ID        string    `db:"id" json:"id"`
	DeviceID  string    `db:"device_id" json:"device_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Nickname  string    `db:"nickname" json:"nickname"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// BookmarkedDevice joins a bookmark with its device status for listings.
type BookmarkedDevice struct {
	DeviceBookmark
	MacAddress   *string    `db:"mac_address" json:"mac_address"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	BatteryLevel float64    `db:"battery_level" json:"battery_level"`
	LastSeen     *time.Time `db:"last_seen" json:"last_seen"`
}

// AssignmentType scopes device visibility within a classroom.
type AssignmentType string

const (
	AssignmentPublic  AssignmentType = "public"
	AssignmentStudent AssignmentType = "student"
	AssignmentGroup   AssignmentType = "group"
)

// Valid reports whether the assignment type is one of the known values.
func (t AssignmentType) Valid() bool {
	switch t {
	case AssignmentPublic, AssignmentStudent, AssignmentGroup:
		return true
	}
	return false
}

// DeviceAssignment binds a device to a visibility scope within one
// classroom. At most one row exists per (device, classroom) pair.
type DeviceAssignment struct {
	ID             string         `db:"id" json:"id"`
	DeviceID       string         `db:"device_id" json:"device_id"`
	ClassroomID    string         `db:"classroom_id" json:"classroom_id"`
	AssignmentType AssignmentType `db:"assignment_type" json:"assignment_type"`
	AssignmentID   *string        `db:"assignment_id" json:"assignment_id"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// RegisterDeviceRequest registers or re-bookmarks a physical device.
type RegisterDeviceRequest struct {
	MacAddress *string `json:"mac_address" validate:"omitempty,mac"`
	Nickname   string  `json:"nickname" validate:"required,min=1,max=50"`
}

// AssignDeviceRequest binds a device to a classroom visibility scope.
// AssignmentID targets a student or group; it must be empty for public.
type AssignDeviceRequest struct {
	DeviceID       string         `json:"device_id" validate:"required"`
	AssignmentType AssignmentType `json:"assignment_type" validate:"required,oneof=public student group"`
	AssignmentID   *string        `json:"assignment_id" validate:"omitempty"`
}

// UpdateAssignmentRequest changes an existing assignment's scope.
type UpdateAssignmentRequest struct {
	ClassroomID    string         `json:"classroom_id" validate:"required"`
	AssignmentType AssignmentType `json:"assignment_type" validate:"required,oneof=public student group"`
	AssignmentID   *string        `json:"assignment_id" validate:"omitempty"`
}

// AssignedDevice joins an assignment with its device for listings.
type AssignedDevice struct {
	DeviceID       string         `db:"device_id" json:"device_id"`
	MacAddress     *string        `db:"mac_address" json:"mac_address"`
	IsActive       bool           `db:"is_active" json:"is_active"`
	BatteryLevel   float64        `db:"battery_level" json:"battery_level"`
	LastSeen       *time.Time     `db:"last_seen" json:"last_seen"`
	AssignmentType AssignmentType `db:"assignment_type" json:"assignment_type"`
	AssignmentID   *string        `db:"assignment_id" json:"assignment_id"`
}
