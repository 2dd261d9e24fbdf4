package models

import "time"

// UserRole represents the account roles understood by the API.
type UserRole string

const (
	RoleTeacher UserRole = "teacher"
	RoleStudent UserRole = "student"
)

// Valid reports whether the role is one of the known values.
func (r UserRole) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// User represents an application user stored in the users table.
//
// Identifier is an email address for teachers and a free-form username for
// students. The PIN columns exist for the legacy anonymous-student path;
// AnonymousStudent is the current mechanism.
type User struct {
	ID               string    `db:"id" json:"id"`
	Identifier       string    `db:"identifier" json:"identifier"`
	FirstName        string    `db:"first_name" json:"first_name"`
	LastName         string    `db:"last_name" json:"last_name"`
	PasswordHash     string    `db:"password_hash" json:"-"`
	Role             UserRole  `db:"role" json:"role"`
	PinCode          *string   `db:"pin_code" json:"-"`
	PinResetRequired bool      `db:"pin_reset_required" json:"-"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// FullName renders the display name used in member listings.
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
