package models

import "time"

// Class represents a classroom owned by a teacher.
type Class struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Subject     string    `db:"subject" json:"subject"`
	Description *string   `db:"description" json:"description"`
	Passphrase  string    `db:"passphrase" json:"passphrase,omitempty"`
	OwnerID     string    `db:"owner_id" json:"owner_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ClassSummary is a class row joined with ownership and membership info for
// list endpoints.
type ClassSummary struct {
	Class
	OwnerName   string     `db:"owner_name" json:"owner_name"`
	MemberCount int        `db:"member_count" json:"member_count"`
	JoinedAt    *time.Time `db:"joined_at" json:"joined_at,omitempty"`
}

// ClassMember links a registered user to a class.
type ClassMember struct {
	ID       string    `db:"id" json:"id"`
	ClassID  string    `db:"class_id" json:"class_id"`
	UserID   string    `db:"user_id" json:"user_id"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

// AnonymousStudent is a classroom participant identified by first name and
// PIN instead of a full account. First names are unique within a class.
type AnonymousStudent struct {
	StudentID        string    `db:"student_id" json:"student_id"`
	ClassID          string    `db:"class_id" json:"class_id"`
	FirstName        string    `db:"first_name" json:"first_name"`
	PinCode          *string   `db:"pin_code" json:"-"`
	PinResetRequired bool      `db:"pin_reset_required" json:"pin_reset_required"`
	JoinedAt         time.Time `db:"joined_at" json:"joined_at"`
	LastActiveAt     time.Time `db:"last_active_at" json:"last_active_at"`
}

// StudentType distinguishes how a classroom student is identified.
type StudentType string

const (
	StudentRegistered StudentType = "registered"
	StudentAnonymous  StudentType = "anonymous"
)

// MemberInfo is one row of a class member listing: registered members and
// anonymous students share the shape.
type MemberInfo struct {
	StudentID        string      `db:"student_id" json:"student_id"`
	FirstName        string      `db:"first_name" json:"first_name"`
	LastName         string      `db:"last_name" json:"last_name"`
	StudentType      StudentType `db:"student_type" json:"student_type"`
	JoinedAt         time.Time   `db:"joined_at" json:"joined_at"`
	PinCode          *string     `db:"pin_code" json:"pin_code,omitempty"`
	PinResetRequired bool        `db:"pin_reset_required" json:"pin_reset_required"`
}

// CreateClassRequest holds the payload for creating a classroom.
type CreateClassRequest struct {
	Name        string  `json:"name" validate:"required,min=1,max=100"`
	Subject     string  `json:"subject" validate:"required,min=1,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
}

// JoinClassRequest joins an authenticated user via passphrase.
type JoinClassRequest struct {
	Passphrase string `json:"passphrase" validate:"required,min=8,max=16"`
}

// JoinAnonymousRequest joins a classroom with a first name and PIN instead
// of an account. On first join the PIN is stored; on re-entry it is
// verified against the stored one.
type JoinAnonymousRequest struct {
	Passphrase string `json:"passphrase" validate:"required,min=8,max=16"`
	FirstName  string `json:"first_name" validate:"required,min=1,max=50"`
	PinCode    string `json:"pin_code" validate:"required,len=4,numeric"`
}

// MemberSort captures the supported member listing sort keys.
var MemberSortColumns = map[string]string{
	"joined_at":  "joined_at",
	"first_name": "first_name",
	"user_id":    "student_id",
}
