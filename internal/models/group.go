package models

import "time"

// Group is a named subset of a classroom's students.
type Group struct {
	ID          string    `db:"id" json:"id"`
	ClassroomID string    `db:"classroom_id" json:"classroom_id"`
	Name        string    `db:"name" json:"name"`
	Icon        *string   `db:"icon" json:"icon"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// GroupMembership links one student to a group. A student belongs to at
// most one group, enforced by UNIQUE (student_id, student_type).
type GroupMembership struct {
	ID          string      `db:"id" json:"id"`
	GroupID     string      `db:"group_id" json:"group_id"`
	StudentID   string      `db:"student_id" json:"student_id"`
	StudentType StudentType `db:"student_type" json:"student_type"`
	AssignedAt  time.Time   `db:"assigned_at" json:"assigned_at"`
}

// GroupSummary is a group with its member count, for listings.
type GroupSummary struct {
	Group
	StudentCount int `db:"student_count" json:"student_count"`
}

// CreateGroupRequest creates a group inside a classroom.
type CreateGroupRequest struct {
	Name string  `json:"name" validate:"required,min=1,max=100"`
	Icon *string `json:"icon" validate:"omitempty,max=50"`
}

// UpdateGroupRequest renames a group or changes its icon.
type UpdateGroupRequest struct {
	Name string  `json:"name" validate:"required,min=1,max=100"`
	Icon *string `json:"icon" validate:"omitempty,max=50"`
}

// AddGroupStudentRequest places one student into a group.
type AddGroupStudentRequest struct {
	StudentID string `json:"student_id" validate:"required"`
}

// DistributeResult reports a random distribution outcome.
type DistributeResult struct {
	Groups       []GroupSummary `json:"groups"`
	StudentCount int            `json:"student_count"`
}
