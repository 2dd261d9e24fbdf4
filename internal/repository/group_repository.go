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

// GroupRepository handles persistence of classroom groups and their
// memberships.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository constructs the repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Create inserts a group.
func (r *GroupRepository) Create(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO groups (id, classroom_id, name, icon, created_at) VALUES (:id, :classroom_id, :name, :icon, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, group); err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

// FindByID returns a group by primary key.
func (r *GroupRepository) FindByID(ctx context.Context, id string) (*models.Group, error) {
	const query = `SELECT id, classroom_id, name, icon, created_at FROM groups WHERE id = $1 LIMIT 1`
	var group models.Group
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find group by id: %w", err)
	}
	return &group, nil
}

// ListByClassroom returns the classroom's groups with member counts.
func (r *GroupRepository) ListByClassroom(ctx context.Context, classroomID string) ([]models.GroupSummary, error) {
	const query = `SELECT g.id, g.classroom_id, g.name, g.icon, g.created_at,
(SELECT COUNT(*) FROM group_memberships gm WHERE gm.group_id = g.id) AS student_count
FROM groups g
WHERE g.classroom_id = $1
ORDER BY g.created_at ASC`

	var groups []models.GroupSummary
	if err := r.db.SelectContext(ctx, &groups, query, classroomID); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// Update changes a group's name and icon.
func (r *GroupRepository) Update(ctx context.Context, group *models.Group) error {
	const query = `UPDATE groups SET name = :name, icon = :icon WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, group); err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	return nil
}

// Delete removes a group and its memberships in one transaction.
func (r *GroupRepository) Delete(ctx context.Context, groupID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete group: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_memberships WHERE group_id = $1`, groupID); err != nil {
		return fmt.Errorf("delete group memberships: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, groupID); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete group: %w", err)
	}
	return nil
}

// AddMembership places a student into a group. A student already in a
// group surfaces as a unique violation.
func (r *GroupRepository) AddMembership(ctx context.Context, membership *models.GroupMembership) error {
	if membership.ID == "" {
		membership.ID = uuid.NewString()
	}
	if membership.AssignedAt.IsZero() {
		membership.AssignedAt = time.Now().UTC()
	}

	const query = `INSERT INTO group_memberships (id, group_id, student_id, student_type, assigned_at) VALUES (:id, :group_id, :student_id, :student_type, :assigned_at)`
	if _, err := r.db.NamedExecContext(ctx, query, membership); err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("add group membership: %w", err)
	}
	return nil
}

// RemoveMembership drops a student from a group.
func (r *GroupRepository) RemoveMembership(ctx context.Context, groupID, studentID string) error {
	const query = `DELETE FROM group_memberships WHERE group_id = $1 AND student_id = $2`
	res, err := r.db.ExecContext(ctx, query, groupID, studentID)
	if err != nil {
		return fmt.Errorf("remove group membership: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove group membership: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindMembershipByStudent returns a student's membership, if any, across
// all groups.
func (r *GroupRepository) FindMembershipByStudent(ctx context.Context, studentID string, studentType models.StudentType) (*models.GroupMembership, error) {
	const query = `SELECT id, group_id, student_id, student_type, assigned_at FROM group_memberships WHERE student_id = $1 AND student_type = $2 LIMIT 1`
	var membership models.GroupMembership
	if err := r.db.GetContext(ctx, &membership, query, studentID, studentType); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find group membership: %w", err)
	}
	return &membership, nil
}

// ListMembers returns group member rows joined with student names.
func (r *GroupRepository) ListMembers(ctx context.Context, groupID string) ([]models.MemberInfo, error) {
	const query = `SELECT student_id, first_name, last_name, student_type, joined_at, NULL AS pin_code, FALSE AS pin_reset_required FROM (
SELECT gm.student_id, u.first_name, u.last_name, gm.student_type, gm.assigned_at AS joined_at
FROM group_memberships gm JOIN users u ON u.id = gm.student_id
WHERE gm.group_id = $1 AND gm.student_type = 'registered'
UNION ALL
SELECT gm.student_id, a.first_name, '' AS last_name, gm.student_type, gm.assigned_at AS joined_at
FROM group_memberships gm JOIN anonymous_students a ON a.student_id = gm.student_id
WHERE gm.group_id = $1 AND gm.student_type = 'anonymous'
) members ORDER BY joined_at ASC`

	var members []models.MemberInfo
	if err := r.db.SelectContext(ctx, &members, query, groupID); err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	return members, nil
}

// UnassignedStudents returns the classroom students who are not yet in any
// group, registered and anonymous alike.
func (r *GroupRepository) UnassignedStudents(ctx context.Context, classroomID string) ([]models.MemberInfo, error) {
	const query = `SELECT student_id, first_name, last_name, student_type, joined_at, NULL AS pin_code, FALSE AS pin_reset_required FROM (
SELECT u.id AS student_id, u.first_name, u.last_name, 'registered' AS student_type, cm.joined_at
FROM class_members cm JOIN users u ON u.id = cm.user_id
WHERE cm.class_id = $1 AND NOT EXISTS (SELECT 1 FROM group_memberships gm WHERE gm.student_id = u.id AND gm.student_type = 'registered')
UNION ALL
SELECT a.student_id, a.first_name, '' AS last_name, 'anonymous' AS student_type, a.joined_at
FROM anonymous_students a
WHERE a.class_id = $1 AND NOT EXISTS (SELECT 1 FROM group_memberships gm WHERE gm.student_id = a.student_id AND gm.student_type = 'anonymous')
) students ORDER BY joined_at ASC`

	var students []models.MemberInfo
	if err := r.db.SelectContext(ctx, &students, query, classroomID); err != nil {
		return nil, fmt.Errorf("list unassigned students: %w", err)
	}
	return students, nil
}

// AddMembershipsTx inserts a set of memberships atomically, used by random
// distribution so a failure assigns nobody.
func (r *GroupRepository) AddMembershipsTx(ctx context.Context, memberships []models.GroupMembership) error {
	if len(memberships) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add memberships: %w", err)
	}
	defer tx.Rollback()

	const query = `INSERT INTO group_memberships (id, group_id, student_id, student_type, assigned_at) VALUES (:id, :group_id, :student_id, :student_type, :assigned_at)`
	now := time.Now().UTC()
	for i := range memberships {
		if memberships[i].ID == "" {
			memberships[i].ID = uuid.NewString()
		}
		if memberships[i].AssignedAt.IsZero() {
			memberships[i].AssignedAt = now
		}
		if _, err := tx.NamedExecContext(ctx, query, memberships[i]); err != nil {
			if IsUniqueViolation(err) {
				return err
			}
			return fmt.Errorf("add group membership: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add memberships: %w", err)
	}
	return nil
}
