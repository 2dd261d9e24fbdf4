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

// ClassRepository handles persistence of classrooms, their registered
// members and their anonymous students.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

const classColumns = `id, name, subject, description, passphrase, owner_id, created_at`

// Create inserts a classroom. A duplicate passphrase surfaces as a unique
// violation so the caller can regenerate and retry.
func (r *ClassRepository) Create(ctx context.Context, class *models.Class) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	if class.CreatedAt.IsZero() {
		class.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO classes (id, name, subject, description, passphrase, owner_id, created_at) VALUES (:id, :name, :subject, :description, :passphrase, :owner_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

// FindByID returns a classroom by primary key.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	const query = `SELECT ` + classColumns + ` FROM classes WHERE id = $1 LIMIT 1`
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find class by id: %w", err)
	}
	return &class, nil
}

// FindByPassphrase returns the classroom matching a join code.
func (r *ClassRepository) FindByPassphrase(ctx context.Context, passphrase string) (*models.Class, error) {
	const query = `SELECT ` + classColumns + ` FROM classes WHERE passphrase = $1 LIMIT 1`
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, passphrase); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find class by passphrase: %w", err)
	}
	return &class, nil
}

// Delete removes a classroom and everything scoped to it in one
// transaction: device assignments, group memberships, groups, anonymous
// students and registered memberships.
func (r *ClassRepository) Delete(ctx context.Context, classID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete class: %w", err)
	}
	defer tx.Rollback()

	steps := []string{
		`DELETE FROM device_assignments WHERE classroom_id = $1`,
		`DELETE FROM group_memberships WHERE group_id IN (SELECT id FROM groups WHERE classroom_id = $1)`,
		`DELETE FROM groups WHERE classroom_id = $1`,
		`DELETE FROM anonymous_students WHERE class_id = $1`,
		`DELETE FROM class_members WHERE class_id = $1`,
		`DELETE FROM classes WHERE id = $1`,
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step, classID); err != nil {
			return fmt.Errorf("delete class cascade: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete class: %w", err)
	}
	return nil
}

// AddMember enrolls a registered user. A duplicate membership surfaces as a
// unique violation.
func (r *ClassRepository) AddMember(ctx context.Context, member *models.ClassMember) error {
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}

	const query = `INSERT INTO class_members (id, class_id, user_id, joined_at) VALUES (:id, :class_id, :user_id, :joined_at)`
	if _, err := r.db.NamedExecContext(ctx, query, member); err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("add class member: %w", err)
	}
	return nil
}

// IsMember reports whether a registered user is enrolled in the class.
func (r *ClassRepository) IsMember(ctx context.Context, classID, userID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM class_members WHERE class_id = $1 AND user_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, classID, userID); err != nil {
		return false, fmt.Errorf("check class membership: %w", err)
	}
	return exists, nil
}

// RemoveMember deletes a registered membership. Returns sql.ErrNoRows when
// no membership existed.
func (r *ClassRepository) RemoveMember(ctx context.Context, classID, userID string) error {
	const query = `DELETE FROM class_members WHERE class_id = $1 AND user_id = $2`
	res, err := r.db.ExecContext(ctx, query, classID, userID)
	if err != nil {
		return fmt.Errorf("remove class member: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove class member: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Owned lists the classrooms a teacher owns, with member counts covering
// both registered and anonymous students.
func (r *ClassRepository) Owned(ctx context.Context, ownerID string) ([]models.ClassSummary, error) {
	const query = `SELECT c.id, c.name, c.subject, c.description, c.passphrase, c.owner_id, c.created_at,
u.first_name || CASE WHEN u.last_name = '' THEN '' ELSE ' ' || u.last_name END AS owner_name,
(SELECT COUNT(*) FROM class_members m WHERE m.class_id = c.id) + (SELECT COUNT(*) FROM anonymous_students a WHERE a.class_id = c.id) AS member_count
FROM classes c
JOIN users u ON u.id = c.owner_id
WHERE c.owner_id = $1
ORDER BY c.created_at DESC`

	var classes []models.ClassSummary
	if err := r.db.SelectContext(ctx, &classes, query, ownerID); err != nil {
		return nil, fmt.Errorf("list owned classes: %w", err)
	}
	return classes, nil
}

// Enrolled lists the classrooms a registered user has joined.
func (r *ClassRepository) Enrolled(ctx context.Context, userID string) ([]models.ClassSummary, error) {
	const query = `SELECT c.id, c.name, c.subject, c.description, '' AS passphrase, c.owner_id, c.created_at,
u.first_name || CASE WHEN u.last_name = '' THEN '' ELSE ' ' || u.last_name END AS owner_name,
(SELECT COUNT(*) FROM class_members m WHERE m.class_id = c.id) + (SELECT COUNT(*) FROM anonymous_students a WHERE a.class_id = c.id) AS member_count,
cm.joined_at
FROM class_members cm
JOIN classes c ON c.id = cm.class_id
JOIN users u ON u.id = c.owner_id
WHERE cm.user_id = $1
ORDER BY cm.joined_at DESC`

	var classes []models.ClassSummary
	if err := r.db.SelectContext(ctx, &classes, query, userID); err != nil {
		return nil, fmt.Errorf("list enrolled classes: %w", err)
	}
	return classes, nil
}

// ListMembers returns registered members and anonymous students of a class
// in one query, so listing a large class is a single round trip.
func (r *ClassRepository) ListMembers(ctx context.Context, classID, sortBy, order string) ([]models.MemberInfo, error) {
	column, ok := models.MemberSortColumns[sortBy]
	if !ok {
		column = "joined_at"
	}
	direction := "ASC"
	if strings.EqualFold(order, "desc") {
		direction = "DESC"
	}

	query := fmt.Sprintf(`SELECT student_id, first_name, last_name, student_type, joined_at, pin_code, pin_reset_required FROM (
SELECT u.id AS student_id, u.first_name, u.last_name, 'registered' AS student_type, cm.joined_at, NULL AS pin_code, FALSE AS pin_reset_required
FROM class_members cm JOIN users u ON u.id = cm.user_id
WHERE cm.class_id = $1
UNION ALL
SELECT a.student_id, a.first_name, '' AS last_name, 'anonymous' AS student_type, a.joined_at, a.pin_code, a.pin_reset_required
FROM anonymous_students a
WHERE a.class_id = $1
) members ORDER BY %s %s`, column, direction)

	var members []models.MemberInfo
	if err := r.db.SelectContext(ctx, &members, query, classID); err != nil {
		return nil, fmt.Errorf("list class members: %w", err)
	}
	return members, nil
}

// CreateAnonymous inserts an anonymous student. A duplicate first name in
// the class surfaces as a unique violation.
func (r *ClassRepository) CreateAnonymous(ctx context.Context, student *models.AnonymousStudent) error {
	if student.StudentID == "" {
		student.StudentID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.JoinedAt.IsZero() {
		student.JoinedAt = now
	}
	student.LastActiveAt = now

	const query = `INSERT INTO anonymous_students (student_id, class_id, first_name, pin_code, pin_reset_required, joined_at, last_active_at) VALUES (:student_id, :class_id, :first_name, :pin_code, :pin_reset_required, :joined_at, :last_active_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("create anonymous student: %w", err)
	}
	return nil
}

// FindAnonymousByName looks up an anonymous student by the class-scoped
// first name. Name matching is exact.
func (r *ClassRepository) FindAnonymousByName(ctx context.Context, classID, firstName string) (*models.AnonymousStudent, error) {
	const query = `SELECT student_id, class_id, first_name, pin_code, pin_reset_required, joined_at, last_active_at FROM anonymous_students WHERE class_id = $1 AND first_name = $2 LIMIT 1`
	var student models.AnonymousStudent
	if err := r.db.GetContext(ctx, &student, query, classID, firstName); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find anonymous student by name: %w", err)
	}
	return &student, nil
}

// FindAnonymousByID returns an anonymous student by primary key.
func (r *ClassRepository) FindAnonymousByID(ctx context.Context, studentID string) (*models.AnonymousStudent, error) {
	const query = `SELECT student_id, class_id, first_name, pin_code, pin_reset_required, joined_at, last_active_at FROM anonymous_students WHERE student_id = $1 LIMIT 1`
	var student models.AnonymousStudent
	if err := r.db.GetContext(ctx, &student, query, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find anonymous student by id: %w", err)
	}
	return &student, nil
}

// UpdateAnonymousPIN stores a new PIN and clears the reset flag.
func (r *ClassRepository) UpdateAnonymousPIN(ctx context.Context, studentID, pin string) error {
	const query = `UPDATE anonymous_students SET pin_code = $2, pin_reset_required = FALSE, last_active_at = $3 WHERE student_id = $1`
	if _, err := r.db.ExecContext(ctx, query, studentID, pin, time.Now().UTC()); err != nil {
		return fmt.Errorf("update anonymous pin: %w", err)
	}
	return nil
}

// ClearAnonymousPIN wipes a student's PIN and flags a reset, forcing the
// student to choose a new PIN on next entry.
func (r *ClassRepository) ClearAnonymousPIN(ctx context.Context, studentID string) error {
	const query = `UPDATE anonymous_students SET pin_code = NULL, pin_reset_required = TRUE WHERE student_id = $1`
	res, err := r.db.ExecContext(ctx, query, studentID)
	if err != nil {
		return fmt.Errorf("clear anonymous pin: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("clear anonymous pin: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TouchAnonymous bumps a student's last_active_at.
func (r *ClassRepository) TouchAnonymous(ctx context.Context, studentID string) error {
	const query = `UPDATE anonymous_students SET last_active_at = $2 WHERE student_id = $1`
	if _, err := r.db.ExecContext(ctx, query, studentID, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch anonymous student: %w", err)
	}
	return nil
}

// DeleteAnonymous removes an anonymous student and any group membership in
// one transaction.
func (r *ClassRepository) DeleteAnonymous(ctx context.Context, studentID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete anonymous student: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_memberships WHERE student_id = $1 AND student_type = 'anonymous'`, studentID); err != nil {
		return fmt.Errorf("delete anonymous group membership: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM anonymous_students WHERE student_id = $1`, studentID)
	if err != nil {
		return fmt.Errorf("delete anonymous student: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete anonymous student: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete anonymous student: %w", err)
	}
	return nil
}
