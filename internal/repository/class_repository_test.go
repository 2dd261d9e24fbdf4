package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbit-labs/pbit-classroom-api/internal/models"
)

func TestFindClassByPassphrase(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "subject", "description", "passphrase", "owner_id", "created_at"}).
		AddRow("c1", "Physics", "Science", nil, "ABCD-EFGH", "u1", now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, subject, description, passphrase, owner_id, created_at FROM classes WHERE passphrase = $1 LIMIT 1")).
		WithArgs("ABCD-EFGH").
		WillReturnRows(rows)

	class, err := repo.FindByPassphrase(context.Background(), "ABCD-EFGH")
	require.NoError(t, err)
	assert.Equal(t, "c1", class.ID)
	assert.Equal(t, "ABCD-EFGH", class.Passphrase)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddMemberDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectExec("INSERT INTO class_members").WillReturnError(uniqueViolationErr())

	err := repo.AddMember(context.Background(), &models.ClassMember{ClassID: "c1", UserID: "u1"})
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteClassCascade(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM device_assignments WHERE classroom_id").WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM group_memberships WHERE group_id IN").WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("DELETE FROM groups WHERE classroom_id").WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM anonymous_students WHERE class_id").WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM class_members WHERE class_id").WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectExec("DELETE FROM classes WHERE id").WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Delete(context.Background(), "c1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteClassRollsBackOnFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM device_assignments WHERE classroom_id").WithArgs("c1").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "c1")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListMembersUnion(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"student_id", "first_name", "last_name", "student_type", "joined_at", "pin_code", "pin_reset_required"}).
		AddRow("u2", "Bob", "Builder", "registered", now, nil, false).
		AddRow("a1", "Alice", "", "anonymous", now, "1234", false)
	mock.ExpectQuery("SELECT student_id, first_name, last_name, student_type, joined_at, pin_code, pin_reset_required FROM").
		WithArgs("c1").
		WillReturnRows(rows)

	members, err := repo.ListMembers(context.Background(), "c1", "joined_at", "asc")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, models.StudentRegistered, members[0].StudentType)
	assert.Equal(t, models.StudentAnonymous, members[1].StudentType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearAnonymousPINNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectExec("UPDATE anonymous_students SET pin_code = NULL").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ClearAnonymousPIN(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAnonymousRemovesGroupMembership(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM group_memberships WHERE student_id").WithArgs("a1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM anonymous_students WHERE student_id").WithArgs("a1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.DeleteAnonymous(context.Background(), "a1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
