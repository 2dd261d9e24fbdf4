package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbit-labs/pbit-classroom-api/internal/models"
)

func TestAddMembershipAlreadyGrouped(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGroupRepository(db)

	mock.ExpectExec("INSERT INTO group_memberships").WillReturnError(uniqueViolationErr())

	err := repo.AddMembership(context.Background(), &models.GroupMembership{GroupID: "g1", StudentID: "s1", StudentType: models.StudentRegistered})
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListGroupsWithCounts(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGroupRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "classroom_id", "name", "icon", "created_at", "student_count"}).
		AddRow("g1", "c1", "Red Team", nil, now, 4).
		AddRow("g2", "c1", "Blue Team", nil, now, 3)
	mock.ExpectQuery("SELECT g.id, g.classroom_id, g.name, g.icon, g.created_at").
		WithArgs("c1").
		WillReturnRows(rows)

	groups, err := repo.ListByClassroom(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, 4, groups[0].StudentCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteGroupCascadesMemberships(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGroupRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM group_memberships WHERE group_id").WithArgs("g1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM groups WHERE id").WithArgs("g1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Delete(context.Background(), "g1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddMembershipsTxRollsBackOnConflict(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGroupRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO group_memberships").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO group_memberships").WillReturnError(uniqueViolationErr())
	mock.ExpectRollback()

	memberships := []models.GroupMembership{
		{GroupID: "g1", StudentID: "s1", StudentType: models.StudentRegistered},
		{GroupID: "g2", StudentID: "s2", StudentType: models.StudentAnonymous},
	}
	err := repo.AddMembershipsTx(context.Background(), memberships)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveMembershipNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGroupRepository(db)

	mock.ExpectExec("DELETE FROM group_memberships WHERE group_id").
		WithArgs("g1", "s1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RemoveMembership(context.Background(), "g1", "s1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
