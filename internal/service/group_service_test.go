package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pbit-labs/pbit-classroom-api/internal/models"
	appErrors "github.com/pbit-labs/pbit-classroom-api/pkg/errors"
)

type mockGroupRepo struct {
	groups      map[string]*models.Group
	memberships map[string]*models.GroupMembership // keyed student id
	unassigned  []models.MemberInfo
	addErr      error
	txErr       error
}

func newMockGroupRepo() *mockGroupRepo {
	return &mockGroupRepo{groups: map[string]*models.Group{}, memberships: map[string]*models.GroupMembership{}}
}

func (m *mockGroupRepo) Create(ctx context.Context, group *models.Group) error {
	group.ID = fmt.Sprintf("g%d", len(m.groups)+1)
	m.groups[group.ID] = group
	return nil
}

func (m *mockGroupRepo) FindByID(ctx context.Context, id string) (*models.Group, error) {
	group, ok := m.groups[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return group, nil
}

func (m *mockGroupRepo) ListByClassroom(ctx context.Context, classroomID string) ([]models.GroupSummary, error) {
	counts := map[string]int{}
	for _, membership := range m.memberships {
		counts[membership.GroupID]++
	}
	var summaries []models.GroupSummary
	for _, id := range sortedGroupIDs(m.groups) {
		group := m.groups[id]
		if group.ClassroomID != classroomID {
			continue
		}
		summaries = append(summaries, models.GroupSummary{Group: *group, StudentCount: counts[id]})
	}
	return summaries, nil
}

func (m *mockGroupRepo) Update(ctx context.Context, group *models.Group) error {
	if _, ok := m.groups[group.ID]; !ok {
		return sql.ErrNoRows
	}
	m.groups[group.ID] = group
	return nil
}

func (m *mockGroupRepo) Delete(ctx context.Context, groupID string) error {
	if _, ok := m.groups[groupID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.groups, groupID)
	for studentID, membership := range m.memberships {
		if membership.GroupID == groupID {
			delete(m.memberships, studentID)
		}
	}
	return nil
}

func (m *mockGroupRepo) AddMembership(ctx context.Context, membership *models.GroupMembership) error {
	if m.addErr != nil {
		return m.addErr
	}
	if _, ok := m.memberships[membership.StudentID]; ok {
		return uniqueErr()
	}
	m.memberships[membership.StudentID] = membership
	return nil
}

func (m *mockGroupRepo) FindMembershipByStudent(ctx context.Context, studentID string, studentType models.StudentType) (*models.GroupMembership, error) {
	membership, ok := m.memberships[studentID]
	if !ok || membership.StudentType != studentType {
		return nil, sql.ErrNoRows
	}
	return membership, nil
}

func (m *mockGroupRepo) RemoveMembership(ctx context.Context, groupID, studentID string) error {
	membership, ok := m.memberships[studentID]
	if !ok || membership.GroupID != groupID {
		return sql.ErrNoRows
	}
	delete(m.memberships, studentID)
	return nil
}

func (m *mockGroupRepo) ListMembers(ctx context.Context, groupID string) ([]models.MemberInfo, error) {
	var members []models.MemberInfo
	for _, membership := range m.memberships {
		if membership.GroupID == groupID {
			members = append(members, models.MemberInfo{StudentID: membership.StudentID, StudentType: membership.StudentType})
		}
	}
	return members, nil
}

func (m *mockGroupRepo) UnassignedStudents(ctx context.Context, classroomID string) ([]models.MemberInfo, error) {
	var out []models.MemberInfo
	for _, student := range m.unassigned {
		if _, ok := m.memberships[student.StudentID]; !ok {
			out = append(out, student)
		}
	}
	return out, nil
}

func (m *mockGroupRepo) AddMembershipsTx(ctx context.Context, memberships []models.GroupMembership) error {
	if m.txErr != nil {
		return m.txErr
	}
	for _, membership := range memberships {
		if _, ok := m.memberships[membership.StudentID]; ok {
			return uniqueErr()
		}
	}
	for i := range memberships {
		membership := memberships[i]
		m.memberships[membership.StudentID] = &membership
	}
	return nil
}

func sortedGroupIDs(groups map[string]*models.Group) []string {
	ids := make([]string, 0, len(groups))
	for i := 1; i <= len(groups); i++ {
		id := fmt.Sprintf("g%d", i)
		if _, ok := groups[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func newGroupService(repo *mockGroupRepo, classes *mockClassAccess, students *mockStudentResolver) *GroupService {
	if classes == nil {
		classes = &mockClassAccess{owners: map[string]string{"c1": "t1"}, members: map[string]bool{}}
	}
	if students == nil {
		students = &mockStudentResolver{members: map[string]bool{}, anon: map[string]*models.AnonymousStudent{}}
	}
	return NewGroupService(repo, classes, students, validator.New(), zap.NewNop())
}

func seedGroup(repo *mockGroupRepo, classroomID, name string) *models.Group {
	group := &models.Group{ClassroomID: classroomID, Name: name}
	_ = repo.Create(context.Background(), group)
	return group
}

func TestCreateGroupOwnerOnly(t *testing.T) {
	repo := newMockGroupRepo()
	svc := newGroupService(repo, nil, nil)

	group, err := svc.Create(context.Background(), "t1", "c1", models.CreateGroupRequest{Name: "  Red Team "})
	require.NoError(t, err)
	assert.Equal(t, "Red Team", group.Name)

	_, err = svc.Create(context.Background(), "u1", "c1", models.CreateGroupRequest{Name: "Blue Team"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAddStudentResolvesType(t *testing.T) {
	repo := newMockGroupRepo()
	group := seedGroup(repo, "c1", "Red")
	students := &mockStudentResolver{
		members: map[string]bool{"c1/u5": true},
		anon:    map[string]*models.AnonymousStudent{"a1": {StudentID: "a1", ClassID: "c1"}},
	}
	svc := newGroupService(repo, nil, students)

	registered, err := svc.AddStudent(context.Background(), "t1", "c1", group.ID, models.AddGroupStudentRequest{StudentID: "u5"})
	require.NoError(t, err)
	assert.Equal(t, models.StudentRegistered, registered.StudentType)

	anonymous, err := svc.AddStudent(context.Background(), "t1", "c1", group.ID, models.AddGroupStudentRequest{StudentID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, models.StudentAnonymous, anonymous.StudentType)
}

func TestAddStudentUnknownStudent(t *testing.T) {
	repo := newMockGroupRepo()
	group := seedGroup(repo, "c1", "Red")
	svc := newGroupService(repo, nil, nil)

	_, err := svc.AddStudent(context.Background(), "t1", "c1", group.ID, models.AddGroupStudentRequest{StudentID: "ghost"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAddStudentAlreadyGrouped(t *testing.T) {
	repo := newMockGroupRepo()
	red := seedGroup(repo, "c1", "Red")
	blue := seedGroup(repo, "c1", "Blue")
	students := &mockStudentResolver{members: map[string]bool{"c1/u5": true}, anon: map[string]*models.AnonymousStudent{}}
	svc := newGroupService(repo, nil, students)

	_, err := svc.AddStudent(context.Background(), "t1", "c1", red.ID, models.AddGroupStudentRequest{StudentID: "u5"})
	require.NoError(t, err)

	_, err = svc.AddStudent(context.Background(), "t1", "c1", blue.ID, models.AddGroupStudentRequest{StudentID: "u5"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAddStudentAnonymousFromOtherClass(t *testing.T) {
	repo := newMockGroupRepo()
	group := seedGroup(repo, "c1", "Red")
	students := &mockStudentResolver{
		members: map[string]bool{},
		anon:    map[string]*models.AnonymousStudent{"a1": {StudentID: "a1", ClassID: "other"}},
	}
	svc := newGroupService(repo, nil, students)

	_, err := svc.AddStudent(context.Background(), "t1", "c1", group.ID, models.AddGroupStudentRequest{StudentID: "a1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestGroupLookupScopedToClassroom(t *testing.T) {
	repo := newMockGroupRepo()
	foreign := seedGroup(repo, "other", "Elsewhere")
	classes := &mockClassAccess{owners: map[string]string{"c1": "t1", "other": "t1"}, members: map[string]bool{}}
	svc := newGroupService(repo, classes, nil)

	err := svc.Delete(context.Background(), "t1", "c1", foreign.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRandomDistributeNeedsGroups(t *testing.T) {
	repo := newMockGroupRepo()
	repo.unassigned = []models.MemberInfo{{StudentID: "u1", StudentType: models.StudentRegistered}}
	svc := newGroupService(repo, nil, nil)

	_, err := svc.RandomDistribute(context.Background(), "t1", "c1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRandomDistributeNeedsStudents(t *testing.T) {
	repo := newMockGroupRepo()
	seedGroup(repo, "c1", "Red")
	svc := newGroupService(repo, nil, nil)

	_, err := svc.RandomDistribute(context.Background(), "t1", "c1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRandomDistributeBalancesGroups(t *testing.T) {
	repo := newMockGroupRepo()
	seedGroup(repo, "c1", "Red")
	seedGroup(repo, "c1", "Blue")
	seedGroup(repo, "c1", "Green")
	for i := 0; i < 7; i++ {
		repo.unassigned = append(repo.unassigned, models.MemberInfo{
			StudentID:   fmt.Sprintf("u%d", i),
			StudentType: models.StudentRegistered,
		})
	}
	svc := newGroupService(repo, nil, nil)

	result, err := svc.RandomDistribute(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 7, result.StudentCount)
	require.Len(t, result.Groups, 3)

	total := 0
	for _, summary := range result.Groups {
		assert.GreaterOrEqual(t, summary.StudentCount, 2)
		assert.LessOrEqual(t, summary.StudentCount, 3)
		total += summary.StudentCount
	}
	assert.Equal(t, 7, total)
}

func TestRandomDistributeSkipsGroupedStudents(t *testing.T) {
	repo := newMockGroupRepo()
	red := seedGroup(repo, "c1", "Red")
	repo.memberships["u0"] = &models.GroupMembership{GroupID: red.ID, StudentID: "u0", StudentType: models.StudentRegistered}
	repo.unassigned = []models.MemberInfo{
		{StudentID: "u0", StudentType: models.StudentRegistered},
		{StudentID: "u1", StudentType: models.StudentRegistered},
	}
	svc := newGroupService(repo, nil, nil)

	result, err := svc.RandomDistribute(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.StudentCount)
}

func TestRandomDistributeConcurrentConflict(t *testing.T) {
	repo := newMockGroupRepo()
	seedGroup(repo, "c1", "Red")
	repo.unassigned = []models.MemberInfo{{StudentID: "u1", StudentType: models.StudentRegistered}}
	repo.txErr = uniqueErr()
	svc := newGroupService(repo, nil, nil)

	_, err := svc.RandomDistribute(context.Background(), "t1", "c1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestDeleteGroupRemovesMemberships(t *testing.T) {
	repo := newMockGroupRepo()
	group := seedGroup(repo, "c1", "Red")
	repo.memberships["u1"] = &models.GroupMembership{GroupID: group.ID, StudentID: "u1", StudentType: models.StudentRegistered}
	svc := newGroupService(repo, nil, nil)

	require.NoError(t, svc.Delete(context.Background(), "t1", "c1", group.ID))
	assert.Empty(t, repo.memberships)
	assert.Empty(t, repo.groups)
}
