package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pbit-labs/pbit-classroom-api/internal/models"
	appErrors "github.com/pbit-labs/pbit-classroom-api/pkg/errors"
)

func uniqueErr() error {
	return &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
}

type mockClassRepo struct {
	classes       map[string]*models.Class
	byPassphrase  map[string]*models.Class
	members       map[string]bool
	anonByName    map[string]*models.AnonymousStudent
	anonByID      map[string]*models.AnonymousStudent
	memberList    []models.MemberInfo
	createErrs    []error
	addMemberErr  error
	createAnonErr error
	deleted       []string
	pinCleared    []string
	pinUpdated    map[string]string
	removed       []string
	anonDeleted   []string
	touched       []string
}

func newMockClassRepo() *mockClassRepo {
	return &mockClassRepo{
		classes:      map[string]*models.Class{},
		byPassphrase: map[string]*models.Class{},
		members:      map[string]bool{},
		anonByName:   map[string]*models.AnonymousStudent{},
		anonByID:     map[string]*models.AnonymousStudent{},
		pinUpdated:   map[string]string{},
	}
}

func (m *mockClassRepo) Create(ctx context.Context, class *models.Class) error {
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return err
		}
	}
	class.ID = "generated"
	m.classes[class.ID] = class
	m.byPassphrase[class.Passphrase] = class
	return nil
}

func (m *mockClassRepo) FindByID(ctx context.Context, id string) (*models.Class, error) {
	class, ok := m.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *class
	return &copied, nil
}

func (m *mockClassRepo) FindByPassphrase(ctx context.Context, passphrase string) (*models.Class, error) {
	class, ok := m.byPassphrase[passphrase]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *class
	return &copied, nil
}

func (m *mockClassRepo) Delete(ctx context.Context, classID string) error {
	m.deleted = append(m.deleted, classID)
	return nil
}

func (m *mockClassRepo) AddMember(ctx context.Context, member *models.ClassMember) error {
	if m.addMemberErr != nil {
		return m.addMemberErr
	}
	m.members[member.ClassID+"/"+member.UserID] = true
	return nil
}

func (m *mockClassRepo) IsMember(ctx context.Context, classID, userID string) (bool, error) {
	return m.members[classID+"/"+userID], nil
}

func (m *mockClassRepo) RemoveMember(ctx context.Context, classID, userID string) error {
	if !m.members[classID+"/"+userID] {
		return sql.ErrNoRows
	}
	delete(m.members, classID+"/"+userID)
	m.removed = append(m.removed, userID)
	return nil
}

func (m *mockClassRepo) Owned(ctx context.Context, ownerID string) ([]models.ClassSummary, error) {
	return nil, nil
}

func (m *mockClassRepo) Enrolled(ctx context.Context, userID string) ([]models.ClassSummary, error) {
	return nil, nil
}

func (m *mockClassRepo) ListMembers(ctx context.Context, classID, sortBy, order string) ([]models.MemberInfo, error) {
	out := make([]models.MemberInfo, len(m.memberList))
	copy(out, m.memberList)
	return out, nil
}

func (m *mockClassRepo) CreateAnonymous(ctx context.Context, student *models.AnonymousStudent) error {
	if m.createAnonErr != nil {
		return m.createAnonErr
	}
	student.StudentID = "anon-generated"
	m.anonByName[student.ClassID+"/"+student.FirstName] = student
	m.anonByID[student.StudentID] = student
	return nil
}

func (m *mockClassRepo) FindAnonymousByName(ctx context.Context, classID, firstName string) (*models.AnonymousStudent, error) {
	student, ok := m.anonByName[classID+"/"+firstName]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

func (m *mockClassRepo) FindAnonymousByID(ctx context.Context, studentID string) (*models.AnonymousStudent, error) {
	student, ok := m.anonByID[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

func (m *mockClassRepo) UpdateAnonymousPIN(ctx context.Context, studentID, pin string) error {
	m.pinUpdated[studentID] = pin
	if student, ok := m.anonByID[studentID]; ok {
		student.PinCode = &pin
		student.PinResetRequired = false
	}
	return nil
}

func (m *mockClassRepo) ClearAnonymousPIN(ctx context.Context, studentID string) error {
	if _, ok := m.anonByID[studentID]; !ok {
		return sql.ErrNoRows
	}
	m.pinCleared = append(m.pinCleared, studentID)
	m.anonByID[studentID].PinCode = nil
	m.anonByID[studentID].PinResetRequired = true
	return nil
}

func (m *mockClassRepo) TouchAnonymous(ctx context.Context, studentID string) error {
	m.touched = append(m.touched, studentID)
	return nil
}

func (m *mockClassRepo) DeleteAnonymous(ctx context.Context, studentID string) error {
	if _, ok := m.anonByID[studentID]; !ok {
		return sql.ErrNoRows
	}
	m.anonDeleted = append(m.anonDeleted, studentID)
	return nil
}

func newClassService(repo *mockClassRepo, reentry bool) *ClassService {
	return NewClassService(repo, validator.New(), zap.NewNop(), ClassConfig{ReentryAllowed: reentry, PassphraseAttempts: 5})
}

func seedClass(repo *mockClassRepo, id, ownerID, passphrase string) *models.Class {
	class := &models.Class{ID: id, Name: "Physics", Subject: "Science", Passphrase: passphrase, OwnerID: ownerID}
	repo.classes[id] = class
	repo.byPassphrase[passphrase] = class
	return class
}

func TestCreateClassPassphraseShape(t *testing.T) {
	repo := newMockClassRepo()
	svc := newClassService(repo, true)

	class, err := svc.Create(context.Background(), "t1", models.CreateClassRequest{Name: "Physics", Subject: "Science"})
	require.NoError(t, err)
	require.Len(t, class.Passphrase, 9)
	assert.Equal(t, byte('-'), class.Passphrase[4])
	assert.NotContains(t, class.Passphrase, "0")
	assert.NotContains(t, class.Passphrase, "O")
	assert.NotContains(t, class.Passphrase, "1")
	assert.NotContains(t, class.Passphrase, "I")
	assert.NotContains(t, class.Passphrase, "L")
}

func TestCreateClassRetriesOnCollision(t *testing.T) {
	repo := newMockClassRepo()
	repo.createErrs = []error{uniqueErr(), uniqueErr()}
	svc := newClassService(repo, true)

	class, err := svc.Create(context.Background(), "t1", models.CreateClassRequest{Name: "Physics", Subject: "Science"})
	require.NoError(t, err)
	assert.NotEmpty(t, class.Passphrase)
}

func TestJoinUnknownPassphrase(t *testing.T) {
	repo := newMockClassRepo()
	svc := newClassService(repo, true)

	_, err := svc.Join(context.Background(), "u1", models.JoinClassRequest{Passphrase: "ZZZZ-ZZZZ"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestJoinNormalizesPassphrase(t *testing.T) {
	repo := newMockClassRepo()
	seedClass(repo, "c1", "t1", "ABCD-EFGH")
	svc := newClassService(repo, true)

	class, err := svc.Join(context.Background(), "u1", models.JoinClassRequest{Passphrase: "abcdefgh"})
	require.NoError(t, err)
	assert.Equal(t, "c1", class.ID)
	assert.Empty(t, class.Passphrase)
}

func TestJoinTwiceConflicts(t *testing.T) {
	repo := newMockClassRepo()
	seedClass(repo, "c1", "t1", "ABCD-EFGH")
	svc := newClassService(repo, true)

	_, err := svc.Join(context.Background(), "u1", models.JoinClassRequest{Passphrase: "ABCD-EFGH"})
	require.NoError(t, err)

	repo.addMemberErr = uniqueErr()
	_, err = svc.Join(context.Background(), "u1", models.JoinClassRequest{Passphrase: "ABCD-EFGH"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestJoinAnonymousFirstTime(t *testing.T) {
	repo := newMockClassRepo()
	seedClass(repo, "c1", "t1", "ABCD-EFGH")
	svc := newClassService(repo, true)

	result, err := svc.JoinAnonymous(context.Background(), models.JoinAnonymousRequest{Passphrase: "ABCD-EFGH", FirstName: "Alice", PinCode: "1234"})
	require.NoError(t, err)
	assert.False(t, result.Reentry)
	require.NotNil(t, result.Student.PinCode)
	assert.Equal(t, "1234", *result.Student.PinCode)
}

func TestJoinAnonymousReentry(t *testing.T) {
	repo := newMockClassRepo()
	seedClass(repo, "c1", "t1", "ABCD-EFGH")
	svc := newClassService(repo, true)

	_, err := svc.JoinAnonymous(context.Background(), models.JoinAnonymousRequest{Passphrase: "ABCD-EFGH", FirstName: "Alice", PinCode: "1234"})
	require.NoError(t, err)

	result, err := svc.JoinAnonymous(context.Background(), models.JoinAnonymousRequest{Passphrase: "ABCD-EFGH", FirstName: "Alice", PinCode: "1234"})
	require.NoError(t, err)
	assert.True(t, result.Reentry)

	_, err = svc.JoinAnonymous(context.Background(), models.JoinAnonymousRequest{Passphrase: "ABCD-EFGH", FirstName: "Alice", PinCode: "9999"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestJoinAnonymousStrictMode(t *testing.T) {
	repo := newMockClassRepo()
	seedClass(repo, "c1", "t1", "ABCD-EFGH")
	svc := newClassService(repo, false)

	_, err := svc.JoinAnonymous(context.Background(), models.JoinAnonymousRequest{Passphrase: "ABCD-EFGH", FirstName: "Alice", PinCode: "1234"})
	require.NoError(t, err)

	_, err = svc.JoinAnonymous(context.Background(), models.JoinAnonymousRequest{Passphrase: "ABCD-EFGH", FirstName: "Alice", PinCode: "1234"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

// Alice forgets her PIN, the teacher resets it, Alice rejoins with a new
// PIN and the new PIN is live.
func TestPinResetScenario(t *testing.T) {
	repo := newMockClassRepo()
	seedClass(repo, "c1", "t1", "ABCD-EFGH")
	svc := newClassService(repo, true)

	joined, err := svc.JoinAnonymous(context.Background(), models.JoinAnonymousRequest{Passphrase: "ABCD-EFGH", FirstName: "Alice", PinCode: "1234"})
	require.NoError(t, err)
	aliceID := joined.Student.StudentID

	require.NoError(t, svc.ResetStudentPIN(context.Background(), "c1", aliceID, "t1"))
	assert.True(t, repo.anonByID[aliceID].PinResetRequired)

	rejoined, err := svc.JoinAnonymous(context.Background(), models.JoinAnonymousRequest{Passphrase: "ABCD-EFGH", FirstName: "Alice", PinCode: "5678"})
	require.NoError(t, err)
	assert.True(t, rejoined.Reentry)
	assert.Equal(t, "5678", repo.pinUpdated[aliceID])

	// old PIN no longer works, new one does
	_, err = svc.JoinAnonymous(context.Background(), models.JoinAnonymousRequest{Passphrase: "ABCD-EFGH", FirstName: "Alice", PinCode: "1234"})
	require.Error(t, err)
	_, err = svc.JoinAnonymous(context.Background(), models.JoinAnonymousRequest{Passphrase: "ABCD-EFGH", FirstName: "Alice", PinCode: "5678"})
	require.NoError(t, err)
}

func TestResetPINRequiresOwner(t *testing.T) {
	repo := newMockClassRepo()
	seedClass(repo, "c1", "t1", "ABCD-EFGH")
	svc := newClassService(repo, true)

	err := svc.ResetStudentPIN(context.Background(), "c1", "a1", "someone-else")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestLeaveOwnerRejected(t *testing.T) {
	repo := newMockClassRepo()
	seedClass(repo, "c1", "t1", "ABCD-EFGH")
	svc := newClassService(repo, true)

	err := svc.Leave(context.Background(), "c1", "t1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestLeaveNonMember(t *testing.T) {
	repo := newMockClassRepo()
	seedClass(repo, "c1", "t1", "ABCD-EFGH")
	svc := newClassService(repo, true)

	err := svc.Leave(context.Background(), "c1", "stranger")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestDeleteClassOwnerOnly(t *testing.T) {
	repo := newMockClassRepo()
	seedClass(repo, "c1", "t1", "ABCD-EFGH")
	svc := newClassService(repo, true)

	err := svc.Delete(context.Background(), "c1", "u1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.Delete(context.Background(), "c1", "t1"))
	assert.Equal(t, []string{"c1"}, repo.deleted)
}

func TestListMembersHidesPINsFromNonOwner(t *testing.T) {
	repo := newMockClassRepo()
	seedClass(repo, "c1", "t1", "ABCD-EFGH")
	pin := "1234"
	repo.memberList = []models.MemberInfo{
		{StudentID: "a1", FirstName: "Alice", StudentType: models.StudentAnonymous, PinCode: &pin},
	}
	repo.members["c1/u1"] = true
	svc := newClassService(repo, true)

	asOwner, err := svc.ListMembers(context.Background(), "c1", "t1", "joined_at", "asc")
	require.NoError(t, err)
	require.NotNil(t, asOwner[0].PinCode)

	asMember, err := svc.ListMembers(context.Background(), "c1", "u1", "joined_at", "asc")
	require.NoError(t, err)
	assert.Nil(t, asMember[0].PinCode)
}

func TestRemoveStudentAnonymous(t *testing.T) {
	repo := newMockClassRepo()
	seedClass(repo, "c1", "t1", "ABCD-EFGH")
	pin := "1234"
	repo.anonByID["a1"] = &models.AnonymousStudent{StudentID: "a1", ClassID: "c1", FirstName: "Alice", PinCode: &pin}
	svc := newClassService(repo, true)

	require.NoError(t, svc.RemoveStudent(context.Background(), "c1", "a1", "t1"))
	assert.Equal(t, []string{"a1"}, repo.anonDeleted)
}

func TestRemoveStudentWrongClass(t *testing.T) {
	repo := newMockClassRepo()
	seedClass(repo, "c1", "t1", "ABCD-EFGH")
	repo.anonByID["a1"] = &models.AnonymousStudent{StudentID: "a1", ClassID: "other"}
	svc := newClassService(repo, true)

	err := svc.RemoveStudent(context.Background(), "c1", "a1", "t1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestPassphraseNeverMonochromatic(t *testing.T) {
	repo := newMockClassRepo()
	svc := newClassService(repo, true)

	for i := 0; i < 50; i++ {
		class, err := svc.Create(context.Background(), "t1", models.CreateClassRequest{Name: "Physics", Subject: "Science"})
		require.NoError(t, err)
		raw := strings.ReplaceAll(class.Passphrase, "-", "")
		unique := map[rune]struct{}{}
		for _, r := range raw {
			unique[r] = struct{}{}
		}
		assert.Greater(t, len(unique), 1)
	}
}
