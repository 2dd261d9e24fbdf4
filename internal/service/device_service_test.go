package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pbit-labs/pbit-classroom-api/internal/models"
	appErrors "github.com/pbit-labs/pbit-classroom-api/pkg/errors"
)

type mockClassAccess struct {
	owners  map[string]string
	members map[string]bool
}

func (m *mockClassAccess) CanView(ctx context.Context, classID, userID string) (bool, error) {
	if m.owners[classID] == userID {
		return true, nil
	}
	return m.members[classID+"/"+userID], nil
}

func (m *mockClassAccess) CanManage(ctx context.Context, classID, userID string) (bool, error) {
	return m.owners[classID] == userID, nil
}

type mockStudentResolver struct {
	members map[string]bool
	anon    map[string]*models.AnonymousStudent
}

func (m *mockStudentResolver) IsMember(ctx context.Context, classID, userID string) (bool, error) {
	return m.members[classID+"/"+userID], nil
}

func (m *mockStudentResolver) FindAnonymousByID(ctx context.Context, studentID string) (*models.AnonymousStudent, error) {
	student, ok := m.anon[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

type mockGroupResolver struct {
	groups map[string]*models.Group
}

func (m *mockGroupResolver) FindByID(ctx context.Context, id string) (*models.Group, error) {
	group, ok := m.groups[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return group, nil
}

type mockDeviceRepo struct {
	devices       map[string]*models.Device
	byMAC         map[string]*models.Device
	bookmarks     map[string]*models.DeviceBookmark
	bookmarksByID map[string]*models.DeviceBookmark
	assignments   map[string]*models.DeviceAssignment
	ownedCounts   map[string]int
	public        []models.AssignedDevice
	student       []models.AssignedDevice
	group         []models.AssignedDevice
	all           []models.AssignedDevice
	bookmarkErr   error
	assignErr     error
	deleted       []string
	unassigned    []string
}

func newMockDeviceRepo() *mockDeviceRepo {
	return &mockDeviceRepo{
		devices:       map[string]*models.Device{},
		byMAC:         map[string]*models.Device{},
		bookmarks:     map[string]*models.DeviceBookmark{},
		bookmarksByID: map[string]*models.DeviceBookmark{},
		assignments:   map[string]*models.DeviceAssignment{},
		ownedCounts:   map[string]int{},
	}
}

func (m *mockDeviceRepo) FindByID(ctx context.Context, id string) (*models.Device, error) {
	device, ok := m.devices[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return device, nil
}

func (m *mockDeviceRepo) FindByMAC(ctx context.Context, mac string) (*models.Device, error) {
	device, ok := m.byMAC[mac]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return device, nil
}

func (m *mockDeviceRepo) Create(ctx context.Context, device *models.Device) error {
	device.ID = "dev-" + string(rune('a'+len(m.devices)))
	m.devices[device.ID] = device
	if device.MacAddress != nil {
		m.byMAC[*device.MacAddress] = device
	}
	return nil
}

func (m *mockDeviceRepo) Delete(ctx context.Context, deviceID string) error {
	m.deleted = append(m.deleted, deviceID)
	return nil
}

func (m *mockDeviceRepo) CreateBookmark(ctx context.Context, bookmark *models.DeviceBookmark) error {
	if m.bookmarkErr != nil {
		return m.bookmarkErr
	}
	bookmark.ID = "bm-" + bookmark.DeviceID
	m.bookmarks[bookmark.UserID+"/"+bookmark.DeviceID] = bookmark
	m.bookmarksByID[bookmark.ID] = bookmark
	return nil
}

func (m *mockDeviceRepo) FindBookmark(ctx context.Context, userID, deviceID string) (*models.DeviceBookmark, error) {
	bookmark, ok := m.bookmarks[userID+"/"+deviceID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return bookmark, nil
}

func (m *mockDeviceRepo) FindBookmarkByID(ctx context.Context, id string) (*models.DeviceBookmark, error) {
	bookmark, ok := m.bookmarksByID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return bookmark, nil
}

func (m *mockDeviceRepo) ListBookmarks(ctx context.Context, userID string) ([]models.BookmarkedDevice, error) {
	return nil, nil
}

func (m *mockDeviceRepo) DeleteBookmark(ctx context.Context, id string) error {
	if _, ok := m.bookmarksByID[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.bookmarksByID, id)
	return nil
}

func (m *mockDeviceRepo) CreateAssignment(ctx context.Context, assignment *models.DeviceAssignment) error {
	if m.assignErr != nil {
		return m.assignErr
	}
	assignment.ID = "as-" + assignment.DeviceID
	m.assignments[assignment.DeviceID+"/"+assignment.ClassroomID] = assignment
	return nil
}

func (m *mockDeviceRepo) FindAssignment(ctx context.Context, deviceID, classroomID string) (*models.DeviceAssignment, error) {
	assignment, ok := m.assignments[deviceID+"/"+classroomID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return assignment, nil
}

func (m *mockDeviceRepo) UpdateAssignment(ctx context.Context, assignment *models.DeviceAssignment) error {
	return nil
}

func (m *mockDeviceRepo) DeleteAssignment(ctx context.Context, deviceID, classroomID string) error {
	if _, ok := m.assignments[deviceID+"/"+classroomID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.assignments, deviceID+"/"+classroomID)
	m.unassigned = append(m.unassigned, deviceID)
	return nil
}

func (m *mockDeviceRepo) CountAssignmentsOwnedBy(ctx context.Context, deviceID, ownerID string) (int, error) {
	return m.ownedCounts[deviceID+"/"+ownerID], nil
}

func (m *mockDeviceRepo) PublicDevices(ctx context.Context, classroomID string) ([]models.AssignedDevice, error) {
	return m.public, nil
}

func (m *mockDeviceRepo) StudentDevices(ctx context.Context, classroomID, studentID string) ([]models.AssignedDevice, error) {
	return m.student, nil
}

func (m *mockDeviceRepo) GroupDevices(ctx context.Context, classroomID, studentID string) ([]models.AssignedDevice, error) {
	return m.group, nil
}

func (m *mockDeviceRepo) AllAssignedDevices(ctx context.Context, classroomID string) ([]models.AssignedDevice, error) {
	return m.all, nil
}

func newDeviceService(repo *mockDeviceRepo, classes *mockClassAccess, students *mockStudentResolver, groups *mockGroupResolver) *DeviceService {
	if classes == nil {
		classes = &mockClassAccess{owners: map[string]string{}, members: map[string]bool{}}
	}
	if students == nil {
		students = &mockStudentResolver{members: map[string]bool{}, anon: map[string]*models.AnonymousStudent{}}
	}
	if groups == nil {
		groups = &mockGroupResolver{groups: map[string]*models.Group{}}
	}
	return NewDeviceService(repo, classes, students, groups, validator.New(), zap.NewNop())
}

func strPtr(s string) *string { return &s }

func TestNormalizeMAC(t *testing.T) {
	for raw, want := range map[string]string{
		"aa:bb:cc:dd:ee:ff": "AA:BB:CC:DD:EE:FF",
		"AA-BB-CC-DD-EE-FF": "AA:BB:CC:DD:EE:FF",
		"aabbccddeeff":      "AA:BB:CC:DD:EE:FF",
		"  aabb.ccdd.eeff ": "AA:BB:CC:DD:EE:FF",
	} {
		got, err := NormalizeMAC(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}

	for _, raw := range []string{"", "aabbcc", "zz:bb:cc:dd:ee:ff", "aabbccddeeff00"} {
		_, err := NormalizeMAC(raw)
		assert.Error(t, err, raw)
	}
}

func TestRegisterOrBookmarkIdempotent(t *testing.T) {
	repo := newMockDeviceRepo()
	svc := newDeviceService(repo, nil, nil, nil)

	first, err := svc.RegisterOrBookmark(context.Background(), "u1", models.RegisterDeviceRequest{MacAddress: strPtr("aa:bb:cc:dd:ee:ff"), Nickname: "bench-3"})
	require.NoError(t, err)

	second, err := svc.RegisterOrBookmark(context.Background(), "u1", models.RegisterDeviceRequest{MacAddress: strPtr("AA-BB-CC-DD-EE-FF"), Nickname: "other-name"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "bench-3", second.Nickname)
	assert.Len(t, repo.devices, 1)
}

func TestRegisterSharedDeviceSecondUser(t *testing.T) {
	repo := newMockDeviceRepo()
	svc := newDeviceService(repo, nil, nil, nil)

	_, err := svc.RegisterOrBookmark(context.Background(), "u1", models.RegisterDeviceRequest{MacAddress: strPtr("aa:bb:cc:dd:ee:ff"), Nickname: "bench-3"})
	require.NoError(t, err)

	other, err := svc.RegisterOrBookmark(context.Background(), "u2", models.RegisterDeviceRequest{MacAddress: strPtr("aa:bb:cc:dd:ee:ff"), Nickname: "window-seat"})
	require.NoError(t, err)

	assert.Len(t, repo.devices, 1)
	assert.Equal(t, "window-seat", other.Nickname)
}

func TestRegisterNicknameConflict(t *testing.T) {
	repo := newMockDeviceRepo()
	repo.bookmarkErr = uniqueErr()
	svc := newDeviceService(repo, nil, nil, nil)

	_, err := svc.RegisterOrBookmark(context.Background(), "u1", models.RegisterDeviceRequest{Nickname: "bench-3"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestRegisterWithoutMACCreatesDevice(t *testing.T) {
	repo := newMockDeviceRepo()
	svc := newDeviceService(repo, nil, nil, nil)

	bookmarked, err := svc.RegisterOrBookmark(context.Background(), "u1", models.RegisterDeviceRequest{Nickname: "ble-only"})
	require.NoError(t, err)
	assert.Nil(t, bookmarked.MacAddress)
	assert.Len(t, repo.devices, 1)
}

func TestAssignPublicRejectsTarget(t *testing.T) {
	repo := newMockDeviceRepo()
	repo.devices["d1"] = &models.Device{ID: "d1"}
	classes := &mockClassAccess{owners: map[string]string{"c1": "t1"}, members: map[string]bool{}}
	svc := newDeviceService(repo, classes, nil, nil)

	_, err := svc.Assign(context.Background(), "t1", "c1", models.AssignDeviceRequest{DeviceID: "d1", AssignmentType: models.AssignmentPublic, AssignmentID: strPtr("s1")})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAssignStudentTargetMustBelong(t *testing.T) {
	repo := newMockDeviceRepo()
	repo.devices["d1"] = &models.Device{ID: "d1"}
	classes := &mockClassAccess{owners: map[string]string{"c1": "t1"}, members: map[string]bool{}}
	students := &mockStudentResolver{members: map[string]bool{}, anon: map[string]*models.AnonymousStudent{}}
	svc := newDeviceService(repo, classes, students, nil)

	_, err := svc.Assign(context.Background(), "t1", "c1", models.AssignDeviceRequest{DeviceID: "d1", AssignmentType: models.AssignmentStudent, AssignmentID: strPtr("ghost")})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAssignConflictPerClassroom(t *testing.T) {
	repo := newMockDeviceRepo()
	repo.devices["d1"] = &models.Device{ID: "d1"}
	repo.assignErr = uniqueErr()
	classes := &mockClassAccess{owners: map[string]string{"c1": "t1"}, members: map[string]bool{}}
	svc := newDeviceService(repo, classes, nil, nil)

	_, err := svc.Assign(context.Background(), "t1", "c1", models.AssignDeviceRequest{DeviceID: "d1", AssignmentType: models.AssignmentPublic})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAssignRequiresOwner(t *testing.T) {
	repo := newMockDeviceRepo()
	classes := &mockClassAccess{owners: map[string]string{"c1": "t1"}, members: map[string]bool{"c1/u1": true}}
	svc := newDeviceService(repo, classes, nil, nil)

	_, err := svc.Assign(context.Background(), "u1", "c1", models.AssignDeviceRequest{DeviceID: "d1", AssignmentType: models.AssignmentPublic})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestVisibleDevicesUnionDeduplicates(t *testing.T) {
	repo := newMockDeviceRepo()
	repo.public = []models.AssignedDevice{{DeviceID: "d1", AssignmentType: models.AssignmentPublic}}
	repo.student = []models.AssignedDevice{{DeviceID: "d2", AssignmentType: models.AssignmentStudent}}
	repo.group = []models.AssignedDevice{
		{DeviceID: "d2", AssignmentType: models.AssignmentGroup},
		{DeviceID: "d3", AssignmentType: models.AssignmentGroup},
	}
	classes := &mockClassAccess{owners: map[string]string{"c1": "t1"}, members: map[string]bool{"c1/u1": true}}
	svc := newDeviceService(repo, classes, nil, nil)

	visible, err := svc.VisibleDevices(context.Background(), "c1", "u1")
	require.NoError(t, err)
	ids := make([]string, 0, len(visible))
	for _, d := range visible {
		ids = append(ids, d.DeviceID)
	}
	assert.ElementsMatch(t, []string{"d1", "d2", "d3"}, ids)
}

func TestVisibleDevicesOwnerSeesAll(t *testing.T) {
	repo := newMockDeviceRepo()
	repo.all = []models.AssignedDevice{{DeviceID: "d1"}, {DeviceID: "d2"}}
	classes := &mockClassAccess{owners: map[string]string{"c1": "t1"}, members: map[string]bool{}}
	svc := newDeviceService(repo, classes, nil, nil)

	visible, err := svc.VisibleDevices(context.Background(), "c1", "t1")
	require.NoError(t, err)
	assert.Len(t, visible, 2)
}

func TestVisibleDevicesStrangerForbidden(t *testing.T) {
	repo := newMockDeviceRepo()
	classes := &mockClassAccess{owners: map[string]string{"c1": "t1"}, members: map[string]bool{}}
	svc := newDeviceService(repo, classes, nil, nil)

	_, err := svc.VisibleDevices(context.Background(), "c1", "stranger")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestRemoveBookmarkBlockedByAssignment(t *testing.T) {
	repo := newMockDeviceRepo()
	repo.bookmarksByID["bm1"] = &models.DeviceBookmark{ID: "bm1", DeviceID: "d1", UserID: "u1"}
	repo.ownedCounts["d1/u1"] = 1
	svc := newDeviceService(repo, nil, nil, nil)

	err := svc.RemoveBookmark(context.Background(), "bm1", "u1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRemoveBookmarkOtherUser(t *testing.T) {
	repo := newMockDeviceRepo()
	repo.bookmarksByID["bm1"] = &models.DeviceBookmark{ID: "bm1", DeviceID: "d1", UserID: "u1"}
	svc := newDeviceService(repo, nil, nil, nil)

	err := svc.RemoveBookmark(context.Background(), "bm1", "u2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestUnassignNotFound(t *testing.T) {
	repo := newMockDeviceRepo()
	classes := &mockClassAccess{owners: map[string]string{"c1": "t1"}, members: map[string]bool{}}
	svc := newDeviceService(repo, classes, nil, nil)

	err := svc.Unassign(context.Background(), "t1", "d1", "c1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
