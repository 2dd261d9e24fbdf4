package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pbit-labs/pbit-classroom-api/internal/models"
	"github.com/pbit-labs/pbit-classroom-api/internal/repository"
	appErrors "github.com/pbit-labs/pbit-classroom-api/pkg/errors"
)

type deviceRepository interface {
	FindByID(ctx context.Context, id string) (*models.Device, error)
	FindByMAC(ctx context.Context, mac string) (*models.Device, error)
	Create(ctx context.Context, device *models.Device) error
	Delete(ctx context.Context, deviceID string) error
	CreateBookmark(ctx context.Context, bookmark *models.DeviceBookmark) error
	FindBookmark(ctx context.Context, userID, deviceID string) (*models.DeviceBookmark, error)
	FindBookmarkByID(ctx context.Context, id string) (*models.DeviceBookmark, error)
	ListBookmarks(ctx context.Context, userID string) ([]models.BookmarkedDevice, error)
	DeleteBookmark(ctx context.Context, id string) error
	CreateAssignment(ctx context.Context, assignment *models.DeviceAssignment) error
	FindAssignment(ctx context.Context, deviceID, classroomID string) (*models.DeviceAssignment, error)
	UpdateAssignment(ctx context.Context, assignment *models.DeviceAssignment) error
	DeleteAssignment(ctx context.Context, deviceID, classroomID string) error
	CountAssignmentsOwnedBy(ctx context.Context, deviceID, ownerID string) (int, error)
	PublicDevices(ctx context.Context, classroomID string) ([]models.AssignedDevice, error)
	StudentDevices(ctx context.Context, classroomID, studentID string) ([]models.AssignedDevice, error)
	GroupDevices(ctx context.Context, classroomID, studentID string) ([]models.AssignedDevice, error)
	AllAssignedDevices(ctx context.Context, classroomID string) ([]models.AssignedDevice, error)
}

type classAccess interface {
	CanView(ctx context.Context, classID, userID string) (bool, error)
	CanManage(ctx context.Context, classID, userID string) (bool, error)
}

type studentResolver interface {
	IsMember(ctx context.Context, classID, userID string) (bool, error)
	FindAnonymousByID(ctx context.Context, studentID string) (*models.AnonymousStudent, error)
}

type groupResolver interface {
	FindByID(ctx context.Context, id string) (*models.Group, error)
}

var macDigits = regexp.MustCompile(`^[0-9A-F]{12}$`)

// NormalizeMAC canonicalises a MAC address to AA:BB:CC:DD:EE:FF.
func NormalizeMAC(raw string) (string, error) {
	cleaned := strings.ToUpper(strings.TrimSpace(raw))
	cleaned = strings.NewReplacer(":", "", "-", "", ".", "").Replace(cleaned)
	if !macDigits.MatchString(cleaned) {
		return "", fmt.Errorf("malformed mac address %q", raw)
	}
	pairs := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		pairs = append(pairs, cleaned[i:i+2])
	}
	return strings.Join(pairs, ":"), nil
}

// DeviceService provides device registration, bookmarks and classroom
// assignment use cases.
type DeviceService struct {
	repo      deviceRepository
	classes   classAccess
	students  studentResolver
	groups    groupResolver
	validator *validator.Validate
	logger    *zap.Logger
}

// NewDeviceService constructs a DeviceService instance.
func NewDeviceService(repo deviceRepository, classes classAccess, students studentResolver, groups groupResolver, validate *validator.Validate, logger *zap.Logger) *DeviceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &DeviceService{repo: repo, classes: classes, students: students, groups: groups, validator: validate, logger: logger}
}

// RegisterOrBookmark attaches a device to the caller's collection. A known
// MAC reuses the existing device row; registering the same device twice
// returns the existing bookmark unchanged.
func (s *DeviceService) RegisterOrBookmark(ctx context.Context, userID string, req models.RegisterDeviceRequest) (*models.BookmarkedDevice, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid device payload")
	}

	device, err := s.resolveOrCreateDevice(ctx, req.MacAddress)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindBookmark(ctx, userID, device.ID)
	if err == nil {
		return s.bookmarked(existing, device), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check bookmark")
	}

	bookmark := &models.DeviceBookmark{
		DeviceID: device.ID,
		UserID:   userID,
		Nickname: strings.TrimSpace(req.Nickname),
	}
	if err := s.repo.CreateBookmark(ctx, bookmark); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "nickname already in use")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create bookmark")
	}

	s.logger.Info("device bookmarked", zap.String("device_id", device.ID), zap.String("user_id", userID))
	return s.bookmarked(bookmark, device), nil
}

func (s *DeviceService) resolveOrCreateDevice(ctx context.Context, rawMAC *string) (*models.Device, error) {
	if rawMAC == nil || strings.TrimSpace(*rawMAC) == "" {
		device := &models.Device{IsActive: true}
		if err := s.repo.Create(ctx, device); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register device")
		}
		return device, nil
	}

	mac, err := NormalizeMAC(*rawMAC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "malformed MAC address")
	}

	device, err := s.repo.FindByMAC(ctx, mac)
	if err == nil {
		return device, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up device")
	}

	device = &models.Device{MacAddress: &mac, IsActive: true}
	if err := s.repo.Create(ctx, device); err != nil {
		if repository.IsUniqueViolation(err) {
			// lost a race registering the same MAC; use the winner
			return s.findByMAC(ctx, mac)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register device")
	}
	return device, nil
}

func (s *DeviceService) findByMAC(ctx context.Context, mac string) (*models.Device, error) {
	device, err := s.repo.FindByMAC(ctx, mac)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up device")
	}
	return device, nil
}

func (s *DeviceService) bookmarked(bookmark *models.DeviceBookmark, device *models.Device) *models.BookmarkedDevice {
	return &models.BookmarkedDevice{
		DeviceBookmark: *bookmark,
		MacAddress:     device.MacAddress,
		IsActive:       device.IsActive,
		BatteryLevel:   device.BatteryLevel,
		LastSeen:       device.LastSeen,
	}
}

// ListBookmarks returns the caller's devices with live status.
func (s *DeviceService) ListBookmarks(ctx context.Context, userID string) ([]models.BookmarkedDevice, error) {
	bookmarks, err := s.repo.ListBookmarks(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bookmarks")
	}
	return bookmarks, nil
}

// RemoveBookmark drops a bookmark. The bookmark must belong to the caller
// and the device must not be assigned in any classroom the caller owns.
func (s *DeviceService) RemoveBookmark(ctx context.Context, bookmarkID, userID string) error {
	bookmark, err := s.repo.FindBookmarkByID(ctx, bookmarkID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "bookmark not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bookmark")
	}
	if bookmark.UserID != userID {
		return appErrors.Clone(appErrors.ErrForbidden, "bookmark belongs to another user")
	}

	if err := s.requireNoOwnedAssignments(ctx, bookmark.DeviceID, userID); err != nil {
		return err
	}

	if err := s.repo.DeleteBookmark(ctx, bookmarkID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "bookmark not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove bookmark")
	}
	return nil
}

// DeleteDevice removes a device with its readings, bookmarks and
// assignments. The caller must hold a bookmark on it and must first
// unassign it from their classrooms.
func (s *DeviceService) DeleteDevice(ctx context.Context, deviceID, userID string) error {
	if _, err := s.repo.FindBookmark(ctx, userID, deviceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrForbidden, "device is not in your collection")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check bookmark")
	}

	if err := s.requireNoOwnedAssignments(ctx, deviceID, userID); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, deviceID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete device")
	}
	s.logger.Info("device deleted", zap.String("device_id", deviceID), zap.String("user_id", userID))
	return nil
}

func (s *DeviceService) requireNoOwnedAssignments(ctx context.Context, deviceID, userID string) error {
	count, err := s.repo.CountAssignmentsOwnedBy(ctx, deviceID, userID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check assignments")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrValidation, "device is still assigned in a classroom; unassign it first")
	}
	return nil
}

// Assign scopes a device into a classroom for the whole class, a single
// student or a group. One assignment per (device, classroom).
func (s *DeviceService) Assign(ctx context.Context, callerID, classroomID string, req models.AssignDeviceRequest) (*models.DeviceAssignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}

	if err := s.requireManager(ctx, classroomID, callerID); err != nil {
		return nil, err
	}

	if _, err := s.repo.FindByID(ctx, req.DeviceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "device not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load device")
	}

	if err := s.validateTarget(ctx, classroomID, req.AssignmentType, req.AssignmentID); err != nil {
		return nil, err
	}

	assignment := &models.DeviceAssignment{
		DeviceID:       req.DeviceID,
		ClassroomID:    classroomID,
		AssignmentType: req.AssignmentType,
		AssignmentID:   req.AssignmentID,
	}
	if err := s.repo.CreateAssignment(ctx, assignment); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "device is already assigned in this classroom")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign device")
	}
	return assignment, nil
}

// UpdateAssignment changes the scope of an existing assignment.
func (s *DeviceService) UpdateAssignment(ctx context.Context, callerID, deviceID string, req models.UpdateAssignmentRequest) (*models.DeviceAssignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}

	if err := s.requireManager(ctx, req.ClassroomID, callerID); err != nil {
		return nil, err
	}

	assignment, err := s.repo.FindAssignment(ctx, deviceID, req.ClassroomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "device is not assigned in this classroom")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}

	if err := s.validateTarget(ctx, req.ClassroomID, req.AssignmentType, req.AssignmentID); err != nil {
		return nil, err
	}

	assignment.AssignmentType = req.AssignmentType
	assignment.AssignmentID = req.AssignmentID
	if err := s.repo.UpdateAssignment(ctx, assignment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update assignment")
	}
	return assignment, nil
}

// Unassign removes a device's assignment from a classroom.
func (s *DeviceService) Unassign(ctx context.Context, callerID, deviceID, classroomID string) error {
	if err := s.requireManager(ctx, classroomID, callerID); err != nil {
		return err
	}

	if err := s.repo.DeleteAssignment(ctx, deviceID, classroomID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "device is not assigned in this classroom")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unassign device")
	}
	return nil
}

func (s *DeviceService) validateTarget(ctx context.Context, classroomID string, assignmentType models.AssignmentType, targetID *string) error {
	switch assignmentType {
	case models.AssignmentPublic:
		if targetID != nil && *targetID != "" {
			return appErrors.Clone(appErrors.ErrValidation, "public assignments take no target")
		}
		return nil

	case models.AssignmentStudent:
		if targetID == nil || *targetID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "student assignments require a target student")
		}
		member, err := s.students.IsMember(ctx, classroomID, *targetID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student")
		}
		if member {
			return nil
		}
		student, err := s.students.FindAnonymousByID(ctx, *targetID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "student not found in this classroom")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student")
		}
		if student.ClassID != classroomID {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found in this classroom")
		}
		return nil

	case models.AssignmentGroup:
		if targetID == nil || *targetID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "group assignments require a target group")
		}
		group, err := s.groups.FindByID(ctx, *targetID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "group not found in this classroom")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check group")
		}
		if group.ClassroomID != classroomID {
			return appErrors.Clone(appErrors.ErrNotFound, "group not found in this classroom")
		}
		return nil

	default:
		return appErrors.Clone(appErrors.ErrValidation, "unknown assignment type")
	}
}

// VisibleDevices returns the devices a registered user may see in a
// classroom. Owners see every assignment; members see the union of public
// devices, devices assigned to them and devices assigned to their group.
func (s *DeviceService) VisibleDevices(ctx context.Context, classroomID, userID string) ([]models.AssignedDevice, error) {
	owner, err := s.classes.CanManage(ctx, classroomID, userID)
	if err != nil {
		return nil, err
	}
	if owner {
		devices, err := s.repo.AllAssignedDevices(ctx, classroomID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list devices")
		}
		return devices, nil
	}

	allowed, err := s.classes.CanView(ctx, classroomID, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a member of this classroom")
	}
	return s.visibleUnion(ctx, classroomID, userID)
}

// VisibleDevicesForAnonymous returns the union for an already verified
// anonymous student.
func (s *DeviceService) VisibleDevicesForAnonymous(ctx context.Context, classroomID, studentID string) ([]models.AssignedDevice, error) {
	return s.visibleUnion(ctx, classroomID, studentID)
}

func (s *DeviceService) visibleUnion(ctx context.Context, classroomID, studentID string) ([]models.AssignedDevice, error) {
	public, err := s.repo.PublicDevices(ctx, classroomID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list devices")
	}
	personal, err := s.repo.StudentDevices(ctx, classroomID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list devices")
	}
	grouped, err := s.repo.GroupDevices(ctx, classroomID, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list devices")
	}

	seen := make(map[string]struct{}, len(public)+len(personal)+len(grouped))
	visible := make([]models.AssignedDevice, 0, len(public)+len(personal)+len(grouped))
	for _, batch := range [][]models.AssignedDevice{public, personal, grouped} {
		for _, device := range batch {
			if _, ok := seen[device.DeviceID]; ok {
				continue
			}
			seen[device.DeviceID] = struct{}{}
			visible = append(visible, device)
		}
	}
	return visible, nil
}

// requireManager maps a failed CanManage check to Forbidden, keeping class
// NotFound intact.
func (s *DeviceService) requireManager(ctx context.Context, classroomID, userID string) error {
	owner, err := s.classes.CanManage(ctx, classroomID, userID)
	if err != nil {
		return err
	}
	if !owner {
		return appErrors.Clone(appErrors.ErrForbidden, "only the classroom owner may manage devices")
	}
	return nil
}
