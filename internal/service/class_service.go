package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pbit-labs/pbit-classroom-api/internal/models"
	"github.com/pbit-labs/pbit-classroom-api/internal/repository"
	appErrors "github.com/pbit-labs/pbit-classroom-api/pkg/errors"
	"github.com/pbit-labs/pbit-classroom-api/pkg/passphrase"
)

type classRepository interface {
	Create(ctx context.Context, class *models.Class) error
	FindByID(ctx context.Context, id string) (*models.Class, error)
	FindByPassphrase(ctx context.Context, passphrase string) (*models.Class, error)
	Delete(ctx context.Context, classID string) error
	AddMember(ctx context.Context, member *models.ClassMember) error
	IsMember(ctx context.Context, classID, userID string) (bool, error)
	RemoveMember(ctx context.Context, classID, userID string) error
	Owned(ctx context.Context, ownerID string) ([]models.ClassSummary, error)
	Enrolled(ctx context.Context, userID string) ([]models.ClassSummary, error)
	ListMembers(ctx context.Context, classID, sortBy, order string) ([]models.MemberInfo, error)
	CreateAnonymous(ctx context.Context, student *models.AnonymousStudent) error
	FindAnonymousByName(ctx context.Context, classID, firstName string) (*models.AnonymousStudent, error)
	FindAnonymousByID(ctx context.Context, studentID string) (*models.AnonymousStudent, error)
	UpdateAnonymousPIN(ctx context.Context, studentID, pin string) error
	ClearAnonymousPIN(ctx context.Context, studentID string) error
	TouchAnonymous(ctx context.Context, studentID string) error
	DeleteAnonymous(ctx context.Context, studentID string) error
}

// ClassConfig tunes classroom join semantics.
type ClassConfig struct {
	ReentryAllowed     bool
	PassphraseAttempts int
}

// AnonymousJoinResult reports an anonymous join, including whether the
// student re-entered an existing record.
type AnonymousJoinResult struct {
	Student *models.AnonymousStudent `json:"student"`
	Class   *models.Class            `json:"class"`
	Reentry bool                     `json:"reentry"`
}

// ClassService provides classroom lifecycle and membership use cases.
type ClassService struct {
	repo      classRepository
	validator *validator.Validate
	logger    *zap.Logger
	config    ClassConfig
}

// NewClassService constructs a ClassService instance.
func NewClassService(repo classRepository, validate *validator.Validate, logger *zap.Logger, config ClassConfig) *ClassService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.PassphraseAttempts <= 0 {
		config.PassphraseAttempts = 5
	}
	return &ClassService{repo: repo, validator: validate, logger: logger, config: config}
}

// Create opens a classroom owned by a teacher. The join passphrase is
// generated server-side; a collision with an existing class regenerates the
// code, with the DB unique constraint as the backstop.
func (s *ClassService) Create(ctx context.Context, ownerID string, req models.CreateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}

	var lastErr error
	for attempt := 0; attempt < s.config.PassphraseAttempts; attempt++ {
		code, err := passphrase.New()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate passphrase")
		}

		class := &models.Class{
			Name:        strings.TrimSpace(req.Name),
			Subject:     strings.TrimSpace(req.Subject),
			Description: req.Description,
			Passphrase:  code,
			OwnerID:     ownerID,
		}
		err = s.repo.Create(ctx, class)
		if err == nil {
			s.logger.Info("class created", zap.String("class_id", class.ID), zap.String("owner_id", ownerID))
			return class, nil
		}
		if !repository.IsUniqueViolation(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create class")
		}
		lastErr = err
	}
	return nil, appErrors.Wrap(lastErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate a unique passphrase")
}

// Join enrolls a registered user via passphrase.
func (s *ClassService) Join(ctx context.Context, userID string, req models.JoinClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid join payload")
	}

	class, err := s.findByPassphrase(ctx, req.Passphrase)
	if err != nil {
		return nil, err
	}

	if class.OwnerID == userID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "owner is already part of the class")
	}

	member := &models.ClassMember{ClassID: class.ID, UserID: userID}
	if err := s.repo.AddMember(ctx, member); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "already a member of this class")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to join class")
	}

	class.Passphrase = ""
	return class, nil
}

// JoinAnonymous enrolls a student identified only by first name and PIN.
//
// A duplicate first name in the class follows the configured policy: with
// re-entry enabled the PIN is verified and the student resumes the existing
// record (a pending reset instead stores the supplied PIN as the new one);
// with re-entry disabled the duplicate is rejected.
func (s *ClassService) JoinAnonymous(ctx context.Context, req models.JoinAnonymousRequest) (*AnonymousJoinResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid anonymous join payload")
	}

	class, err := s.findByPassphrase(ctx, req.Passphrase)
	if err != nil {
		return nil, err
	}

	firstName := strings.TrimSpace(req.FirstName)
	existing, err := s.repo.FindAnonymousByName(ctx, class.ID, firstName)
	switch {
	case err == nil:
		return s.reenter(ctx, class, existing, req.PinCode)
	case errors.Is(err, sql.ErrNoRows):
		// first join, fall through to create
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing student")
	}

	pin := req.PinCode
	student := &models.AnonymousStudent{
		ClassID:   class.ID,
		FirstName: firstName,
		PinCode:   &pin,
	}
	if err := s.repo.CreateAnonymous(ctx, student); err != nil {
		if repository.IsUniqueViolation(err) {
			// lost a race with an identical name; treat as the duplicate path
			winner, findErr := s.repo.FindAnonymousByName(ctx, class.ID, firstName)
			if findErr != nil {
				return nil, appErrors.Clone(appErrors.ErrConflict, "a student with this name already exists in the class")
			}
			return s.reenter(ctx, class, winner, req.PinCode)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to join class")
	}

	class.Passphrase = ""
	return &AnonymousJoinResult{Student: student, Class: class}, nil
}

func (s *ClassService) reenter(ctx context.Context, class *models.Class, student *models.AnonymousStudent, pin string) (*AnonymousJoinResult, error) {
	if !s.config.ReentryAllowed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a student with this name already exists in the class")
	}

	if student.PinResetRequired {
		if err := s.repo.UpdateAnonymousPIN(ctx, student.StudentID, pin); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store new PIN")
		}
		student.PinCode = &pin
		student.PinResetRequired = false
	} else {
		if student.PinCode == nil || *student.PinCode != pin {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid PIN")
		}
		if err := s.repo.TouchAnonymous(ctx, student.StudentID); err != nil {
			s.logger.Warn("failed to update last active", zap.String("student_id", student.StudentID), zap.Error(err))
		}
	}

	class.Passphrase = ""
	return &AnonymousJoinResult{Student: student, Class: class, Reentry: true}, nil
}

// Leave removes the caller's own membership. The owner cannot leave.
func (s *ClassService) Leave(ctx context.Context, classID, userID string) error {
	class, err := s.findByID(ctx, classID)
	if err != nil {
		return err
	}
	if class.OwnerID == userID {
		return appErrors.Clone(appErrors.ErrValidation, "the owner cannot leave their own class")
	}

	if err := s.repo.RemoveMember(ctx, classID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "not a member of this class")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to leave class")
	}
	return nil
}

// Delete removes a classroom and everything scoped to it. Owner only.
func (s *ClassService) Delete(ctx context.Context, classID, callerID string) error {
	if err := s.requireOwner(ctx, classID, callerID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, classID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete class")
	}
	s.logger.Info("class deleted", zap.String("class_id", classID))
	return nil
}

// Owned lists classrooms owned by a teacher.
func (s *ClassService) Owned(ctx context.Context, ownerID string) ([]models.ClassSummary, error) {
	classes, err := s.repo.Owned(ctx, ownerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list owned classes")
	}
	return classes, nil
}

// Enrolled lists classrooms the user has joined.
func (s *ClassService) Enrolled(ctx context.Context, userID string) ([]models.ClassSummary, error) {
	classes, err := s.repo.Enrolled(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrolled classes")
	}
	return classes, nil
}

// ListMembers returns the class roster in one query. PINs are included
// only for the owner.
func (s *ClassService) ListMembers(ctx context.Context, classID, viewerID, sortBy, order string) ([]models.MemberInfo, error) {
	class, err := s.findByID(ctx, classID)
	if err != nil {
		return nil, err
	}
	if err := s.requireViewer(ctx, class, viewerID); err != nil {
		return nil, err
	}

	members, err := s.repo.ListMembers(ctx, classID, sortBy, order)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list members")
	}

	if class.OwnerID != viewerID {
		for i := range members {
			members[i].PinCode = nil
		}
	}
	return members, nil
}

// ResetStudentPIN wipes an anonymous student's PIN and flags a reset. The
// student picks a new PIN on their next join.
func (s *ClassService) ResetStudentPIN(ctx context.Context, classID, studentID, callerID string) error {
	if err := s.requireOwner(ctx, classID, callerID); err != nil {
		return err
	}

	student, err := s.repo.FindAnonymousByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.ClassID != classID {
		return appErrors.Clone(appErrors.ErrNotFound, "student not found in this class")
	}

	if err := s.repo.ClearAnonymousPIN(ctx, studentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset PIN")
	}
	s.logger.Info("student PIN reset", zap.String("class_id", classID), zap.String("student_id", studentID))
	return nil
}

// RemoveStudent evicts a student from the class. Anonymous students are
// deleted along with any group membership; registered students lose their
// membership row.
func (s *ClassService) RemoveStudent(ctx context.Context, classID, studentID, callerID string) error {
	if err := s.requireOwner(ctx, classID, callerID); err != nil {
		return err
	}

	student, err := s.repo.FindAnonymousByID(ctx, studentID)
	switch {
	case err == nil:
		if student.ClassID != classID {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found in this class")
		}
		if err := s.repo.DeleteAnonymous(ctx, studentID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove student")
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to the registered path
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	if err := s.repo.RemoveMember(ctx, classID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found in this class")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove student")
	}
	return nil
}

// CanView reports whether a user may read classroom-scoped resources:
// the owner or any registered member.
func (s *ClassService) CanView(ctx context.Context, classID, userID string) (bool, error) {
	class, err := s.findByID(ctx, classID)
	if err != nil {
		return false, err
	}
	if class.OwnerID == userID {
		return true, nil
	}
	member, err := s.repo.IsMember(ctx, classID, userID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check membership")
	}
	return member, nil
}

// CanManage reports whether a user owns the classroom.
func (s *ClassService) CanManage(ctx context.Context, classID, userID string) (bool, error) {
	class, err := s.findByID(ctx, classID)
	if err != nil {
		return false, err
	}
	return class.OwnerID == userID, nil
}

// Get returns a classroom visible to the caller.
func (s *ClassService) Get(ctx context.Context, classID string) (*models.Class, error) {
	return s.findByID(ctx, classID)
}

func (s *ClassService) findByID(ctx context.Context, classID string) (*models.Class, error) {
	class, err := s.repo.FindByID(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	return class, nil
}

func (s *ClassService) findByPassphrase(ctx context.Context, raw string) (*models.Class, error) {
	class, err := s.repo.FindByPassphrase(ctx, passphrase.Normalize(raw))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no class matches this passphrase")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up class")
	}
	return class, nil
}

func (s *ClassService) requireOwner(ctx context.Context, classID, userID string) error {
	class, err := s.findByID(ctx, classID)
	if err != nil {
		return err
	}
	if class.OwnerID != userID {
		return appErrors.Clone(appErrors.ErrForbidden, "only the class owner may do this")
	}
	return nil
}

func (s *ClassService) requireViewer(ctx context.Context, class *models.Class, userID string) error {
	if class.OwnerID == userID {
		return nil
	}
	member, err := s.repo.IsMember(ctx, class.ID, userID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check membership")
	}
	if !member {
		return appErrors.Clone(appErrors.ErrForbidden, "not a member of this class")
	}
	return nil
}
