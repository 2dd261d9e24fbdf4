package service

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pbit-labs/pbit-classroom-api/internal/models"
	"github.com/pbit-labs/pbit-classroom-api/internal/repository"
	appErrors "github.com/pbit-labs/pbit-classroom-api/pkg/errors"
)

type groupRepository interface {
	Create(ctx context.Context, group *models.Group) error
	FindByID(ctx context.Context, id string) (*models.Group, error)
	ListByClassroom(ctx context.Context, classroomID string) ([]models.GroupSummary, error)
	Update(ctx context.Context, group *models.Group) error
	Delete(ctx context.Context, groupID string) error
	AddMembership(ctx context.Context, membership *models.GroupMembership) error
	FindMembershipByStudent(ctx context.Context, studentID string, studentType models.StudentType) (*models.GroupMembership, error)
	RemoveMembership(ctx context.Context, groupID, studentID string) error
	ListMembers(ctx context.Context, groupID string) ([]models.MemberInfo, error)
	UnassignedStudents(ctx context.Context, classroomID string) ([]models.MemberInfo, error)
	AddMembershipsTx(ctx context.Context, memberships []models.GroupMembership) error
}

// GroupService manages classroom groups and their memberships.
type GroupService struct {
	repo      groupRepository
	classes   classAccess
	students  studentResolver
	validator *validator.Validate
	logger    *zap.Logger
}

// NewGroupService constructs a GroupService instance.
func NewGroupService(repo groupRepository, classes classAccess, students studentResolver, validate *validator.Validate, logger *zap.Logger) *GroupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &GroupService{repo: repo, classes: classes, students: students, validator: validate, logger: logger}
}

// Create adds a group to a classroom. Owner only.
func (s *GroupService) Create(ctx context.Context, callerID, classroomID string, req models.CreateGroupRequest) (*models.Group, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid group payload")
	}
	if err := s.requireOwner(ctx, classroomID, callerID); err != nil {
		return nil, err
	}

	group := &models.Group{
		ClassroomID: classroomID,
		Name:        strings.TrimSpace(req.Name),
		Icon:        req.Icon,
	}
	if err := s.repo.Create(ctx, group); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create group")
	}
	return group, nil
}

// List returns the classroom's groups with member counts.
func (s *GroupService) List(ctx context.Context, callerID, classroomID string) ([]models.GroupSummary, error) {
	allowed, err := s.classes.CanView(ctx, classroomID, callerID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a member of this classroom")
	}

	groups, err := s.repo.ListByClassroom(ctx, classroomID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list groups")
	}
	return groups, nil
}

// Members returns the students of one group.
func (s *GroupService) Members(ctx context.Context, callerID, classroomID, groupID string) ([]models.MemberInfo, error) {
	allowed, err := s.classes.CanView(ctx, classroomID, callerID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a member of this classroom")
	}
	if _, err := s.requireGroup(ctx, classroomID, groupID); err != nil {
		return nil, err
	}

	members, err := s.repo.ListMembers(ctx, groupID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list group members")
	}
	return members, nil
}

// Update renames a group or changes its icon. Owner only.
func (s *GroupService) Update(ctx context.Context, callerID, classroomID, groupID string, req models.UpdateGroupRequest) (*models.Group, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid group payload")
	}
	if err := s.requireOwner(ctx, classroomID, callerID); err != nil {
		return nil, err
	}
	group, err := s.requireGroup(ctx, classroomID, groupID)
	if err != nil {
		return nil, err
	}

	group.Name = strings.TrimSpace(req.Name)
	group.Icon = req.Icon
	if err := s.repo.Update(ctx, group); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update group")
	}
	return group, nil
}

// Delete removes a group and its memberships. Owner only.
func (s *GroupService) Delete(ctx context.Context, callerID, classroomID, groupID string) error {
	if err := s.requireOwner(ctx, classroomID, callerID); err != nil {
		return err
	}
	if _, err := s.requireGroup(ctx, classroomID, groupID); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, groupID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete group")
	}
	return nil
}

// AddStudent places one classroom student into a group. The student type is
// resolved server-side; a student already in any group is rejected.
func (s *GroupService) AddStudent(ctx context.Context, callerID, classroomID, groupID string, req models.AddGroupStudentRequest) (*models.GroupMembership, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid membership payload")
	}
	if err := s.requireOwner(ctx, classroomID, callerID); err != nil {
		return nil, err
	}
	if _, err := s.requireGroup(ctx, classroomID, groupID); err != nil {
		return nil, err
	}

	studentType, err := s.resolveStudentType(ctx, classroomID, req.StudentID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindMembershipByStudent(ctx, req.StudentID, studentType)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up group membership")
	}
	if existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student is already in a group")
	}

	membership := &models.GroupMembership{
		GroupID:     groupID,
		StudentID:   req.StudentID,
		StudentType: studentType,
	}
	if err := s.repo.AddMembership(ctx, membership); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student is already in a group")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add student to group")
	}
	return membership, nil
}

// RemoveStudent drops a student from a group. Owner only.
func (s *GroupService) RemoveStudent(ctx context.Context, callerID, classroomID, groupID, studentID string) error {
	if err := s.requireOwner(ctx, classroomID, callerID); err != nil {
		return err
	}
	if _, err := s.requireGroup(ctx, classroomID, groupID); err != nil {
		return err
	}

	if err := s.repo.RemoveMembership(ctx, groupID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student is not in this group")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove student from group")
	}
	return nil
}

// RandomDistribute shuffles the classroom's ungrouped students and deals
// them round-robin across the existing groups. Owner only.
func (s *GroupService) RandomDistribute(ctx context.Context, callerID, classroomID string) (*models.DistributeResult, error) {
	if err := s.requireOwner(ctx, classroomID, callerID); err != nil {
		return nil, err
	}

	groups, err := s.repo.ListByClassroom(ctx, classroomID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list groups")
	}
	if len(groups) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "create at least one group before distributing")
	}

	students, err := s.repo.UnassignedStudents(ctx, classroomID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	if len(students) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "every student is already in a group")
	}

	rand.Shuffle(len(students), func(i, j int) {
		students[i], students[j] = students[j], students[i]
	})

	memberships := make([]models.GroupMembership, 0, len(students))
	for i, student := range students {
		memberships = append(memberships, models.GroupMembership{
			GroupID:     groups[i%len(groups)].ID,
			StudentID:   student.StudentID,
			StudentType: student.StudentType,
		})
	}
	if err := s.repo.AddMembershipsTx(ctx, memberships); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a student was grouped concurrently; retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to distribute students")
	}

	updated, err := s.repo.ListByClassroom(ctx, classroomID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list groups")
	}

	s.logger.Info("students distributed",
		zap.String("classroom_id", classroomID),
		zap.Int("students", len(students)),
		zap.Int("groups", len(groups)))

	return &models.DistributeResult{Groups: updated, StudentCount: len(students)}, nil
}

func (s *GroupService) resolveStudentType(ctx context.Context, classroomID, studentID string) (models.StudentType, error) {
	member, err := s.students.IsMember(ctx, classroomID, studentID)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student")
	}
	if member {
		return models.StudentRegistered, nil
	}

	student, err := s.students.FindAnonymousByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrNotFound, "student not found in this classroom")
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student")
	}
	if student.ClassID != classroomID {
		return "", appErrors.Clone(appErrors.ErrNotFound, "student not found in this classroom")
	}
	return models.StudentAnonymous, nil
}

func (s *GroupService) requireOwner(ctx context.Context, classroomID, callerID string) error {
	owner, err := s.classes.CanManage(ctx, classroomID, callerID)
	if err != nil {
		return err
	}
	if !owner {
		return appErrors.Clone(appErrors.ErrForbidden, "only the classroom owner may manage groups")
	}
	return nil
}

func (s *GroupService) requireGroup(ctx context.Context, classroomID, groupID string) (*models.Group, error) {
	group, err := s.repo.FindByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	if group.ClassroomID != classroomID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found in this classroom")
	}
	return group, nil
}
