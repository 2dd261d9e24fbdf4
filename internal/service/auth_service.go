package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/pbit-labs/pbit-classroom-api/internal/models"
	"github.com/pbit-labs/pbit-classroom-api/internal/repository"
	appErrors "github.com/pbit-labs/pbit-classroom-api/pkg/errors"
)

type authUserRepository interface {
	FindByIdentifier(ctx context.Context, identifier string, role models.UserRole) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

type authAnonymousRepository interface {
	FindAnonymousByName(ctx context.Context, classID, firstName string) (*models.AnonymousStudent, error)
	TouchAnonymous(ctx context.Context, studentID string) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

// AuthService provides registration, login and token validation.
type AuthService struct {
	users     authUserRepository
	anonymous authAnonymousRepository
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, anonymous authAnonymousRepository, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{users: users, anonymous: anonymous, validator: validate, logger: logger, config: config}
}

// Register creates an account. Teacher identifiers are email addresses and
// are stored lowercased; student identifiers are free-form usernames. The
// same identifier may exist once per role.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.UserInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	identifier := strings.TrimSpace(req.Identifier)
	if req.Role == models.RoleTeacher {
		identifier = strings.ToLower(identifier)
		if err := s.validator.Var(identifier, "email"); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "teacher identifier must be an email address")
		}
	}

	if _, err := s.users.FindByIdentifier(ctx, identifier, req.Role); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "account already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing account")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Identifier:   identifier,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		PasswordHash: string(hash),
		Role:         req.Role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		// The unique index on (identifier, role) is the authority; the
		// existence check above only catches the common case early.
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "identifier is already taken")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}

	s.logger.Info("account registered", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))

	return &models.UserInfo{
		ID:         user.ID,
		Identifier: user.Identifier,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		Role:       user.Role,
	}, nil
}

// Login authenticates an account and returns a signed bearer token.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	identifier := strings.TrimSpace(req.Identifier)
	if req.Role == models.RoleTeacher {
		identifier = strings.ToLower(identifier)
	}

	user, err := s.users.FindByIdentifier(ctx, identifier, req.Role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch account")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid identifier or password")
	}

	token, err := s.generateAccessToken(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	return &models.LoginResponse{
		AccessToken: token,
		ExpiresIn:   int64(s.config.Expiration.Seconds()),
		IssuedAt:    time.Now().UTC(),
		User: models.UserInfo{
			ID:         user.ID,
			Identifier: user.Identifier,
			FirstName:  user.FirstName,
			LastName:   user.LastName,
			Role:       user.Role,
		},
	}, nil
}

// CurrentUser loads the account behind a token subject.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*models.UserInfo, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return &models.UserInfo{
		ID:         user.ID,
		Identifier: user.Identifier,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		Role:       user.Role,
	}, nil
}

// VerifyAnonymous authenticates an anonymous student by class, exact first
// name and PIN, and bumps last_active_at on success.
func (s *AuthService) VerifyAnonymous(ctx context.Context, creds models.AnonymousCredentials) (*models.AnonymousStudent, error) {
	if err := s.validator.Struct(creds); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid anonymous credentials")
	}

	student, err := s.anonymous.FindAnonymousByName(ctx, creds.ClassID, strings.TrimSpace(creds.FirstName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "unknown student")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load anonymous student")
	}

	if student.PinCode == nil || *student.PinCode != creds.PinCode {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid PIN")
	}

	if err := s.anonymous.TouchAnonymous(ctx, student.StudentID); err != nil {
		s.logger.Warn("failed to update last active", zap.String("student_id", student.StudentID), zap.Error(err))
	}

	return student, nil
}

// ValidateToken parses and validates an access token returning the claims.
// Expired tokens are distinguished from malformed ones.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.Wrap(err, appErrors.ErrTokenExpired.Code, appErrors.ErrTokenExpired.Status, "token expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

func (s *AuthService) generateAccessToken(user *models.User) (string, error) {
	now := time.Now().UTC()
	claims := models.JWTClaims{
		UserID:     user.ID,
		Identifier: user.Identifier,
		Role:       user.Role,
		Name:       user.FullName(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.Expiration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}
