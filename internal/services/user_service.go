package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/JulianCR82/agenda-backend/internal/models"
	"github.com/JulianCR82/agenda-backend/pkg/crypto"
	apperrors "github.com/JulianCR82/agenda-backend/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = apperrors.New("EMAIL_TAKEN", "Email already registered", http.StatusConflict)
	// ErrUserInactive indicates the account has been deactivated.
	ErrUserInactive = apperrors.New("USER_INACTIVE", "Account is deactivated", http.StatusForbidden)
)

// RegisterUserInput describes the fields accepted when registering a user.
type RegisterUserInput struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// UserService manages registration, authentication and profile lookups.
type UserService struct {
	db *gorm.DB
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db}, nil
}

// Register provisions a new user with a hashed password.
func (s *UserService) Register(ctx context.Context, input RegisterUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	role := strings.ToLower(strings.TrimSpace(input.Role))

	if name == "" {
		return nil, apperrors.NewBadRequest("name is required")
	}
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	if strings.TrimSpace(input.Password) == "" {
		return nil, apperrors.NewBadRequest("password is required")
	}
	if role != models.RoleTeacher && role != models.RoleStudent {
		return nil, apperrors.NewBadRequest("role must be teacher or student")
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Name:     name,
		Email:    email,
		Password: hashed,
		Role:     role,
		IsActive: true,
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	return user, nil
}

// Authenticate verifies the credentials and records the login timestamp.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	ctx = ensureContext(ctx)

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, apperrors.ErrInvalidCredentials
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("user service: load user: %w", err)
	}

	if !crypto.VerifyPassword(user.Password, password) {
		return nil, apperrors.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&user).
		Update("last_login_at", now).Error; err != nil {
		return nil, fmt.Errorf("user service: record login: %w", err)
	}
	user.LastLoginAt = &now

	return &user, nil
}

// GetByID loads a user profile by identifier.
func (s *UserService) GetByID(ctx context.Context, userID string) (*models.User, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user service: load user: %w", err)
	}

	return &user, nil
}
