package auth

import (
	"context"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kartikbazzad/bunbase/collab/internal/models"
	"github.com/kartikbazzad/bunbase/collab/internal/store"
	apperrors "github.com/kartikbazzad/bunbase/collab/pkg/errors"
)

const minPasswordLength = 6

// Service registers and logs in users, returning signed tokens.
type Service struct {
	users store.Users
	jwt   *JWT
}

// NewService creates a new auth Service
func NewService(users store.Users, jwt *JWT) *Service {
	return &Service{users: users, jwt: jwt}
}

// Register creates an account and returns it with a fresh token.
func (s *Service) Register(ctx context.Context, email, password string) (*models.User, string, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", apperrors.Validation("a valid email is required")
	}
	if len(password) < minPasswordLength {
		return nil, "", apperrors.Validation("password must be at least 6 characters")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", apperrors.Internal(err)
	}

	user := &models.User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(email),
		PasswordHash: string(hashed),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := s.jwt.Issue(models.Identity{UserID: user.ID, Email: user.Email})
	if err != nil {
		return nil, "", apperrors.Internal(err)
	}
	return user, token, nil
}

// Login checks credentials and returns the user with a fresh token.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return nil, "", apperrors.Unauthorized("invalid email or password")
		}
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", apperrors.Unauthorized("invalid email or password")
	}

	token, err := s.jwt.Issue(models.Identity{UserID: user.ID, Email: user.Email})
	if err != nil {
		return nil, "", apperrors.Internal(err)
	}
	return user, token, nil
}

// Profile returns the account behind an authenticated identity.
func (s *Service) Profile(ctx context.Context, userID string) (*models.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

// ListUsers returns every account, ordered by email.
func (s *Service) ListUsers(ctx context.Context) ([]*models.User, error) {
	return s.users.ListUsers(ctx)
}
