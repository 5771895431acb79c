package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
	"github.com/Shivanand-hulikatti/digital-library/internal/repository"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 32
	minPasswordLen = 6
	tokenBytes     = 32
)

// AuthService registers users and manages bearer-token sessions.
type AuthService struct {
	members   repository.MembershipStore
	sessions  repository.SessionStore
	adminCode string
	ttl       time.Duration
	logger    *zap.Logger
	now       Clock
}

// NewAuthService constructs an AuthService. An empty adminCode disables
// admin self-registration.
func NewAuthService(
	members repository.MembershipStore,
	sessions repository.SessionStore,
	adminCode string,
	ttl time.Duration,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		members:   members,
		sessions:  sessions,
		adminCode: adminCode,
		ttl:       ttl,
		logger:    logger,
		now:       utcNow,
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func validateCredentials(email, username, password string) error {
	if !isValidEmail(email) {
		return model.Validationf("email is not a valid email address")
	}
	if n := len(username); n < minUsernameLen || n > maxUsernameLen {
		return model.Validationf("username must be %d-%d characters", minUsernameLen, maxUsernameLen)
	}
	if len(password) < minPasswordLen {
		return model.Validationf("password must be at least %d characters", minPasswordLen)
	}
	return nil
}

// Register creates a member. isAdmin is honoured only with the configured
// admin registration code.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (*model.User, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if err := validateCredentials(req.Email, req.Username, req.Password); err != nil {
		return nil, err
	}
	if req.IsAdmin {
		if s.adminCode == "" || subtle.ConstantTimeCompare([]byte(req.AdminCode), []byte(s.adminCode)) != 1 {
			return nil, model.Validationf("invalid admin code")
		}
	}

	user, err := s.createUser(ctx, req.Email, req.Username, req.Password, req.IsAdmin)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username),
		zap.Bool("is_admin", user.IsAdmin),
	)
	return user, nil
}

func (s *AuthService) createUser(ctx context.Context, email, username, password string, isAdmin bool) (*model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &model.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		IsAdmin:      isAdmin,
		IssuedBooks:  []model.IssuedBook{},
		CreatedAt:    s.now(),
	}
	if err := s.members.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and opens a session.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (*model.LoginResponse, error) {
	login := strings.TrimSpace(req.EmailOrUsername)
	if login == "" || req.Password == "" {
		return nil, model.Validationf("emailOrUsername and password are required")
	}

	user, err := s.members.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, model.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, model.ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	if err := s.sessions.CreateSession(ctx, model.Session{
		TokenHash: hashToken(token),
		UserID:    user.ID,
		ExpiresAt: s.now().Add(s.ttl),
	}); err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID))
	return &model.LoginResponse{Success: true, User: user, Token: token}, nil
}

// Authenticate resolves a bearer token to its user. Expired sessions are
// removed.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, model.ErrSessionExpired
	}
	hash := hashToken(token)
	session, err := s.sessions.GetSession(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !s.now().Before(session.ExpiresAt) {
		if err := s.sessions.DeleteSession(ctx, hash); err != nil {
			s.logger.Warn("failed to delete expired session", zap.Error(err))
		}
		return nil, model.ErrSessionExpired
	}

	user, err := s.members.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, model.ErrSessionExpired
		}
		return nil, err
	}
	return user, nil
}

// Logout ends the session. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.DeleteSession(ctx, hashToken(token))
}

// EnsureAdmin creates an admin account, or promotes the existing account with
// that username or email. Used by the create-admin command.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, username, password string) (user *model.User, created bool, err error) {
	email = strings.TrimSpace(strings.ToLower(email))
	username = strings.TrimSpace(username)

	existing, err := s.members.GetUserByLogin(ctx, username)
	if errors.Is(err, model.ErrUserNotFound) {
		existing, err = s.members.GetUserByLogin(ctx, email)
	}
	switch {
	case err == nil:
		if err := s.members.SetAdmin(ctx, existing.ID, true); err != nil {
			return nil, false, err
		}
		existing.IsAdmin = true
		s.logger.Info("user promoted to admin", zap.String("user_id", existing.ID))
		return existing, false, nil
	case !errors.Is(err, model.ErrUserNotFound):
		return nil, false, err
	}

	if err := validateCredentials(email, username, password); err != nil {
		return nil, false, err
	}
	user, err = s.createUser(ctx, email, username, password, true)
	if err != nil {
		return nil, false, err
	}
	s.logger.Info("admin created", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return user, true, nil
}
