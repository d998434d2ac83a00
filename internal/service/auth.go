package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"stocktrend/internal/auth"
	"stocktrend/internal/domain"
	"stocktrend/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrUnauthenticated    = errors.New("unauthenticated")
)

// ValidationError lists request fields that failed validation, keyed by the
// JSON field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+e.Fields[key])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

type RegisterInput struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionToken is the signed cookie value of a freshly created session.
type SessionToken struct {
	Token     string
	ExpiresAt time.Time
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (domain.User, SessionToken, error) {
	email := normalizeEmail(input.Email)
	username := strings.TrimSpace(input.Username)

	fields := map[string]string{}
	if !validEmail(email) {
		fields["email"] = "must be a valid email address"
	}
	if n := utf8.RuneCountInString(username); n < 3 || n > 32 {
		fields["username"] = "must be between 3 and 32 characters"
	}
	if n := utf8.RuneCountInString(input.Password); n < 8 || n > 128 {
		fields["password"] = "must be between 8 and 128 characters"
	}
	if len(fields) > 0 {
		return domain.User{}, SessionToken{}, &ValidationError{Fields: fields}
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return domain.User{}, SessionToken{}, err
	}
	user, err := s.store.CreateUser(ctx, email, username, hash)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return domain.User{}, SessionToken{}, ErrUserExists
		}
		return domain.User{}, SessionToken{}, fmt.Errorf("register user: %w", err)
	}

	token, err := s.startSession(ctx, user.ID)
	if err != nil {
		return domain.User{}, SessionToken{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, token, nil
}

func (s *Service) Login(ctx context.Context, input LoginInput) (domain.User, SessionToken, error) {
	email := normalizeEmail(input.Email)

	fields := map[string]string{}
	if !validEmail(email) {
		fields["email"] = "must be a valid email address"
	}
	if utf8.RuneCountInString(input.Password) < 8 {
		fields["password"] = "must be at least 8 characters"
	}
	if len(fields) > 0 {
		return domain.User{}, SessionToken{}, &ValidationError{Fields: fields}
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return domain.User{}, SessionToken{}, ErrInvalidCredentials
		}
		return domain.User{}, SessionToken{}, fmt.Errorf("load user: %w", err)
	}
	ok, err := auth.VerifyPassword(user.PasswordHash, input.Password)
	if err != nil {
		return domain.User{}, SessionToken{}, err
	}
	if !ok {
		return domain.User{}, SessionToken{}, ErrInvalidCredentials
	}

	token, err := s.startSession(ctx, user.ID)
	if err != nil {
		return domain.User{}, SessionToken{}, err
	}
	return *user, token, nil
}

func (s *Service) startSession(ctx context.Context, userID int64) (SessionToken, error) {
	raw, claims, err := s.tokens.Issue(userID)
	if err != nil {
		return SessionToken{}, err
	}
	if _, err := s.store.CreateSession(ctx, userID, claims.JWTID, claims.ExpiresAt); err != nil {
		return SessionToken{}, fmt.Errorf("create session: %w", err)
	}
	return SessionToken{Token: raw, ExpiresAt: claims.ExpiresAt}, nil
}

// Logout deletes every session of the token's user along with the token's own
// session. Invalid tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil
	}
	deleted, err := s.store.DeleteSessions(ctx, claims.UserID, claims.JWTID)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	s.logger.Info("user logged out", "user_id", claims.UserID, "sessions_deleted", deleted)
	return nil
}

// Authenticate resolves a session token to its user. The token must verify,
// its session must still exist and be unexpired, and the user must exist.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	session, err := s.store.GetSessionByJWTID(ctx, claims.JWTID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.UserID != claims.UserID || session.ExpiresAt.Before(s.now()) {
		return nil, ErrUnauthenticated
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email[strings.LastIndex(email, "@"):], ".")
}
