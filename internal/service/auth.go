package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/nanoassist/dashboard/internal/clock"
	"github.com/nanoassist/dashboard/internal/domain"
)

const defaultTokenTTL = 24 * time.Hour

// AuthService handles user registration, login, and JWT token operations.
type AuthService struct {
	users      domain.UserRepository
	profiles   domain.ProfileRepository
	jwtSecret  []byte
	bcryptCost int
	tokenTTL   time.Duration
	clock      clock.Clock
}

// AuthOption configures an AuthService.
type AuthOption func(*AuthService)

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(d time.Duration) AuthOption {
	return func(s *AuthService) { s.tokenTTL = d }
}

// WithAuthClock sets the clock tokens are issued and validated against.
func WithAuthClock(c clock.Clock) AuthOption {
	return func(s *AuthService) { s.clock = c }
}

// NewAuthService creates a new AuthService. Registered users get an empty
// profile row in profiles.
func NewAuthService(users domain.UserRepository, profiles domain.ProfileRepository, jwtSecret string, bcryptCost int, opts ...AuthOption) *AuthService {
	s := &AuthService{
		users:      users,
		profiles:   profiles,
		jwtSecret:  []byte(jwtSecret),
		bcryptCost: bcryptCost,
		tokenTTL:   defaultTokenTTL,
		clock:      clock.Real(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new user account after validating inputs.
func (s *AuthService) Register(ctx context.Context, email, fullName, password, confirmPassword string) (*domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", domain.ErrInvalidInput)
	}

	if password != confirmPassword {
		return nil, fmt.Errorf("%w: passwords do not match", domain.ErrInvalidInput)
	}

	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", domain.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Email:        email,
		PasswordHash: string(hash),
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	row := &domain.ProfileRow{ID: user.ID, Email: user.Email, Role: string(domain.RoleUser), FullName: strings.TrimSpace(fullName)}
	if err := s.profiles.Upsert(ctx, row); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}

	return user, nil
}

// Login verifies credentials and returns a freshly issued session.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.Session, error) {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrUnauthorized
	}

	session, err := s.issue(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("generate jwt: %w", err)
	}
	return session, nil
}

// ValidateToken parses and validates a JWT token string and returns the
// session it encodes.
func (s *AuthService) ValidateToken(tokenString string) (*domain.Session, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.clock.Now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, domain.ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrUnauthorized
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, domain.ErrUnauthorized
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, domain.ErrUnauthorized
	}
	email, _ := claims["email"].(string)

	return &domain.Session{
		AccessToken: tokenString,
		UserID:      sub,
		Email:       email,
		ExpiresAt:   exp.Time,
	}, nil
}

// Refresh exchanges a still-valid token for a new one with a full lifetime.
func (s *AuthService) Refresh(ctx context.Context, tokenString string) (*domain.Session, error) {
	current, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	// The account may have been removed since the token was issued.
	user, err := s.users.GetByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return s.issue(user.ID, user.Email)
}

// GetUserByID retrieves a user by their ID.
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

// SeedAdmin makes sure an admin account with the given credentials exists.
// An existing account keeps its password; its profile is promoted to admin
// and given the stores.
func (s *AuthService) SeedAdmin(ctx context.Context, email, password, stores string) error {
	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		user, err = s.Register(ctx, email, "", password, password)
		if err != nil {
			return fmt.Errorf("register admin: %w", err)
		}
	case err != nil:
		return fmt.Errorf("get admin: %w", err)
	}

	row, err := s.profiles.GetByID(ctx, user.ID)
	if errors.Is(err, domain.ErrNotFound) {
		row = &domain.ProfileRow{ID: user.ID, Email: user.Email}
	} else if err != nil {
		return fmt.Errorf("get admin profile: %w", err)
	}
	row.Role = string(domain.RoleAdmin)
	if stores != "" {
		row.Stores = stores
	}
	if err := s.profiles.Upsert(ctx, row); err != nil {
		return fmt.Errorf("promote admin: %w", err)
	}
	return nil
}

func (s *AuthService) issue(userID, email string) (*domain.Session, error) {
	now := s.clock.Now()
	exp := now.Add(s.tokenTTL)
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, err
	}
	return &domain.Session{
		AccessToken: token,
		UserID:      userID,
		Email:       email,
		ExpiresAt:   time.Unix(exp.Unix(), 0),
	}, nil
}
