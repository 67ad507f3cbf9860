package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"certguide/internal/model"
	"certguide/internal/pkg/jwtutil"
	"certguide/internal/repository"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrEmailExists       = errors.New("email already registered")
	ErrInvalidCredential = errors.New("invalid email or password")
)

const (
	minPasswordLength = 6
	minNameLength     = 2
)

// UserStore is satisfied by repository.UserRepository. Lookups return
// nil, nil when the user does not exist; Create returns
// repository.ErrDuplicateEmail when the email is taken.
type UserStore interface {
	Create(user *model.User) error
	GetByEmail(email string) (*model.User, error)
	GetByID(id uint) (*model.User, error)
	RecordLogin(id uint, at time.Time) error
}

type AuthService struct {
	users         UserStore
	jwtSecret     string
	jwtExpiration time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

type LoginInput struct {
	Email    string
	Password string
}

type AuthResult struct {
	Token string
	User  *model.User
}

func NewAuthService(users UserStore, jwtSecret string, jwtExpiration time.Duration, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		users:         users,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
		logger:        logger,
		now:           time.Now,
	}
}

func (s *AuthService) Register(input RegisterInput) (*AuthResult, error) {
	email := normalizeEmail(input.Email)
	name := strings.TrimSpace(input.Name)
	password := input.Password

	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) < minNameLength {
		return nil, fmt.Errorf("%w: name must be at least %d characters", ErrInvalidInput, minNameLength)
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	existing, err := s.users.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	user, err := s.create(email, name, password, false)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		return nil, ErrEmailExists
	}
	if err != nil {
		return nil, err
	}
	return s.issue(user)
}

func (s *AuthService) Login(input LoginInput) (*AuthResult, error) {
	email := normalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, ErrInvalidInput
	}

	user, err := s.users.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, ErrInvalidCredential
	}
	at := s.now()
	if err := s.users.RecordLogin(user.ID, at); err != nil {
		s.logger.Warn("record login failed", "user_id", user.ID, "error", err)
	} else {
		user.LastLoginAt = &at
	}
	return s.issue(user)
}

func (s *AuthService) GetUserByID(id uint) (*model.User, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}
	return s.users.GetByID(id)
}

type DemoUser struct {
	Email    string
	Name     string
	Password string
}

var DemoUsers = []DemoUser{
	{Email: "demo@example.com", Name: "Demo User", Password: "demo"},
	{Email: "demo@istqb.com", Name: "ISTQB Demo User", Password: "demo123"},
}

// SeedDemoUsers creates the demo accounts that do not exist yet. Demo
// passwords bypass the registration length rule.
func (s *AuthService) SeedDemoUsers(users []DemoUser) error {
	for _, u := range users {
		email := normalizeEmail(u.Email)
		existing, err := s.users.GetByEmail(email)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		_, err = s.create(email, u.Name, u.Password, true)
		if errors.Is(err, repository.ErrDuplicateEmail) {
			continue
		}
		if err != nil {
			return err
		}
		s.logger.Info("seeded demo user", "email", email)
	}
	return nil
}

func (s *AuthService) create(email, name, password string, demo bool) (*model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password failed: %w", err)
	}
	user := &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Demo:         demo,
	}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := jwtutil.GenerateToken(s.jwtSecret, s.jwtExpiration, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
