package user

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const (
	minPasswordLength = 8
	maxUsernameLength = 64
)

// TokenIssuer mints a bearer token for an authenticated user.
type TokenIssuer interface {
	Issue(subject, role string) (string, error)
}

// Service registers users and exchanges valid credentials for tokens.
type Service struct {
	store  Store
	issuer TokenIssuer
	cost   int
}

type ServiceOption func(*Service)

// WithHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func WithHashCost(cost int) ServiceOption {
	return func(s *Service) {
		s.cost = cost
	}
}

func NewService(store Store, issuer TokenIssuer, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		issuer: issuer,
		cost:   bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register stores a new user with the default role.
func (s *Service) Register(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if err := validate(username, password); err != nil {
		return err
	}

	hash, err := HashPassword(password, s.cost)
	if err != nil {
		return err
	}

	if err := s.store.Create(ctx, User{Username: username, PasswordHash: hash, Role: DefaultRole}); err != nil {
		return err
	}

	log.Ctx(ctx).Info().Str("username", username).Msg("user registered")
	return nil
}

// Login verifies the credentials and issues a token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	u, err := s.store.Get(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrNotFound) {
		return "", InvalidCredentialsError{}
	}
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		log.Ctx(ctx).Debug().Str("username", u.Username).Msg("password mismatch")
		return "", InvalidCredentialsError{}
	}

	token, err := s.issuer.Issue(u.Username, u.Role)
	if err != nil {
		return "", fmt.Errorf("issuing token: %w", err)
	}
	return token, nil
}

// HashPassword returns a bcrypt hash of password at the given cost.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

func validate(username, password string) error {
	switch {
	case username == "":
		return InvalidUserError{Reason: "username is required"}
	case utf8.RuneCountInString(username) > maxUsernameLength:
		return InvalidUserError{Reason: fmt.Sprintf("username must be at most %d characters", maxUsernameLength)}
	case utf8.RuneCountInString(password) < minPasswordLength:
		return InvalidUserError{Reason: fmt.Sprintf("password must be at least %d characters", minPasswordLength)}
	case len(password) > 72:
		// bcrypt only considers the first 72 bytes
		return InvalidUserError{Reason: "password must be at most 72 bytes"}
	}
	return nil
}

// SeedUser is an entry of the seed file. PasswordHash must already be a
// bcrypt hash.
type SeedUser struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"passwordHash"`
	Role         string `yaml:"role"`
}

type seedFile struct {
	Users []SeedUser `yaml:"users"`
}

// LoadSeed reads a YAML seed file of the form:
//
//	users:
//	  - username: admin
//	    passwordHash: $2a$10$...
//	    role: admin
func LoadSeed(path string) ([]SeedUser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}

	for i, u := range f.Users {
		if u.Username == "" {
			return nil, fmt.Errorf("seed user %d: username is required", i)
		}
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return nil, fmt.Errorf("seed user %q: passwordHash is not a bcrypt hash", u.Username)
		}
		if u.Role == "" {
			f.Users[i].Role = DefaultRole
		}
	}

	return f.Users, nil
}

// Seed creates the given users, leaving existing accounts untouched.
func (s *Service) Seed(ctx context.Context, users []SeedUser) error {
	created := 0
	for _, u := range users {
		err := s.store.Create(ctx, User{Username: u.Username, PasswordHash: u.PasswordHash, Role: u.Role})
		var taken UsernameTakenError
		if errors.As(err, &taken) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seeding user %q: %w", u.Username, err)
		}
		created++
	}

	log.Ctx(ctx).Info().Int("created", created).Int("total", len(users)).Msg("user seed applied")
	return nil
}
