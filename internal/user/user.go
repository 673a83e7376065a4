// Package user persists API user accounts and authenticates logins.
package user

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const DefaultRole = "user"

// User is a stored account. PasswordHash is a bcrypt hash.
type User struct {
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// Store persists users. Create returns UsernameTakenError when the username
// already exists; Get returns ErrNotFound for unknown users.
type Store interface {
	Create(ctx context.Context, u User) error
	Get(ctx context.Context, username string) (User, error)
	Close() error
}

var ErrNotFound = errors.New("user not found")

type UsernameTakenError struct {
	Username string
}

func (e UsernameTakenError) Error() string {
	return fmt.Sprintf("username %q is already registered", e.Username)
}

func (e UsernameTakenError) Status() (int, string) {
	return http.StatusConflict, "username is already registered"
}

// InvalidCredentialsError does not distinguish unknown users from bad
// passwords.
type InvalidCredentialsError struct{}

func (e InvalidCredentialsError) Error() string {
	return "invalid username or password"
}

func (e InvalidCredentialsError) Status() (int, string) {
	return http.StatusUnauthorized, "invalid username or password"
}

type InvalidUserError struct {
	Reason string
}

func (e InvalidUserError) Error() string {
	return "invalid user: " + e.Reason
}

func (e InvalidUserError) Status() (int, string) {
	return http.StatusBadRequest, e.Reason
}

// Open connects to the store selected by the DSN scheme: sqlite://<path> or
// postgres://.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		s, err := OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
		if err != nil {
			return nil, err
		}
		return s, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		s, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.New("unsupported user store DSN scheme")
	}
}
