package user_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wayfarer/wayfarer/internal/user"
)

// storeContract exercises the behaviour shared by every Store.
func storeContract(t *testing.T, store user.Store, name string) {
	t.Helper()
	ctx := t.Context()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err := store.Create(ctx, user.User{Username: name, PasswordHash: "hash-1", Role: "user", CreatedAt: created})
	require.NoError(t, err)

	got, err := store.Get(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, name, got.Username)
	assert.Equal(t, "hash-1", got.PasswordHash)
	assert.Equal(t, "user", got.Role)
	assert.True(t, created.Equal(got.CreatedAt), "created_at round trip: %v", got.CreatedAt)

	err = store.Create(ctx, user.User{Username: name, PasswordHash: "hash-2", Role: "admin"})
	var taken user.UsernameTakenError
	require.ErrorAs(t, err, &taken)
	assert.Equal(t, name, taken.Username)

	// the original row is untouched
	got, err = store.Get(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, "hash-1", got.PasswordHash)

	_, err = store.Get(ctx, "nobody")
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestSQLStore(t *testing.T) {
	store, err := user.OpenSQLite(t.Context(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	storeContract(t, store, "ana")
}

func TestSQLStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")

	store, err := user.OpenSQLite(t.Context(), path)
	require.NoError(t, err)
	require.NoError(t, store.Create(t.Context(), user.User{Username: "ben", PasswordHash: "h", Role: "user"}))
	require.NoError(t, store.Close())

	reopened, err := user.OpenSQLite(t.Context(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Get(t.Context(), "ben")
	require.NoError(t, err)
	assert.Equal(t, "ben", got.Username)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("WAYFARER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WAYFARER_TEST_POSTGRES_DSN not set")
	}

	store, err := user.OpenPostgres(t.Context(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	// the database may be shared between runs
	storeContract(t, store, "ana-"+strconv.FormatInt(time.Now().UnixNano(), 36))
}

func TestOpen(t *testing.T) {
	t.Run("sqlite", func(t *testing.T) {
		store, err := user.Open(t.Context(), "sqlite://"+filepath.Join(t.TempDir(), "u.db"))
		require.NoError(t, err)
		assert.IsType(t, &user.SQLStore{}, store)
		require.NoError(t, store.Close())
	})

	t.Run("unsupported", func(t *testing.T) {
		store, err := user.Open(t.Context(), "mysql://localhost/users")
		require.Error(t, err)
		assert.Nil(t, store)
	})
}
