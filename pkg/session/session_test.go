package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"booking-inbox/client/pkg/jwt"
	"booking-inbox/client/pkg/logger"
	"booking-inbox/client/shared/redis"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func token(t *testing.T, claims gojwt.MapClaims) string {
	t.Helper()
	s, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)
	return s
}

func newStore(p Persister) *Store {
	return NewStore(p, logger.Discard())
}

func TestLoginFromClaims(t *testing.T) {
	store := newStore(NewMemoryPersister())
	tok := token(t, gojwt.MapClaims{
		"user_id": "u1",
		"name":    "Ana",
		"role":    "artist",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	identity, err := store.Login(context.Background(), tok, Profile{})
	require.NoError(t, err)

	assert.Equal(t, "u1", identity.ID)
	assert.Equal(t, "Ana", identity.Name)
	assert.Equal(t, jwt.RoleArtist, identity.Role)
	assert.Equal(t, tok, store.Token())
	assert.Equal(t, "u1", store.UserID())
}

func TestLoginProfileOverridesClaims(t *testing.T) {
	store := newStore(nil)
	tok := token(t, gojwt.MapClaims{"sub": "from-token", "role": "artist"})

	identity, err := store.Login(context.Background(), tok, Profile{ID: "from-profile", Role: "provider"})
	require.NoError(t, err)
	assert.Equal(t, "from-profile", identity.ID)
	assert.Equal(t, jwt.RoleProvider, identity.Role)
}

func TestLoginOpaqueToken(t *testing.T) {
	store := newStore(nil)

	_, err := store.Login(context.Background(), "opaque", Profile{})
	assert.ErrorIs(t, err, ErrMissingID)

	identity, err := store.Login(context.Background(), "opaque", Profile{ID: "u9", Role: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "u9", identity.ID)
	assert.True(t, identity.ExpiresAt.IsZero())
}

func TestLoginRejects(t *testing.T) {
	store := newStore(nil)

	_, err := store.Login(context.Background(), "  ", Profile{})
	assert.ErrorIs(t, err, ErrEmptyToken)

	expired := token(t, gojwt.MapClaims{"sub": "u1", "role": "artist", "exp": time.Now().Add(-time.Hour).Unix()})
	_, err = store.Login(context.Background(), expired, Profile{})
	assert.ErrorIs(t, err, ErrTokenExpired)

	badRole := token(t, gojwt.MapClaims{"sub": "u1", "role": "wizard"})
	_, err = store.Login(context.Background(), badRole, Profile{})
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, ok := store.Identity()
	assert.False(t, ok)
}

func TestTokenEmptyOnceExpired(t *testing.T) {
	store := newStore(nil)
	exp := time.Now().Add(time.Hour)
	_, err := store.Login(context.Background(), token(t, gojwt.MapClaims{"sub": "u1", "role": "artist", "exp": exp.Unix()}), Profile{})
	require.NoError(t, err)
	require.NotEmpty(t, store.Token())

	store.now = func() time.Time { return exp.Add(time.Second) }
	assert.Empty(t, store.Token())
}

func TestLogoutNotifiesAndClears(t *testing.T) {
	p := NewMemoryPersister()
	store := newStore(p)

	var events []bool
	store.OnChange(func(_ Identity, loggedIn bool) { events = append(events, loggedIn) })

	_, err := store.Login(context.Background(), "opaque", Profile{ID: "u1", Role: "artist"})
	require.NoError(t, err)
	store.Logout(context.Background())

	assert.Equal(t, []bool{true, false}, events)
	assert.Empty(t, store.Token())
	_, found, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFilePersisterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	p := NewFilePersister(path)

	store := newStore(p)
	_, err := store.Login(context.Background(), "opaque", Profile{ID: "u1", Name: "Ana", Role: "organizer"})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	restored := newStore(p)
	ok, err := restored.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	identity, _ := restored.Identity()
	assert.Equal(t, "u1", identity.ID)
	assert.Equal(t, jwt.RoleOrganizer, identity.Role)
	assert.Equal(t, "opaque", restored.Token())
}

func TestRestoreDiscardsExpiredSession(t *testing.T) {
	p := NewMemoryPersister()
	require.NoError(t, p.Save(context.Background(), Identity{
		ID:        "u1",
		Role:      jwt.RoleArtist,
		Token:     "old",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	store := newStore(p)
	ok, err := store.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	_, found, _ := p.Load(context.Background())
	assert.False(t, found)
}

func TestRedactedDropsToken(t *testing.T) {
	id := Identity{ID: "u1", Token: "secret"}
	assert.Empty(t, id.Redacted().Token)
	assert.Equal(t, "secret", id.Token)
}

// memoryKV behaves like the redis wrapper for the commands the persister sends
type memoryKV struct {
	values map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newMemoryKV() *memoryKV {
	return &memoryKV{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryKV) Get(_ context.Context, key string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.values[key]
	if !ok {
		return "", redis.ErrNil
	}
	return v, nil
}

func (m *memoryKV) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	switch v := value.(type) {
	case []byte:
		m.values[key] = string(v)
	case string:
		m.values[key] = v
	default:
		return errors.New("unsupported value type")
	}
	m.ttls[key] = expiration
	return nil
}

func (m *memoryKV) Del(_ context.Context, key string) error {
	delete(m.values, key)
	delete(m.ttls, key)
	return nil
}

func TestRedisPersisterRoundTrip(t *testing.T) {
	kv := newMemoryKV()
	p := NewRedisPersister(kv, "inbox:session")
	ctx := context.Background()

	_, found, err := p.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	identity := Identity{
		ID:        "u1",
		Name:      "Ana",
		Role:      jwt.RoleArtist,
		Token:     "tok",
		ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second),
	}
	require.NoError(t, p.Save(ctx, identity))
	assert.Contains(t, kv.values, "inbox:session")
	ttl := kv.ttls["inbox:session"]
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)

	loaded, found, err := p.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, identity.ID, loaded.ID)
	assert.Equal(t, identity.Role, loaded.Role)
	assert.Equal(t, identity.Token, loaded.Token)
	assert.True(t, identity.ExpiresAt.Equal(loaded.ExpiresAt))

	require.NoError(t, p.Clear(ctx))
	_, found, err = p.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisPersisterEdgeCases(t *testing.T) {
	ctx := context.Background()

	t.Run("no expiry keeps the key without ttl", func(t *testing.T) {
		kv := newMemoryKV()
		require.NoError(t, NewRedisPersister(kv, "k").Save(ctx, Identity{ID: "u1", Token: "tok"}))
		assert.Equal(t, time.Duration(0), kv.ttls["k"])
	})

	t.Run("expired identity is not stored", func(t *testing.T) {
		kv := newMemoryKV()
		err := NewRedisPersister(kv, "k").Save(ctx, Identity{ID: "u1", Token: "tok", ExpiresAt: time.Now().Add(-time.Minute)})
		assert.ErrorIs(t, err, ErrTokenExpired)
		assert.Empty(t, kv.values)
	})

	t.Run("corrupt value is an error", func(t *testing.T) {
		kv := newMemoryKV()
		kv.values["k"] = "{not json"
		_, _, err := NewRedisPersister(kv, "k").Load(ctx)
		assert.Error(t, err)
	})

	t.Run("connection error is surfaced", func(t *testing.T) {
		kv := newMemoryKV()
		kv.getErr = errors.New("connection refused")
		_, found, err := NewRedisPersister(kv, "k").Load(ctx)
		assert.Error(t, err)
		assert.False(t, found)
	})

	t.Run("store restores from redis", func(t *testing.T) {
		kv := newMemoryKV()
		p := NewRedisPersister(kv, "k")
		require.NoError(t, p.Save(ctx, Identity{ID: "u9", Role: jwt.RoleAdmin, Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}))

		store := newStore(p)
		restored, err := store.Restore(ctx)
		require.NoError(t, err)
		assert.True(t, restored)
		assert.Equal(t, "u9", store.UserID())
	})
}
