package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/authgate/client/internal/api"
	"github.com/authgate/client/internal/credstore"
	"github.com/authgate/client/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBackend struct {
	fetchFn   func(token string) (model.Identity, error)
	refreshFn func(refreshToken string) (model.TokenPair, error)
	logoutErr error

	fetchCalls   int
	refreshCalls int
	logoutCalls  int
	fetchTokens  []string
}

func (f *fakeBackend) FetchIdentity(_ context.Context, token string) (model.Identity, error) {
	f.fetchCalls++
	f.fetchTokens = append(f.fetchTokens, token)
	return f.fetchFn(token)
}

func (f *fakeBackend) Refresh(_ context.Context, refreshToken string) (model.TokenPair, error) {
	f.refreshCalls++
	return f.refreshFn(refreshToken)
}

func (f *fakeBackend) Logout(_ context.Context, _ model.TokenPair) error {
	f.logoutCalls++
	return f.logoutErr
}

var alice = model.Identity{
	Username:   "alice",
	Email:      "a@x.com",
	Role:       model.RoleCustomer,
	IsActive:   true,
	IsVerified: true,
	CreatedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
}

// signedToken mints an HS256 token whose exp lies ttl from now. The core
// never checks the signature, only the claim.
func signedToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "alice", "exp": jwt.NewNumericDate(time.Now().Add(ttl))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test"))
	require.NoError(t, err)
	return token
}

func newCore(backend Backend, store credstore.Store) *Core {
	return New(backend, store, zap.NewNop())
}

func TestInitializeEmptyStoreIsAnonymousWithoutNetwork(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	core := newCore(backend, credstore.NewMemory())

	state, err := core.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, Anonymous, state.Status)
	assert.Zero(t, backend.fetchCalls+backend.refreshCalls+backend.logoutCalls, "no network calls expected")
}

func TestInitializeResolvesStoredPair(t *testing.T) {
	ctx := context.Background()
	store := credstore.NewMemory()
	require.NoError(t, store.Persist(ctx, model.TokenPair{AccessToken: "A1", RefreshToken: "R1"}))

	backend := &fakeBackend{
		fetchFn: func(token string) (model.Identity, error) {
			assert.Equal(t, "A1", token)
			return alice, nil
		},
	}
	core := newCore(backend, store)

	state, err := core.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, Authenticated, state.Status)
	assert.Equal(t, alice, state.Identity)
	assert.Zero(t, backend.refreshCalls)
}

func TestFetchIdentityRefreshesOnceOn401(t *testing.T) {
	ctx := context.Background()
	store := credstore.NewMemory()
	require.NoError(t, store.Persist(ctx, model.TokenPair{AccessToken: "old", RefreshToken: "R1"}))

	backend := &fakeBackend{
		fetchFn: func(token string) (model.Identity, error) {
			if token == "old" {
				return model.Identity{}, api.ErrUnauthorized
			}
			return alice, nil
		},
		refreshFn: func(refreshToken string) (model.TokenPair, error) {
			assert.Equal(t, "R1", refreshToken)
			return model.TokenPair{AccessToken: "new", RefreshToken: "R2"}, nil
		},
	}
	core := newCore(backend, store)

	state, err := core.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, Authenticated, state.Status)
	assert.Equal(t, 1, backend.refreshCalls, "at most one refresh per fetch")
	assert.Equal(t, []string{"old", "new"}, backend.fetchTokens)

	pair, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.TokenPair{AccessToken: "new", RefreshToken: "R2"}, pair, "refreshed pair must be persisted")
}

func TestFetchIdentityRefreshFailureEndsAnonymousAndClearsStore(t *testing.T) {
	ctx := context.Background()
	store := credstore.NewMemory()
	require.NoError(t, store.Persist(ctx, model.TokenPair{AccessToken: "old", RefreshToken: "dead"}))

	backend := &fakeBackend{
		fetchFn: func(string) (model.Identity, error) {
			return model.Identity{}, api.ErrUnauthorized
		},
		refreshFn: func(string) (model.TokenPair, error) {
			return model.TokenPair{}, &api.BackendError{Status: 401, Detail: "Invalid or revoked refresh token"}
		},
	}
	core := newCore(backend, store)

	state, err := core.Initialize(ctx)
	require.Error(t, err)
	assert.Equal(t, Anonymous, state.Status)
	assert.Equal(t, 1, backend.refreshCalls)

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "credential store must be cleared after a failed refresh")
}

func TestFetchIdentityRejectedAfterRefreshTearsDown(t *testing.T) {
	ctx := context.Background()
	store := credstore.NewMemory()
	require.NoError(t, store.Persist(ctx, model.TokenPair{AccessToken: "old", RefreshToken: "R1"}))

	backend := &fakeBackend{
		fetchFn: func(string) (model.Identity, error) {
			return model.Identity{}, api.ErrUnauthorized
		},
		refreshFn: func(string) (model.TokenPair, error) {
			return model.TokenPair{AccessToken: "new", RefreshToken: "R2"}, nil
		},
	}
	core := newCore(backend, store)

	state, err := core.Initialize(ctx)
	require.Error(t, err)
	assert.Equal(t, Anonymous, state.Status)
	assert.Equal(t, 1, backend.refreshCalls, "never chain a second refresh")
	assert.Equal(t, 2, backend.fetchCalls)

	_, ok, _ := store.Load(ctx)
	assert.False(t, ok)
}

func TestFetchIdentityOtherErrorFailsClosedKeepingStoredPair(t *testing.T) {
	ctx := context.Background()
	store := credstore.NewMemory()
	pair := model.TokenPair{AccessToken: "A1", RefreshToken: "R1"}
	require.NoError(t, store.Persist(ctx, pair))

	backend := &fakeBackend{
		fetchFn: func(string) (model.Identity, error) {
			return model.Identity{}, &api.BackendError{Status: 500, Detail: "boom"}
		},
	}
	core := newCore(backend, store)

	state, err := core.Initialize(ctx)
	require.Error(t, err)
	assert.Equal(t, Anonymous, state.Status)
	assert.Zero(t, backend.refreshCalls, "a non-401 error must not trigger refresh")

	got, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok, "transient outage must not destroy the stored pair")
	assert.Equal(t, pair, got)
}

func TestExpiredAccessTokenIsRefreshedBeforeFetch(t *testing.T) {
	ctx := context.Background()
	expired := signedToken(t, -time.Minute)
	store := credstore.NewMemory()
	require.NoError(t, store.Persist(ctx, model.TokenPair{AccessToken: expired, RefreshToken: "R1"}))

	fresh := signedToken(t, time.Hour)
	backend := &fakeBackend{
		fetchFn: func(token string) (model.Identity, error) {
			assert.Equal(t, fresh, token, "the expired token must never reach the backend")
			return alice, nil
		},
		refreshFn: func(string) (model.TokenPair, error) {
			return model.TokenPair{AccessToken: fresh, RefreshToken: "R2"}, nil
		},
	}
	core := newCore(backend, store)

	state, err := core.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, Authenticated, state.Status)
	assert.Equal(t, 1, backend.refreshCalls)
	assert.Equal(t, 1, backend.fetchCalls)
}

func TestLoginPersistsBeforeAuthenticated(t *testing.T) {
	ctx := context.Background()
	store := credstore.NewMemory()
	core := newCore(&fakeBackend{}, store)

	pair := model.TokenPair{AccessToken: "A1", RefreshToken: "R1"}
	require.NoError(t, core.Login(ctx, pair, alice))

	state := core.Snapshot()
	assert.Equal(t, Authenticated, state.Status)
	assert.Equal(t, alice, state.Identity)

	got, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pair, got, "Login followed by Load must return exactly the pair")
}

func TestLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := credstore.NewMemory()
	backend := &fakeBackend{}
	core := newCore(backend, store)

	require.NoError(t, core.Login(ctx, model.TokenPair{AccessToken: "A1", RefreshToken: "R1"}, alice))

	core.Logout(ctx)
	assert.Equal(t, Anonymous, core.Snapshot().Status)
	assert.Equal(t, 1, backend.logoutCalls)

	core.Logout(ctx)
	assert.Equal(t, Anonymous, core.Snapshot().Status)
	assert.Equal(t, 1, backend.logoutCalls, "no pair left, no second revoke call")

	_, ok, _ := store.Load(ctx)
	assert.False(t, ok)
}

func TestLogoutSwallowsBackendError(t *testing.T) {
	ctx := context.Background()
	store := credstore.NewMemory()
	backend := &fakeBackend{logoutErr: errors.New("backend down")}
	core := newCore(backend, store)

	require.NoError(t, core.Login(ctx, model.TokenPair{AccessToken: "A1", RefreshToken: "R1"}, alice))
	core.Logout(ctx)

	assert.Equal(t, Anonymous, core.Snapshot().Status, "local teardown proceeds regardless")
	_, ok, _ := store.Load(ctx)
	assert.False(t, ok)
}

func TestRefreshTokenWithoutSession(t *testing.T) {
	core := newCore(&fakeBackend{}, credstore.NewMemory())
	_, err := core.RefreshToken(context.Background())
	assert.Error(t, err)
}

func TestSnapshotStartsLoading(t *testing.T) {
	core := newCore(&fakeBackend{}, credstore.NewMemory())
	assert.Equal(t, Loading, core.Snapshot().Status)
}
