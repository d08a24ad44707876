package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/authgate/client/internal/api"
	"github.com/authgate/client/internal/backendtest"
	"github.com/authgate/client/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFixture(t *testing.T) (*api.Client, *backendtest.Server) {
	t.Helper()
	backend := backendtest.New()
	srv := httptest.NewServer(backend.Router())
	t.Cleanup(srv.Close)
	return api.New(srv.URL, 5*time.Second, zap.NewNop()), backend
}

func TestSignupEchoesTarget(t *testing.T) {
	client, _ := newFixture(t)

	resp, err := client.Signup(context.Background(), api.SignupRequest{
		Username: "alice",
		Password: "secret1",
		Email:    "a@x.com",
		Role:     model.RoleCustomer,
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "a@x.com", resp.Target)
	assert.True(t, resp.VerificationRequired)
	assert.NotEmpty(t, resp.Message)
}

func TestSignupTargetFallsBackToUsername(t *testing.T) {
	client, _ := newFixture(t)

	resp, err := client.Signup(context.Background(), api.SignupRequest{
		Username: "nocontact",
		Password: "secret1",
		Role:     model.RoleCustomer,
	})
	require.NoError(t, err)
	assert.Equal(t, "nocontact", resp.Target)
}

func TestSignupDuplicateUsernameSurfacesDetail(t *testing.T) {
	client, backend := newFixture(t)
	backend.Seed(model.Identity{Username: "alice", Role: model.RoleCustomer}, "x")

	_, err := client.Signup(context.Background(), api.SignupRequest{
		Username: "alice",
		Password: "secret1",
		Role:     model.RoleCustomer,
	})
	var berr *api.BackendError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, http.StatusBadRequest, berr.Status)
	assert.Equal(t, "Username already exists", berr.Detail)
}

func TestPasswordLoginFailureIsBackendErrorNotUnauthorized(t *testing.T) {
	client, backend := newFixture(t)
	backend.Seed(model.Identity{Username: "alice", Role: model.RoleCustomer}, "secret1")

	_, err := client.PasswordLogin(context.Background(), "alice", "wrong")
	// A 401 on an unauthenticated endpoint means bad credentials, not an
	// expired bearer; it must not trigger the refresh path.
	assert.False(t, errors.Is(err, api.ErrUnauthorized))
	var berr *api.BackendError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, http.StatusUnauthorized, berr.Status)
	assert.Equal(t, "Invalid credentials", berr.Detail)
}

func TestPasswordLoginUnverifiedAccountRejected(t *testing.T) {
	client, _ := newFixture(t)
	ctx := context.Background()

	_, err := client.Signup(ctx, api.SignupRequest{Username: "bob", Password: "secret1", Role: model.RoleCustomer})
	require.NoError(t, err)

	_, err = client.PasswordLogin(ctx, "bob", "secret1")
	var berr *api.BackendError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, http.StatusForbidden, berr.Status)
}

func TestPasswordLoginResolvesEmailIdentifier(t *testing.T) {
	client, backend := newFixture(t)
	backend.Seed(model.Identity{Username: "alice", Email: "a@x.com", Role: model.RoleCustomer}, "secret1")

	resp, err := client.PasswordLogin(context.Background(), "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice", resp.Username, "backend resolves the account behind the identifier")
	assert.Equal(t, "a@x.com", resp.Target)
	assert.True(t, resp.OTPRequired)
}

func TestVerifyLoginOTPIssuesPair(t *testing.T) {
	client, backend := newFixture(t)
	backend.Seed(model.Identity{Username: "alice", Email: "a@x.com", Role: model.RoleCustomer}, "secret1")
	ctx := context.Background()

	_, err := client.PasswordLogin(ctx, "alice", "secret1")
	require.NoError(t, err)

	pair, err := client.VerifyLoginOTP(ctx, "a@x.com", backend.OTP("a@x.com", "login"))
	require.NoError(t, err)
	assert.False(t, pair.Empty())

	identity, err := client.FetchIdentity(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Username)
	assert.Equal(t, model.RoleCustomer, identity.Role)
	assert.False(t, identity.CreatedAt.IsZero())
}

func TestFetchIdentityBadTokenIsUnauthorized(t *testing.T) {
	client, _ := newFixture(t)

	_, err := client.FetchIdentity(context.Background(), "garbage")
	assert.ErrorIs(t, err, api.ErrUnauthorized)
}

func TestFetchIdentityExpiredTokenIsUnauthorized(t *testing.T) {
	client, backend := newFixture(t)
	backend.Seed(model.Identity{Username: "alice", Role: model.RoleCustomer}, "secret1")
	pair := backend.IssuePair("alice", -time.Minute)

	_, err := client.FetchIdentity(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, api.ErrUnauthorized)
}

func TestRefreshRotatesAndRevokesOldToken(t *testing.T) {
	client, backend := newFixture(t)
	backend.Seed(model.Identity{Username: "alice", Role: model.RoleCustomer}, "secret1")
	pair := backend.IssuePair("alice", time.Minute)
	ctx := context.Background()

	next, err := client.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.False(t, next.Empty())
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// The old refresh token died with the rotation.
	_, err = client.Refresh(ctx, pair.RefreshToken)
	var berr *api.BackendError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, http.StatusUnauthorized, berr.Status)
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	client, backend := newFixture(t)
	backend.Seed(model.Identity{Username: "alice", Role: model.RoleCustomer}, "secret1")
	pair := backend.IssuePair("alice", time.Minute)
	ctx := context.Background()

	require.NoError(t, client.Logout(ctx, pair))

	_, err := client.Refresh(ctx, pair.RefreshToken)
	require.Error(t, err)
}

func TestLogoutWithoutBearerIsUnauthorized(t *testing.T) {
	client, _ := newFixture(t)

	err := client.Logout(context.Background(), model.TokenPair{AccessToken: "", RefreshToken: "r"})
	// No bearer was attached, so the 401 maps to a plain backend error.
	var berr *api.BackendError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, http.StatusUnauthorized, berr.Status)
}

func TestHealth(t *testing.T) {
	client, _ := newFixture(t)
	assert.NoError(t, client.Health(context.Background()))
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listening anymore
	client := api.New(srv.URL, time.Second, zap.NewNop())

	err := client.Health(context.Background())
	var nerr *api.NetworkError
	assert.ErrorAs(t, err, &nerr)
}
