package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/authgate/client/internal/api"
	"github.com/authgate/client/internal/credstore"
	"github.com/authgate/client/internal/model"
	"go.uber.org/zap"
)

// Status enumerates the session core states. Exactly one holds at any
// observation point; consumers must treat Loading as "defer decisions".
type Status int

const (
	Loading Status = iota
	Anonymous
	Authenticated
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// State is a point-in-time view of the session. Identity is the zero
// value unless Status is Authenticated.
type State struct {
	Status   Status
	Identity model.Identity
}

// Backend is the slice of the API the session core depends on.
type Backend interface {
	FetchIdentity(ctx context.Context, accessToken string) (model.Identity, error)
	Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error)
	Logout(ctx context.Context, pair model.TokenPair) error
}

// Core holds the current authenticated identity and token pair and
// orchestrates identity fetch, refresh-on-expiry, login, and logout.
// All methods are safe for concurrent use; consumers poll Snapshot.
type Core struct {
	backend Backend
	store   credstore.Store
	log     *zap.Logger

	mu       sync.Mutex
	status   Status
	identity model.Identity
	tokens   model.TokenPair
}

// New creates a session core in the Loading state. Call Initialize to
// resolve it.
func New(backend Backend, store credstore.Store, log *zap.Logger) *Core {
	return &Core{
		backend: backend,
		store:   store,
		log:     log.With(zap.String("component", "session")),
		status:  Loading,
	}
}

// Snapshot returns the current session state.
func (c *Core) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == Authenticated {
		return State{Status: Authenticated, Identity: c.identity}
	}
	return State{Status: c.status}
}

// AccessToken returns the current access token, refreshing the pair first
// when its expiry has already passed. ok is false when no session exists.
func (c *Core) AccessToken(ctx context.Context) (token string, ok bool) {
	c.mu.Lock()
	pair := c.tokens
	c.mu.Unlock()
	if pair.Empty() {
		return "", false
	}
	if tokenExpired(pair.AccessToken) {
		refreshed, err := c.refresh(ctx, pair)
		if err != nil {
			return "", false
		}
		pair = refreshed
	}
	return pair.AccessToken, true
}

// Initialize resolves any stored token pair to a session. An empty or
// unavailable store yields Anonymous without touching the network.
func (c *Core) Initialize(ctx context.Context) (State, error) {
	pair, ok, err := c.store.Load(ctx)
	if err != nil {
		// Storage trouble is non-fatal: treat as absent.
		c.log.Warn("credential store unavailable", zap.Error(err))
	}
	if err != nil || !ok {
		c.setStatus(Anonymous)
		return c.Snapshot(), nil
	}

	c.mu.Lock()
	c.tokens = pair
	c.mu.Unlock()
	return c.FetchIdentity(ctx)
}

// FetchIdentity resolves the current access token to a full identity. An
// expired token is exchanged at most once; if the refreshed token is still
// rejected the session is torn down. Any other backend or network error
// fails closed to Anonymous but keeps the stored pair for a later retry.
func (c *Core) FetchIdentity(ctx context.Context) (State, error) {
	c.mu.Lock()
	pair := c.tokens
	c.mu.Unlock()
	if pair.Empty() {
		c.setStatus(Anonymous)
		return c.Snapshot(), nil
	}

	refreshed := false
	if tokenExpired(pair.AccessToken) {
		next, err := c.refresh(ctx, pair)
		if err != nil {
			return c.Snapshot(), err
		}
		pair, refreshed = next, true
	}

	identity, err := c.backend.FetchIdentity(ctx, pair.AccessToken)
	if errors.Is(err, api.ErrUnauthorized) && !refreshed {
		var next model.TokenPair
		next, err = c.refresh(ctx, pair)
		if err != nil {
			return c.Snapshot(), err
		}
		pair = next
		identity, err = c.backend.FetchIdentity(ctx, pair.AccessToken)
	}
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			// Freshly refreshed token rejected: the pair is unusable.
			c.log.Warn("refreshed access token rejected")
			c.teardown(ctx)
			return c.Snapshot(), err
		}
		c.log.Warn("identity fetch failed", zap.Error(err))
		c.setStatus(Anonymous)
		return c.Snapshot(), err
	}

	c.mu.Lock()
	c.identity = identity
	c.status = Authenticated
	c.mu.Unlock()
	return c.Snapshot(), nil
}

// RefreshToken exchanges the current refresh token for a new pair. Failure
// is fatal to the session: local state and the credential store are
// cleared and the core ends Anonymous.
func (c *Core) RefreshToken(ctx context.Context) (model.TokenPair, error) {
	c.mu.Lock()
	pair := c.tokens
	c.mu.Unlock()
	if pair.Empty() {
		return model.TokenPair{}, errors.New("no session to refresh")
	}
	return c.refresh(ctx, pair)
}

// Login installs a verified token pair and identity. The caller has
// already completed the OTP exchange with the backend, so nothing is
// validated here. The transition to Authenticated happens only after the
// pair is durably persisted.
func (c *Core) Login(ctx context.Context, pair model.TokenPair, identity model.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Persist(ctx, pair); err != nil {
		return fmt.Errorf("persist token pair: %w", err)
	}
	c.tokens = pair
	c.identity = identity
	c.status = Authenticated
	c.log.Info("session established", zap.String("username", identity.Username), zap.String("role", string(identity.Role)))
	return nil
}

// Logout revokes the pair server-side (best effort) and always tears down
// local state. Idempotent.
func (c *Core) Logout(ctx context.Context) {
	c.mu.Lock()
	pair := c.tokens
	c.mu.Unlock()

	if !pair.Empty() {
		if err := c.backend.Logout(ctx, pair); err != nil {
			// Local teardown must proceed regardless.
			c.log.Warn("backend logout failed", zap.Error(err))
		}
	}
	c.teardown(ctx)
}

// refresh exchanges pair for a new one, replacing the persisted and
// in-memory copies together. On failure the session is torn down so no
// stale pair survives.
func (c *Core) refresh(ctx context.Context, pair model.TokenPair) (model.TokenPair, error) {
	next, err := c.backend.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		c.log.Warn("token refresh failed", zap.Error(err))
		c.teardown(ctx)
		return model.TokenPair{}, fmt.Errorf("refresh token: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if perr := c.store.Persist(ctx, next); perr != nil {
		c.log.Warn("persist refreshed pair", zap.Error(perr))
	}
	c.tokens = next
	return next, nil
}

// teardown clears the store and in-memory state, ending Anonymous.
func (c *Core) teardown(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Clear(ctx); err != nil {
		c.log.Warn("clear credential store", zap.Error(err))
	}
	c.tokens = model.TokenPair{}
	c.identity = model.Identity{}
	c.status = Anonymous
}

func (c *Core) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}
