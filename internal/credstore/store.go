package credstore

import (
	"context"
	"sync"

	"github.com/authgate/client/internal/model"
)

// Storage keys for the two credential entries.
const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
)

// Store persists the token pair across process restarts. Tokens are
// opaque pass-through values; no validation happens here.
type Store interface {
	// Persist writes both tokens durably as one unit.
	Persist(ctx context.Context, pair model.TokenPair) error
	// Load returns the stored pair. ok is false when either entry is
	// missing, which callers treat as "no session".
	Load(ctx context.Context) (pair model.TokenPair, ok bool, err error)
	// Clear erases both entries. Clearing an empty store is a no-op.
	Clear(ctx context.Context) error
}

// Memory is an in-process Store. It backs tests and the degraded mode
// where durable storage could not be opened (every restart then starts
// anonymous, forcing re-authentication).
type Memory struct {
	mu   sync.Mutex
	pair model.TokenPair
	has  bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Persist(_ context.Context, pair model.TokenPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = pair
	m.has = true
	return nil
}

func (m *Memory) Load(_ context.Context) (model.TokenPair, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.has || m.pair.Empty() {
		return model.TokenPair{}, false, nil
	}
	return m.pair, true, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = model.TokenPair{}
	m.has = false
	return nil
}
