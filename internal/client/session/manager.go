package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	apiclient "github.com/taskhive/backend/internal/client/api"
	"github.com/taskhive/backend/pkg/api"
)

// Status is the lifecycle state of the session manager.
type Status int

const (
	StatusUninitialized Status = iota
	StatusRestoring
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusRestoring:
		return "restoring"
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "uninitialized"
	}
}

// Manager drives the silent-refresh lifecycle: restore at startup,
// coalesced refresh on demand, forced logout when the session is gone.
type Manager struct {
	api   *apiclient.Client
	store *Store
	cache Cache
	group singleflight.Group

	mu     sync.Mutex
	status Status
}

func NewManager(apiClient *apiclient.Client, store *Store, cache Cache) *Manager {
	if cache == nil {
		cache = NopCache{}
	}
	return &Manager{
		api:    apiClient,
		store:  store,
		cache:  cache,
		status: StatusUninitialized,
	}
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) Store() *Store {
	return m.store
}

// Restore runs the startup sequence. Cached state is applied
// optimistically before the network round trip, so a user with a stale
// access token still sees their account while the refresh is in flight.
// A transient refresh failure keeps the optimistic state; a definitive
// rejection clears it.
func (m *Manager) Restore(ctx context.Context) Status {
	m.setStatus(StatusRestoring)

	cached, err := m.cache.Load(ctx)
	hasCached := err == nil && cached.LoggedIn()
	if hasCached {
		m.store.Set(cached)
	} else if err != nil && !errors.Is(err, ErrCacheMiss) {
		slog.Warn("auth cache unreadable", "error", err)
	}

	if _, err := m.Refresh(ctx); err != nil {
		if sessionInvalid(err) {
			m.ForceLogout(ctx)
			return StatusAnonymous
		}
		// Transient failure. Degrade gracefully: keep whatever we
		// restored instead of logging the user out over a flaky network.
		if hasCached {
			m.setStatus(StatusAuthenticated)
			return StatusAuthenticated
		}
		m.setStatus(StatusAnonymous)
		return StatusAnonymous
	}

	m.setStatus(StatusAuthenticated)
	return StatusAuthenticated
}

// Refresh exchanges the refresh cookie for a new access token and
// overwrites both the store and the cache. Concurrent callers share a
// single in-flight refresh.
func (m *Manager) Refresh(ctx context.Context) (State, error) {
	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		resp, err := m.api.RefreshToken(ctx)
		if err != nil {
			return nil, err
		}

		state := State{Account: resp.Account, AccessToken: resp.AccessToken}
		m.store.Set(state)
		if err := m.cache.Save(ctx, state); err != nil {
			slog.Warn("failed to persist auth state", "error", err)
		}
		return state, nil
	})
	if err != nil {
		return State{}, err
	}
	return v.(State), nil
}

// RefreshOrLogout is the request-pipeline entry point: refresh, and on a
// definitive rejection force a logout so the app drops to anonymous
// instead of looping.
func (m *Manager) RefreshOrLogout(ctx context.Context) error {
	if _, err := m.Refresh(ctx); err != nil {
		if sessionInvalid(err) {
			m.ForceLogout(ctx)
		}
		return err
	}
	return nil
}

// Login performs a password login and populates store and cache.
func (m *Manager) Login(ctx context.Context, email, password string) (State, error) {
	resp, err := m.api.Login(ctx, api.LoginRequest{Email: email, Password: password})
	if err != nil {
		return State{}, err
	}
	return m.adopt(ctx, resp), nil
}

// Adopt installs a {account, access token} pair obtained outside the
// normal login call, e.g. from the OAuth popup handshake.
func (m *Manager) Adopt(ctx context.Context, accessToken string, account *api.Account) State {
	return m.adopt(ctx, &api.AuthResponse{AccessToken: accessToken, Account: account})
}

func (m *Manager) adopt(ctx context.Context, resp *api.AuthResponse) State {
	state := State{Account: resp.Account, AccessToken: resp.AccessToken}
	m.store.Set(state)
	if err := m.cache.Save(ctx, state); err != nil {
		slog.Warn("failed to persist auth state", "error", err)
	}
	m.setStatus(StatusAuthenticated)
	return state
}

// Logout clears local state first so the UI flips immediately, then
// notifies the server best-effort. Calling it while logged out is a
// no-op.
func (m *Manager) Logout(ctx context.Context) error {
	state := m.store.Get()

	m.ForceLogout(ctx)

	if state.Account != nil {
		if err := m.api.Logout(ctx, state.Account.Email); err != nil {
			slog.Warn("failed to logout on server", "error", err)
		}
	}
	return nil
}

// ForceLogout drops local state without contacting the server and
// flips the manager to anonymous.
func (m *Manager) ForceLogout(ctx context.Context) {
	m.store.Clear()
	if err := m.cache.Delete(ctx); err != nil {
		slog.Warn("failed to clear auth cache", "error", err)
	}
	m.setStatus(StatusAnonymous)
}

// sessionInvalid reports whether the refresh failure is a definitive
// rejection rather than a transient one. Any structured auth failure
// (revoked, expired, missing or malformed refresh credential) means the
// session is gone; network-level errors do not.
func sessionInvalid(err error) bool {
	apiErr, ok := apiclient.AsError(err)
	if !ok {
		return false
	}
	switch apiErr.Code {
	case api.CodeSessionRevoked, api.CodeExpired, api.CodeInvalidRefreshToken, api.CodeNoRefreshToken:
		return true
	}
	return apiErr.Status == 401 || apiErr.Status == 403
}
