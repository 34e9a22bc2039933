package session_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiclient "github.com/taskhive/backend/internal/client/api"
	"github.com/taskhive/backend/internal/client/session"
	"github.com/taskhive/backend/internal/client/transport"
	"github.com/taskhive/backend/pkg/api"
)

// refresherProxy defers to a manager assigned after the transport chain
// is built, mirroring the construction order in the CLI.
type refresherProxy struct {
	m *session.Manager
}

func (p *refresherProxy) RefreshOrLogout(ctx context.Context) error {
	return p.m.RefreshOrLogout(ctx)
}

func (p *refresherProxy) ForceLogout(ctx context.Context) {
	p.m.ForceLogout(ctx)
}

type memCache struct {
	mu    sync.Mutex
	state *session.State
}

func (m *memCache) Save(ctx context.Context, state session.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &state
	return nil
}

func (m *memCache) Load(ctx context.Context) (session.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return session.State{}, session.ErrCacheMiss
	}
	return *m.state, nil
}

func (m *memCache) Delete(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nil
	return nil
}

func testAccount() *api.Account {
	return &api.Account{ID: "u1", Email: "alice@example.com", Name: "Alice"}
}

func cachedState() session.State {
	return session.State{Account: testAccount(), AccessToken: "stale-token"}
}

func authOK(t *testing.T, token string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.AuthResponse{AccessToken: token, Account: testAccount()})
	}
}

func authFail(status int, code string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "refresh rejected", Code: code})
	}
}

func newManager(t *testing.T, baseURL string, cache session.Cache) *session.Manager {
	t.Helper()
	client, err := apiclient.New(baseURL)
	require.NoError(t, err)
	return session.NewManager(client, session.NewStore(), cache)
}

func TestRestoreRefreshSuccessOverwritesCachedState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh-token", authOK(t, "fresh-token"))
	server := httptest.NewServer(mux)
	defer server.Close()

	cache := &memCache{}
	require.NoError(t, cache.Save(context.Background(), cachedState()))

	m := newManager(t, server.URL, cache)
	status := m.Restore(context.Background())

	assert.Equal(t, session.StatusAuthenticated, status)
	state := m.Store().Get()
	assert.Equal(t, "fresh-token", state.AccessToken)
	require.NotNil(t, state.Account)
	assert.Equal(t, "alice@example.com", state.Account.Email)

	persisted, err := cache.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", persisted.AccessToken)
}

func TestRestoreTransientFailureKeepsOptimisticState(t *testing.T) {
	// A server that is gone entirely: connection refused, no HTTP
	// response, so the failure classifies as transient.
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	cache := &memCache{}
	require.NoError(t, cache.Save(context.Background(), cachedState()))

	m := newManager(t, url, cache)
	status := m.Restore(context.Background())

	assert.Equal(t, session.StatusAuthenticated, status)
	state := m.Store().Get()
	assert.Equal(t, "stale-token", state.AccessToken, "transient failure must not clear restored state")
	require.NotNil(t, state.Account)
}

func TestRestoreRevokedSessionClearsState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh-token", authFail(http.StatusForbidden, api.CodeSessionRevoked))
	server := httptest.NewServer(mux)
	defer server.Close()

	cache := &memCache{}
	require.NoError(t, cache.Save(context.Background(), cachedState()))

	m := newManager(t, server.URL, cache)
	status := m.Restore(context.Background())

	assert.Equal(t, session.StatusAnonymous, status)
	assert.False(t, m.Store().Get().LoggedIn())

	_, err := cache.Load(context.Background())
	assert.ErrorIs(t, err, session.ErrCacheMiss, "revocation must clear the durable cache")
}

func TestRestoreWithoutCacheCookieOnlyRefresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh-token", authOK(t, "cookie-only-token"))
	server := httptest.NewServer(mux)
	defer server.Close()

	m := newManager(t, server.URL, &memCache{})
	status := m.Restore(context.Background())

	assert.Equal(t, session.StatusAuthenticated, status)
	assert.Equal(t, "cookie-only-token", m.Store().Get().AccessToken)
}

func TestRestoreWithoutCacheAnyFailureIsAnonymous(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	m := newManager(t, url, &memCache{})
	status := m.Restore(context.Background())

	assert.Equal(t, session.StatusAnonymous, status)
	assert.False(t, m.Store().Get().LoggedIn())
}

func TestRefreshCoalescesConcurrentCallers(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(100 * time.Millisecond)
		authOK(t, "shared-token")(w, r)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	m := newManager(t, server.URL, &memCache{})

	const n = 8
	var wg sync.WaitGroup
	states := make([]session.State, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			state, err := m.Refresh(context.Background())
			assert.NoError(t, err)
			states[i] = state
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load(), "concurrent refreshes must share one flight")
	for _, state := range states {
		assert.Equal(t, "shared-token", state.AccessToken)
	}
}

func TestLogoutClearsLocalStateFirstAndIsIdempotent(t *testing.T) {
	var logoutHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		logoutHits.Add(1)
		// Server failure must not resurrect local state.
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cache := &memCache{}
	m := newManager(t, server.URL, cache)
	m.Adopt(context.Background(), "tok", testAccount())
	require.True(t, m.Store().Get().LoggedIn())

	require.NoError(t, m.Logout(context.Background()))
	assert.False(t, m.Store().Get().LoggedIn())
	assert.Equal(t, session.StatusAnonymous, m.Status())
	_, err := cache.Load(context.Background())
	assert.ErrorIs(t, err, session.ErrCacheMiss)

	// Second logout: nothing to do, no error, no second server call.
	require.NoError(t, m.Logout(context.Background()))
	assert.Equal(t, int32(1), logoutHits.Load())
}

func TestPipelineForcesLogoutWhenFreshTokenStillRejected(t *testing.T) {
	var meHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh-token", authOK(t, "fresh-token"))
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		meHits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "token rejected", Code: api.CodeExpired})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := session.NewStore()
	cache := &memCache{}
	proxy := &refresherProxy{}
	httpClient := &http.Client{
		Transport: transport.Chain(nil,
			transport.RetryOnce(proxy),
			transport.Bearer(store),
		),
	}
	client := apiclient.NewWithHTTPClient(server.URL, httpClient)
	m := session.NewManager(client, store, cache)
	proxy.m = m

	m.Adopt(context.Background(), "stale-token", testAccount())
	require.True(t, store.Get().LoggedIn())

	_, err := client.Me(context.Background())
	require.Error(t, err)

	// Refresh succeeded but the replay was rejected too: the pipeline
	// must not leave the app holding a credential the server refuses.
	assert.Equal(t, int32(2), meHits.Load())
	assert.False(t, store.Get().LoggedIn())
	assert.Equal(t, session.StatusAnonymous, m.Status())
	_, err = cache.Load(context.Background())
	assert.ErrorIs(t, err, session.ErrCacheMiss)
}

func TestRestoreTreatsWrappedCacheMissAsEmpty(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	m := newManager(t, url, wrappedMissCache{})
	status := m.Restore(context.Background())

	assert.Equal(t, session.StatusAnonymous, status)
	assert.False(t, m.Store().Get().LoggedIn())
}

// wrappedMissCache reports its miss wrapped, the way a storage backend
// with its own error context would.
type wrappedMissCache struct{}

func (wrappedMissCache) Save(ctx context.Context, state session.State) error { return nil }
func (wrappedMissCache) Load(ctx context.Context) (session.State, error) {
	return session.State{}, fmt.Errorf("bucket auth: %w", session.ErrCacheMiss)
}
func (wrappedMissCache) Delete(ctx context.Context) error { return nil }

func TestAdoptInstallsOAuthResult(t *testing.T) {
	cache := &memCache{}
	m := newManager(t, "http://unused", cache)

	state := m.Adopt(context.Background(), "oauth-token", testAccount())

	assert.Equal(t, "oauth-token", state.AccessToken)
	assert.Equal(t, session.StatusAuthenticated, m.Status())

	persisted, err := cache.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "oauth-token", persisted.AccessToken)
}

func TestStoreNotifiesSubscribers(t *testing.T) {
	store := session.NewStore()

	var notified []session.State
	store.Subscribe(func(s session.State) {
		notified = append(notified, s)
	})

	store.Set(session.State{AccessToken: "a", Account: testAccount()})
	store.Clear()

	require.Len(t, notified, 2)
	assert.True(t, notified[0].LoggedIn())
	assert.False(t, notified[1].LoggedIn())
}
