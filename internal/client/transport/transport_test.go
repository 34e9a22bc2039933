package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken struct {
	mu    sync.Mutex
	token string
}

func (s *staticToken) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *staticToken) set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

type fakeRefresher struct {
	calls        atomic.Int32
	forceLogouts atomic.Int32
	tokens       *staticToken
	next         string
	err          error
}

func (f *fakeRefresher) RefreshOrLogout(ctx context.Context) error {
	f.calls.Add(1)
	if f.err != nil {
		return f.err
	}
	f.tokens.set(f.next)
	return nil
}

func (f *fakeRefresher) ForceLogout(ctx context.Context) {
	f.forceLogouts.Add(1)
	f.tokens.set("")
}

func TestBearerStampsCurrentToken(t *testing.T) {
	var seen string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
	}))
	defer server.Close()

	tokens := &staticToken{token: "tok-1"}
	client := &http.Client{Transport: Chain(nil, Bearer(tokens))}

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer tok-1", seen)

	tokens.set("tok-2")
	resp, err = client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer tok-2", seen)
}

func TestBearerSkipsEmptyToken(t *testing.T) {
	var seen string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
	}))
	defer server.Close()

	client := &http.Client{Transport: Chain(nil, Bearer(&staticToken{}))}
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, seen)
}

func TestRetryOnceRefreshesAndReplays(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	tokens := &staticToken{token: "stale"}
	refresher := &fakeRefresher{tokens: tokens, next: "fresh"}
	client := &http.Client{Transport: Chain(nil, RetryOnce(refresher), Bearer(tokens))}

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), refresher.calls.Load())
}

func TestRetryOnceStopsAfterSecondFailure(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := &staticToken{token: "stale"}
	refresher := &fakeRefresher{tokens: tokens, next: "still-rejected"}
	client := &http.Client{Transport: Chain(nil, RetryOnce(refresher), Bearer(tokens))}

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	// One original attempt, one replay, no second refresh.
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), refresher.calls.Load())
	assert.Equal(t, int32(1), refresher.forceLogouts.Load(), "a rejected fresh credential must force a logout")
}

func TestRetryOnceNoForcedLogoutWhenReplaySucceeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tokens := &staticToken{token: "stale"}
	refresher := &fakeRefresher{tokens: tokens, next: "fresh"}
	client := &http.Client{Transport: Chain(nil, RetryOnce(refresher), Bearer(tokens))}

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(0), refresher.forceLogouts.Load())
}

func TestRetryOnceSurfacesOriginalFailureWhenRefreshFails(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	tokens := &staticToken{token: "stale"}
	refresher := &fakeRefresher{tokens: tokens, err: fmt.Errorf("session revoked")}
	client := &http.Client{Transport: Chain(nil, RetryOnce(refresher), Bearer(tokens))}

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int32(1), refresher.calls.Load())
	// The refresher owns the logout decision on its own failures.
	assert.Equal(t, int32(0), refresher.forceLogouts.Load())
}

func TestRetryOnceReplaysBody(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tokens := &staticToken{token: "stale"}
	refresher := &fakeRefresher{tokens: tokens, next: "fresh"}
	client := &http.Client{Transport: Chain(nil, RetryOnce(refresher), Bearer(tokens))}

	resp, err := client.Post(server.URL, "application/json", strings.NewReader(`{"k":"v"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, bodies, 2)
	assert.Equal(t, `{"k":"v"}`, bodies[0])
	assert.Equal(t, `{"k":"v"}`, bodies[1])
}

func TestConcurrentRequestsKeepIndependentRetryAccounting(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tokens := &staticToken{token: "stale"}
	refresher := &fakeRefresher{tokens: tokens, next: "fresh"}
	client := &http.Client{Transport: Chain(nil, RetryOnce(refresher), Bearer(tokens))}

	const n = 8
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Get(server.URL)
			if err != nil {
				return
			}
			codes[i] = resp.StatusCode
			resp.Body.Close()
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		assert.Equalf(t, http.StatusOK, code, "request %d", i)
	}
}
