// Package transport decorates an http.RoundTripper with the two
// cross-cutting auth stages: stamping the bearer credential and the
// single retry after a refresh. The stages are independent; Chain
// composes them explicitly instead of patching a global client.
package transport

import (
	"context"
	"io"
	"net/http"
)

// TokenSource yields the current access credential. An empty string
// means no credential; the request goes out unstamped.
type TokenSource interface {
	AccessToken() string
}

// Refresher obtains a fresh access credential. Implementations are
// expected to coalesce concurrent calls and to drop to a logged-out
// state when the refresh is definitively rejected. ForceLogout drops
// local session state when even a freshly refreshed credential is
// rejected.
type Refresher interface {
	RefreshOrLogout(ctx context.Context) error
	ForceLogout(ctx context.Context)
}

// Stage wraps one RoundTripper in another.
type Stage func(http.RoundTripper) http.RoundTripper

// Chain applies stages so that the first listed stage sees the request
// first. Chain(base, RetryOnce(r), Bearer(s)) therefore retries around a
// bearer-stamped transport.
func Chain(base http.RoundTripper, stages ...Stage) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := base
	for i := len(stages) - 1; i >= 0; i-- {
		rt = stages[i](rt)
	}
	return rt
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Bearer stamps the Authorization header from the token source. The
// request is cloned; RoundTrippers must not mutate their input.
func Bearer(source TokenSource) Stage {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if token := source.AccessToken(); token != "" {
				req = req.Clone(req.Context())
				req.Header.Set("Authorization", "Bearer "+token)
			}
			return next.RoundTrip(req)
		})
	}
}

type retriedKey struct{}

func markRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

func wasRetried(ctx context.Context) bool {
	retried, _ := ctx.Value(retriedKey{}).(bool)
	return retried
}

// RetryOnce replays a request exactly once after an authorization
// failure, refreshing first. The retry marker rides on the request
// context, so concurrent requests keep independent retry accounting.
// A failed refresh surfaces the original response and the Refresher
// handles the logout; a replay that is rejected despite the fresh
// credential forces the logout from here, so the session can never
// stay populated with a credential the server refuses.
func RetryOnce(refresher Refresher) Stage {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			resp, err := next.RoundTrip(req)
			if err != nil || !authFailure(resp) {
				return resp, err
			}

			if wasRetried(req.Context()) {
				return resp, nil
			}

			// A request with a one-shot body cannot be replayed.
			if req.Body != nil && req.GetBody == nil {
				return resp, nil
			}

			if refreshErr := refresher.RefreshOrLogout(req.Context()); refreshErr != nil {
				return resp, nil
			}

			retry := req.Clone(markRetried(req.Context()))
			if req.GetBody != nil {
				body, bodyErr := req.GetBody()
				if bodyErr != nil {
					return resp, nil
				}
				retry.Body = body
			}

			drain(resp)
			retryResp, retryErr := next.RoundTrip(retry)
			if retryErr == nil && authFailure(retryResp) {
				refresher.ForceLogout(req.Context())
			}
			return retryResp, retryErr
		})
	}
}

func authFailure(resp *http.Response) bool {
	return resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
