// Package session holds the client's view of "who is logged in": an
// in-memory store that owns the current {account, access token} pair, a
// durable cache behind it, and the manager that keeps both fresh.
package session

import (
	"sync"

	"github.com/taskhive/backend/pkg/api"
)

// State is the client auth state. The zero value means logged out;
// absence of either field is treated the same way.
type State struct {
	Account     *api.Account `json:"account,omitempty"`
	AccessToken string       `json:"accessToken,omitempty"`
}

func (s State) LoggedIn() bool {
	return s.Account != nil && s.AccessToken != ""
}

// Store is the single owner of the current auth state. Writers replace
// the whole state (last writer wins); subscribers observe every change.
type Store struct {
	mu          sync.RWMutex
	state       State
	subscribers []func(State)
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// AccessToken satisfies the transport token source.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.AccessToken
}

func (s *Store) Set(state State) {
	s.mu.Lock()
	s.state = state
	subs := make([]func(State), len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

func (s *Store) Clear() {
	s.Set(State{})
}

// Subscribe registers a change listener invoked after every state write.
// Listeners run on the writer's goroutine and must not block.
func (s *Store) Subscribe(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}
