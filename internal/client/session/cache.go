package session

import (
	"context"
	"errors"
)

// ErrCacheMiss is returned by Load when no state has been saved.
var ErrCacheMiss = errors.New("no cached auth state")

// Cache is the durable mirror of the in-memory store, surviving process
// restarts the way browser local storage survives page reloads.
type Cache interface {
	Save(ctx context.Context, state State) error
	Load(ctx context.Context) (State, error)
	Delete(ctx context.Context) error
}

// NopCache discards everything. Used when no durable storage is wanted.
type NopCache struct{}

func (NopCache) Save(ctx context.Context, state State) error { return nil }
func (NopCache) Load(ctx context.Context) (State, error)     { return State{}, ErrCacheMiss }
func (NopCache) Delete(ctx context.Context) error            { return nil }
