// Package boltdb persists client auth state in a local bbolt file.
package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/taskhive/backend/internal/client/session"
)

var (
	bucketAuth = []byte("auth")
	authKey    = []byte("current")
)

type Storage struct {
	db *bbolt.DB
}

// Open creates or opens the database file and ensures the auth bucket.
func Open(path string) (*Storage, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open auth cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAuth)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init auth bucket: %w", err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Save(ctx context.Context, state session.State) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAuth)
		if bucket == nil {
			return fmt.Errorf("auth bucket not found")
		}

		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to marshal auth state: %w", err)
		}
		return bucket.Put(authKey, data)
	})
}

func (s *Storage) Load(ctx context.Context) (session.State, error) {
	var state session.State

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAuth)
		if bucket == nil {
			return fmt.Errorf("auth bucket not found")
		}

		data := bucket.Get(authKey)
		if data == nil {
			return session.ErrCacheMiss
		}
		return json.Unmarshal(data, &state)
	})
	if err != nil {
		return session.State{}, err
	}
	return state, nil
}

func (s *Storage) Delete(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAuth)
		if bucket == nil {
			return fmt.Errorf("auth bucket not found")
		}
		return bucket.Delete(authKey)
	})
}

var _ session.Cache = (*Storage)(nil)
