// Package directory is the persisted username directory behind the
// per-user LNURL endpoints: a mutex-guarded map written wholesale to a
// JSON file on every mutation.
package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrUnknownUser is returned by Remove for names not in the directory.
var ErrUnknownUser = errors.New("user not found")

// Meta is the display metadata attached to a username.
type Meta struct {
	IsEmail     *bool   `json:"is_email,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Store is the thread-safe user directory.
type Store struct {
	mu    sync.Mutex
	path  string
	users map[string]Meta
}

// Load opens the directory at path, reading the existing file if any.
func Load(path string) (*Store, error) {
	s := &Store{path: path, users: make(map[string]Meta)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read users file: %w", err)
	}
	if err := json.Unmarshal(data, &s.users); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	return s, nil
}

// Lookup returns the metadata for a username.
func (s *Store) Lookup(user string) (Meta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.users[user]
	return meta, ok
}

// Add inserts or replaces a user and persists the directory. The returned
// flag reports whether an existing entry was updated.
func (s *Store) Add(user string, meta Meta) (updated bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, updated = s.users[user]
	s.users[user] = meta
	if err := s.save(); err != nil {
		return updated, err
	}
	return updated, nil
}

// Remove deletes a user and persists the directory.
func (s *Store) Remove(user string) (Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.users[user]
	if !ok {
		return Meta{}, ErrUnknownUser
	}
	delete(s.users, user)
	if err := s.save(); err != nil {
		return meta, err
	}
	return meta, nil
}

// List returns a copy of the directory contents.
func (s *Store) List() map[string]Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Meta, len(s.users))
	for k, v := range s.users {
		out[k] = v
	}
	return out
}

// save rewrites the whole file; callers hold the lock.
func (s *Store) save() error {
	data, err := json.Marshal(s.users)
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write users file: %w", err)
	}
	return nil
}
