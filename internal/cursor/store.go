// Package cursor persists the payment watcher's resume position: a
// single pay_index integer, rewritten wholesale after each processed
// settlement.
package cursor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Store is the file-backed resume cursor. Writes are serialized by a
// coarse lock; readers see the latest committed value.
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a store over the given file path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted cursor, defaulting to 0 when the file does
// not exist yet.
func (s *Store) Load() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read pay index: %w", err)
	}
	var idx uint64
	if err := json.Unmarshal(data, &idx); err != nil {
		return 0, fmt.Errorf("parse pay index: %w", err)
	}
	return idx, nil
}

// Save rewrites the cursor file with the given pay index.
func (s *Store) Save(idx uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encode pay index: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write pay index: %w", err)
	}
	return nil
}
