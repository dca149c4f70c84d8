package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"flinkly/adapters/memory"
	"flinkly/core"
)

// Store keeps the whole marketplace dataset in a single JSON file and
// serves reads from an in-memory copy. Level writes are persisted
// immediately. Suitable for demos and small deployments.
type Store struct {
	*memory.Store
	path string
	mu   sync.Mutex
}

// New loads path if it exists. A missing file starts an empty dataset.
func New(path string) (*Store, error) {
	s := &Store{Store: memory.New(), path: path}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var ds memory.Dataset
	if err := json.Unmarshal(b, &ds); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}
	s.Store.Load(ds)
	return nil
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.Store.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// SetSellerLevel updates the level and rewrites the file. When the file
// cannot be written the in-memory level is restored, so memory never runs
// ahead of disk.
func (s *Store) SetSellerLevel(ctx context.Context, user core.UserID, level core.SellerLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, err := s.Store.GetUser(ctx, user)
	if err != nil {
		return err
	}
	if err := s.Store.SetSellerLevel(ctx, user, level); err != nil {
		return err
	}
	if err := s.persist(); err != nil {
		if rerr := s.Store.SetSellerLevel(ctx, user, prev.SellerLevel); rerr != nil {
			err = errors.Join(err, fmt.Errorf("restore level: %w", rerr))
		}
		return fmt.Errorf("persist %s: %w", s.path, err)
	}
	return nil
}

// Save writes the current dataset, e.g. after seeding.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}
