package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStore keeps slots in a YAML file. The file is rewritten on every change
// with owner-only permissions since it may hold an API key.
type FileStore struct {
	path  string
	slots map[string]string
	mu    sync.Mutex
}

// NewFileStore loads path if it exists. A missing file is an empty store.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store path is required")
	}

	s := &FileStore{path: path, slots: make(map[string]string)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &s.slots); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if s.slots == nil {
		s.slots = make(map[string]string)
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, slot string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.slots[slot]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *FileStore) Set(_ context.Context, slot, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.slots[slot]
	s.slots[slot] = value
	if err := s.flush(); err != nil {
		if had {
			s.slots[slot] = prev
		} else {
			delete(s.slots, slot)
		}
		return err
	}
	return nil
}

func (s *FileStore) Remove(_ context.Context, slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slots[slot]; !ok {
		return nil
	}
	delete(s.slots, slot)
	return s.flush()
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) flush() error {
	data, err := yaml.Marshal(s.slots)
	if err != nil {
		return fmt.Errorf("encode slots: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
