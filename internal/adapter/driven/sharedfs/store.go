// Package sharedfs implements the cross-process shared store as a directory
// of JSON files. Rendering surfaces read the files directly; every write
// replaces its file atomically so readers never observe a torn value.
package sharedfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SharedStore = (*Store)(nil)

const fileExt = ".json"

var validKey = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ErrInvalidKey is returned for keys that cannot be mapped to a file name.
var ErrInvalidKey = errors.New("invalid shared store key")

// Store is a last-write-wins key-value store backed by one file per key.
type Store struct {
	dir string
}

// NewStore creates the directory if needed and returns a Store rooted at it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create shared dir %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory the store writes to.
func (s *Store) Dir() string {
	return s.dir
}

// Put replaces the value stored under key.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(value)); err != nil {
		return fmt.Errorf("write shared key %q: %w", key, err)
	}
	return nil
}

// Get returns the value stored under key and whether it exists.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read shared key %q: %w", key, err)
	}
	return data, true, nil
}

// Delete removes key. Missing keys are ignored.
func (s *Store) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete shared key %q: %w", key, err)
	}
	return nil
}

// Keys returns every stored key that begins with prefix, sorted.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list shared dir: %w", err)
	}

	keys := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, fileExt) {
			continue
		}
		key := strings.TrimSuffix(name, fileExt)
		if validKey.MatchString(key) && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	return keys, nil
}

func (s *Store) path(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, key+fileExt), nil
}
