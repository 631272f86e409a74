package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore archives transcripts under a directory tree keyed by date.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Save replaces the archived copy atomically; readers never see a partial
// transcript.
func (s *LocalStore) Save(_ context.Context, key string, data []byte, _ string) error {
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("archive dir: %w", err)
	}
	return writeAtomic(dst, data)
}

func (s *LocalStore) Exists(_ context.Context, key string) bool {
	info, err := os.Stat(s.path(key))
	return err == nil && info.Mode().IsRegular()
}

func (s *LocalStore) Type() string { return "local" }

// writeAtomic writes data next to dst, syncs it and renames it into place.
func writeAtomic(dst string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".archive-*.tmp")
	if err != nil {
		return fmt.Errorf("archive temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("archive write: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("archive sync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("archive close: %w", err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("archive rename: %w", err)
	}
	return nil
}
