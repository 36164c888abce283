package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"docqa/internal/blobstore"
)

// Store writes uploads below a directory on the local filesystem.
type Store struct {
	dir string
}

// New creates the upload directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = "uploads"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: abs}, nil
}

// Put stores r under key and returns the file path.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close file: %w", err)
	}
	return path, nil
}

// Delete removes a stored file. Missing files are not an error.
func (s *Store) Delete(_ context.Context, ref string) error {
	if !s.contains(ref) {
		return fmt.Errorf("reference %q is outside the upload dir", ref)
	}
	if err := os.Remove(ref); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	if parent := filepath.Dir(ref); parent != s.dir {
		_ = os.Remove(parent)
	}
	return nil
}

func (s *Store) resolve(key string) (string, error) {
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if !s.contains(path) {
		return "", fmt.Errorf("key %q escapes the upload dir", key)
	}
	return path, nil
}

func (s *Store) contains(path string) bool {
	rel, err := filepath.Rel(s.dir, filepath.Clean(path))
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

var _ blobstore.Store = (*Store)(nil)
