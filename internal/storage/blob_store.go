package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"coursesearch/internal/util"
)

// FileBlobStore serves attachment bytes from a directory. Keys are slash
// separated paths relative to the root.
type FileBlobStore struct {
	root string
}

func NewFileBlobStore(root string) (*FileBlobStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve files root: %w", err)
	}
	if err := util.EnsureDir(abs); err != nil {
		return nil, fmt.Errorf("create files root: %w", err)
	}
	return &FileBlobStore{root: abs}, nil
}

func (s *FileBlobStore) path(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if key == "" || strings.ContainsRune(key, 0) {
		return "", false
	}
	p := filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(key, "/")))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return p, true
}

// Fetch reads the blob stored under key. Missing keys and keys that escape the
// root both report util.ErrNotFound.
func (s *FileBlobStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := s.path(key)
	if !ok {
		return nil, fmt.Errorf("blob %q: %w", key, util.ErrNotFound)
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob %q: %w", key, util.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %q: %w", key, err)
	}
	return b, nil
}
