package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalClient stores objects as plain files under a base directory.
// Keys are slash-separated relative paths; the stored path recorded by
// callers is the key itself, so a key like "uploads/kyc/<name>" lands
// at "<base>/uploads/kyc/<name>".
type LocalClient struct {
	baseDir string
}

// NewLocalClient constructs a filesystem-backed client rooted at baseDir.
func NewLocalClient(baseDir string) (*LocalClient, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("local storage base dir is required")
	}
	return &LocalClient{baseDir: baseDir}, nil
}

// EnsureBucket ensures the base directory exists.
func (l *LocalClient) EnsureBucket(ctx context.Context) error {
	return os.MkdirAll(l.baseDir, 0o755)
}

// Put writes an object to disk, creating parent directories as needed.
func (l *LocalClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

// Get opens a reader for an object on disk.
func (l *LocalClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Delete removes an object from disk.
func (l *LocalClient) Delete(ctx context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Bucket returns the base directory.
func (l *LocalClient) Bucket() string {
	return l.baseDir
}

// resolve maps a key to an on-disk path, refusing keys that would
// escape the base directory.
func (l *LocalClient) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("object key is required")
	}
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || filepath.IsAbs(cleaned) {
		return "", errors.New("invalid object key")
	}
	return filepath.Join(l.baseDir, cleaned), nil
}
