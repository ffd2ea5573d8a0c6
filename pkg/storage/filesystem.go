package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// LocalStorage keeps review documents on the local filesystem under a
// single base directory. Paths handed to callers are always relative
// to that base.
type LocalStorage struct {
	baseDir string
}

func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./uploads"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Save writes data at the relative path, creating parent directories
// as needed, and returns the stored relative path.
func (s *LocalStorage) Save(relPath string, data []byte) (string, error) {
	abs := filepath.Join(s.baseDir, relPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("prepare upload directory: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return relPath, nil
}

// Open returns a read handle for a stored file.
func (s *LocalStorage) Open(relPath string) (*os.File, error) {
	f, err := os.Open(filepath.Join(s.baseDir, relPath))
	if err != nil {
		return nil, fmt.Errorf("open upload file: %w", err)
	}
	return f, nil
}

// Delete removes a stored file; a missing file is not an error.
func (s *LocalStorage) Delete(relPath string) error {
	err := os.Remove(filepath.Join(s.baseDir, relPath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete upload file: %w", err)
	}
	return nil
}
