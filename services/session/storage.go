package session

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// Store persists the serialized account state. Implementations hold a
// single record; history is not kept.
type Store interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// FileStore keeps the account state in a single JSON file. It is backed by
// an afero filesystem so tests can run on an in-memory one.
type FileStore struct {
	fs   afero.Fs
	path string
}

// NewFileStore creates a file-backed store at the given path.
func NewFileStore(fs afero.Fs, path string) *FileStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileStore{fs: fs, path: path}
}

func (s *FileStore) Load() ([]byte, error) {
	return afero.ReadFile(s.fs, s.path)
}

func (s *FileStore) Save(data []byte) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create token dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("write tokens: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace tokens: %w", err)
	}
	return nil
}
