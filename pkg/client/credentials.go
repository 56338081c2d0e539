package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// CredentialStore caches the user's provider key between runs.
// Load returns "" and no error when nothing is cached.
type CredentialStore interface {
	Load() (string, error)
	Save(credential string) error
	Clear() error
}

// FileCredentialStore keeps the credential in a file readable only by its owner.
type FileCredentialStore struct {
	path string
}

var _ CredentialStore = (*FileCredentialStore)(nil)

// NewFileCredentialStore stores the credential at path.
func NewFileCredentialStore(path string) *FileCredentialStore {
	return &FileCredentialStore{path: path}
}

// DefaultCredentialPath is the per-user location of the cached credential.
func DefaultCredentialPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "taptalk", "gemini_api_key"), nil
}

// Path returns the backing file.
func (s *FileCredentialStore) Path() string {
	return s.path
}

func (s *FileCredentialStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileCredentialStore) Save(credential string) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return s.Clear()
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(credential+"\n"), 0o600); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(s.path, 0o600)
}

func (s *FileCredentialStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credential: %w", err)
	}
	return nil
}

// MemoryCredentialStore holds the credential for the life of the process.
type MemoryCredentialStore struct {
	mu         sync.Mutex
	credential string
}

var _ CredentialStore = (*MemoryCredentialStore)(nil)

// NewMemoryCredentialStore starts with credential, which may be empty.
func NewMemoryCredentialStore(credential string) *MemoryCredentialStore {
	return &MemoryCredentialStore{credential: strings.TrimSpace(credential)}
}

func (s *MemoryCredentialStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential, nil
}

func (s *MemoryCredentialStore) Save(credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = strings.TrimSpace(credential)
	return nil
}

func (s *MemoryCredentialStore) Clear() error {
	return s.Save("")
}
