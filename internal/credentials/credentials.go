// Package credentials persists the vision API key in a per-user JSON file.
package credentials

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/cjeanneret/camask/internal/errors"
)

// EnvKey is consulted when the store holds no key.
const EnvKey = "ANTHROPIC_API_KEY"

type file struct {
	APIKey string `json:"api_key"`
}

// Store reads and writes {"api_key": "..."} at Path.
type Store struct {
	Path string
}

// DefaultPath returns <user config dir>/camask/credentials.json.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", apperrors.NewCredentialError("locate user config dir", err)
	}
	return filepath.Join(dir, "camask", "credentials.json"), nil
}

// New returns a store at DefaultPath.
func New() (*Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return &Store{Path: path}, nil
}

// Get returns the stored key. ok is false when no key is stored.
func (s *Store) Get() (key string, ok bool, err error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewCredentialError("read credentials", err)
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return "", false, apperrors.NewCredentialError("parse "+s.Path, err)
	}
	key = strings.TrimSpace(f.APIKey)
	return key, key != "", nil
}

// Set stores key, replacing any previous one.
func (s *Store) Set(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return apperrors.NewCredentialError("API key is empty", nil)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return apperrors.NewCredentialError("create credentials dir", err)
	}
	data, err := json.MarshalIndent(file{APIKey: key}, "", "  ")
	if err != nil {
		return apperrors.NewCredentialError("encode credentials", err)
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return apperrors.NewCredentialError("write credentials", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		_ = os.Remove(tmp)
		return apperrors.NewCredentialError("write credentials", err)
	}
	return nil
}

// Clear removes the stored key. Clearing an empty store is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperrors.NewCredentialError("remove credentials", err)
	}
	return nil
}

// Resolve returns the stored key, falling back to $ANTHROPIC_API_KEY.
func (s *Store) Resolve() (string, bool, error) {
	key, ok, err := s.Get()
	if err != nil || ok {
		return key, ok, err
	}
	if env := strings.TrimSpace(os.Getenv(EnvKey)); env != "" {
		return env, true, nil
	}
	return "", false, nil
}
