package storage

import (
	"encoding/json"
	"os"
	"path/filepath"

	"minicord/gateway"

	"github.com/pkg/errors"
)

// FileSessionStorage implements gateway.SessionStorage using a local JSON file
type FileSessionStorage struct {
	Path string
}

// NewFileSessionStorage creates a new file-based session storage
func NewFileSessionStorage(path string) *FileSessionStorage {
	return &FileSessionStorage{Path: path}
}

// Save persists session data to file
func (s *FileSessionStorage) Save(session *gateway.SessionData) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return errors.Wrap(err, "create session directory")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}

	// Write then rename so a crash never leaves half a file behind.
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return errors.Wrap(err, "write session")
	}
	return errors.Wrap(os.Rename(tmp, s.Path), "replace session file")
}

// Load retrieves session data from file
func (s *FileSessionStorage) Load() (*gateway.SessionData, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, gateway.ErrNoSession
		}
		return nil, errors.Wrap(err, "read session")
	}
	var session gateway.SessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	if session.SessionID == "" {
		return nil, gateway.ErrNoSession
	}
	return &session, nil
}

// Clear removes the session file
func (s *FileSessionStorage) Clear() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove session")
	}
	return nil
}
