// Package jsonfile provides JSON file-backed stores for the CLI.
package jsonfile

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/quitline/carechat/internal/core/account"
)

// sessionFile is the root JSON structure stored on disk.
type sessionFile struct {
	Session *account.Session `json:"session,omitempty"`
}

// SessionStore implements account.Store using a JSON file.
type SessionStore struct {
	path string
	lock fileLock
	mu   sync.RWMutex
}

// NewSessionStore creates a session store at path.
func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path, lock: fileLock{path: path}}
}

// Load returns the stored session. Returns account.ErrNotFound if nobody is
// logged in.
func (s *SessionStore) Load(ctx context.Context) (account.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var file sessionFile
	err := s.lock.shared(func() error {
		_, err := readJSON(s.path, &file)
		return err
	})
	if err != nil {
		return account.Session{}, err
	}
	if file.Session == nil {
		return account.Session{}, account.ErrNotFound
	}
	return *file.Session, nil
}

// Save replaces the stored session.
func (s *SessionStore) Save(ctx context.Context, sess account.Session) error {
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lock.exclusive(func() error {
		return writeJSON(s.path, sessionFile{Session: &sess})
	})
}

// Delete removes the session file. Returns account.ErrNotFound if nobody is
// logged in.
func (s *SessionStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lock.exclusive(func() error {
		var file sessionFile
		if _, err := readJSON(s.path, &file); err != nil {
			return err
		}
		if file.Session == nil {
			return account.ErrNotFound
		}
		if err := os.Remove(s.path); err != nil {
			return fmt.Errorf("remove session file: %w", err)
		}
		return nil
	})
}
