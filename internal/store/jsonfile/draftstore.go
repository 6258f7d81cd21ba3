package jsonfile

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quitline/carechat/internal/core/draft"
)

// draftFile is the root JSON structure stored on disk for drafts.
type draftFile struct {
	Drafts map[string]draft.Draft `json:"drafts"`
}

// DraftStore implements draft.Store using a JSON file.
type DraftStore struct {
	path string
	lock fileLock
	now  func() time.Time
	mu   sync.RWMutex
}

// NewDraftStore creates a draft store at path.
func NewDraftStore(path string) *DraftStore {
	return &DraftStore{path: path, lock: fileLock{path: path}, now: time.Now}
}

// Get returns the draft for a counterpart. Returns draft.ErrNotFound if none.
func (s *DraftStore) Get(ctx context.Context, counterpartID string) (draft.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var d draft.Draft
	var found bool
	err := s.lock.shared(func() error {
		var file draftFile
		if _, err := readJSON(s.path, &file); err != nil {
			return err
		}
		d, found = file.Drafts[counterpartID]
		return nil
	})
	if err != nil {
		return draft.Draft{}, err
	}
	if !found {
		return draft.Draft{}, draft.ErrNotFound
	}
	return d, nil
}

// Set stores body as the counterpart's draft. A blank body removes it.
func (s *DraftStore) Set(ctx context.Context, counterpartID, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lock.exclusive(func() error {
		var file draftFile
		if _, err := readJSON(s.path, &file); err != nil {
			return err
		}
		if file.Drafts == nil {
			file.Drafts = make(map[string]draft.Draft)
		}

		if strings.TrimSpace(body) == "" {
			if _, ok := file.Drafts[counterpartID]; !ok {
				return nil
			}
			delete(file.Drafts, counterpartID)
		} else {
			file.Drafts[counterpartID] = draft.Draft{
				CounterpartID: counterpartID,
				Body:          body,
				UpdatedAt:     s.now(),
			}
		}
		return writeJSON(s.path, file)
	})
}

// List returns all drafts, most recently updated first.
func (s *DraftStore) List(ctx context.Context) ([]draft.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var file draftFile
	err := s.lock.shared(func() error {
		_, err := readJSON(s.path, &file)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]draft.Draft, 0, len(file.Drafts))
	for _, d := range file.Drafts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].CounterpartID < out[j].CounterpartID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
