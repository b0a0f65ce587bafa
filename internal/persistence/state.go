// Package persistence stores the replay checkpoint of a filter so that an
// echo replay can resume where it stopped after a restart.
package persistence

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/PlainsightAI/filter-stub-application/internal/errhandling"
	"github.com/PlainsightAI/filter-stub-application/internal/logger"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// Common errors
var (
	// ErrInvalidFilterID is returned when the filter ID is empty.
	ErrInvalidFilterID = errors.New("filter ID is required")

	// ErrNilState is returned when state is nil.
	ErrNilState = errors.New("state is nil")
)

// State is the persisted checkpoint of one filter.
type State struct {
	// FilterID identifies the filter the checkpoint belongs to.
	FilterID string `json:"filterId"`

	// EventsPath is the events file being replayed. A checkpoint taken on
	// another file is not resumed.
	EventsPath string `json:"eventsPath"`

	// Position is the number of events consumed in the current pass.
	Position int64 `json:"position"`

	// Cycles is the number of cycles run when the checkpoint was taken.
	Cycles int64 `json:"cycles"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// StateStore persists checkpoints as JSON files under a base directory,
// one file per filter.
type StateStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewStateStore creates a store rooted at basePath.
func NewStateStore(basePath string) *StateStore {
	return &StateStore{basePath: basePath}
}

// Path returns the checkpoint file of filterID.
func (s *StateStore) Path(filterID string) string {
	// Base keeps IDs like "../x" inside the store.
	return filepath.Join(s.basePath, filepath.Base(filterID)+".json")
}

// Save writes the checkpoint atomically (temp file + rename).
func (s *StateStore) Save(filterID string, state *State) error {
	if filterID == "" {
		return ErrInvalidFilterID
	}
	if state == nil {
		return ErrNilState
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.basePath, dirPerm); err != nil {
		return errhandling.NewIOError("create state directory", s.basePath, err)
	}

	state.FilterID = filterID
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errhandling.NewIOError("encode state", s.Path(filterID), err)
	}

	path := s.Path(filterID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return errhandling.NewIOError("write state file", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errhandling.NewIOError("rename state file", path, err)
	}

	logger.Debug("state saved",
		"filter_id", filterID,
		"path", path,
		"position", state.Position)
	return nil
}

// Load reads the checkpoint of filterID. It returns nil, nil when none exists.
func (s *StateStore) Load(filterID string) (*State, error) {
	if filterID == "" {
		return nil, ErrInvalidFilterID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.Path(filterID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("no state file found", "filter_id", filterID, "path", path)
			return nil, nil
		}
		return nil, errhandling.NewIOError("read state file", path, err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errhandling.NewIOError("decode state file", path, err)
	}
	if state.Position < 0 {
		state.Position = 0
	}
	return &state, nil
}

// Delete removes the checkpoint of filterID. A missing file is not an error.
func (s *StateStore) Delete(filterID string) error {
	if filterID == "" {
		return ErrInvalidFilterID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(filterID)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errhandling.NewIOError("delete state file", path, err)
	}
	return nil
}
