// Package settings persists the active model snapshot and named presets on
// the local filesystem, using the same write-to-temp-then-rename idiom the
// rest of the gateway's file-backed stores use.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// modelSettingsData is the persisted file format for the active snapshot.
type modelSettingsData struct {
	Version  int                  `json:"version"`
	Snapshot models.ModelSnapshot `json:"snapshot"`
}

// ModelSettingsService owns the durable active model snapshot. All
// mutations go through an atomic file write; readers always observe either
// the old or the new snapshot, never a torn one.
type ModelSettingsService struct {
	mu   sync.RWMutex
	path string
}

// NewModelSettingsService creates a service persisting to path.
func NewModelSettingsService(path string) *ModelSettingsService {
	return &ModelSettingsService{path: path}
}

// Get returns the active model snapshot, or a zero-value snapshot if none
// has ever been written.
func (s *ModelSettingsService) Get() (models.ModelSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read()
}

// Set atomically replaces the active model snapshot.
func (s *ModelSettingsService) Set(snapshot models.ModelSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot.UpdatedAt = time.Now().UTC()
	return s.write(snapshot)
}

func (s *ModelSettingsService) read() (models.ModelSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.ModelSnapshot{}, nil
		}
		return models.ModelSnapshot{}, fmt.Errorf("read model settings: %w", err)
	}
	var file modelSettingsData
	if err := json.Unmarshal(data, &file); err != nil {
		return models.ModelSnapshot{}, fmt.Errorf("decode model settings: %w", err)
	}
	return file.Snapshot, nil
}

func (s *ModelSettingsService) write(snapshot models.ModelSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	file := modelSettingsData{Version: 1, Snapshot: snapshot}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode model settings: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp model settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename model settings: %w", err)
	}
	return nil
}
