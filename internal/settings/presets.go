package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/mcp"
	"github.com/haasonsaas/nexus/pkg/models"
)

// ErrPresetNotFound is returned when apply/delete names an unknown preset.
var ErrPresetNotFound = fmt.Errorf("settings: preset not found")

// presetsData is the persisted file format for the named preset set.
type presetsData struct {
	Version int             `json:"version"`
	Presets []models.Preset `json:"presets"`
}

// ToolServerRefresher applies a new tool-server configuration set to the
// running MCP aggregator. internal/mcp.Manager satisfies this.
type ToolServerRefresher interface {
	Refresh(ctx context.Context, newConfigs []*mcp.ServerConfig) error
}

// PresetService persists named model+tool-server snapshots and applies them
// atomically against both the model settings service and the MCP
// aggregator, rolling back on partial failure.
type PresetService struct {
	mu             sync.Mutex
	path           string
	modelSettings  *ModelSettingsService
	refresher      ToolServerRefresher
	activeServers  []*mcp.ServerConfig // last successfully-applied tool-server set, for rollback
}

// NewPresetService creates a preset service persisting to path and applying
// snapshots through modelSettings and refresher.
func NewPresetService(path string, modelSettings *ModelSettingsService, refresher ToolServerRefresher) *PresetService {
	return &PresetService{path: path, modelSettings: modelSettings, refresher: refresher}
}

// List returns all durably stored presets.
func (s *PresetService) List() ([]models.Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	return data.Presets, nil
}

// Save persists preset under its Name, overwriting any existing preset of
// the same name.
func (s *PresetService) Save(preset models.Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	preset.UpdatedAt = now
	replaced := false
	for i, existing := range data.Presets {
		if existing.Name == preset.Name {
			preset.CreatedAt = existing.CreatedAt
			data.Presets[i] = preset
			replaced = true
			break
		}
	}
	if !replaced {
		preset.CreatedAt = now
		data.Presets = append(data.Presets, preset)
	}
	return s.write(data)
}

// Delete removes the named preset. It is a no-op if the preset doesn't exist.
func (s *PresetService) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return err
	}
	kept := make([]models.Preset, 0, len(data.Presets))
	for _, p := range data.Presets {
		if p.Name != name {
			kept = append(kept, p)
		}
	}
	data.Presets = kept
	return s.write(data)
}

// Apply looks up the named preset and atomically: (a) replaces the active
// model snapshot, (b) replaces the tool-server config list and signals the
// MCP aggregator to refresh. If the aggregator refresh fails, the model
// snapshot is rolled back to what was active before the call.
func (s *PresetService) Apply(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return err
	}
	var preset *models.Preset
	for i := range data.Presets {
		if data.Presets[i].Name == name {
			preset = &data.Presets[i]
			break
		}
	}
	if preset == nil {
		return ErrPresetNotFound
	}

	priorSnapshot, err := s.modelSettings.Get()
	if err != nil {
		return fmt.Errorf("load prior model snapshot: %w", err)
	}

	if err := s.modelSettings.Set(preset.Snapshot); err != nil {
		return fmt.Errorf("apply preset model snapshot: %w", err)
	}

	newServers := toolServersToMCPConfigs(preset.ToolServers)
	if s.refresher != nil {
		if err := s.refresher.Refresh(ctx, newServers); err != nil {
			// Roll back the model snapshot so readers never observe a
			// half-applied preset.
			if rollbackErr := s.modelSettings.Set(priorSnapshot); rollbackErr != nil {
				return fmt.Errorf("apply preset tool servers: %w (rollback also failed: %v)", err, rollbackErr)
			}
			return fmt.Errorf("apply preset tool servers: %w", err)
		}
	}
	s.activeServers = newServers
	return nil
}

func (s *PresetService) read() (presetsData, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return presetsData{Version: 1}, nil
		}
		return presetsData{}, fmt.Errorf("read presets: %w", err)
	}
	var file presetsData
	if err := json.Unmarshal(data, &file); err != nil {
		return presetsData{}, fmt.Errorf("decode presets: %w", err)
	}
	return file, nil
}

func (s *PresetService) write(data presetsData) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create presets directory: %w", err)
	}
	data.Version = 1
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode presets: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return fmt.Errorf("write temp presets: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename presets: %w", err)
	}
	return nil
}

func toolServersToMCPConfigs(servers []models.ToolServer) []*mcp.ServerConfig {
	configs := make([]*mcp.ServerConfig, 0, len(servers))
	for _, ts := range servers {
		configs = append(configs, &mcp.ServerConfig{
			ID:        ts.ID,
			Name:      ts.Name,
			Transport: mcp.TransportType(ts.Transport),
			Command:   ts.Command,
			Args:      ts.Args,
			Env:       ts.Env,
			WorkDir:   ts.WorkDir,
			URL:       ts.URL,
			Headers:   ts.Headers,
			AutoStart: ts.AutoStart,
			Enabled:   true,
		})
	}
	return configs
}
