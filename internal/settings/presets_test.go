package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/nexus/internal/mcp"
	"github.com/haasonsaas/nexus/pkg/models"
)

type fakeRefresher struct {
	failNextRefresh bool
	lastConfigs     []*mcp.ServerConfig
	calls           int
}

func (f *fakeRefresher) Refresh(ctx context.Context, newConfigs []*mcp.ServerConfig) error {
	f.calls++
	if f.failNextRefresh {
		return fmt.Errorf("simulated aggregator refresh failure")
	}
	f.lastConfigs = newConfigs
	return nil
}

func newTestPresetService(t *testing.T, refresher ToolServerRefresher) (*PresetService, *ModelSettingsService) {
	t.Helper()
	dir := t.TempDir()
	modelSettings := NewModelSettingsService(filepath.Join(dir, "model.json"))
	presets := NewPresetService(filepath.Join(dir, "presets.json"), modelSettings, refresher)
	return presets, modelSettings
}

func TestPresetSaveAndList(t *testing.T) {
	presets, _ := newTestPresetService(t, &fakeRefresher{})
	if err := presets.Save(models.Preset{Name: "research", Snapshot: models.ModelSnapshot{ModelID: "m1"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	list, err := presets.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Name != "research" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestPresetSaveOverwritesByNamePreservingCreatedAt(t *testing.T) {
	presets, _ := newTestPresetService(t, &fakeRefresher{})
	if err := presets.Save(models.Preset{Name: "p", Snapshot: models.ModelSnapshot{ModelID: "m1"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first, _ := presets.List()
	if err := presets.Save(models.Preset{Name: "p", Snapshot: models.ModelSnapshot{ModelID: "m2"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, _ := presets.List()
	if len(second) != 1 {
		t.Fatalf("expected overwrite not append, got %d presets", len(second))
	}
	if !second[0].CreatedAt.Equal(first[0].CreatedAt) {
		t.Errorf("expected CreatedAt preserved across overwrite")
	}
	if second[0].Snapshot.ModelID != "m2" {
		t.Errorf("ModelID = %q, want m2", second[0].Snapshot.ModelID)
	}
}

func TestPresetApplyAppliesSnapshotAndServers(t *testing.T) {
	refresher := &fakeRefresher{}
	presets, modelSettings := newTestPresetService(t, refresher)

	preset := models.Preset{
		Name:     "research",
		Snapshot: models.ModelSnapshot{ModelID: "anthropic/claude-3.5-sonnet"},
		ToolServers: []models.ToolServer{
			{ID: "web", Name: "web-search", Transport: "http", URL: "https://example/mcp"},
		},
	}
	if err := presets.Save(preset); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := presets.Apply(context.Background(), "research"); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	active, err := modelSettings.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if active.ModelID != "anthropic/claude-3.5-sonnet" {
		t.Errorf("active model = %q, want preset model", active.ModelID)
	}
	if refresher.calls != 1 || len(refresher.lastConfigs) != 1 || refresher.lastConfigs[0].ID != "web" {
		t.Errorf("expected aggregator refreshed with preset's tool servers, got %+v", refresher.lastConfigs)
	}
}

func TestPresetApplyUnknownNameReturnsNotFound(t *testing.T) {
	presets, _ := newTestPresetService(t, &fakeRefresher{})
	if err := presets.Apply(context.Background(), "missing"); err != ErrPresetNotFound {
		t.Fatalf("expected ErrPresetNotFound, got %v", err)
	}
}

func TestPresetApplyRollsBackModelSnapshotOnRefreshFailure(t *testing.T) {
	refresher := &fakeRefresher{}
	presets, modelSettings := newTestPresetService(t, refresher)

	if err := modelSettings.Set(models.ModelSnapshot{ModelID: "prior-model"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := presets.Save(models.Preset{Name: "broken", Snapshot: models.ModelSnapshot{ModelID: "new-model"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	refresher.failNextRefresh = true
	if err := presets.Apply(context.Background(), "broken"); err == nil {
		t.Fatal("expected Apply to fail when aggregator refresh fails")
	}

	active, err := modelSettings.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if active.ModelID != "prior-model" {
		t.Errorf("expected model snapshot rolled back to %q, got %q", "prior-model", active.ModelID)
	}
}
