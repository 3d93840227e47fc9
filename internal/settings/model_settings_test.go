package settings

import (
	"path/filepath"
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestModelSettingsGetOnMissingFileReturnsZeroValue(t *testing.T) {
	svc := NewModelSettingsService(filepath.Join(t.TempDir(), "model.json"))
	snap, err := svc.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if snap.ModelID != "" {
		t.Errorf("expected zero-value snapshot, got %+v", snap)
	}
}

func TestModelSettingsSetThenGetRoundTrips(t *testing.T) {
	svc := NewModelSettingsService(filepath.Join(t.TempDir(), "model.json"))
	want := models.ModelSnapshot{ModelID: "anthropic/claude-3.5-sonnet", Parameters: map[string]any{"temperature": 0.7}}
	if err := svc.Set(want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := svc.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ModelID != want.ModelID {
		t.Errorf("ModelID = %q, want %q", got.ModelID, want.ModelID)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be stamped")
	}
}

func TestModelSettingsSetOverwritesPreviousSnapshot(t *testing.T) {
	svc := NewModelSettingsService(filepath.Join(t.TempDir(), "model.json"))
	if err := svc.Set(models.ModelSnapshot{ModelID: "first"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := svc.Set(models.ModelSnapshot{ModelID: "second"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := svc.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ModelID != "second" {
		t.Errorf("ModelID = %q, want %q", got.ModelID, "second")
	}
}
