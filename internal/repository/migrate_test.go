package repository

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
	if migrations[0].ID != "0001_init" {
		t.Fatalf("expected first migration to be 0001_init, got %q", migrations[0].ID)
	}
}

func TestMigratorUpIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	migrator, err := NewMigrator(db)
	if err != nil {
		t.Fatalf("NewMigrator: %v", err)
	}
	ctx := context.Background()

	applied, err := migrator.Up(ctx, 0)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("expected 1 migration applied, got %v", applied)
	}

	againApplied, err := migrator.Up(ctx, 0)
	if err != nil {
		t.Fatalf("second Up: %v", err)
	}
	if len(againApplied) != 0 {
		t.Fatalf("expected no-op on second Up, got %v", againApplied)
	}

	var tableCount int
	row := db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'conversations'`)
	if err := row.Scan(&tableCount); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if tableCount != 1 {
		t.Fatalf("expected conversations table to exist, count = %d", tableCount)
	}
}

func TestMigratorDownReversesUp(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	migrator, err := NewMigrator(db)
	if err != nil {
		t.Fatalf("NewMigrator: %v", err)
	}
	ctx := context.Background()

	if _, err := migrator.Up(ctx, 0); err != nil {
		t.Fatalf("Up: %v", err)
	}
	rolled, err := migrator.Down(ctx, 0)
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if len(rolled) != 1 || rolled[0] != "0001_init" {
		t.Fatalf("expected 0001_init rolled back, got %v", rolled)
	}

	var tableCount int
	row := db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'conversations'`)
	if err := row.Scan(&tableCount); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if tableCount != 0 {
		t.Fatalf("expected conversations table to be dropped, count = %d", tableCount)
	}
}

func TestMigratorStatusReportsPendingBeforeApply(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	migrator, err := NewMigrator(db)
	if err != nil {
		t.Fatalf("NewMigrator: %v", err)
	}
	ctx := context.Background()

	applied, pending, err := migrator.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(applied) != 0 || len(pending) != 1 {
		t.Fatalf("expected 0 applied / 1 pending before Up, got applied=%v pending=%v", applied, pending)
	}
}
