package repository

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(context.Background(), Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendMessageAssignsMonotonicIDsAndCreatesSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sessionID := "s1"

	first, err := store.AppendMessage(ctx, sessionID, &models.Message{Role: models.RoleUser, Content: models.NewTextContent("hello there")})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	second, err := store.AppendMessage(ctx, sessionID, &models.Message{Role: models.RoleAssistant, Content: models.NewTextContent("hi")})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	if second.ID <= first.ID {
		t.Fatalf("expected strictly increasing ids, got %d then %d", first.ID, second.ID)
	}

	session, err := store.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.Title == nil || *session.Title != "hello there" {
		t.Errorf("expected auto-title from first user message, got %+v", session.Title)
	}
	if session.TitleSource != models.TitleSourceAuto {
		t.Errorf("title source = %q, want auto", session.TitleSource)
	}
}

func TestAppendMessageKeepsExistingTitle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sessionID := "s1"

	if _, err := store.AppendMessage(ctx, sessionID, &models.Message{Role: models.RoleUser, Content: models.NewTextContent("first")}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := store.SetTitle(ctx, sessionID, "Custom Title", models.TitleSourceUser); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}
	if _, err := store.AppendMessage(ctx, sessionID, &models.Message{Role: models.RoleUser, Content: models.NewTextContent("second")}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	session, err := store.GetSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.Title == nil || *session.Title != "Custom Title" {
		t.Errorf("expected title to remain user-set, got %+v (source %q)", session.Title, session.TitleSource)
	}
}

func TestListMessagesReturnsIDOrderWithRoundTrippedContent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sessionID := "s1"

	structured := models.Content{Parts: []models.ContentPart{
		{Type: models.ContentPartText, Text: "look at this"},
		{Type: models.ContentPartImageURL, ImageURL: "https://example/img.png", MimeType: "image/png", AttachmentID: "a1"},
	}}
	if _, err := store.AppendMessage(ctx, sessionID, &models.Message{Role: models.RoleUser, Content: models.NewTextContent("plain")}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := store.AppendMessage(ctx, sessionID, &models.Message{Role: models.RoleUser, Content: structured}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	messages, err := store.ListMessages(ctx, sessionID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].ID >= messages[1].ID {
		t.Fatalf("expected id order, got %d then %d", messages[0].ID, messages[1].ID)
	}
	if messages[0].Content.PlainText() != "plain" {
		t.Errorf("first message text = %q", messages[0].Content.PlainText())
	}
	if !messages[1].Content.IsStructured() || len(messages[1].Content.Parts) != 2 {
		t.Fatalf("expected structured content to round-trip, got %+v", messages[1].Content)
	}
	if messages[1].Content.Parts[1].AttachmentID != "a1" {
		t.Errorf("attachment id did not round-trip: %+v", messages[1].Content.Parts[1])
	}
}

func TestListSessionsFiltersBySearchAndOrdersByUpdatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.AppendMessage(ctx, "s-weather", &models.Message{Role: models.RoleUser, Content: models.NewTextContent("what's the weather tomorrow")}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := store.AppendMessage(ctx, "s-recipe", &models.Message{Role: models.RoleUser, Content: models.NewTextContent("give me a pasta recipe")}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	all, err := store.ListSessions(ctx, ListSessionsOptions{Limit: 10})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(all))
	}
	if all[0].SessionID != "s-recipe" {
		t.Errorf("expected most-recently-updated session first, got %q", all[0].SessionID)
	}

	filtered, err := store.ListSessions(ctx, ListSessionsOptions{Limit: 10, Search: "weather"})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(filtered) != 1 || filtered[0].SessionID != "s-weather" {
		t.Fatalf("expected search to match only s-weather, got %+v", filtered)
	}
}

func TestDeleteSessionRemovesMessagesAndDetachesAttachments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	sessionID := "s1"

	if _, err := store.AppendMessage(ctx, sessionID, &models.Message{Role: models.RoleUser, Content: models.NewTextContent("hi")}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := store.db.ExecContext(ctx,
		`INSERT INTO attachments (attachment_id, session_id, blob_key, mime_type, size_bytes, signed_url, signed_url_expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		"a1", sessionID, "blob/a1", "image/png", 100, "https://example/a1", time.Now().Add(time.Hour), time.Now(),
	); err != nil {
		t.Fatalf("seed attachment: %v", err)
	}

	if err := store.DeleteSession(ctx, sessionID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}

	if _, err := store.GetSession(ctx, sessionID); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
	messages, err := store.ListMessages(ctx, sessionID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected no messages after delete, got %d", len(messages))
	}

	var detached bool
	if err := store.db.QueryRowContext(ctx, `SELECT detached FROM attachments WHERE attachment_id = ?`, "a1").Scan(&detached); err != nil {
		t.Fatalf("query attachment: %v", err)
	}
	if !detached {
		t.Error("expected attachment row to be detached, not deleted")
	}
}

func TestSetTitleOnMissingSessionReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	if err := store.SetTitle(context.Background(), "missing", "x", models.TitleSourceUser); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
