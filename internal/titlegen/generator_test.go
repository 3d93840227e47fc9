package titlegen

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

type fakeAsker struct {
	reply string
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeAsker) Ask(ctx context.Context, model, systemPrompt, userContent string, maxTokens int) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeTitleSetter struct {
	mu     sync.Mutex
	titles map[string]string
	err    error
}

func newFakeTitleSetter() *fakeTitleSetter {
	return &fakeTitleSetter{titles: map[string]string{}}
}

func (f *fakeTitleSetter) SetTitle(ctx context.Context, sessionID, title string, source models.TitleSource) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles[sessionID] = title
	return nil
}

func (f *fakeTitleSetter) get(sessionID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.titles[sessionID]
	return v, ok
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func sampleMessages() []*models.Message {
	return []*models.Message{
		{Role: models.RoleUser, Content: models.NewTextContent("How do I configure a reverse proxy for my app?")},
		{Role: models.RoleAssistant, Content: models.NewTextContent("You can use nginx or Caddy for that.")},
	}
}

func TestGenerateAsyncPersistsCleanedTitle(t *testing.T) {
	asker := &fakeAsker{reply: "  \"Reverse Proxy Setup.\"  "}
	store := newFakeTitleSetter()
	gen := NewGenerator(asker, store, "openai/gpt-4o-mini", nil)

	gen.GenerateAsync("s1", models.TitleSourceAuto, sampleMessages())

	waitFor(t, func() bool { _, ok := store.get("s1"); return ok })
	got, _ := store.get("s1")
	if got != "Reverse Proxy Setup" {
		t.Errorf("title = %q, want %q", got, "Reverse Proxy Setup")
	}
}

func TestGenerateAsyncSkipsWhenTitleIsUserSet(t *testing.T) {
	asker := &fakeAsker{reply: "Some Title"}
	store := newFakeTitleSetter()
	gen := NewGenerator(asker, store, "", nil)

	gen.GenerateAsync("s1", models.TitleSourceUser, sampleMessages())

	time.Sleep(20 * time.Millisecond)
	asker.mu.Lock()
	calls := asker.calls
	asker.mu.Unlock()
	if calls != 0 {
		t.Errorf("expected no provider call when title source is user, got %d calls", calls)
	}
}

func TestGenerateAsyncLeavesTitleUntouchedOnProviderFailure(t *testing.T) {
	asker := &fakeAsker{err: fmt.Errorf("provider down")}
	store := newFakeTitleSetter()
	gen := NewGenerator(asker, store, "", nil)

	gen.GenerateAsync("s1", models.TitleSourceAuto, sampleMessages())

	waitFor(t, func() bool {
		asker.mu.Lock()
		defer asker.mu.Unlock()
		return asker.calls == 1
	})
	time.Sleep(20 * time.Millisecond)
	if _, ok := store.get("s1"); ok {
		t.Error("expected no title to be persisted after provider failure")
	}
}

func TestGenerateAsyncSkipsWhenNoTextContent(t *testing.T) {
	asker := &fakeAsker{reply: "Title"}
	store := newFakeTitleSetter()
	gen := NewGenerator(asker, store, "", nil)

	gen.GenerateAsync("s1", models.TitleSourceAuto, []*models.Message{
		{Role: models.RoleTool, Content: models.NewTextContent("tool output")},
	})

	time.Sleep(20 * time.Millisecond)
	asker.mu.Lock()
	calls := asker.calls
	asker.mu.Unlock()
	if calls != 0 {
		t.Errorf("expected no provider call when there is no user/assistant text, got %d calls", calls)
	}
}
