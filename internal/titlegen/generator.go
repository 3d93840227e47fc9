// Package titlegen produces short conversation titles from a cheap model
// call, fired in the background after a session's first exchange.
package titlegen

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// errEmptyConversation and errEmptyReply surface the two no-title-produced
// cases to Generate's caller; GenerateAsync treats the same cases as a
// silent no-op.
var (
	errEmptyConversation = errors.New("titlegen: no user/assistant content to summarize")
	errEmptyReply        = errors.New("titlegen: model returned an empty title")
)

// maxContentChars bounds how much user+assistant text is sent to the model,
// keeping the call cheap regardless of how long the opening turn is.
const maxContentChars = 4000

// maxTitleTokens caps the model's reply length; titles are short by design.
const maxTitleTokens = 30

// callTimeout bounds the whole generation call; a slow or hung provider
// must not block anything waiting on the title.
const callTimeout = 15 * time.Second

const systemPrompt = "Summarize the following conversation opening in a short title of 6 words or fewer. Respond with the title text only, no quotes or punctuation at the end."

// Asker is the single non-streaming call shape the generator needs, matched
// by internal/providers.OpenRouterProvider.Ask.
type Asker interface {
	Ask(ctx context.Context, model, systemPrompt, userContent string, maxTokens int) (string, error)
}

// TitleSetter persists a generated title, matched by
// internal/repository.Store.SetTitle.
type TitleSetter interface {
	SetTitle(ctx context.Context, sessionID string, title string, source models.TitleSource) error
}

// Generator produces and persists AI-generated session titles.
type Generator struct {
	asker  Asker
	store  TitleSetter
	model  string
	logger *slog.Logger
}

// NewGenerator creates a title generator using model for its calls. An
// empty model defers to the provider's own default.
func NewGenerator(asker Asker, store TitleSetter, model string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{asker: asker, store: store, model: model, logger: logger}
}

// GenerateAsync fires a best-effort title generation in the background and
// returns immediately. currentSource is the session's title source as of
// the call; if it is TitleSourceUser, generation is skipped outright so a
// user-chosen title is never clobbered. On any failure — provider error,
// empty reply, persistence error — the existing title is left untouched;
// the caller's UI is expected to offer a manual retry.
func (g *Generator) GenerateAsync(sessionID string, currentSource models.TitleSource, messages []*models.Message) {
	if currentSource == models.TitleSourceUser {
		return
	}
	content := buildPrompt(messages)
	if content == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		if _, err := g.generate(ctx, sessionID, content); err != nil {
			g.logger.Warn("title generation failed", "session_id", sessionID, "error", err)
		}
	}()
}

// Generate produces and persists a title synchronously, for callers (the
// generate-title HTTP endpoint) that need the result in their response
// rather than a fire-and-forget background update. currentSource's
// TitleSourceUser guard does not apply here: an explicit request
// overwrites whatever title is currently set.
func (g *Generator) Generate(ctx context.Context, sessionID string, messages []*models.Message) (string, error) {
	content := buildPrompt(messages)
	if content == "" {
		return "", errEmptyConversation
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return g.generate(ctx, sessionID, content)
}

// generate issues the model call, cleans the reply, and persists it as an
// AI-sourced title.
func (g *Generator) generate(ctx context.Context, sessionID, content string) (string, error) {
	title, err := g.asker.Ask(ctx, g.model, systemPrompt, content, maxTitleTokens)
	if err != nil {
		return "", err
	}
	title = cleanTitle(title)
	if title == "" {
		return "", errEmptyReply
	}
	if err := g.store.SetTitle(ctx, sessionID, title, models.TitleSourceAI); err != nil {
		return "", err
	}
	return title, nil
}

// buildPrompt concatenates user and assistant text from the opening turns,
// truncated to maxContentChars.
func buildPrompt(messages []*models.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		text := strings.TrimSpace(m.Content.PlainText())
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(text)
		if b.Len() >= maxContentChars {
			break
		}
	}
	out := b.String()
	if len(out) > maxContentChars {
		out = out[:maxContentChars]
	}
	return out
}

func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, "\"'")
	title = strings.TrimSuffix(title, ".")
	return strings.TrimSpace(title)
}
