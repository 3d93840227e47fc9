package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/mcp"
)

// plannerTimeout bounds the planner's single non-streaming call.
const plannerTimeout = 15 * time.Second

// plannerMaxTokens caps the plan's reply length.
const plannerMaxTokens = 300

const plannerSystemPrompt = `You select which tools an assistant should see for its next turn.
Given the conversation tail and a digest of available tools, respond with a single JSON object:
{"candidate_tools": ["qualified_name", ...], "broad_search": false, "intent": "short description"}
Set "broad_search" to true if no narrow subset applies; when true, candidate_tools is ignored and every tool is made available.
Respond with JSON only, no other text.`

// Plan is the tool planner's narrowed recommendation for the next turn.
type Plan struct {
	CandidateTools []string `json:"candidate_tools"`
	BroadSearch    bool     `json:"broad_search"`
	Intent         string   `json:"intent"`
}

// Planner issues a single cheap-model call to narrow the tool catalog
// passed to the main provider call. It is a behavioral optimization, not a
// correctness primitive: any failure degrades to a nil plan, which callers
// treat as "pass all tools".
type Planner struct {
	asker Asker
	model string
}

// Asker is the single non-streaming call shape the planner needs.
type Asker interface {
	Ask(ctx context.Context, model, systemPrompt, userContent string, maxTokens int) (string, error)
}

// NewPlanner creates a planner issuing calls to model via asker. An empty
// model defers to the provider's own default.
func NewPlanner(asker Asker, model string) *Planner {
	return &Planner{asker: asker, model: model}
}

// Plan requests a tool plan for conversationTail given the catalog digest
// in tools. It returns (nil, nil) on timeout, a non-2xx provider error, or
// a malformed JSON response — never a non-nil error paired with a nil plan
// caused by anything other than ctx cancellation from the caller's own
// context.
func (p *Planner) Plan(ctx context.Context, conversationTail string, tools []mcp.ToolSummaryView) (*Plan, error) {
	if p == nil || p.asker == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, plannerTimeout)
	defer cancel()

	digest := buildToolDigest(tools)
	userContent := fmt.Sprintf("Conversation tail:\n%s\n\nAvailable tools:\n%s", conversationTail, digest)

	reply, err := p.asker.Ask(ctx, p.model, plannerSystemPrompt, userContent, plannerMaxTokens)
	if err != nil {
		return nil, nil
	}

	var plan Plan
	if err := json.Unmarshal([]byte(extractJSONObject(reply)), &plan); err != nil {
		return nil, nil
	}
	return &plan, nil
}

func buildToolDigest(tools []mcp.ToolSummaryView) string {
	var b strings.Builder
	for _, t := range tools {
		b.WriteString(t.QualifiedName)
		if t.Description != "" {
			b.WriteString(": ")
			b.WriteString(t.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// extractJSONObject trims any leading/trailing prose a cheap model might
// add around the JSON object despite instructions not to.
func extractJSONObject(reply string) string {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return reply
	}
	return reply[start : end+1]
}
