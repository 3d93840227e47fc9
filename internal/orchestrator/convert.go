package orchestrator

import (
	"github.com/haasonsaas/nexus/internal/mcp"
	"github.com/haasonsaas/nexus/internal/providers"
	"github.com/haasonsaas/nexus/internal/streaming"
	"github.com/haasonsaas/nexus/pkg/models"
)

// toProviderTools renders the catalog's OpenAI-format tool list in the
// provider package's wire shape.
func toProviderTools(tools []mcp.OpenAITool) []providers.ChatTool {
	out := make([]providers.ChatTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, providers.ChatTool{
			Type: t.Type,
			Function: providers.FunctionDef{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}

// toProviderMessages renders persisted messages in the provider's wire
// shape for an outbound chat-completion request.
func toProviderMessages(messages []*models.Message) []providers.ChatMessage {
	out := make([]providers.ChatMessage, 0, len(messages))
	for _, m := range messages {
		pm := providers.ChatMessage{Role: string(m.Role)}
		if m.ToolCallID != nil {
			pm.ToolCallID = *m.ToolCallID
		}
		if m.ToolName != nil {
			pm.Name = *m.ToolName
		}
		if len(m.ToolCalls) > 0 {
			pm.ToolCalls = toProviderToolCalls(m.ToolCalls)
		}
		pm.Content = contentToProvider(m.Content)
		out = append(out, pm)
	}
	return out
}

func contentToProvider(c models.Content) any {
	if !c.IsStructured() {
		return c.Text
	}
	parts := make([]providers.ContentPart, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case models.ContentPartImageURL:
			parts = append(parts, providers.ContentPart{Type: "image_url", ImageURL: &providers.ImageURL{URL: p.ImageURL}})
		default:
			parts = append(parts, providers.ContentPart{Type: "text", Text: p.Text})
		}
	}
	return parts
}

func toProviderToolCalls(calls []models.ToolCall) []providers.ToolCall {
	out := make([]providers.ToolCall, 0, len(calls))
	for _, c := range calls {
		args := c.ArgumentsJSON
		if len(args) == 0 {
			args = []byte(c.RawArguments)
		}
		out = append(out, providers.ToolCall{
			ID:   c.ID,
			Type: "function",
			Function: providers.FunctionCall{
				Name:      c.Name,
				Arguments: string(args),
			},
		})
	}
	return out
}

// toModelToolCalls converts the streaming handler's assembled tool calls
// into the persisted-message shape.
func toModelToolCalls(calls []streaming.AssembledToolCall) []models.ToolCall {
	out := make([]models.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, models.ToolCall{
			ID:            c.ID,
			Name:          c.Name,
			ArgumentsJSON: c.ArgumentsJSON,
			Malformed:     c.Malformed,
			RawArguments:  c.RawArguments,
		})
	}
	return out
}
