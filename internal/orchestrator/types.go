// Package orchestrator implements the per-turn chat control flow: session
// resolution, history load, system-prompt composition, model snapshotting,
// tool-catalog selection, the provider streaming + tool-dispatch loop, and
// persistence.
package orchestrator

import (
	"context"
	"io"
	"time"

	"github.com/haasonsaas/nexus/internal/providers"
)

// TurnLimits bounds a single turn's tool loop and wall-clock duration.
type TurnLimits struct {
	// MaxToolIterations caps provider round-trips within one turn.
	MaxToolIterations int
	// MaxToolCalls caps the total number of tool invocations within one
	// turn, across all iterations. Zero means unlimited.
	MaxToolCalls int
	// MaxWallTime bounds the turn's total duration. Zero means unlimited.
	MaxWallTime time.Duration
}

func (l TurnLimits) withDefaults() TurnLimits {
	if l.MaxToolIterations <= 0 {
		l.MaxToolIterations = 8
	}
	return l
}

// Provider is the upstream LLM call surface the orchestrator needs:
// streaming turns and single-shot calls for the planner/title generator.
// internal/providers.OpenRouterProvider satisfies this structurally.
type Provider interface {
	StreamChatCompletion(ctx context.Context, model string, messages []providers.ChatMessage, tools []providers.ChatTool, maxTokens int, parameters map[string]any) (io.ReadCloser, error)
	Ask(ctx context.Context, model, systemPrompt, userContent string, maxTokens int) (string, error)
}

// EventKind discriminates the events process_stream emits to the caller.
type EventKind string

const (
	// EventSession is emitted at most once, before any other event, when
	// a new session is created for this turn.
	EventSession EventKind = "session"
	// EventDelta carries one assistant text delta, rendered in the
	// upstream's own OpenAI chat-completion chunk shape.
	EventDelta EventKind = "delta"
	// EventTool reports a tool call's lifecycle: started, then finished
	// or error.
	EventTool EventKind = "tool"
	// EventError is a terminal stream error.
	EventError EventKind = "error"
	// EventDone closes the stream; exactly one is emitted per turn,
	// always last.
	EventDone EventKind = "done"
)

// ChatCompletionChunk mirrors the OpenAI streaming chunk shape the client
// expects for assistant text deltas.
type ChatCompletionChunk struct {
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice is one choice of a streaming chunk.
type ChunkChoice struct {
	Delta ChunkDelta `json:"delta"`
}

// ChunkDelta carries the incremental content of a streaming chunk.
type ChunkDelta struct {
	Content string `json:"content"`
}

// ToolEventStatus describes a tool call's lifecycle stage.
type ToolEventStatus string

const (
	ToolStatusStarted  ToolEventStatus = "started"
	ToolStatusFinished ToolEventStatus = "finished"
	ToolStatusError    ToolEventStatus = "error"
)

// ToolEvent reports a single tool call's progress to the client.
type ToolEvent struct {
	CallID string          `json:"call_id"`
	Name   string          `json:"name"`
	Status ToolEventStatus `json:"status"`
	Result string          `json:"result,omitempty"`
}

// ErrorReason enumerates the terminal stream errors the orchestrator can
// surface.
type ErrorReason string

const (
	ErrorProviderAuth     ErrorReason = "provider_auth"
	ErrorModelNotFound    ErrorReason = "model_not_found"
	ErrorToolLoopExhaused ErrorReason = "tool_loop_exhausted"
	ErrorSessionNotFound  ErrorReason = "session_not_found"
	ErrorProviderFailure  ErrorReason = "provider_failure"
)

// StreamErrorDetail is the payload of a terminal EventError.
type StreamErrorDetail struct {
	Reason  ErrorReason `json:"reason"`
	Message string      `json:"message"`
}

// StreamEvent is one item of process_stream's lazy event sequence.
type StreamEvent struct {
	Kind      EventKind
	SessionID string
	Delta     *ChatCompletionChunk
	Tool      *ToolEvent
	Err       *StreamErrorDetail
}
