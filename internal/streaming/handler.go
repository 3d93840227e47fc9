package streaming

import (
	"bufio"
	"encoding/json"
	"io"
	"sort"
	"strings"
)

// doneSentinel is the literal payload that signals end-of-stream.
const doneSentinel = "[DONE]"

// EventKind discriminates the events emitted to the orchestrator.
type EventKind string

const (
	EventTextDelta    EventKind = "text_delta"
	EventTurnComplete EventKind = "turn_complete"
	EventError        EventKind = "error"
)

// TerminationReason explains why a turn ended.
type TerminationReason string

const (
	TerminationStop      TerminationReason = "stop"
	TerminationToolCalls TerminationReason = "tool_calls"
	TerminationLength    TerminationReason = "length"
	TerminationError     TerminationReason = "error"
)

// TurnResult is the fully assembled assistant message at end-of-stream.
type TurnResult struct {
	Content   string
	ToolCalls []AssembledToolCall
	Reason    TerminationReason
}

// Event is one item the handler emits to the orchestrator: a text delta
// as it arrives, or a single terminal turn-complete/error event closing
// the stream.
type Event struct {
	Kind      EventKind
	TextDelta string
	Turn      *TurnResult
	Err       error
}

// upstreamChunk is the OpenAI chat-completions streaming chunk shape.
type upstreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Consume reads body as an SSE stream, decodes OpenAI-shaped chunks, and
// returns a channel of Events terminated by exactly one EventTurnComplete
// or EventError. body is closed when consumption ends. The channel is
// unbuffered; callers should drain it promptly to avoid backpressure on
// the reader goroutine.
//
// onFrameError, if non-nil, is called for each frame whose payload fails
// to decode as JSON. A malformed frame is skipped rather than aborting
// the turn, so this is the only signal callers get that it happened.
func Consume(body io.ReadCloser, onFrameError func(error)) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		defer body.Close()
		runConsume(body, events, onFrameError)
	}()
	return events
}

func runConsume(body io.Reader, events chan<- Event, onFrameError func(error)) {
	parser := &FrameParser{}
	toolCalls := make(map[int]*toolCallAccumulator)
	var content strings.Builder
	reason := TerminationStop

	reader := bufio.NewReaderSize(body, 64*1024)
	buf := make([]byte, 32*1024)

	emitFrames := func(frames []Frame) (done bool) {
		for _, frame := range frames {
			if strings.TrimSpace(frame.Data) == "" {
				continue
			}
			if strings.TrimSpace(frame.Data) == doneSentinel {
				return true
			}
			var chunk upstreamChunk
			if err := json.Unmarshal([]byte(frame.Data), &chunk); err != nil {
				// Malformed JSON in a non-sentinel payload is skipped — it
				// does not abort the turn.
				if onFrameError != nil {
					onFrameError(err)
				}
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				events <- Event{Kind: EventTextDelta, TextDelta: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				acc, ok := toolCalls[tc.Index]
				if !ok {
					acc = &toolCallAccumulator{}
					toolCalls[tc.Index] = acc
				}
				acc.applyID(tc.ID)
				acc.applyName(tc.Function.Name)
				acc.appendArguments(tc.Function.Arguments)
			}
			if choice.FinishReason != "" {
				reason = TerminationReason(choice.FinishReason)
			}
		}
		return false
	}

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if emitFrames(parser.Feed(buf[:n])) {
				emitTurnComplete(events, &content, toolCalls, reason)
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				emitFrames(parser.Flush())
				emitTurnComplete(events, &content, toolCalls, reason)
				return
			}
			events <- Event{Kind: EventError, Err: err}
			return
		}
	}
}

func emitTurnComplete(events chan<- Event, content *strings.Builder, toolCalls map[int]*toolCallAccumulator, reason TerminationReason) {
	indices := make([]int, 0, len(toolCalls))
	for idx := range toolCalls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	assembled := make([]AssembledToolCall, 0, len(indices))
	for _, idx := range indices {
		assembled = append(assembled, toolCalls[idx].assemble())
	}
	if len(assembled) > 0 && reason == TerminationStop {
		reason = TerminationToolCalls
	}

	events <- Event{
		Kind: EventTurnComplete,
		Turn: &TurnResult{
			Content:   content.String(),
			ToolCalls: assembled,
			Reason:    reason,
		},
	}
}
