package streaming

import (
	"io"
	"strings"
	"testing"
)

type nopCloser struct {
	io.Reader
}

func (nopCloser) Close() error { return nil }

func rawStream(t *testing.T) string {
	t.Helper()
	frames := []string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"search","arguments":"{\"q"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"uery\":\"weather"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"}"}}]}}],"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	}
	var b strings.Builder
	for _, f := range frames {
		b.WriteString(f)
		b.WriteString("\n\n")
	}
	return b.String()
}

func collect(events <-chan Event) []Event {
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

func TestConsumeAssemblesTextAndToolCalls(t *testing.T) {
	body := nopCloser{strings.NewReader(rawStream(t))}
	events := collect(Consume(body, nil))

	var text strings.Builder
	var turn *TurnResult
	for _, e := range events {
		switch e.Kind {
		case EventTextDelta:
			text.WriteString(e.TextDelta)
		case EventTurnComplete:
			turn = e.Turn
		case EventError:
			t.Fatalf("unexpected error event: %v", e.Err)
		}
	}

	if text.String() != "Hello" {
		t.Errorf("assembled text = %q, want %q", text.String(), "Hello")
	}
	if turn == nil {
		t.Fatal("expected a turn-complete event")
	}
	if len(turn.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(turn.ToolCalls))
	}
	tc := turn.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "search" {
		t.Errorf("tool call id/name = %q/%q", tc.ID, tc.Name)
	}
	if tc.Malformed {
		t.Fatalf("tool call unexpectedly malformed, raw=%q", tc.RawArguments)
	}
	if string(tc.ArgumentsJSON) != `{"query":"weather"}` {
		t.Errorf("arguments = %s, want %s", tc.ArgumentsJSON, `{"query":"weather"}`)
	}
	if turn.Reason != TerminationToolCalls {
		t.Errorf("reason = %q, want %q", turn.Reason, TerminationToolCalls)
	}
}

// TestConsumeSurvivesArbitraryByteSplits feeds the same logical stream
// through the frame parser broken at every possible byte boundary,
// confirming the parser's output doesn't depend on how the transport
// happened to chunk the bytes.
func TestConsumeSurvivesArbitraryByteSplits(t *testing.T) {
	raw := []byte(rawStream(t))

	for split := 1; split < 7; split++ {
		parser := &FrameParser{}
		var frames []Frame
		for i := 0; i < len(raw); i += split {
			end := i + split
			if end > len(raw) {
				end = len(raw)
			}
			frames = append(frames, parser.Feed(raw[i:end])...)
		}
		frames = append(frames, parser.Flush()...)

		var dataPayloads []string
		for _, f := range frames {
			if f.Data != "" {
				dataPayloads = append(dataPayloads, f.Data)
			}
		}
		if len(dataPayloads) != 6 {
			t.Fatalf("split size %d: got %d frames, want 6: %v", split, len(dataPayloads), dataPayloads)
		}
		if dataPayloads[len(dataPayloads)-1] != doneSentinel {
			t.Errorf("split size %d: last frame = %q, want %q", split, dataPayloads[len(dataPayloads)-1], doneSentinel)
		}
	}
}

func TestConsumeMarksMalformedArguments(t *testing.T) {
	stream := "data: " + `{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"f","arguments":"{not json"}}]}}]}` + "\n\n" +
		"data: [DONE]\n\n"
	body := nopCloser{strings.NewReader(stream)}
	events := collect(Consume(body, nil))

	var turn *TurnResult
	for _, e := range events {
		if e.Kind == EventTurnComplete {
			turn = e.Turn
		}
	}
	if turn == nil || len(turn.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, turn=%+v", turn)
	}
	if !turn.ToolCalls[0].Malformed {
		t.Error("expected tool call to be marked malformed")
	}
	if turn.ToolCalls[0].RawArguments != "{not json" {
		t.Errorf("RawArguments = %q", turn.ToolCalls[0].RawArguments)
	}
}

func TestConsumeSkipsMalformedNonSentinelPayloadWithoutAbortingTurn(t *testing.T) {
	stream := "data: not valid json at all\n\n" +
		`data: {"choices":[{"delta":{"content":"ok"}}]}` + "\n\n" +
		"data: [DONE]\n\n"
	body := nopCloser{strings.NewReader(stream)}
	events := collect(Consume(body, nil))

	var text strings.Builder
	var sawTurn bool
	for _, e := range events {
		if e.Kind == EventTextDelta {
			text.WriteString(e.TextDelta)
		}
		if e.Kind == EventTurnComplete {
			sawTurn = true
		}
		if e.Kind == EventError {
			t.Fatalf("unexpected error for malformed non-sentinel payload: %v", e.Err)
		}
	}
	if !sawTurn {
		t.Fatal("expected turn to complete despite one malformed frame")
	}
	if text.String() != "ok" {
		t.Errorf("text = %q, want %q", text.String(), "ok")
	}
}

func TestConsumeReportsUpstreamReadError(t *testing.T) {
	body := nopCloser{&erroringReader{}}
	events := collect(Consume(body, nil))

	if len(events) == 0 || events[len(events)-1].Kind != EventError {
		t.Fatalf("expected a terminal error event, got %+v", events)
	}
}

type erroringReader struct{}

func (*erroringReader) Read(p []byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
