package streaming

import "encoding/json"

// toolCallAccumulator holds one tool call's state as it arrives piecemeal
// across stream chunks, keyed by its index within the choice. id and name
// are set on first sight and never silently overwritten by a later
// non-empty value unless the first sighting was empty; argsBuf is
// appended to on every delta and parsed exactly once at end-of-turn.
type toolCallAccumulator struct {
	id      string
	name    string
	argsBuf string
}

func (a *toolCallAccumulator) applyID(id string) {
	if id == "" {
		return
	}
	if a.id == "" {
		a.id = id
	}
}

func (a *toolCallAccumulator) applyName(name string) {
	if name == "" {
		return
	}
	if a.name == "" {
		a.name = name
	}
}

func (a *toolCallAccumulator) appendArguments(fragment string) {
	a.argsBuf += fragment
}

// AssembledToolCall is one fully-accumulated tool call at end-of-turn.
// A call whose argument buffer failed to parse as JSON is Malformed, and
// its raw concatenated buffer is kept in RawArguments instead of
// ArgumentsJSON.
type AssembledToolCall struct {
	ID            string
	Name          string
	ArgumentsJSON json.RawMessage
	Malformed     bool
	RawArguments  string
}

func (a *toolCallAccumulator) assemble() AssembledToolCall {
	result := AssembledToolCall{ID: a.id, Name: a.name}
	var parsed json.RawMessage
	trimmed := a.argsBuf
	if trimmed == "" {
		trimmed = "{}"
	}
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		result.Malformed = true
		result.RawArguments = a.argsBuf
		return result
	}
	result.ArgumentsJSON = parsed
	return result
}
