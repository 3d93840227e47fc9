// Package models holds the wire and storage types shared across the
// orchestrator, repository, streaming handler, and aggregator.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// TitleSource records how a session's title was produced.
type TitleSource string

const (
	TitleSourceAuto TitleSource = "auto"
	TitleSourceAI   TitleSource = "ai"
	TitleSourceUser TitleSource = "user"
)

// ContentPartType enumerates the kinds of content a message part may carry.
type ContentPartType string

const (
	ContentPartText           ContentPartType = "text"
	ContentPartImageURL       ContentPartType = "image_url"
	ContentPartToolResultText ContentPartType = "tool_result_text"
)

// ContentPart is one element of the ordered content-part list. Only the
// fields relevant to Type are populated; the rest are left zero.
type ContentPart struct {
	Type ContentPartType `json:"type"`

	// Text holds the payload for text and tool_result_text parts.
	Text string `json:"text,omitempty"`

	// ImageURL, MimeType, and AttachmentID describe an image_url part.
	ImageURL     string `json:"image_url,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	AttachmentID string `json:"attachment_id,omitempty"`
}

// Content is the polymorphic message body: a plain string, or an ordered
// list of content parts. Exactly one of the two forms is populated;
// MarshalJSON/UnmarshalJSON translate between that and the persisted
// structured-JSON shape carrying a "parts" discriminator.
type Content struct {
	Text  string
	Parts []ContentPart
}

// NewTextContent wraps a plain string as Content.
func NewTextContent(text string) Content {
	return Content{Text: text}
}

// IsStructured reports whether this content uses the richer part-list form.
func (c Content) IsStructured() bool {
	return c.Parts != nil
}

// PlainText renders content as a flat string for provider endpoints that
// only accept strings, concatenating text parts and describing non-text
// parts with a short placeholder. Used at the boundary when talking to a
// provider (tool-result messages are always text-only, per the provider's
// tool-result shape).
func (c Content) PlainText() string {
	if !c.IsStructured() {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		switch p.Type {
		case ContentPartText, ContentPartToolResultText:
			out += p.Text
		case ContentPartImageURL:
			out += "[image]"
		}
	}
	return out
}

type structuredContentJSON struct {
	Parts []ContentPart `json:"parts"`
}

// MarshalJSON persists plain content as a bare JSON string and structured
// content as an object carrying a "parts" array, so a reader can tell the
// two shapes apart without a metadata flag living elsewhere.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsStructured() {
		return json.Marshal(structuredContentJSON{Parts: c.Parts})
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.Parts = nil
		return nil
	}
	var structured structuredContentJSON
	if err := json.Unmarshal(data, &structured); err != nil {
		return err
	}
	c.Text = ""
	c.Parts = structured.Parts
	if c.Parts == nil {
		c.Parts = []ContentPart{}
	}
	return nil
}

// ToolCall is an LLM's request to invoke a tool, attached to an assistant
// message. ArgumentsJSON is the fully assembled arguments object the
// streaming handler parsed once at end-of-turn; a call whose arguments
// buffer failed to parse carries Malformed=true and the raw concatenated
// buffer in RawArguments instead.
type ToolCall struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	ArgumentsJSON json.RawMessage `json:"arguments,omitempty"`
	Malformed     bool            `json:"malformed,omitempty"`
	RawArguments  string          `json:"raw_arguments,omitempty"`
}

// Message is one row in a session's ordered, append-only transcript.
type Message struct {
	ID         int64      `json:"id"`
	SessionID  string     `json:"session_id"`
	Role       Role       `json:"role"`
	Content    Content    `json:"content"`
	ParentID   *int64     `json:"parent_id,omitempty"`
	ToolCallID *string    `json:"tool_call_id,omitempty"`
	ToolName   *string    `json:"tool_name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Session is a conversation thread.
type Session struct {
	ID          string      `json:"session_id"`
	Title       *string     `json:"title,omitempty"`
	TitleSource TitleSource `json:"title_source,omitempty"`
	Saved       bool        `json:"saved"`
	Timezone    string      `json:"timezone,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// SessionSummary is the list-view projection returned by list_sessions.
type SessionSummary struct {
	SessionID    string      `json:"session_id"`
	Title        *string     `json:"title,omitempty"`
	TitleSource  TitleSource `json:"title_source,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	MessageCount int         `json:"message_count"`
	Preview      string      `json:"preview,omitempty"`
}
