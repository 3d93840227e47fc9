package mcp

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// maxToolNameLen bounds a qualified tool name so it stays within the name
// limits most OpenAI-compatible providers enforce on function names.
const maxToolNameLen = 64

// CatalogTool is one entry the aggregator has resolved into the emitted
// catalog: its qualified name, the server and raw name it dispatches to,
// and a schema compiled once at catalog-build time for argument validation.
type CatalogTool struct {
	QualifiedName string
	ServerID      string
	RawName       string
	Description   string
	InputSchema   json.RawMessage

	schema *jsonschema.Schema
}

// ValidateArguments checks a caller-supplied arguments object against this
// tool's declared JSON Schema. A tool with no schema, or an uncompilable
// one, is treated as unconstrained.
func (t *CatalogTool) ValidateArguments(arguments map[string]any) error {
	if t.schema == nil {
		return nil
	}
	return t.schema.Validate(arguments)
}

// OpenAIFunction mirrors the OpenAI chat-completions function-tool shape.
type OpenAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// OpenAITool mirrors one entry of the OpenAI "tools" array.
type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

// Catalog is the aggregator's current, atomically-swappable view of every
// tool exposed by every connected server.
type Catalog struct {
	tools  []*CatalogTool
	byName map[string]*CatalogTool
}

// BuildCatalog constructs a catalog from a manager's live tool lists and
// the server configs that produced them (for tool_prefix / disabled_tools /
// per-tool overrides). Disconnected or unconfigured servers simply
// contribute nothing; catalog construction never fails outright.
func BuildCatalog(mgr *Manager, configs map[string]*ServerConfig) *Catalog {
	c := &Catalog{byName: make(map[string]*CatalogTool)}

	all := mgr.AllTools()
	serverIDs := make([]string, 0, len(all))
	for id := range all {
		serverIDs = append(serverIDs, id)
	}
	sort.Strings(serverIDs)

	for _, serverID := range serverIDs {
		cfg := configs[serverID]
		tools := append([]*MCPTool(nil), all[serverID]...)
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

		disabled := map[string]struct{}{}
		var prefix string
		var overrides map[string]ToolOverride
		if cfg != nil {
			prefix = cfg.ToolPrefix
			overrides = cfg.ToolOverrides
			for _, name := range cfg.DisabledTools {
				disabled[name] = struct{}{}
			}
		}

		for _, tool := range tools {
			if _, skip := disabled[tool.Name]; skip {
				continue
			}
			desc := strings.TrimSpace(tool.Description)
			if overrides != nil {
				if o, ok := overrides[tool.Name]; ok && o.Description != "" {
					desc = o.Description
				}
			}

			qualified := qualifiedToolName(prefix, tool.Name)
			if _, collide := c.byName[qualified]; collide {
				qualified = qualifiedToolName(prefix, tool.Name) + "__" + serverID
			}
			qualified = capToolNameLen(qualified, serverID, tool.Name)

			entry := &CatalogTool{
				QualifiedName: qualified,
				ServerID:      serverID,
				RawName:       tool.Name,
				Description:   fmt.Sprintf("[%s] %s", serverID, desc),
				InputSchema:   tool.InputSchema,
				schema:        compileSchema(tool.InputSchema),
			}
			c.tools = append(c.tools, entry)
			c.byName[qualified] = entry
		}
	}

	return c
}

func qualifiedToolName(prefix, toolName string) string {
	if prefix == "" {
		return toolName
	}
	return prefix + "__" + toolName
}

// capToolNameLen keeps a qualified name within maxToolNameLen, replacing
// the overflow with a short deterministic hash suffix so repeated catalog
// builds produce the same name for the same (server, tool) pair.
func capToolNameLen(name, serverID, toolName string) string {
	if len(name) <= maxToolNameLen {
		return name
	}
	suffix := "_" + toolNameHash(serverID, toolName)
	if len(suffix) >= maxToolNameLen {
		return suffix[len(suffix)-maxToolNameLen:]
	}
	trim := maxToolNameLen - len(suffix)
	return name[:trim] + suffix
}

func toolNameHash(serverID, toolName string) string {
	sum := sha1.Sum([]byte(serverID + ":" + toolName))
	return hex.EncodeToString(sum[:])[:8]
}

func compileSchema(raw json.RawMessage) *jsonschema.Schema {
	if len(raw) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	const resourceName = "schema.json"
	if err := compiler.AddResource(resourceName, strings.NewReader(string(raw))); err != nil {
		return nil
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil
	}
	return schema
}

// Tools returns the catalog entries in a stable, deterministic order.
func (c *Catalog) Tools() []*CatalogTool {
	return c.tools
}

// Lookup resolves a qualified name to its catalog entry.
func (c *Catalog) Lookup(qualifiedName string) (*CatalogTool, bool) {
	t, ok := c.byName[qualifiedName]
	return t, ok
}

// OpenAITools renders the catalog in the OpenAI chat-completions "tools"
// array shape used for the provider request.
func (c *Catalog) OpenAITools() []OpenAITool {
	out := make([]OpenAITool, 0, len(c.tools))
	for _, t := range c.tools {
		params := t.InputSchema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		out = append(out, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        t.QualifiedName,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// Summaries renders a compact name+description digest for the tool
// planner, keeping prompt size small.
func (c *Catalog) Summaries() []ToolSummaryView {
	out := make([]ToolSummaryView, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, ToolSummaryView{
			QualifiedName: t.QualifiedName,
			ServerID:      t.ServerID,
			Description:   t.Description,
		})
	}
	return out
}

// ToolSummaryView is the planner/status-facing digest of a catalog entry.
type ToolSummaryView struct {
	QualifiedName string `json:"qualified_name"`
	ServerID      string `json:"server_id"`
	Description   string `json:"description,omitempty"`
}

// SanitizeToolPart lowercases and collapses any run of non-alphanumeric
// runes to a single underscore; used when a caller wants a filesystem- or
// metric-label-safe rendering of a raw server/tool name.
func SanitizeToolPart(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	underscore := false
	for _, r := range value {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			underscore = false
		default:
			if !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	clean := strings.Trim(b.String(), "_")
	if clean == "" {
		return "tool"
	}
	return clean
}

// formatToolCallResult flattens an MCP tool result into the single text
// blob the provider's tool-result message expects, reporting whether the
// call itself was an error. Image content parts are extracted separately
// via ExtractImageParts — they never appear in the text blob.
func formatToolCallResult(result *ToolCallResult) (string, bool) {
	if result == nil {
		return "", false
	}
	if len(result.Content) == 0 {
		return "", result.IsError
	}

	var combined strings.Builder
	for _, item := range result.Content {
		if item.Type != "text" || item.Text == "" {
			continue
		}
		if combined.Len() > 0 {
			combined.WriteString("\n")
		}
		combined.WriteString(item.Text)
	}

	if combined.Len() > 0 {
		return combined.String(), result.IsError
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return "", result.IsError
	}
	return string(payload), result.IsError
}

// ImagePart is an image extracted from a tool result, destined for
// injection into the next assistant-turn-bound message rather than the
// text-only tool message itself.
type ImagePart struct {
	URL      string
	MimeType string
}

// ExtractImageParts pulls image content out of a tool result so the
// orchestrator can carry it forward as a content part on a later message.
func ExtractImageParts(result *ToolCallResult) []ImagePart {
	if result == nil {
		return nil
	}
	var images []ImagePart
	for _, item := range result.Content {
		if item.Type != "image" {
			continue
		}
		url := item.Data
		if item.MimeType != "" && !strings.HasPrefix(url, "data:") && !strings.HasPrefix(url, "http") {
			url = fmt.Sprintf("data:%s;base64,%s", item.MimeType, item.Data)
		}
		images = append(images, ImagePart{URL: url, MimeType: item.MimeType})
	}
	return images
}
