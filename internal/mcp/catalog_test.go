package mcp

import (
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestQualifiedToolNameNoPrefix(t *testing.T) {
	if got := qualifiedToolName("", "search"); got != "search" {
		t.Errorf("qualifiedToolName() = %q, want %q", got, "search")
	}
}

func TestQualifiedToolNameWithPrefix(t *testing.T) {
	if got := qualifiedToolName("github", "search"); got != "github__search" {
		t.Errorf("qualifiedToolName() = %q, want %q", got, "github__search")
	}
}

func TestCapToolNameLenLeavesShortNameAlone(t *testing.T) {
	name := "github__search"
	if got := capToolNameLen(name, "github", "search"); got != name {
		t.Errorf("capToolNameLen() = %q, want unchanged %q", got, name)
	}
}

func TestCapToolNameLenTruncatesOverflow(t *testing.T) {
	long := strings.Repeat("a", 90)
	got := capToolNameLen(long, "server1", "search")
	if len(got) != maxToolNameLen {
		t.Fatalf("capToolNameLen() len = %d, want %d", len(got), maxToolNameLen)
	}
	again := capToolNameLen(long, "server1", "search")
	if got != again {
		t.Errorf("capToolNameLen() not deterministic: %q != %q", got, again)
	}
}

func TestSanitizeToolPartLowercasesAndCollapsesPunctuation(t *testing.T) {
	if got := SanitizeToolPart("GitHub.Search Repos!!"); got != "github_search_repos" {
		t.Errorf("SanitizeToolPart() = %q, want %q", got, "github_search_repos")
	}
}

func TestSanitizeToolPartEmptyFallsBackToTool(t *testing.T) {
	if got := SanitizeToolPart("!!!"); got != "tool" {
		t.Errorf("SanitizeToolPart() = %q, want %q", got, "tool")
	}
}

func TestBuildCatalogUniquifiesCollisions(t *testing.T) {
	mgr := NewManager(&Config{Enabled: true}, slog.Default())
	mgr.clients = map[string]*Client{
		"server1": {
			config: &ServerConfig{ID: "server1"},
			tools:  []*MCPTool{{Name: "search", Description: "first"}},
		},
		"server2": {
			config: &ServerConfig{ID: "server2"},
			tools:  []*MCPTool{{Name: "search", Description: "second"}},
		},
	}
	configs := map[string]*ServerConfig{
		"server1": {ID: "server1"},
		"server2": {ID: "server2"},
	}

	catalog := BuildCatalog(mgr, configs)
	names := map[string]bool{}
	for _, tool := range catalog.Tools() {
		if names[tool.QualifiedName] {
			t.Fatalf("duplicate qualified name %q", tool.QualifiedName)
		}
		names[tool.QualifiedName] = true
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 unique tools, got %d", len(names))
	}
	if !names["search"] {
		t.Errorf("expected the first server to keep the raw name, got %v", names)
	}
}

func TestBuildCatalogAppliesDisabledToolsAndPrefix(t *testing.T) {
	mgr := NewManager(&Config{Enabled: true}, slog.Default())
	mgr.clients = map[string]*Client{
		"srv": {
			config: &ServerConfig{ID: "srv"},
			tools: []*MCPTool{
				{Name: "keep", Description: "kept tool"},
				{Name: "drop", Description: "disabled tool"},
			},
		},
	}
	configs := map[string]*ServerConfig{
		"srv": {ID: "srv", ToolPrefix: "srv", DisabledTools: []string{"drop"}},
	}

	catalog := BuildCatalog(mgr, configs)
	if len(catalog.Tools()) != 1 {
		t.Fatalf("expected 1 tool after disabling, got %d", len(catalog.Tools()))
	}
	tool := catalog.Tools()[0]
	if tool.QualifiedName != "srv__keep" {
		t.Errorf("QualifiedName = %q, want %q", tool.QualifiedName, "srv__keep")
	}
	if tool.Description != "[srv] kept tool" {
		t.Errorf("Description = %q, want server-id-prefixed description", tool.Description)
	}
}

func TestCatalogLookup(t *testing.T) {
	mgr := NewManager(&Config{Enabled: true}, slog.Default())
	mgr.clients = map[string]*Client{
		"srv": {config: &ServerConfig{ID: "srv"}, tools: []*MCPTool{{Name: "ping"}}},
	}
	catalog := BuildCatalog(mgr, map[string]*ServerConfig{"srv": {ID: "srv"}})

	tool, ok := catalog.Lookup("ping")
	if !ok || tool.ServerID != "srv" || tool.RawName != "ping" {
		t.Fatalf("Lookup() = %+v, %v; want srv/ping", tool, ok)
	}

	if _, ok := catalog.Lookup("nope"); ok {
		t.Error("Lookup() found a tool that doesn't exist")
	}
}

func TestValidateArgumentsRejectsNonConforming(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`)
	tool := &CatalogTool{QualifiedName: "search", InputSchema: schema, schema: compileSchema(schema)}

	if err := tool.ValidateArguments(map[string]any{"q": "hello"}); err != nil {
		t.Errorf("ValidateArguments() unexpected error for conforming input: %v", err)
	}
	if err := tool.ValidateArguments(map[string]any{}); err == nil {
		t.Error("ValidateArguments() expected error for missing required field")
	}
}

func TestValidateArgumentsNoSchemaIsUnconstrained(t *testing.T) {
	tool := &CatalogTool{QualifiedName: "anything"}
	if err := tool.ValidateArguments(map[string]any{"whatever": 1}); err != nil {
		t.Errorf("ValidateArguments() with no schema should not error, got %v", err)
	}
}

func TestFormatToolCallResultConcatenatesText(t *testing.T) {
	result := &ToolCallResult{Content: []ToolResultContent{
		{Type: "text", Text: "line one"},
		{Type: "text", Text: "line two"},
	}}
	text, isError := formatToolCallResult(result)
	if isError {
		t.Error("expected isError = false")
	}
	if text != "line one\nline two" {
		t.Errorf("text = %q", text)
	}
}

func TestFormatToolCallResultFallsBackToJSONForNonText(t *testing.T) {
	result := &ToolCallResult{Content: []ToolResultContent{
		{Type: "image", Data: "base64data", MimeType: "image/png"},
	}}
	text, _ := formatToolCallResult(result)
	if !strings.Contains(text, "base64data") {
		t.Errorf("expected JSON fallback to contain raw content, got %q", text)
	}
}

func TestExtractImageParts(t *testing.T) {
	result := &ToolCallResult{Content: []ToolResultContent{
		{Type: "text", Text: "ignored"},
		{Type: "image", Data: "abc123", MimeType: "image/png"},
	}}
	images := ExtractImageParts(result)
	if len(images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(images))
	}
	if !strings.HasPrefix(images[0].URL, "data:image/png;base64,") {
		t.Errorf("URL = %q, want data: URI", images[0].URL)
	}
}
