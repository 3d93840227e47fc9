package models

import "time"

// ModelSnapshot captures the active model selection and call parameters in
// effect for new turns. Parameters is persisted nested under a "parameters"
// key (see Open Question decision #1); the orchestrator flattens it to
// top-level fields when building the outbound provider request.
type ModelSnapshot struct {
	ModelID           string            `json:"model_id"`
	ProviderOverrides map[string]string `json:"provider_overrides,omitempty"`
	Parameters        map[string]any    `json:"parameters,omitempty"`
	SystemPrompt      *string           `json:"system_prompt,omitempty"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Preset bundles a model snapshot with a tool-server list so a caller can
// switch both together in one apply_preset call.
type Preset struct {
	Name        string         `json:"name"`
	Snapshot    ModelSnapshot  `json:"snapshot"`
	ToolServers []ToolServer   `json:"tool_servers,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ToolServer is the persisted form of an MCP server entry within a preset.
// It mirrors mcp.ServerConfig's fields directly rather than importing the
// mcp package, keeping models dependency-free of the aggregator.
type ToolServer struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Transport string            `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	WorkDir   string            `json:"workdir,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	AutoStart bool              `json:"auto_start,omitempty"`
}
