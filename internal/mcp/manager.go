package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Manager manages multiple MCP server connections and the aggregated tool
// catalog built from them.
type Manager struct {
	config  *Config
	logger  *slog.Logger
	clients map[string]*Client
	catalog *Catalog
	mu      sync.RWMutex
}

// Config holds the MCP manager configuration.
type Config struct {
	Enabled bool            `yaml:"enabled"`
	Servers []*ServerConfig `yaml:"servers"`
}

// NewManager creates a new MCP manager.
func NewManager(cfg *Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		config:  cfg,
		logger:  logger.With("component", "mcp"),
		clients: make(map[string]*Client),
	}
}

// Start connects to all configured MCP servers with auto_start enabled.
func (m *Manager) Start(ctx context.Context) error {
	if m.config == nil || !m.config.Enabled {
		m.logger.Debug("MCP disabled")
		return nil
	}

	for _, serverCfg := range m.config.Servers {
		if !serverCfg.AutoStart {
			continue
		}

		if err := m.Connect(ctx, serverCfg.ID); err != nil {
			m.logger.Error("failed to connect to MCP server",
				"server", serverCfg.ID,
				"error", err)
			// Continue with other servers
		}
	}

	m.rebuildCatalog()
	return nil
}

// rebuildCatalog recomputes the aggregated catalog from the currently
// connected clients and swaps it in atomically; callers of Catalog() never
// observe a torn view.
func (m *Manager) rebuildCatalog() {
	m.mu.RLock()
	var configs map[string]*ServerConfig
	if m.config != nil {
		configs = make(map[string]*ServerConfig, len(m.config.Servers))
		for _, cfg := range m.config.Servers {
			configs[cfg.ID] = cfg
		}
	}
	m.mu.RUnlock()

	catalog := BuildCatalog(m, configs)

	m.mu.Lock()
	m.catalog = catalog
	m.mu.Unlock()
}

// Catalog returns the current aggregated tool catalog.
func (m *Manager) Catalog() *Catalog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.catalog
}

// Refresh diffs the given server configs against the currently running
// set: servers removed or newly disabled are gracefully disconnected,
// servers newly present or newly enabled are connected, and the catalog is
// recomputed once at the end so the orchestrator always sees either the
// pre- or post-refresh catalog, never a torn view.
func (m *Manager) Refresh(ctx context.Context, newConfigs []*ServerConfig) error {
	m.mu.Lock()
	if m.config == nil {
		m.config = &Config{Enabled: true}
	}
	previous := m.config.Servers
	m.mu.Unlock()

	prevByID := make(map[string]*ServerConfig, len(previous))
	for _, cfg := range previous {
		prevByID[cfg.ID] = cfg
	}
	nextByID := make(map[string]*ServerConfig, len(newConfigs))
	for _, cfg := range newConfigs {
		nextByID[cfg.ID] = cfg
	}

	for id, cfg := range prevByID {
		next, stillPresent := nextByID[id]
		if !stillPresent || !next.Enabled {
			if err := m.Disconnect(id); err != nil {
				m.logger.Error("failed to disconnect removed MCP server", "server", id, "error", err)
			}
		}
		_ = cfg
	}

	m.mu.Lock()
	m.config.Servers = newConfigs
	m.mu.Unlock()

	for id, cfg := range nextByID {
		if !cfg.Enabled {
			continue
		}
		if _, connected := m.Client(id); connected {
			continue
		}
		if err := m.Connect(ctx, id); err != nil {
			m.logger.Error("failed to connect MCP server during refresh", "server", id, "error", err)
		}
	}

	m.rebuildCatalog()
	return nil
}

// Stop disconnects from all MCP servers.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Error("failed to close MCP client",
				"server", id,
				"error", err)
		}
		delete(m.clients, id)
	}

	return nil
}

// Connect connects to a specific MCP server by ID.
func (m *Manager) Connect(ctx context.Context, serverID string) error {
	// Find server config
	var serverCfg *ServerConfig
	for _, cfg := range m.config.Servers {
		if cfg.ID == serverID {
			serverCfg = cfg
			break
		}
	}

	if serverCfg == nil {
		return fmt.Errorf("server %q not found in config", serverID)
	}

	// Check if already connected
	m.mu.RLock()
	if _, exists := m.clients[serverID]; exists {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	// Create and connect client
	client := NewClient(serverCfg, m.logger)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.clients[serverID] = client
	m.mu.Unlock()

	m.logger.Info("connected to MCP server",
		"server", serverID,
		"name", client.ServerInfo().Name)

	return nil
}

// Disconnect disconnects from a specific MCP server.
func (m *Manager) Disconnect(serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, exists := m.clients[serverID]
	if !exists {
		return nil
	}

	if err := client.Close(); err != nil {
		return err
	}

	delete(m.clients, serverID)
	m.logger.Info("disconnected from MCP server", "server", serverID)

	return nil
}

// Client returns a client for a specific server.
func (m *Manager) Client(serverID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, exists := m.clients[serverID]
	return client, exists
}

// Clients returns all connected clients.
func (m *Manager) Clients() map[string]*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*Client, len(m.clients))
	for id, client := range m.clients {
		result[id] = client
	}
	return result
}

// AllTools returns all tools from all connected servers.
func (m *Manager) AllTools() map[string][]*MCPTool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string][]*MCPTool)
	for id, client := range m.clients {
		if tools := client.Tools(); len(tools) > 0 {
			result[id] = tools
		}
	}
	return result
}

// CallTool calls a tool on a specific server.
func (m *Manager) CallTool(ctx context.Context, serverID string, toolName string, arguments map[string]any) (*ToolCallResult, error) {
	client, exists := m.Client(serverID)
	if !exists {
		return nil, fmt.Errorf("server %q not connected", serverID)
	}

	return client.CallTool(ctx, toolName, arguments)
}

// InvocationError is a structured tool-invocation failure, distinguishing
// malformed-argument rejections from transport/timeout failures so the
// orchestrator can decide whether a retry is sensible.
type InvocationError struct {
	Kind      string // "tool_malformed_args" | "tool_failure"
	Reason    string
	Transient bool
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// InvocationResult is the aggregator's normalized answer to a tool call:
// the flattened text blob for the model, any images to carry forward to
// the next assistant turn, and whether the tool itself reported an error.
type InvocationResult struct {
	Text    string
	IsError bool
	Images  []ImagePart
}

// Invoke resolves a qualified tool name against the current catalog,
// validates the caller-supplied arguments against its declared schema,
// dispatches the call to the owning server, and normalizes the result per
// spec.md §4.3's invocation contract.
func (m *Manager) Invoke(ctx context.Context, qualifiedName string, arguments map[string]any) (*InvocationResult, error) {
	catalog := m.Catalog()
	if catalog == nil {
		return nil, &InvocationError{Kind: "tool_failure", Reason: "catalog not built", Transient: true}
	}

	tool, ok := catalog.Lookup(qualifiedName)
	if !ok {
		return nil, &InvocationError{Kind: "tool_failure", Reason: fmt.Sprintf("unknown tool %q", qualifiedName)}
	}

	if err := tool.ValidateArguments(arguments); err != nil {
		return nil, &InvocationError{Kind: "tool_malformed_args", Reason: err.Error()}
	}

	result, err := m.CallTool(ctx, tool.ServerID, tool.RawName, arguments)
	if err != nil {
		return nil, &InvocationError{Kind: "tool_failure", Reason: err.Error(), Transient: isTransientCallErr(err)}
	}

	text, isError := formatToolCallResult(result)
	return &InvocationResult{
		Text:    text,
		IsError: isError,
		Images:  ExtractImageParts(result),
	}, nil
}

func isTransientCallErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// ServerStatus represents the status of an MCP server.
type ServerStatus struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Connected bool       `json:"connected"`
	Server    ServerInfo `json:"server"`
	Tools     int        `json:"tools"`
	Resources int        `json:"resources"`
	Prompts   int        `json:"prompts"`
}

// ServerConfigs returns the currently configured server list, as last set
// by NewManager or Refresh. Callers must not mutate the returned slice or
// its elements.
func (m *Manager) ServerConfigs() []*ServerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return nil
	}
	return m.config.Servers
}

// Status returns the status of all configured servers.
func (m *Manager) Status() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var statuses []ServerStatus
	for _, cfg := range m.config.Servers {
		status := ServerStatus{
			ID:   cfg.ID,
			Name: cfg.Name,
		}

		if client, exists := m.clients[cfg.ID]; exists {
			status.Connected = client.Connected()
			status.Server = client.ServerInfo()
			status.Tools = len(client.Tools())
			status.Resources = len(client.Resources())
			status.Prompts = len(client.Prompts())
		}

		statuses = append(statuses, status)
	}

	return statuses
}
