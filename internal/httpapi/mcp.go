package httpapi

import (
	"net/http"

	"github.com/haasonsaas/nexus/internal/mcp"
	"github.com/haasonsaas/nexus/pkg/models"
)

// handleGetMCPServers serves GET /api/mcp/servers.
func (h *Handler) handleGetMCPServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"servers": h.cfg.MCP.ServerConfigs()})
}

// handlePutMCPServers serves PUT /api/mcp/servers, replacing the
// configured tool-server list and triggering an aggregator refresh.
func (h *Handler) handlePutMCPServers(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Servers []*mcp.ServerConfig `json:"servers"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.cfg.MCP.Refresh(r.Context(), body.Servers); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": h.cfg.MCP.ServerConfigs()})
}

// handleRefreshMCPServers serves POST /api/mcp/servers/refresh, rebuilding
// the catalog from the currently-configured server list without changing it.
func (h *Handler) handleRefreshMCPServers(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.MCP.Refresh(r.Context(), h.cfg.MCP.ServerConfigs()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": h.cfg.MCP.Status()})
}

// toolServersFromMCPConfigs converts live aggregator configs to the
// preset-embedded wire shape, the inverse of settings.toolServersToMCPConfigs.
func toolServersFromMCPConfigs(configs []*mcp.ServerConfig) []models.ToolServer {
	servers := make([]models.ToolServer, 0, len(configs))
	for _, c := range configs {
		servers = append(servers, models.ToolServer{
			ID:        c.ID,
			Name:      c.Name,
			Transport: string(c.Transport),
			Command:   c.Command,
			Args:      c.Args,
			Env:       c.Env,
			WorkDir:   c.WorkDir,
			URL:       c.URL,
			Headers:   c.Headers,
			AutoStart: c.AutoStart,
		})
	}
	return servers
}
