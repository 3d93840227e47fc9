package httpapi

import (
	"errors"
	"net/http"

	"github.com/haasonsaas/nexus/internal/settings"
	"github.com/haasonsaas/nexus/pkg/models"
)

// handleListPresets serves GET /api/presets/.
func (h *Handler) handleListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := h.cfg.Presets.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"presets": presets})
}

// handleCreatePreset serves POST /api/presets/, snapshotting the current
// active model and tool-server state under the given name.
func (h *Handler) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Name == "" {
		writeErrorMsg(w, http.StatusBadRequest, "name is required")
		return
	}

	snapshot, err := h.cfg.ModelSettings.Get()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	preset := models.Preset{
		Name:        body.Name,
		Snapshot:    snapshot,
		ToolServers: toolServersFromMCPConfigs(h.cfg.MCP.ServerConfigs()),
	}
	if err := h.cfg.Presets.Save(preset); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, preset)
}

// handleGetPreset serves GET /api/presets/{name}. PresetService has no
// direct lookup, so this filters the full list.
func (h *Handler) handleGetPreset(w http.ResponseWriter, r *http.Request) {
	preset, err := h.findPreset(r.PathValue("name"))
	if err != nil {
		writePresetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preset)
}

// handlePutPreset serves PUT /api/presets/{name}, re-snapshotting the named
// preset's current state.
func (h *Handler) handlePutPreset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := h.findPreset(name); err != nil {
		writePresetError(w, err)
		return
	}
	snapshot, err := h.cfg.ModelSettings.Get()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	preset := models.Preset{
		Name:        name,
		Snapshot:    snapshot,
		ToolServers: toolServersFromMCPConfigs(h.cfg.MCP.ServerConfigs()),
	}
	if err := h.cfg.Presets.Save(preset); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, preset)
}

// handleDeletePreset serves DELETE /api/presets/{name}.
func (h *Handler) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Presets.Delete(r.PathValue("name")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleApplyPreset serves POST /api/presets/{name}/apply.
func (h *Handler) handleApplyPreset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.cfg.Presets.Apply(r.Context(), name); err != nil {
		writePresetError(w, err)
		return
	}
	snapshot, err := h.cfg.ModelSettings.Get()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) findPreset(name string) (models.Preset, error) {
	presets, err := h.cfg.Presets.List()
	if err != nil {
		return models.Preset{}, err
	}
	for _, p := range presets {
		if p.Name == name {
			return p, nil
		}
	}
	return models.Preset{}, settings.ErrPresetNotFound
}

func writePresetError(w http.ResponseWriter, err error) {
	if errors.Is(err, settings.ErrPresetNotFound) {
		writeErrorMsg(w, http.StatusNotFound, "preset not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
