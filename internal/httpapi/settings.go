package httpapi

import (
	"net/http"

	"github.com/haasonsaas/nexus/pkg/models"
)

// handleGetModelSettings serves GET /api/settings/model.
func (h *Handler) handleGetModelSettings(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.cfg.ModelSettings.Get()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handlePutModelSettings serves PUT /api/settings/model, returning the
// stored snapshot once the atomic write completes.
func (h *Handler) handlePutModelSettings(w http.ResponseWriter, r *http.Request) {
	var snapshot models.ModelSnapshot
	if err := decodeJSON(w, r, &snapshot); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if snapshot.ModelID == "" {
		writeErrorMsg(w, http.StatusBadRequest, "model_id is required")
		return
	}
	if err := h.cfg.ModelSettings.Set(snapshot); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	stored, err := h.cfg.ModelSettings.Get()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}
