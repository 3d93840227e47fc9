package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/haasonsaas/nexus/internal/attachments"
)

// defaultMaxUploadBytes bounds a multipart upload when Config.MaxUploadBytes
// is unset.
const defaultMaxUploadBytes = 20 * 1024 * 1024

// attachmentResponse mirrors the upload response shape: displayUrl and
// deliveryUrl both point at the same signed URL, since this gateway has no
// separate low-res preview pipeline.
type attachmentResponse struct {
	ID          string `json:"id"`
	MimeType    string `json:"mimeType"`
	SizeBytes   int64  `json:"sizeBytes"`
	DisplayURL  string `json:"displayUrl"`
	DeliveryURL string `json:"deliveryUrl"`
}

// handleUpload serves POST /api/uploads (multipart/form-data: file, session_id).
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.cfg.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		writeErrorMsg(w, http.StatusBadRequest, "session_id is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "file is required: "+err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "failed to read upload: "+err.Error())
		return
	}

	mimeType := header.Header.Get("Content-Type")
	attachment, err := h.cfg.Attachments.SaveUpload(r.Context(), sessionID, data, mimeType, header.Filename)
	if err != nil {
		var validationErr *attachments.ValidationError
		if errors.As(err, &validationErr) {
			writeErrorMsg(w, http.StatusBadRequest, validationErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"attachment": attachmentResponse{
			ID:          attachment.ID,
			MimeType:    attachment.MimeType,
			SizeBytes:   attachment.SizeBytes,
			DisplayURL:  attachment.SignedURL,
			DeliveryURL: attachment.SignedURL,
		},
	})
}

// handleDownloadBlob serves GET /api/uploads/{key...}?token=..., the
// signed-URL target local-store attachments resolve to. Not reached when
// the gateway is configured for S3 — SignedURL there points straight at
// the bucket.
func (h *Handler) handleDownloadBlob(w http.ResponseWriter, r *http.Request) {
	if h.cfg.LocalBlobStore == nil {
		writeErrorMsg(w, http.StatusNotFound, "local blob serving is not configured")
		return
	}
	key := r.PathValue("key")
	token := r.URL.Query().Get("token")
	if err := h.cfg.LocalBlobStore.VerifyToken(key, token); err != nil {
		writeErrorMsg(w, http.StatusForbidden, "invalid or expired token")
		return
	}
	blob, err := h.cfg.LocalBlobStore.Open(key)
	if err != nil {
		writeErrorMsg(w, http.StatusNotFound, "blob not found")
		return
	}
	defer blob.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, blob)
}
