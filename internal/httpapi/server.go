// Package httpapi exposes the gateway's client-facing HTTP surface: chat
// streaming, conversation history, model settings, presets, the MCP
// server list, and attachment uploads. It is a thin translation layer over
// internal/orchestrator, internal/settings, internal/mcp, and
// internal/attachments — no business logic lives here.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/haasonsaas/nexus/internal/attachments"
	"github.com/haasonsaas/nexus/internal/mcp"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/orchestrator"
	"github.com/haasonsaas/nexus/internal/settings"
)

// maxRequestBodyBytes bounds JSON request bodies; multipart uploads are
// bounded separately by Config.MaxUploadBytes.
const maxRequestBodyBytes = 2 * 1024 * 1024

// Config wires the handler to the gateway's running components.
type Config struct {
	Orchestrator  *orchestrator.Orchestrator
	ModelSettings *settings.ModelSettingsService
	Presets       *settings.PresetService
	MCP           *mcp.Manager
	Attachments   *attachments.Service
	Catalog       *ModelCatalogClient

	// LocalBlobStore serves blob-download requests when attachments are
	// stored on the local filesystem. Nil when the gateway is configured
	// for S3, in which case SignedURL already points straight at the
	// backend and handleDownloadBlob is never reached.
	LocalBlobStore *attachments.LocalStore

	// MaxUploadBytes bounds the multipart upload body, independent of
	// maxRequestBodyBytes which only bounds JSON request bodies.
	MaxUploadBytes int64

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Handler serves the gateway's JSON+SSE API over a single http.ServeMux.
type Handler struct {
	cfg    Config
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewHandler builds the routed handler. Routes use Go 1.22+ method+path
// patterns on http.ServeMux, matching the bare-mux choice the gateway's
// HTTP surface is specified to make.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{cfg: cfg, mux: http.NewServeMux(), logger: cfg.Logger.With("component", "httpapi")}
	h.routes()
	return h
}

func (h *Handler) routes() {
	h.mux.HandleFunc("POST /api/chat/stream", h.handleChatStream)
	h.mux.HandleFunc("GET /api/chat/conversations", h.handleListConversations)
	h.mux.HandleFunc("DELETE /api/chat/session/{id}", h.handleDeleteSession)
	h.mux.HandleFunc("GET /api/chat/session/{id}/messages", h.handleSessionMessages)
	h.mux.HandleFunc("POST /api/chat/session/{id}/generate-title", h.handleGenerateTitle)

	h.mux.HandleFunc("GET /api/settings/model", h.handleGetModelSettings)
	h.mux.HandleFunc("PUT /api/settings/model", h.handlePutModelSettings)

	h.mux.HandleFunc("GET /api/presets/", h.handleListPresets)
	h.mux.HandleFunc("POST /api/presets/", h.handleCreatePreset)
	h.mux.HandleFunc("GET /api/presets/{name}", h.handleGetPreset)
	h.mux.HandleFunc("PUT /api/presets/{name}", h.handlePutPreset)
	h.mux.HandleFunc("DELETE /api/presets/{name}", h.handleDeletePreset)
	h.mux.HandleFunc("POST /api/presets/{name}/apply", h.handleApplyPreset)

	h.mux.HandleFunc("GET /api/mcp/servers", h.handleGetMCPServers)
	h.mux.HandleFunc("PUT /api/mcp/servers", h.handlePutMCPServers)
	h.mux.HandleFunc("POST /api/mcp/servers/refresh", h.handleRefreshMCPServers)

	h.mux.HandleFunc("POST /api/uploads", h.handleUpload)
	h.mux.HandleFunc("GET /api/uploads/{key...}", h.handleDownloadBlob)

	h.mux.HandleFunc("GET /api/models", h.handleListModels)

	h.mux.HandleFunc("GET /healthz", h.handleHealthz)
}

// ServeHTTP implements http.Handler, wrapping every request with logging
// and panic recovery, and (when configured) Prometheus duration/status
// metrics — the ambient observability the HTTP surface carries regardless
// of which feature areas are in scope.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic handling request", "method", r.Method, "path", r.URL.Path, "panic", rec)
			if !rw.wroteHeader {
				http.Error(rw, "internal error", http.StatusInternalServerError)
			}
		}
		h.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration", time.Since(start),
		)
		if h.cfg.Metrics != nil {
			h.cfg.Metrics.RecordHTTPRequest(r.Method, r.Pattern, statusClass(rw.status), time.Since(start).Seconds())
		}
	}()

	h.mux.ServeHTTP(rw, r)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// statusWriter captures the response status code for logging/metrics.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// decodeJSON decodes a JSON request body into dst, rejecting unknown
// fields and oversized bodies.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeErrorMsg(w http.ResponseWriter, status int, msg string) {
	writeError(w, status, errors.New(msg))
}
