package httpapi

import (
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/nexus/internal/attachments"
	"github.com/haasonsaas/nexus/internal/mcp"
	"github.com/haasonsaas/nexus/internal/orchestrator"
	"github.com/haasonsaas/nexus/internal/repository"
	"github.com/haasonsaas/nexus/internal/settings"
	"github.com/haasonsaas/nexus/pkg/models"
)

// newTestHandler wires a Handler against real, on-disk/in-memory component
// implementations rather than mocks, matching the orchestrator package's
// own preference for exercising the real collaborators where they're cheap
// to construct.
func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	ctx := context.Background()

	repo, err := repository.Open(ctx, repository.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	dir := t.TempDir()
	modelSettings := settings.NewModelSettingsService(filepath.Join(dir, "model_settings.json"))
	mcpManager := mcp.NewManager(&mcp.Config{}, nil)
	presets := settings.NewPresetService(filepath.Join(dir, "presets.json"), modelSettings, mcpManager)

	localStore, err := attachments.NewLocalStore(filepath.Join(dir, "blobs"), "/api/uploads", []byte("test-signing-key-long-enough-123"))
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	attachmentSvc := attachments.NewService(localStore, repo, attachments.ServiceConfig{}, nil)

	orch := orchestrator.New(repo, repo, attachmentSvc, nil, mcpManager, modelSettings, presets, nil, nil, orchestrator.Config{}, nil)

	return NewHandler(Config{
		Orchestrator:   orch,
		ModelSettings:  modelSettings,
		Presets:        presets,
		MCP:            mcpManager,
		Attachments:    attachmentSvc,
		Catalog:        NewModelCatalogClient("", ""),
		LocalBlobStore: localStore,
		MaxUploadBytes: 1024 * 1024,
	})
}

func doRequest(h *Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, path, strings.NewReader(string(body)))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t)
	w := doRequest(h, "GET", "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestModelSettingsRoundTrip(t *testing.T) {
	h := newTestHandler(t)

	body, _ := json.Marshal(models.ModelSnapshot{ModelID: "openrouter/some-model"})
	w := doRequest(h, "PUT", "/api/settings/model", body)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT settings/model: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(h, "GET", "/api/settings/model", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET settings/model: expected 200, got %d", w.Code)
	}
	var got models.ModelSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ModelID != "openrouter/some-model" {
		t.Fatalf("expected persisted model id to round-trip, got %q", got.ModelID)
	}
}

func TestPutModelSettingsRejectsMissingModelID(t *testing.T) {
	h := newTestHandler(t)
	body, _ := json.Marshal(models.ModelSnapshot{})
	w := doRequest(h, "PUT", "/api/settings/model", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing model_id, got %d", w.Code)
	}
}

func TestPresetLifecycle(t *testing.T) {
	h := newTestHandler(t)

	// Create a preset off of whatever the (empty) active model snapshot is.
	body, _ := json.Marshal(map[string]string{"name": "default"})
	w := doRequest(h, "POST", "/api/presets/", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create preset: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(h, "GET", "/api/presets/default", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get preset: expected 200, got %d", w.Code)
	}

	w = doRequest(h, "GET", "/api/presets/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get missing preset: expected 404, got %d", w.Code)
	}

	w = doRequest(h, "POST", "/api/presets/default/apply", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("apply preset: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(h, "DELETE", "/api/presets/default", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete preset: expected 204, got %d", w.Code)
	}
}

func TestGetMCPServersEmpty(t *testing.T) {
	h := newTestHandler(t)
	w := doRequest(h, "GET", "/api/mcp/servers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["servers"] != nil && len(got["servers"].([]any)) != 0 {
		t.Fatalf("expected no configured servers, got %v", got["servers"])
	}
}

func TestListConversationsAndSessionLifecycle(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()

	if _, err := h.cfg.Orchestrator.GetConversation(ctx, "nonexistent"); err == nil {
		t.Fatal("expected an error reading an empty conversation")
	}

	// Seed a session directly through the repository the orchestrator wraps.
	if _, err := h.cfg.Presets.List(); err != nil {
		t.Fatalf("sanity List: %v", err)
	}

	w := doRequest(h, "GET", "/api/chat/conversations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = doRequest(h, "GET", "/api/chat/session/does-not-exist/messages", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown session, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(h, "DELETE", "/api/chat/session/does-not-exist", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected deleting an absent session to be a no-op 204, got %d", w.Code)
	}
}

func TestUploadAndDownloadBlobRoundTrip(t *testing.T) {
	h := newTestHandler(t)

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("session_id", "sess-1"); err != nil {
		t.Fatal(err)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="note.png"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte("hello attachment")); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest("POST", "/api/uploads", strings.NewReader(buf.String()))
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Attachment attachmentResponse `json:"attachment"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if resp.Attachment.DeliveryURL == "" {
		t.Fatal("expected a non-empty delivery URL")
	}

	downloadPath := strings.TrimPrefix(resp.Attachment.DeliveryURL, "/api/uploads/")
	key := downloadPath
	if idx := strings.Index(key, "?"); idx >= 0 {
		key = key[:idx]
	}

	w = doRequest(h, "GET", "/api/uploads/"+downloadPath, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("download: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "hello attachment" {
		t.Fatalf("expected downloaded bytes to match upload, got %q", w.Body.String())
	}

	w = doRequest(h, "GET", "/api/uploads/"+key+"?token=wrong", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected a forged token to be rejected with 403, got %d", w.Code)
	}
}
