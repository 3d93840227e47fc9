package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ModelCatalogClient proxies the upstream provider's model catalog,
// grounded on the same bearer-auth HTTP idiom internal/providers.OpenRouterProvider
// uses for chat completions — a plain http.Client POST/GET, no SSE involved.
type ModelCatalogClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewModelCatalogClient creates a catalog client against baseURL (the same
// root internal/providers.OpenRouterProvider talks to).
func NewModelCatalogClient(apiKey, baseURL string) *ModelCatalogClient {
	return &ModelCatalogClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiKey:     apiKey,
		baseURL:    baseURL,
	}
}

// ModelInfo is one catalog entry, flattened from the upstream's richer
// per-model metadata to the fields clients actually render.
type ModelInfo struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Description        string `json:"description,omitempty"`
	ContextLength      int    `json:"context_length,omitempty"`
	SupportsTools      bool   `json:"supports_tools"`
	Modality           string `json:"modality,omitempty"`
	PromptPriceUSD     string `json:"prompt_price,omitempty"`
	CompletionPriceUSD string `json:"completion_price,omitempty"`
}

type openRouterModelList struct {
	Data []openRouterModel `json:"data"`
}

type openRouterModel struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	ContextLength   int      `json:"context_length"`
	SupportedParams []string `json:"supported_parameters"`
	Architecture    struct {
		Modality string `json:"modality"`
	} `json:"architecture"`
	Pricing struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
}

// List fetches the upstream catalog and applies the search/tools-only
// filters server-side, so clients never have to paginate the full list
// themselves.
func (c *ModelCatalogClient) List(ctx context.Context, search string, toolsOnly bool) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("build models request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch model catalog: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("model catalog request failed: status %d", resp.StatusCode)
	}

	var list openRouterModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode model catalog: %w", err)
	}

	search = strings.ToLower(strings.TrimSpace(search))
	models := make([]ModelInfo, 0, len(list.Data))
	for _, m := range list.Data {
		supportsTools := hasParam(m.SupportedParams, "tools")
		if toolsOnly && !supportsTools {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(m.ID), search) && !strings.Contains(strings.ToLower(m.Name), search) {
			continue
		}
		models = append(models, ModelInfo{
			ID:                 m.ID,
			Name:               m.Name,
			Description:        m.Description,
			ContextLength:      m.ContextLength,
			SupportsTools:      supportsTools,
			Modality:           m.Architecture.Modality,
			PromptPriceUSD:     m.Pricing.Prompt,
			CompletionPriceUSD: m.Pricing.Completion,
		})
	}
	return models, nil
}

func hasParam(params []string, want string) bool {
	for _, p := range params {
		if p == want {
			return true
		}
	}
	return false
}

// handleListModels serves GET /api/models?search=&filters=&tools_only=.
// filters is accepted and reserved for future facets but currently only
// tools_only and search narrow the result.
func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Catalog == nil {
		writeErrorMsg(w, http.StatusNotImplemented, "model catalog is not configured")
		return
	}
	toolsOnly := r.URL.Query().Get("tools_only") == "true"
	models, err := h.cfg.Catalog.List(r.Context(), r.URL.Query().Get("search"), toolsOnly)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}
