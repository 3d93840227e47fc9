package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenRouterProvider is the gateway's single upstream LLM client.
// OpenRouter exposes an OpenAI-compatible chat-completions API fronting
// many underlying models, so one client suffices for every configured
// model_id.
//
// Two call shapes are exposed:
//   - StreamChatCompletion issues the raw HTTP POST whose SSE body is
//     handed, unparsed, to internal/streaming's handler — go-openai's own
//     stream reader is not used here, since the handler must be
//     independently testable against adversarial byte-level chunk splits.
//   - Ask issues a single non-streaming call via go-openai's typed
//     client, used by the tool planner and the title generator where no
//     SSE parsing is involved and the typed request/response shape is a
//     genuine fit.
//
// Thread safety: OpenRouterProvider is safe for concurrent use.
type OpenRouterProvider struct {
	httpClient   *http.Client
	oaiClient    *openai.Client
	apiKey       string
	baseURL      string
	defaultModel string
	base         BaseProvider
}

// OpenRouterConfig holds configuration for the OpenRouter provider.
type OpenRouterConfig struct {
	APIKey       string
	// BaseURL overrides the OpenRouter API root, defaulting to
	// defaultOpenRouterBaseURL. Mainly useful for pointing at a local
	// proxy or mock during development.
	BaseURL      string
	DefaultModel string
	AppName      string
	SiteURL      string
	MaxRetries   int
	RetryDelay   time.Duration
}

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

// NewOpenRouterProvider creates a new OpenRouter provider instance.
func NewOpenRouterProvider(cfg OpenRouterConfig) (*OpenRouterProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openrouter: API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "openai/gpt-4o-mini"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenRouterBaseURL
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL

	return &OpenRouterProvider{
		httpClient:   &http.Client{},
		oaiClient:    openai.NewClientWithConfig(clientConfig),
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		base:         NewBaseProvider("openrouter", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns the provider identifier.
func (p *OpenRouterProvider) Name() string {
	return "openrouter"
}

// ChatMessage is the wire shape of one message in a chat-completions
// request body. Content holds either a plain string or a []ContentPart
// slice (for multimodal user turns); json.Marshal renders whichever is
// set.
type ChatMessage struct {
	Role       string      `json:"role"`
	Content    any         `json:"content,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	Name       string      `json:"name,omitempty"`
}

// ContentPart is one element of a multimodal message's content array.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps an image_url content part's URL.
type ImageURL struct {
	URL string `json:"url"`
}

// ToolCall is the wire shape of an assistant message's tool call.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall is a tool call's function name and JSON-string arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatTool is one entry of the request body's "tools" array.
type ChatTool struct {
	Type     string       `json:"type"`
	Function FunctionDef  `json:"function"`
}

// FunctionDef describes a callable tool's name, description, and schema.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type streamChatRequest struct {
	Model      string         `json:"model"`
	Messages   []ChatMessage  `json:"messages"`
	Tools      []ChatTool     `json:"tools,omitempty"`
	Stream     bool           `json:"stream"`
	MaxTokens  int            `json:"max_tokens,omitempty"`
	Extra      map[string]any `json:"-"`
}

func (r streamChatRequest) MarshalJSON() ([]byte, error) {
	type alias streamChatRequest
	base, err := json.Marshal(alias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// StreamChatCompletion issues a streaming chat-completion request and
// returns the raw SSE response body for internal/streaming to consume.
// The caller owns the returned body and MUST close it.
func (p *OpenRouterProvider) StreamChatCompletion(ctx context.Context, model string, messages []ChatMessage, tools []ChatTool, maxTokens int, parameters map[string]any) (io.ReadCloser, error) {
	if model == "" {
		model = p.defaultModel
	}

	reqBody := streamChatRequest{
		Model:     model,
		Messages:  messages,
		Tools:     tools,
		Stream:    true,
		MaxTokens: maxTokens,
		Extra:     parameters,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("openrouter: encode request: %w", err)
	}

	var resp *http.Response
	lastErr := p.base.Retry(ctx, p.isRetryableError, func() error {
		httpReq, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
		if buildErr != nil {
			return buildErr
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		httpReq.Header.Set("Accept", "text/event-stream")

		var doErr error
		resp, doErr = p.httpClient.Do(httpReq)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return NewProviderError("openrouter", model, fmt.Errorf("%s", string(body))).WithStatus(resp.StatusCode)
		}
		return nil
	})

	if lastErr != nil {
		return nil, p.wrapError(lastErr, model)
	}
	return resp.Body, nil
}

// Ask issues a single non-streaming completion call, used by the tool
// planner and title generator where a typed request/response and no SSE
// parsing fit the call shape.
func (p *OpenRouterProvider) Ask(ctx context.Context, model, systemPrompt, userContent string, maxTokens int) (string, error) {
	if model == "" {
		model = p.defaultModel
	}

	messages := []openai.ChatCompletionMessage{}
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userContent,
	})

	req := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}

	var resp openai.ChatCompletionResponse
	lastErr := p.base.Retry(ctx, p.isRetryableError, func() error {
		var err error
		resp, err = p.oaiClient.CreateChatCompletion(ctx, req)
		return err
	})
	if lastErr != nil {
		return "", p.wrapError(lastErr, model)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenRouterProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}

func (p *OpenRouterProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	return NewProviderError("openrouter", model, err)
}
