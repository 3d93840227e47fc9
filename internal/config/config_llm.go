package config

import "time"

// LLMConfig configures the gateway's single upstream provider, matched by
// internal/providers.OpenRouterConfig. The gateway talks to exactly one
// OpenAI-compatible endpoint (OpenRouter) and lets model_id select among
// its many underlying models, so there is no per-provider map or routing
// layer to configure here.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// DefaultModel is used whenever a request omits model_id.
	DefaultModel string `yaml:"default_model"`
	// SystemPrompt is prepended to every turn's message list when the
	// caller doesn't supply its own.
	SystemPrompt string        `yaml:"system_prompt"`
	AppName      string        `yaml:"app_name"`
	SiteURL      string        `yaml:"site_url"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// OrchestratorConfig bounds a turn's tool loop and names the cheap models
// used for planning and title generation, matched by
// internal/orchestrator.TurnLimits, internal/orchestrator.Planner, and
// internal/titlegen.Generator.
type OrchestratorConfig struct {
	MaxToolIterations int           `yaml:"max_tool_iterations"`
	MaxToolCalls      int           `yaml:"max_tool_calls"`
	MaxWallTime       time.Duration `yaml:"max_wall_time"`

	// PlannerModel is the cheap model used to narrow the tool catalog
	// before the main turn. Empty disables planning.
	PlannerModel string `yaml:"planner_model"`
	// TitleModel is the cheap model used to generate session titles.
	TitleModel string `yaml:"title_model"`
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "openai/gpt-4o-mini"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
}

func applyOrchestratorDefaults(cfg *OrchestratorConfig) {
	if cfg.MaxToolIterations == 0 {
		cfg.MaxToolIterations = 8
	}
	if cfg.MaxToolCalls == 0 {
		cfg.MaxToolCalls = 16
	}
	if cfg.MaxWallTime == 0 {
		cfg.MaxWallTime = 2 * time.Minute
	}
}
