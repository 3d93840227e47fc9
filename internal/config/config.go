// Package config loads and validates the gateway's YAML/JSON5 configuration
// file: provider credentials, the repository path, the MCP tool-server
// list, attachment storage, and the observability stack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/haasonsaas/nexus/internal/mcp"
)

// Config is the gateway's top-level configuration structure.
type Config struct {
	// Version identifies the config file's schema generation, checked
	// against CurrentVersion before anything else is decoded.
	Version int `yaml:"version"`

	Server        ServerConfig        `yaml:"server"`
	Repository    RepositoryConfig    `yaml:"repository"`
	LLM           LLMConfig           `yaml:"llm"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
	MCP           mcp.Config          `yaml:"mcp"`
	Attachments   AttachmentsConfig   `yaml:"attachments"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Load reads, $include-resolves, and validates the config file at path.
// Environment variables referenced with ${VAR} syntax are expanded before
// parsing; a fixed set of GATEWAY_*/OPENROUTER_*/ATTACHMENTS_*/AWS_*
// variables then override specific fields after parsing, so a deployment
// can keep secrets out of the checked-in file entirely.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	applyServerDefaults(&cfg.Server)
	applyRepositoryDefaults(&cfg.Repository)
	applyLLMDefaults(&cfg.LLM)
	applyOrchestratorDefaults(&cfg.Orchestrator)
	applyAttachmentsDefaults(&cfg.Attachments)
	applyLoggingDefaults(&cfg.Logging)
	applyObservabilityDefaults(&cfg.Observability)
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("GATEWAY_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("GATEWAY_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("GATEWAY_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("GATEWAY_DATABASE_PATH")); value != "" {
		cfg.Repository.Path = value
	}

	if value := strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")); value != "" {
		cfg.LLM.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("OPENROUTER_BASE_URL")); value != "" {
		cfg.LLM.BaseURL = value
	}
	if value := strings.TrimSpace(os.Getenv("OPENROUTER_DEFAULT_MODEL")); value != "" {
		cfg.LLM.DefaultModel = value
	}
	if value := os.Getenv("OPENROUTER_SYSTEM_PROMPT"); strings.TrimSpace(value) != "" {
		cfg.LLM.SystemPrompt = value
	}

	if value := strings.TrimSpace(os.Getenv("ATTACHMENTS_MAX_SIZE_BYTES")); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			cfg.Attachments.MaxSizeBytes = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("ATTACHMENTS_RETENTION_DAYS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Attachments.RetentionDays = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("ATTACHMENTS_SIGNING_KEY")); value != "" {
		cfg.Attachments.SigningKey = value
	}
	if value := strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID")); value != "" {
		cfg.Attachments.S3.AccessKeyID = value
	}
	if value := strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY")); value != "" {
		cfg.Attachments.S3.SecretAccessKey = value
	}
}

// ConfigValidationError reports every field-level problem found while
// validating a loaded config, so an operator can fix a config file in one
// pass instead of one error at a time.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var issues []string

	if strings.TrimSpace(cfg.Server.Host) == "" {
		issues = append(issues, "server.host must not be empty")
	}
	if cfg.Server.HTTPPort <= 0 {
		issues = append(issues, "server.http_port must be positive")
	}

	if strings.TrimSpace(cfg.Repository.Path) == "" {
		issues = append(issues, "repository.path must not be empty")
	}

	if strings.TrimSpace(cfg.LLM.APIKey) == "" {
		issues = append(issues, "llm.api_key must not be empty (set OPENROUTER_API_KEY)")
	}

	if cfg.Attachments.MaxSizeBytes <= 0 {
		issues = append(issues, "attachments.max_size_bytes must be positive")
	}
	if cfg.Attachments.RetentionDays < 0 {
		issues = append(issues, "attachments.retention_days must not be negative")
	}
	if !validAttachmentsBackend(cfg.Attachments.Backend) {
		issues = append(issues, fmt.Sprintf("attachments.backend %q is invalid (local, s3)", cfg.Attachments.Backend))
	}
	if cfg.Attachments.Backend == "local" && strings.TrimSpace(cfg.Attachments.SigningKey) == "" {
		issues = append(issues, "attachments.signing_key must not be empty when attachments.backend is \"local\"")
	}
	if cfg.Attachments.Backend == "s3" && strings.TrimSpace(cfg.Attachments.S3.Bucket) == "" {
		issues = append(issues, "attachments.s3.bucket must not be empty when attachments.backend is \"s3\"")
	}

	if !validLogLevel(cfg.Logging.Level) {
		issues = append(issues, fmt.Sprintf("logging.level %q is invalid (debug, info, warn, error)", cfg.Logging.Level))
	}
	if !validLogFormat(cfg.Logging.Format) {
		issues = append(issues, fmt.Sprintf("logging.format %q is invalid (json, text)", cfg.Logging.Format))
	}

	if cfg.Observability.Tracing.SamplingRate < 0 || cfg.Observability.Tracing.SamplingRate > 1 {
		issues = append(issues, "observability.tracing.sampling_rate must be between 0 and 1")
	}

	if cfg.Orchestrator.MaxToolIterations < 0 {
		issues = append(issues, "orchestrator.max_tool_iterations must not be negative")
	}
	if cfg.Orchestrator.MaxToolCalls < 0 {
		issues = append(issues, "orchestrator.max_tool_calls must not be negative")
	}

	for i, server := range cfg.MCP.Servers {
		if server == nil || strings.TrimSpace(server.ID) == "" {
			issues = append(issues, fmt.Sprintf("mcp.servers[%d].id must not be empty", i))
		}
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func validLogFormat(format string) bool {
	switch format {
	case "json", "text":
		return true
	}
	return false
}

func validAttachmentsBackend(backend string) bool {
	switch backend {
	case "local", "s3":
		return true
	}
	return false
}
