package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
llm:
  api_key: sk-test
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadRejectsMissingAPIKey(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "llm.api_key") {
		t.Fatalf("expected llm.api_key error, got %v", err)
	}
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	path := writeConfig(t, `
version: 99
llm:
  api_key: sk-test
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected version error")
	}
	if !strings.Contains(err.Error(), "newer than this build") {
		t.Fatalf("expected newer-than-build error, got %v", err)
	}
}

func TestLoadRejectsInvalidAttachmentsBackend(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: sk-test
attachments:
  backend: ftp
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "attachments.backend") {
		t.Fatalf("expected attachments.backend error, got %v", err)
	}
}

func TestLoadRequiresSigningKeyForLocalAttachments(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: sk-test
attachments:
  backend: local
  signing_key: ""
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "attachments.signing_key") {
		t.Fatalf("expected attachments.signing_key error, got %v", err)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: sk-test
  default_model: openai/gpt-4o-mini
attachments:
  backend: local
  signing_key: test-signing-key
mcp:
  enabled: true
  servers:
    - id: search
      transport: stdio
      command: search-server
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("unexpected api key: %q", cfg.LLM.APIKey)
	}
	if len(cfg.MCP.Servers) != 1 || cfg.MCP.Servers[0].ID != "search" {
		t.Fatalf("unexpected mcp servers: %+v", cfg.MCP.Servers)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: sk-test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Fatalf("expected default host, got %q", cfg.Server.Host)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Fatalf("expected default http port, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Repository.Path != "gateway.db" {
		t.Fatalf("expected default repository path, got %q", cfg.Repository.Path)
	}
	if cfg.Orchestrator.MaxToolIterations != 8 {
		t.Fatalf("expected default max tool iterations, got %d", cfg.Orchestrator.MaxToolIterations)
	}
	if cfg.Attachments.MaxSizeBytes != 20*1024*1024 {
		t.Fatalf("expected default max attachment size, got %d", cfg.Attachments.MaxSizeBytes)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_HOST", "127.0.0.1")
	t.Setenv("OPENROUTER_API_KEY", "sk-from-env")
	t.Setenv("OPENROUTER_DEFAULT_MODEL", "anthropic/claude-3-5-sonnet")

	path := writeConfig(t, `
server:
  host: 0.0.0.0
llm:
  api_key: sk-in-file
  default_model: openai/gpt-4o-mini
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("expected host override, got %q", cfg.Server.Host)
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Fatalf("expected api key override, got %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.DefaultModel != "anthropic/claude-3-5-sonnet" {
		t.Fatalf("expected default model override, got %q", cfg.LLM.DefaultModel)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(basePath, []byte("llm:\n  default_model: openai/gpt-4o-mini\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	mainPath := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(mainPath, []byte("$include: base.yaml\nllm:\n  api_key: sk-test\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.DefaultModel != "openai/gpt-4o-mini" {
		t.Fatalf("expected included default_model, got %q", cfg.LLM.DefaultModel)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("expected main file's api_key to win, got %q", cfg.LLM.APIKey)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
