package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_BasicDocument(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
server:
  host: "0.0.0.0"
  http_port: 8080
llm:
  fallback: anthropic
  routes:
    claude-sonnet-4-6: anthropic
  providers:
    anthropic:
      api_key: sk-test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.Server.HTTPPort)
	}
	if cfg.LLM.Routes["claude-sonnet-4-6"] != "anthropic" {
		t.Errorf("route missing: %+v", cfg.LLM.Routes)
	}
}

func TestLoad_ResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "llm.yaml", `
llm:
  fallback: anthropic
`)
	path := writeFile(t, dir, "config.yaml", `
$include: llm.yaml
server:
  http_port: 9090
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Fallback != "anthropic" {
		t.Errorf("Fallback = %q, want anthropic", cfg.LLM.Fallback)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.Server.HTTPPort)
	}
}

func TestLoad_DetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `$include: b.yaml`)
	path := writeFile(t, dir, "b.yaml", `$include: a.yaml`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected an include-cycle error")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_AGENTCORE_API_KEY", "sk-from-env")
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
llm:
  providers:
    anthropic:
      api_key: "$TEST_AGENTCORE_API_KEY"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want sk-from-env", cfg.LLM.Providers["anthropic"].APIKey)
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
server:
  not_a_real_field: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestLoad_MissingPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}
