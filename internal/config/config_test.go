package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PRISM_API_KEY", "ANTHROPIC_API_KEY", "PRISM_BASE_URL", "PRISM_MODEL", "PRISM_PROVIDER", "PRISM_SYSTEM_PROMPT_FILE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadFromConfigFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.json"), `{
		"api_key": "sk-test-key",
		"model": "claude-test",
		"max_turns": 5,
		"session": {"ttl": "10m", "max_sessions": 7}
	}`)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.APIKey != "sk-test-key" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if cfg.Model != "claude-test" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.MaxTurns != 5 {
		t.Errorf("MaxTurns = %d", cfg.MaxTurns)
	}
	if cfg.Session.TTL.Std() != 10*time.Minute {
		t.Errorf("TTL = %v", cfg.Session.TTL)
	}
	if cfg.Session.MaxSessions != 7 {
		t.Errorf("MaxSessions = %d", cfg.Session.MaxSessions)
	}
	// Untouched fields keep defaults.
	if cfg.Provider != "anthropic" {
		t.Errorf("Provider = %q", cfg.Provider)
	}
	if cfg.Session.SweepInterval.Std() != DefaultSweepInterval {
		t.Errorf("SweepInterval = %v", cfg.Session.SweepInterval)
	}
}

func TestLoadMissingAPIKeyFailsFast(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	if _, err := LoadFrom(dir); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.json"), `{"api_key": "from-file", "model": "file-model"}`)
	t.Setenv("PRISM_API_KEY", "from-env")
	t.Setenv("PRISM_MODEL", "env-model")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want env to win", cfg.APIKey)
	}
	if cfg.Model != "env-model" {
		t.Errorf("Model = %q, want env to win", cfg.Model)
	}
}

func TestToolPoliciesFromYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("PRISM_API_KEY", "sk-test")
	writeFile(t, filepath.Join(dir, "tools.yaml"), `
shell:
  timeout: 120s
  rate_limit: 10
web_fetch:
  timeout: 30s
write_file:
  enabled: false
`)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	shell := cfg.Tools["shell"]
	if shell.Timeout.Std() != 120*time.Second {
		t.Errorf("shell timeout = %v", shell.Timeout)
	}
	if shell.RateLimit != 10 {
		t.Errorf("shell rate_limit = %d", shell.RateLimit)
	}
	if !shell.IsEnabled() {
		t.Error("shell should default to enabled")
	}
	if cfg.Tools["write_file"].IsEnabled() {
		t.Error("write_file should be disabled")
	}
}

func TestUnknownProviderRejected(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("PRISM_API_KEY", "sk-test")
	t.Setenv("PRISM_PROVIDER", "mistral")

	if _, err := LoadFrom(dir); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestSystemPromptOverride(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg := defaults()

	if got := cfg.SystemPrompt(dir); got != defaultSystemPrompt {
		t.Errorf("expected built-in prompt, got %q", got)
	}

	writeFile(t, filepath.Join(dir, "system.md"), "You review Go code.\n")
	if got := cfg.SystemPrompt(dir); got != "You review Go code." {
		t.Errorf("prompt = %q", got)
	}
}

func TestDurationDecoding(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{`"90s"`, 90 * time.Second},
		{`"2m"`, 2 * time.Minute},
		{`45`, 45 * time.Second},
	}
	for _, tc := range cases {
		var d Duration
		if err := d.UnmarshalJSON([]byte(tc.raw)); err != nil {
			t.Errorf("%s: %v", tc.raw, err)
			continue
		}
		if d.Std() != tc.want {
			t.Errorf("%s = %v, want %v", tc.raw, d.Std(), tc.want)
		}
	}

	var bad Duration
	if err := bad.UnmarshalJSON([]byte(`"not-a-duration"`)); err == nil {
		t.Error("expected error for malformed duration")
	}
}
