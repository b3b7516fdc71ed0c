package config

import (
	"os"
	"testing"
)

func TestFirstNonEmpty(t *testing.T) {
	if v := firstNonEmpty("", "foo", "bar"); v != "foo" {
		t.Fatalf("expected 'foo', got %q", v)
	}
	if v := firstNonEmpty(); v != "" {
		t.Fatalf("expected empty, got %q", v)
	}
}

func TestParseInt(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		n, err := parseInt("42")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 42 {
			t.Fatalf("expected 42, got %d", n)
		}
	})
	t.Run("invalid", func(t *testing.T) {
		if _, err := parseInt("notanint"); err == nil {
			t.Fatalf("expected error for invalid int")
		}
	})
}

func TestIntFromEnv(t *testing.T) {
	key := "ORIX_TEST_INT_FROM_ENV"
	old, had := os.LookupEnv(key)
	defer func() {
		if had {
			_ = os.Setenv(key, old)
		} else {
			_ = os.Unsetenv(key)
		}
	}()

	_ = os.Unsetenv(key)
	if v := intFromEnv(key, 7); v != 7 {
		t.Fatalf("expected default 7, got %d", v)
	}

	_ = os.Setenv(key, "21")
	if v := intFromEnv(key, 7); v != 21 {
		t.Fatalf("expected 21, got %d", v)
	}

	_ = os.Setenv(key, "not-an-int")
	if v := intFromEnv(key, 7); v != 7 {
		t.Fatalf("expected fallback to default on parse error, got %d", v)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"ORIX_PORT", "LLM_PROVIDER", "MEMORY_ROLLUP_INTERVAL", "PLANNER_MAX_TASKS",
	} {
		old, had := os.LookupEnv(key)
		_ = os.Unsetenv(key)
		defer func(k, v string, had bool) {
			if had {
				_ = os.Setenv(k, v)
			}
		}(key, old, had)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8090 {
		t.Errorf("expected default port 8090, got %d", cfg.Port)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("expected default provider anthropic, got %q", cfg.LLM.Provider)
	}
	if cfg.Memory.RollupInterval != 10 {
		t.Errorf("expected default rollup interval 10, got %d", cfg.Memory.RollupInterval)
	}
	if cfg.Planner.MaxTasks != 15 {
		t.Errorf("expected default max tasks 15, got %d", cfg.Planner.MaxTasks)
	}
}

func TestLoadYAMLOverlay_AppliesUnsetFieldsOnly(t *testing.T) {
	yamlDoc := `
llm:
  provider: google
  google:
    apiKey: from-yaml
    model: gemini-2.5-pro
web:
  searXNGURL: http://searxng.example:8080
auth:
  enabled: true
  token: from-yaml-token
`
	f := "config_overlay_test.yaml"
	if err := os.WriteFile(f, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	defer func() { _ = os.Remove(f) }()

	for _, kv := range []struct{ k, v string }{
		{"ORIX_CONFIG_FILE", f},
		{"ANTHROPIC_MODEL", "claude-opus-4-override"},
	} {
		old, had := os.LookupEnv(kv.k)
		_ = os.Setenv(kv.k, kv.v)
		defer func(k, v string, had bool) {
			if had {
				_ = os.Setenv(k, v)
			} else {
				_ = os.Unsetenv(k)
			}
		}(kv.k, old, had)
	}
	for _, k := range []string{"LLM_PROVIDER", "GOOGLE_GEMINI_API_KEY", "GOOGLE_GEMINI_MODEL", "SEARXNG_URL", "AUTH_ENABLED", "AUTH_TOKEN"} {
		old, had := os.LookupEnv(k)
		_ = os.Unsetenv(k)
		defer func(kk, vv string, hadd bool) {
			if hadd {
				_ = os.Setenv(kk, vv)
			}
		}(k, old, had)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.Provider != "google" {
		t.Errorf("expected provider from yaml overlay, got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Google.APIKey != "from-yaml" || cfg.LLM.Google.Model != "gemini-2.5-pro" {
		t.Errorf("unexpected google cfg: %+v", cfg.LLM.Google)
	}
	if cfg.Web.SearXNGURL != "http://searxng.example:8080" {
		t.Errorf("expected web.searXNGURL from yaml overlay, got %q", cfg.Web.SearXNGURL)
	}
	if !cfg.Auth.Enabled || cfg.Auth.Token != "from-yaml-token" {
		t.Errorf("expected auth from yaml overlay, got %+v", cfg.Auth)
	}
	// ANTHROPIC_MODEL was set via env, so it must win even though the
	// overlay file sets a different provider's model.
	if cfg.LLM.Anthropic.Model != "claude-opus-4-override" {
		t.Errorf("expected env var to take precedence, got %q", cfg.LLM.Anthropic.Model)
	}
}
