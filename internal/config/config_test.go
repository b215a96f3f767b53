package config

import (
	"errors"
	"strings"
	"testing"
)

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend struct {
	strs map[string]string
	ints map[string]int
}

func (m *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strs[key]
	return v, ok, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *mapBackend) SetString(key, val string) error {
	m.strs[key] = val
	return nil
}

func (m *mapBackend) SetInt(key string, val int) error {
	m.ints[key] = val
	return nil
}

func (m *mapBackend) Delete(key string) error {
	delete(m.strs, key)
	delete(m.ints, key)
	return nil
}

func emptyBackend() *mapBackend {
	return &mapBackend{strs: map[string]string{}, ints: map[string]int{}}
}

// mockKeychain is a test double for the secret store.
type mockKeychain struct {
	value string
	err   error
}

func (m mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

func TestDefaults(t *testing.T) {
	t.Setenv("TASKLENS_OPENAI_API_KEY", "test-key")

	cfg, err := loadWith(emptyBackend(), mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4600 {
		t.Errorf("Server.Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Server.MCPPort != 4601 {
		t.Errorf("Server.MCPPort = %d, want 4601", cfg.Server.MCPPort)
	}
	if cfg.OpenAI.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("OpenAI.BaseURL = %q", cfg.OpenAI.BaseURL)
	}
	if cfg.OpenAI.EmbedModel != "text-embedding-3-large" {
		t.Errorf("OpenAI.EmbedModel = %q", cfg.OpenAI.EmbedModel)
	}
	if cfg.OpenAI.ChatModel != "gpt-4o-mini" {
		t.Errorf("OpenAI.ChatModel = %q", cfg.OpenAI.ChatModel)
	}
	if cfg.Advisor.TopSimilar != 20 {
		t.Errorf("Advisor.TopSimilar = %d, want 20", cfg.Advisor.TopSimilar)
	}
	if cfg.Advisor.ScopeDriftThreshold != 0.6 {
		t.Errorf("Advisor.ScopeDriftThreshold = %v, want 0.6", cfg.Advisor.ScopeDriftThreshold)
	}
	if cfg.Strategy.Windows != 4 {
		t.Errorf("Strategy.Windows = %d, want 4", cfg.Strategy.Windows)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestBackendValues(t *testing.T) {
	t.Setenv("TASKLENS_OPENAI_API_KEY", "test-key")

	b := emptyBackend()
	b.ints["server.port"] = 5000
	b.strs["openai.embed_model"] = "text-embedding-3-small"
	b.strs["advisor.scope_drift_threshold"] = "0.75"
	b.strs["storage.data_dir"] = "/tmp/tasklens-test"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.OpenAI.EmbedModel != "text-embedding-3-small" {
		t.Errorf("OpenAI.EmbedModel = %q", cfg.OpenAI.EmbedModel)
	}
	if cfg.Advisor.ScopeDriftThreshold != 0.75 {
		t.Errorf("Advisor.ScopeDriftThreshold = %v, want 0.75", cfg.Advisor.ScopeDriftThreshold)
	}
	if cfg.Storage.DataDir != "/tmp/tasklens-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	t.Setenv("TASKLENS_OPENAI_API_KEY", "env-key")
	t.Setenv("TASKLENS_SERVER_PORT", "7000")
	t.Setenv("TASKLENS_ADVISOR_DRIFT_THRESHOLD", "0.15")

	b := emptyBackend()
	b.ints["server.port"] = 5000

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want env override 7000", cfg.Server.Port)
	}
	if cfg.Advisor.DriftThreshold != 0.15 {
		t.Errorf("Advisor.DriftThreshold = %v, want 0.15", cfg.Advisor.DriftThreshold)
	}
	if cfg.OpenAI.APIKey != "env-key" {
		t.Errorf("OpenAI.APIKey = %q, want env-key", cfg.OpenAI.APIKey)
	}
}

func TestMissingAPIKey(t *testing.T) {
	t.Setenv("TASKLENS_OPENAI_API_KEY", "")

	_, err := loadWith(emptyBackend(), mockKeychain{err: errNoKeychain})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q, want it to mention missing required config", err)
	}
}

func TestKeychainFallback(t *testing.T) {
	t.Setenv("TASKLENS_OPENAI_API_KEY", "")

	cfg, err := loadWith(emptyBackend(), mockKeychain{value: "keychain-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OpenAI.APIKey != "keychain-secret" {
		t.Errorf("OpenAI.APIKey = %q, want keychain-secret", cfg.OpenAI.APIKey)
	}
}

func TestInvalidFloatKeepsDefault(t *testing.T) {
	t.Setenv("TASKLENS_OPENAI_API_KEY", "test-key")

	b := emptyBackend()
	b.strs["advisor.scope_drift_threshold"] = "not-a-number"

	cfg, err := loadWith(b, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Advisor.ScopeDriftThreshold != 0.6 {
		t.Errorf("ScopeDriftThreshold = %v, want default 0.6", cfg.Advisor.ScopeDriftThreshold)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.OpenAI.APIKey = "super-secret"

	for _, info := range ShowAll(cfg) {
		if info.Key == "openai.api_key" {
			t.Fatal("ShowAll exposed a secret key")
		}
		if info.Value == "super-secret" {
			t.Fatalf("ShowAll exposed a secret value under %s", info.Key)
		}
	}
}

func TestValidKeysCoverSpecs(t *testing.T) {
	keys := ValidKeys()
	if len(keys) != len(specs) {
		t.Fatalf("ValidKeys returned %d keys, want %d", len(keys), len(specs))
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	for _, want := range []string{"server.port", "openai.api_key", "advisor.top_similar", "log.level"} {
		if !seen[want] {
			t.Errorf("ValidKeys missing %q", want)
		}
	}
}

var errNoKeychain = errors.New("keychain unavailable")
