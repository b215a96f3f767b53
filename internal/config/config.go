package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server   ServerConfig
	OpenAI   OpenAIConfig
	Storage  StorageConfig
	Advisor  AdvisorConfig
	Strategy StrategyConfig
	Rebuild  RebuildConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	EmbedModel string
	ChatModel  string
}

type StorageConfig struct {
	DataDir string
}

// AdvisorConfig tunes analysis: how many neighbors to consider, how many to
// show, and the thresholds that turn measurements into risk flags.
type AdvisorConfig struct {
	TopSimilar          int
	TopDisplay          int
	TopExperts          int
	AlignThreshold      float64
	DriftThreshold      float64
	ScopeDriftThreshold float64
	SpreadMultiple      float64
	ReviewFlagCount     int
}

type StrategyConfig struct {
	Windows       int
	MinWindowSize int
}

type RebuildConfig struct {
	KMeansK     int
	Seed        int
	Concurrency int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		OpenAI: OpenAIConfig{
			BaseURL:    "https://api.openai.com/v1",
			EmbedModel: "text-embedding-3-large",
			ChatModel:  "gpt-4o-mini",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Advisor: AdvisorConfig{
			TopSimilar:          20,
			TopDisplay:          5,
			TopExperts:          3,
			AlignThreshold:      0,
			DriftThreshold:      0,
			ScopeDriftThreshold: 0.6,
			SpreadMultiple:      3,
			ReviewFlagCount:     2,
		},
		Strategy: StrategyConfig{
			Windows:       4,
			MinWindowSize: 3,
		},
		Rebuild: RebuildConfig{
			KMeansK:     0,
			Seed:        1,
			Concurrency: 4,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.tasklens.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/tasklens/config.json
// and secrets live in a file under $XDG_DATA_HOME or come from the environment.
//
// Environment variables (TASKLENS_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform keychain for API key if still empty.
	if cfg.OpenAI.APIKey == "" {
		if key, err := kc.Get("tasklens", "openai_api_key"); err == nil && key != "" {
			cfg.OpenAI.APIKey = key
		}
	}

	if cfg.OpenAI.APIKey == "" {
		msg := "missing required config: OpenAI API key. " +
			"Set it via environment variable TASKLENS_OPENAI_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
