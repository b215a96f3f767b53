package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TASKLENS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "TASKLENS_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "openai.base_url", typ: kString, env: "TASKLENS_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.api_key", typ: kString, env: "TASKLENS_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.embed_model", typ: kString, env: "TASKLENS_OPENAI_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.EmbedModel },
	},
	{
		key: "openai.chat_model", typ: kString, env: "TASKLENS_OPENAI_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.ChatModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TASKLENS_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "advisor.top_similar", typ: kInt, env: "TASKLENS_ADVISOR_TOP_SIMILAR",
		apply:   func(cfg *Config, v any) { cfg.Advisor.TopSimilar = v.(int) },
		extract: func(cfg Config) any { return cfg.Advisor.TopSimilar },
	},
	{
		key: "advisor.top_display", typ: kInt, env: "TASKLENS_ADVISOR_TOP_DISPLAY",
		apply:   func(cfg *Config, v any) { cfg.Advisor.TopDisplay = v.(int) },
		extract: func(cfg Config) any { return cfg.Advisor.TopDisplay },
	},
	{
		key: "advisor.top_experts", typ: kInt, env: "TASKLENS_ADVISOR_TOP_EXPERTS",
		apply:   func(cfg *Config, v any) { cfg.Advisor.TopExperts = v.(int) },
		extract: func(cfg Config) any { return cfg.Advisor.TopExperts },
	},
	{
		key: "advisor.align_threshold", typ: kFloat, env: "TASKLENS_ADVISOR_ALIGN_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Advisor.AlignThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Advisor.AlignThreshold },
	},
	{
		key: "advisor.drift_threshold", typ: kFloat, env: "TASKLENS_ADVISOR_DRIFT_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Advisor.DriftThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Advisor.DriftThreshold },
	},
	{
		key: "advisor.scope_drift_threshold", typ: kFloat, env: "TASKLENS_ADVISOR_SCOPE_DRIFT_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Advisor.ScopeDriftThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Advisor.ScopeDriftThreshold },
	},
	{
		key: "advisor.spread_multiple", typ: kFloat, env: "TASKLENS_ADVISOR_SPREAD_MULTIPLE",
		apply:   func(cfg *Config, v any) { cfg.Advisor.SpreadMultiple = v.(float64) },
		extract: func(cfg Config) any { return cfg.Advisor.SpreadMultiple },
	},
	{
		key: "advisor.review_flag_count", typ: kInt, env: "TASKLENS_ADVISOR_REVIEW_FLAG_COUNT",
		apply:   func(cfg *Config, v any) { cfg.Advisor.ReviewFlagCount = v.(int) },
		extract: func(cfg Config) any { return cfg.Advisor.ReviewFlagCount },
	},
	{
		key: "strategy.windows", typ: kInt, env: "TASKLENS_STRATEGY_WINDOWS",
		apply:   func(cfg *Config, v any) { cfg.Strategy.Windows = v.(int) },
		extract: func(cfg Config) any { return cfg.Strategy.Windows },
	},
	{
		key: "strategy.min_window_size", typ: kInt, env: "TASKLENS_STRATEGY_MIN_WINDOW_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Strategy.MinWindowSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Strategy.MinWindowSize },
	},
	{
		key: "rebuild.kmeans_k", typ: kInt, env: "TASKLENS_REBUILD_KMEANS_K",
		apply:   func(cfg *Config, v any) { cfg.Rebuild.KMeansK = v.(int) },
		extract: func(cfg Config) any { return cfg.Rebuild.KMeansK },
	},
	{
		key: "rebuild.seed", typ: kInt, env: "TASKLENS_REBUILD_SEED",
		apply:   func(cfg *Config, v any) { cfg.Rebuild.Seed = v.(int) },
		extract: func(cfg Config) any { return cfg.Rebuild.Seed },
	},
	{
		key: "rebuild.concurrency", typ: kInt, env: "TASKLENS_REBUILD_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Rebuild.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Rebuild.Concurrency },
	},
	{
		key: "log.level", typ: kString, env: "TASKLENS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
