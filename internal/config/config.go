// Package config provides configuration for the toolscout server.
//
// Values come from defaults, then an optional JSON config file
// (TOOLSCOUT_CONFIG_FILE), then TOOLSCOUT_* environment variables, which
// take precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Embedding provider names accepted in configuration.
const (
	ProviderTFIDF  = "tfidf"
	ProviderRemote = "remote"
)

// Config holds all configuration for the server and the rebuild pipeline.
type Config struct {
	// Catalog and index artifact locations
	CatalogPath string `json:"catalog_path"`
	IndexDir    string `json:"index_dir"`

	// Embedding
	EmbeddingProvider string        `json:"embedding_provider"` // tfidf or remote
	EmbeddingBaseURL  string        `json:"embedding_base_url"`
	EmbeddingAPIKey   string        `json:"embedding_api_key,omitempty"` // env only
	EmbeddingModel    string        `json:"embedding_model"`
	EmbedTimeout      time.Duration `json:"embed_timeout"`

	// LLM completions (query interpretation and response summarization)
	LLMBaseURL   string        `json:"llm_base_url"`
	LLMAPIKey    string        `json:"llm_api_key,omitempty"` // env only
	LLMModel     string        `json:"llm_model"`
	LLMTimeout   time.Duration `json:"llm_timeout"`
	LLMMaxTokens int           `json:"llm_max_tokens"`

	// Live web-search fallback
	SearchEndpoint   string        `json:"search_endpoint"`
	SearchAPIKey     string        `json:"search_api_key,omitempty"` // env only
	SearchTimeout    time.Duration `json:"search_timeout"`
	SearchMaxResults int           `json:"search_max_results"`

	// Ranking
	TopK int `json:"top_k"`
	// ConfidenceThreshold is the top-1 similarity below which the
	// low-confidence signal fires and live search is attempted. 0.35 is
	// the tuned default for the tfidf provider; see DESIGN.md.
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	ResultLimit         int     `json:"result_limit"`

	// External API rate limiting (requests per second)
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`

	// Observability
	MetricsAddr string `json:"metrics_addr"` // empty disables the side listener
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"` // json or console
}

// Load builds the configuration from defaults, optional config file, and
// environment.
func Load() (*Config, error) {
	cfg := &Config{
		CatalogPath:         "tools.json",
		IndexDir:            "data/index",
		EmbeddingProvider:   ProviderTFIDF,
		EmbeddingBaseURL:    "https://api.openai.com/v1",
		EmbedTimeout:        10 * time.Second,
		LLMBaseURL:          "https://api.groq.com/openai/v1",
		LLMModel:            "llama-3.3-70b-versatile",
		LLMTimeout:          15 * time.Second,
		LLMMaxTokens:        512,
		SearchEndpoint:      "https://google.serper.dev/search",
		SearchTimeout:       10 * time.Second,
		SearchMaxResults:    5,
		TopK:                15,
		ConfidenceThreshold: 0.35,
		ResultLimit:         5,
		RateLimit:           5,
		RateBurst:           5,
		LogLevel:            "info",
		LogFormat:           "json",
	}

	if path := os.Getenv("TOOLSCOUT_CONFIG_FILE"); path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	loadFromEnv(cfg)
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return json.Unmarshal(data, cfg)
}

func loadFromEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	setString("TOOLSCOUT_CATALOG_PATH", &cfg.CatalogPath)
	setString("TOOLSCOUT_INDEX_DIR", &cfg.IndexDir)
	setString("TOOLSCOUT_EMBEDDING_PROVIDER", &cfg.EmbeddingProvider)
	setString("TOOLSCOUT_EMBEDDING_BASE_URL", &cfg.EmbeddingBaseURL)
	setString("TOOLSCOUT_EMBEDDING_API_KEY", &cfg.EmbeddingAPIKey)
	setString("TOOLSCOUT_EMBEDDING_MODEL", &cfg.EmbeddingModel)
	setDuration("TOOLSCOUT_EMBED_TIMEOUT", &cfg.EmbedTimeout)
	setString("TOOLSCOUT_LLM_BASE_URL", &cfg.LLMBaseURL)
	setString("TOOLSCOUT_LLM_API_KEY", &cfg.LLMAPIKey)
	setString("TOOLSCOUT_LLM_MODEL", &cfg.LLMModel)
	setDuration("TOOLSCOUT_LLM_TIMEOUT", &cfg.LLMTimeout)
	setInt("TOOLSCOUT_LLM_MAX_TOKENS", &cfg.LLMMaxTokens)
	setString("TOOLSCOUT_SEARCH_ENDPOINT", &cfg.SearchEndpoint)
	setString("TOOLSCOUT_SEARCH_API_KEY", &cfg.SearchAPIKey)
	setDuration("TOOLSCOUT_SEARCH_TIMEOUT", &cfg.SearchTimeout)
	setInt("TOOLSCOUT_SEARCH_MAX_RESULTS", &cfg.SearchMaxResults)
	setInt("TOOLSCOUT_TOP_K", &cfg.TopK)
	setFloat("TOOLSCOUT_CONFIDENCE_THRESHOLD", &cfg.ConfidenceThreshold)
	setInt("TOOLSCOUT_RESULT_LIMIT", &cfg.ResultLimit)
	setFloat("TOOLSCOUT_RATE_LIMIT", &cfg.RateLimit)
	setInt("TOOLSCOUT_RATE_BURST", &cfg.RateBurst)
	setString("TOOLSCOUT_METRICS_ADDR", &cfg.MetricsAddr)
	setString("TOOLSCOUT_LOG_LEVEL", &cfg.LogLevel)
	setString("TOOLSCOUT_LOG_FORMAT", &cfg.LogFormat)
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.CatalogPath == "" {
		return errors.New("catalog_path is required")
	}
	if c.IndexDir == "" {
		return errors.New("index_dir is required")
	}
	switch c.EmbeddingProvider {
	case ProviderTFIDF:
	case ProviderRemote:
		if c.EmbeddingModel == "" || c.EmbeddingAPIKey == "" {
			return errors.New("remote embedding provider needs TOOLSCOUT_EMBEDDING_MODEL and TOOLSCOUT_EMBEDDING_API_KEY")
		}
	default:
		return fmt.Errorf("unknown embedding provider: %s", c.EmbeddingProvider)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0, 1], got %g", c.ConfidenceThreshold)
	}
	if c.TopK <= 0 {
		return errors.New("top_k must be positive")
	}
	if c.ResultLimit <= 0 {
		return errors.New("result_limit must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}
	return nil
}

// Redact returns a copy with credentials masked for safe logging.
func (c *Config) Redact() *Config {
	red := *c
	red.EmbeddingAPIKey = maskKey(red.EmbeddingAPIKey)
	red.LLMAPIKey = maskKey(red.LLMAPIKey)
	red.SearchAPIKey = maskKey(red.SearchAPIKey)
	return &red
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
