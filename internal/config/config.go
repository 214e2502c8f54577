// Package config loads gateway settings from the environment.
//
// Every knob has a documented default so the binary starts with nothing but
// an upstream base URL. Keys use the MCP_ prefix; a handful accept an
// unprefixed fallback for compatibility with older deployments.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"
)

// DefaultDatasetIDPattern matches identifiers that start with an alphanumeric
// followed by up to 127 characters from alphanumerics plus ". _ : -".
const DefaultDatasetIDPattern = `^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`

// Config holds all gateway settings.
type Config struct {
	// Upstream retrieval service.
	APIBaseURL  string
	APIKey      string
	HTTPTimeout time.Duration

	// Retry policy for recoverable upstream failures.
	RetryAttempts int
	RetryWait     time.Duration

	// Rate limiting. ToolRateLimits overrides the default capacity per tool;
	// the interval stays global.
	RateLimitCapacity int
	RateLimitInterval time.Duration
	ToolRateLimits    map[string]int

	// Input validation.
	MaxQueryLength   int
	MaxTerms         int
	MaxTermLength    int
	DatasetIDPattern string

	// Retrieval defaults forwarded to the upstream service.
	SearchTopK             int
	DefinitionTopK         int
	SimilarityThreshold    float64
	VectorSimilarityWeight float64

	LogLevel string

	// Optional bcrypt hash gating the HTTP transport. Empty disables
	// caller authentication (stdio deployments).
	HTTPAuthTokenHash string
}

// Load reads configuration from the environment, applying defaults and
// validating ranges. Invalid values fail startup rather than being silently
// corrected.
func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL:             firstEnv("http://127.0.0.1:8000", "MCP_API_BASE_URL", "API_BASE_URL"),
		APIKey:                 firstEnv("", "MCP_API_KEY", "API_KEY"),
		LogLevel:               firstEnv("info", "MCP_LOG_LEVEL", "LOG_LEVEL"),
		DatasetIDPattern:       firstEnv(DefaultDatasetIDPattern, "MCP_DATASET_ID_PATTERN", "DATASET_ID_PATTERN"),
		HTTPAuthTokenHash:      os.Getenv("MCP_HTTP_AUTH_TOKEN_HASH"),
		RetryAttempts:          envInt("MCP_RETRY_ATTEMPTS", 3),
		RateLimitCapacity:      envInt("MCP_RATE_LIMIT_CAPACITY", 10),
		MaxQueryLength:         envInt("MCP_MAX_QUERY_LENGTH", 256),
		MaxTerms:               envInt("MCP_MAX_TERMS", 10),
		MaxTermLength:          envInt("MCP_MAX_TERM_LENGTH", 128),
		SearchTopK:             envInt("MCP_SEARCH_TOP_K", 8),
		DefinitionTopK:         envInt("MCP_DEFINITION_TOP_K", 12),
		SimilarityThreshold:    envFloat("MCP_SIMILARITY_THRESHOLD", 0.2),
		VectorSimilarityWeight: envFloat("MCP_VECTOR_SIMILARITY_WEIGHT", 0.3),
		HTTPTimeout:            envSeconds("MCP_HTTP_TIMEOUT", 30*time.Second),
		RetryWait:              envSeconds("MCP_RETRY_WAIT", 500*time.Millisecond),
		RateLimitInterval:      envSeconds("MCP_RATE_LIMIT_INTERVAL_SECONDS", 60*time.Second),
	}

	limits, err := parseToolRateLimits(os.Getenv("MCP_TOOL_RATE_LIMITS"))
	if err != nil {
		return nil, err
	}
	cfg.ToolRateLimits = limits

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("config: MCP_API_BASE_URL must not be empty")
	}
	if c.HTTPTimeout < 500*time.Millisecond {
		return fmt.Errorf("config: MCP_HTTP_TIMEOUT must be at least 0.5 seconds")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("config: MCP_RETRY_ATTEMPTS must be at least 1")
	}
	if c.RetryWait < 0 {
		return fmt.Errorf("config: MCP_RETRY_WAIT must not be negative")
	}
	if c.RateLimitCapacity < 1 {
		return fmt.Errorf("config: MCP_RATE_LIMIT_CAPACITY must be at least 1")
	}
	if c.RateLimitInterval <= 0 {
		return fmt.Errorf("config: MCP_RATE_LIMIT_INTERVAL_SECONDS must be positive")
	}
	for tool, capacity := range c.ToolRateLimits {
		if capacity < 1 {
			return fmt.Errorf("config: rate limit override for %q must be at least 1", tool)
		}
	}
	for key, v := range map[string]int{
		"MCP_MAX_QUERY_LENGTH": c.MaxQueryLength,
		"MCP_MAX_TERMS":        c.MaxTerms,
		"MCP_MAX_TERM_LENGTH":  c.MaxTermLength,
	} {
		if v < 1 {
			return fmt.Errorf("config: %s must be at least 1", key)
		}
	}
	for key, v := range map[string]int{
		"MCP_SEARCH_TOP_K":     c.SearchTopK,
		"MCP_DEFINITION_TOP_K": c.DefinitionTopK,
	} {
		if v < 1 || v > 1024 {
			return fmt.Errorf("config: %s must be between 1 and 1024", key)
		}
	}
	for key, v := range map[string]float64{
		"MCP_SIMILARITY_THRESHOLD":     c.SimilarityThreshold,
		"MCP_VECTOR_SIMILARITY_WEIGHT": c.VectorSimilarityWeight,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("config: %s must be between 0 and 1", key)
		}
	}
	if _, err := regexp.Compile(c.DatasetIDPattern); err != nil {
		return fmt.Errorf("config: MCP_DATASET_ID_PATTERN does not compile: %w", err)
	}
	return nil
}

// parseToolRateLimits decodes the JSON override map, e.g.
// {"search_terms": 5, "list_glossaries": 20}.
func parseToolRateLimits(raw string) (map[string]int, error) {
	if raw == "" {
		return map[string]int{}, nil
	}
	limits := map[string]int{}
	if err := json.Unmarshal([]byte(raw), &limits); err != nil {
		return nil, fmt.Errorf("config: MCP_TOOL_RATE_LIMITS must be a JSON object of tool to capacity: %w", err)
	}
	return limits, nil
}

func firstEnv(defaultVal string, keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// envSeconds parses a duration expressed as a decimal number of seconds,
// e.g. MCP_RETRY_WAIT=0.5.
func envSeconds(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return defaultVal
}
