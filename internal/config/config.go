package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the meinrag API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Auth      AuthConfig      `yaml:"auth"`
	Index     IndexConfig     `yaml:"index"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds passage store settings. Driver "memory" keeps the
// whole index in-process; "redis" and "valkey" use a RediSearch-capable
// server via rueidis.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // memory, redis, valkey (default: memory)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// IndexConfig holds HNSW index settings for the RediSearch backend.
type IndexConfig struct {
	HNSWM           int `yaml:"hnsw_m"`
	HNSWEFConstruct int `yaml:"hnsw_ef_construction"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// EmbeddingConfig holds the embedding provider settings.
type EmbeddingConfig struct {
	Provider         string `yaml:"provider"`
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	Model            string `yaml:"model"`
	Dimensions       int    `yaml:"dimensions"`
	QueryInstruction string `yaml:"query_instruction"`
	CacheTTLHours    int    `yaml:"cache_ttl_hours"`
}

// HybridConfig holds the vector+lexical fusion defaults. LexicalWeight is a
// pointer so an explicit 0 (vector-only weighting inside hybrid) survives
// defaulting; absent means 0.5.
type HybridConfig struct {
	Enabled         bool     `yaml:"enabled"`
	LexicalWeight   *float64 `yaml:"lexical_weight"`
	FetchMultiplier int      `yaml:"fetch_multiplier"`
}

// RerankConfig holds the relevance judge defaults. APIKey and BaseURL fall
// back to the embedding provider's when empty.
type RerankConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Model      string `yaml:"model"`
	Multiplier int    `yaml:"multiplier"`
	TimeoutSec int    `yaml:"timeout_sec"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
}

// BM25Config holds the lexical scoring free parameters.
type BM25Config struct {
	K1 float64 `yaml:"k1"`
	B  float64 `yaml:"b"`
}

// RetrievalConfig holds the retrieval pipeline defaults.
type RetrievalConfig struct {
	TopK            int          `yaml:"top_k"`
	OverfetchFactor int          `yaml:"overfetch_factor"`
	MaxScanPassages int          `yaml:"max_scan_passages"`
	RRFOffset       int          `yaml:"rrf_offset"`
	Hybrid          HybridConfig `yaml:"hybrid"`
	Rerank          RerankConfig `yaml:"rerank"`
	BM25            BM25Config   `yaml:"bm25"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 32
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 400
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "meinrag:"
	}
	if c.Embedding.CacheTTLHours <= 0 {
		c.Embedding.CacheTTLHours = 24
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 4
	}
	if c.Retrieval.OverfetchFactor <= 0 {
		c.Retrieval.OverfetchFactor = 5
	}
	if c.Retrieval.MaxScanPassages <= 0 {
		c.Retrieval.MaxScanPassages = 50000
	}
	if c.Retrieval.RRFOffset <= 0 {
		c.Retrieval.RRFOffset = 60
	}
	if c.Retrieval.Hybrid.LexicalWeight == nil {
		w := 0.5
		c.Retrieval.Hybrid.LexicalWeight = &w
	}
	if c.Retrieval.Hybrid.FetchMultiplier <= 0 {
		c.Retrieval.Hybrid.FetchMultiplier = 2
	}
	if c.Retrieval.Rerank.Multiplier <= 0 {
		c.Retrieval.Rerank.Multiplier = 3
	}
	if c.Retrieval.Rerank.TimeoutSec <= 0 {
		c.Retrieval.Rerank.TimeoutSec = 30
	}
	if c.Retrieval.Rerank.APIKey == "" {
		c.Retrieval.Rerank.APIKey = c.Embedding.APIKey
	}
	if c.Retrieval.Rerank.BaseURL == "" {
		c.Retrieval.Rerank.BaseURL = c.Embedding.BaseURL
	}
	if c.Retrieval.BM25.K1 == 0 {
		c.Retrieval.BM25.K1 = 1.5
	}
	if c.Retrieval.BM25.B == 0 {
		c.Retrieval.BM25.B = 0.75
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "redis", "valkey":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver must be \"memory\", \"redis\" or \"valkey\", got %q", c.Database.Driver)
	}
	if w := c.Retrieval.Hybrid.LexicalWeight; w != nil && (*w < 0 || *w > 1) {
		return fmt.Errorf("retrieval.hybrid.lexical_weight must be between 0 and 1, got %g", *w)
	}
	if c.Retrieval.Rerank.Enabled && c.Retrieval.Rerank.Model == "" {
		return fmt.Errorf("retrieval.rerank.model is required when re-ranking is enabled")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
