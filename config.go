package extraction

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brianjwalters/entity-extraction-service-sub000/resolver"
	"github.com/brianjwalters/entity-extraction-service-sub000/wave"
)

// Config holds all configuration for the extraction engine. It is
// constructed once and passed into constructors; no component reads
// ambient global state.
type Config struct {
	// MaxDocumentChars is the hard cap on request size. Bigger
	// documents are rejected before any processing.
	MaxDocumentChars int `json:"max_document_chars" yaml:"max_document_chars"`

	Router   RouterConfig   `json:"router" yaml:"router"`
	Chunker  ChunkerConfig  `json:"chunker" yaml:"chunker"`
	Backend  BackendConfig  `json:"backend" yaml:"backend"`
	Retry    RetryConfig    `json:"retry" yaml:"retry"`
	Resolver ResolverConfig `json:"resolver" yaml:"resolver"`
	Merger   MergerConfig   `json:"merger" yaml:"merger"`
	LLM      LLMConfig      `json:"llm" yaml:"llm"`
	NLP      NLPConfig      `json:"nlp" yaml:"nlp"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Rules    RulesConfig    `json:"rules" yaml:"rules"`

	// Waves overrides the built-in wave plan for multi-wave runs.
	Waves []wave.Spec `json:"waves,omitempty" yaml:"waves,omitempty"`

	// Concurrency caps concurrent chunk×wave units.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// LogLevel: debug, info, warn, error.
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// RouterConfig carries the routing size thresholds.
type RouterConfig struct {
	SmallThreshold  int `json:"small_threshold" yaml:"small_threshold"`
	LargeThreshold  int `json:"large_threshold" yaml:"large_threshold"`
	ChunkingCeiling int `json:"chunking_ceiling" yaml:"chunking_ceiling"`
}

// ChunkerConfig controls document splitting.
type ChunkerConfig struct {
	MaxChunkSize int `json:"max_chunk_size" yaml:"max_chunk_size"`
	OverlapSize  int `json:"overlap_size" yaml:"overlap_size"`
}

// BackendConfig selects the extraction backends and the failover
// thresholds between them.
type BackendConfig struct {
	Primary            string  `json:"primary" yaml:"primary"`     // "model" or "rules"
	Secondary          string  `json:"secondary" yaml:"secondary"` // fallback backend, empty disables failover
	TimeoutSeconds     int     `json:"timeout_seconds" yaml:"timeout_seconds"`
	FallbackLatencyMS  int     `json:"fallback_latency_ms" yaml:"fallback_latency_ms"`
	FallbackErrorRate  float64 `json:"fallback_error_rate" yaml:"fallback_error_rate"`
	FallbackMinSamples int     `json:"fallback_min_samples" yaml:"fallback_min_samples"`
}

// RetryConfig governs per-unit retries.
type RetryConfig struct {
	MaxAttempts      int `json:"max_attempts" yaml:"max_attempts"`
	InitialBackoffMS int `json:"initial_backoff_ms" yaml:"initial_backoff_ms"`
	MaxBackoffMS     int `json:"max_backoff_ms" yaml:"max_backoff_ms"`
}

// ResolverConfig controls context resolution.
type ResolverConfig struct {
	Weights             resolver.Weights `json:"weights" yaml:"weights"`
	ConfidenceThreshold float64          `json:"confidence_threshold" yaml:"confidence_threshold"`
	SignalTimeoutMS     int              `json:"signal_timeout_ms" yaml:"signal_timeout_ms"`
	ContextRadius       int              `json:"context_radius" yaml:"context_radius"`
}

// MergerConfig controls deduplication.
type MergerConfig struct {
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"`
	CrossTypeDedup      bool    `json:"cross_type_dedup" yaml:"cross_type_dedup"`
}

// LLMConfig configures the model backend and the embedder.
type LLMConfig struct {
	Provider     string `json:"provider" yaml:"provider"` // ollama, openai, custom
	Model        string `json:"model" yaml:"model"`
	BaseURL      string `json:"base_url" yaml:"base_url"`
	APIKey       string `json:"api_key" yaml:"api_key"`
	EmbedModel   string `json:"embed_model" yaml:"embed_model"`
	EmbeddingDim int    `json:"embedding_dim" yaml:"embedding_dim"`
}

// NLPConfig points at the dependency-parser sidecar. An empty URL
// disables the dependency signal.
type NLPConfig struct {
	ParserURL string `json:"parser_url" yaml:"parser_url"`
	TimeoutMS int    `json:"timeout_ms" yaml:"timeout_ms"`
}

// StoreConfig controls persistence. An empty DBPath disables it.
type StoreConfig struct {
	DBPath string `json:"db_path" yaml:"db_path"`
}

// RulesConfig points at an optional YAML rule pack layered over the
// built-in catalog.
type RulesConfig struct {
	PackPath string `json:"pack_path" yaml:"pack_path"`
}

// DefaultConfig returns a Config with the documented defaults: local
// model backend with rule-based fallback, no persistence.
func DefaultConfig() Config {
	return Config{
		MaxDocumentChars: 2_000_000,
		Router: RouterConfig{
			SmallThreshold:  5000,
			LargeThreshold:  20000,
			ChunkingCeiling: 15000,
		},
		Chunker: ChunkerConfig{
			MaxChunkSize: 8000,
			OverlapSize:  200,
		},
		Backend: BackendConfig{
			Primary:            "model",
			Secondary:          "rules",
			TimeoutSeconds:     90,
			FallbackLatencyMS:  15000,
			FallbackErrorRate:  0.5,
			FallbackMinSamples: 3,
		},
		Retry: RetryConfig{
			MaxAttempts:      3,
			InitialBackoffMS: 500,
			MaxBackoffMS:     8000,
		},
		Resolver: ResolverConfig{
			Weights: resolver.Weights{
				Pattern:    0.30,
				Semantic:   0.35,
				Dependency: 0.20,
				Section:    0.15,
			},
			ConfidenceThreshold: 0.6,
			SignalTimeoutMS:     2000,
			ContextRadius:       240,
		},
		Merger: MergerConfig{
			SimilarityThreshold: 0.85,
		},
		LLM: LLMConfig{
			Provider:     "ollama",
			Model:        "llama3.1:8b",
			BaseURL:      "http://localhost:11434",
			EmbedModel:   "nomic-embed-text",
			EmbeddingDim: 768,
		},
		NLP: NLPConfig{
			TimeoutMS: 5000,
		},
		Concurrency: 4,
		LogLevel:    "info",
	}
}

// LoadConfig reads a YAML or JSON config file, layered over defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return cfg, fmt.Errorf("%w: unsupported config extension %q", ErrInvalidConfig, filepath.Ext(path))
	}

	return cfg, nil
}

// ApplyEnv overrides config fields from EXTRACTION_* environment
// variables. Unset variables leave the field alone.
func (c *Config) ApplyEnv() {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("EXTRACTION_LLM_PROVIDER", &c.LLM.Provider)
	setString("EXTRACTION_LLM_MODEL", &c.LLM.Model)
	setString("EXTRACTION_LLM_BASE_URL", &c.LLM.BaseURL)
	setString("EXTRACTION_LLM_API_KEY", &c.LLM.APIKey)
	setString("EXTRACTION_EMBED_MODEL", &c.LLM.EmbedModel)
	setInt("EXTRACTION_EMBEDDING_DIM", &c.LLM.EmbeddingDim)
	setString("EXTRACTION_DB_PATH", &c.Store.DBPath)
	setString("EXTRACTION_NLP_PARSER_URL", &c.NLP.ParserURL)
	setString("EXTRACTION_RULE_PACK", &c.Rules.PackPath)
	setString("EXTRACTION_LOG_LEVEL", &c.LogLevel)
	setInt("EXTRACTION_CONCURRENCY", &c.Concurrency)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.MaxDocumentChars <= 0 {
		return fmt.Errorf("%w: max_document_chars must be positive", ErrInvalidConfig)
	}
	if c.Router.SmallThreshold <= 0 || c.Router.LargeThreshold <= c.Router.SmallThreshold {
		return fmt.Errorf("%w: router thresholds must satisfy 0 < small < large", ErrInvalidConfig)
	}
	if c.Router.ChunkingCeiling <= 0 {
		return fmt.Errorf("%w: chunking_ceiling must be positive", ErrInvalidConfig)
	}
	if c.Chunker.MaxChunkSize <= 0 {
		return fmt.Errorf("%w: max_chunk_size must be positive", ErrInvalidConfig)
	}
	if c.Chunker.OverlapSize < 0 || c.Chunker.OverlapSize >= c.Chunker.MaxChunkSize {
		return fmt.Errorf("%w: overlap_size must be in [0, max_chunk_size)", ErrInvalidConfig)
	}
	switch c.Backend.Primary {
	case "model", "rules":
	default:
		return fmt.Errorf("%w: unknown primary backend %q", ErrInvalidConfig, c.Backend.Primary)
	}
	switch c.Backend.Secondary {
	case "", "model", "rules":
	default:
		return fmt.Errorf("%w: unknown secondary backend %q", ErrInvalidConfig, c.Backend.Secondary)
	}
	if c.Backend.FallbackErrorRate < 0 || c.Backend.FallbackErrorRate > 1 {
		return fmt.Errorf("%w: fallback_error_rate must be in [0, 1]", ErrInvalidConfig)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("%w: retry max_attempts must be positive", ErrInvalidConfig)
	}
	if c.Resolver.ConfidenceThreshold <= 0 || c.Resolver.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: resolver confidence_threshold must be in (0, 1]", ErrInvalidConfig)
	}
	if c.Merger.SimilarityThreshold <= 0 || c.Merger.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: merger similarity_threshold must be in (0, 1]", ErrInvalidConfig)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be positive", ErrInvalidConfig)
	}
	for i, w := range c.Waves {
		if w.Name == "" || len(w.EntityTypes) == 0 {
			return fmt.Errorf("%w: wave %d needs a name and entity types", ErrInvalidConfig, i)
		}
	}
	return nil
}

// backendTimeout returns the per-call backend budget.
func (c *Config) backendTimeout() time.Duration {
	if c.Backend.TimeoutSeconds <= 0 {
		return 90 * time.Second
	}
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}
