// Package config loads application configuration with multi-source
// priority: defaults, then an optional config.yaml, then environment
// variables (prefix CHATBOT_, e.g. CHATBOT_REDIS_HOST). The OpenAI API key
// is also read from the conventional OPENAI_API_KEY variable.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full application configuration
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	OpenAI OpenAIConfig `mapstructure:"openai"`
	Chroma ChromaConfig `mapstructure:"chroma"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Ingest IngestConfig `mapstructure:"ingest"`
	Index  IndexConfig  `mapstructure:"index"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// OpenAIConfig holds provider settings for embeddings and completions
type OpenAIConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	ChatModel      string  `mapstructure:"chat_model"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	Temperature    float64 `mapstructure:"temperature"`
}

// ChromaConfig holds ChromaDB connection settings
type ChromaConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Tenant   string `mapstructure:"tenant"`
	Database string `mapstructure:"database"`
}

// RedisConfig holds Redis connection settings for the chat history store
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// IngestConfig holds the source URL list and chunking parameters
type IngestConfig struct {
	URLs               []string `mapstructure:"urls"`
	ChunkSize          int      `mapstructure:"chunk_size"`
	ChunkOverlap       int      `mapstructure:"chunk_overlap"`
	FetchConcurrency   int      `mapstructure:"fetch_concurrency"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify"`
	ExtractKeywords    bool     `mapstructure:"extract_keywords"`
}

// IndexConfig holds the persisted index location and retrieval settings
type IndexConfig struct {
	Collection string `mapstructure:"collection"`
	TopK       int    `mapstructure:"top_k"`
}

// defaultSourceURLs is the Chiba prefecture page set the chatbot is
// grounded on; override via config.yaml to change ingestion scope without
// a rebuild
var defaultSourceURLs = []string{
	"https://www.pref.chiba.lg.jp/index.html",
	"https://www.pref.chiba.lg.jp/cate/kfk/index.html",
	"https://www.pref.chiba.lg.jp/cate/kbs/index.html",
	"https://www.pref.chiba.lg.jp/cate/ssk/index.html",
	"https://www.pref.chiba.lg.jp/cate/km/index.html",
	"https://www.pref.chiba.lg.jp/cate/kt/index.html",
	"https://www.pref.chiba.lg.jp/cate/baa/index.html",
	"https://nlab.itmedia.co.jp/research/articles/955901/",
	"https://nlab.itmedia.co.jp/research/articles/1165527/",
	"https://maruchiba.jp/",
	"https://tenki.jp/forecast/3/15/",
}

// Load reads configuration from defaults, config.yaml (optional), and the
// environment
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.chat_model", "gpt-4o")
	v.SetDefault("openai.embedding_model", "text-embedding-ada-002")
	v.SetDefault("openai.temperature", 0.3)

	v.SetDefault("chroma.host", "localhost")
	v.SetDefault("chroma.port", 8000)
	v.SetDefault("chroma.tenant", "default_tenant")
	v.SetDefault("chroma.database", "default_database")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ingest.urls", defaultSourceURLs)
	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.chunk_overlap", 200)
	v.SetDefault("ingest.fetch_concurrency", 4)
	v.SetDefault("ingest.insecure_skip_verify", false)
	v.SetDefault("ingest.extract_keywords", false)

	v.SetDefault("index.collection", "openai_collection")
	v.SetDefault("index.top_k", 6)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; defaults and environment apply
	}

	v.SetEnvPrefix("CHATBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional variable name used by most OpenAI tooling
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY", "CHATBOT_OPENAI_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if len(c.Ingest.URLs) == 0 {
		return fmt.Errorf("ingest.urls must not be empty")
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.Index.TopK <= 0 {
		return fmt.Errorf("index.top_k must be positive")
	}
	return nil
}
