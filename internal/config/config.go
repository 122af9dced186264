package config

import (
	"fmt"

	"github.com/spf13/viper"

	"docchat/internal/domain"
)

// Config holds all configuration for docchat
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Index   IndexConfig   `mapstructure:"index"`
	Session SessionConfig `mapstructure:"session"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// StorageConfig holds data directory layout
type StorageConfig struct {
	DataDir      string `mapstructure:"data_dir"`
	UploadsDir   string `mapstructure:"uploads_dir"`
	DatabasePath string `mapstructure:"database_path"`
}

// IndexConfig holds chunking and retrieval configuration
type IndexConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
	TopK         int `mapstructure:"top_k"`
	EmbedBatch   int `mapstructure:"embed_batch"`
}

// SessionConfig holds conversation memory limits
type SessionConfig struct {
	MaxHistoryMessages int `mapstructure:"max_history_messages"`
	TimeoutMinutes     int `mapstructure:"timeout_minutes"`
	MaxTokensHistory   int `mapstructure:"max_tokens_history"`
	MaxStoredSessions  int `mapstructure:"max_stored_sessions"`
}

// LLMConfig holds provider configuration (OpenAI-compatible API)
type LLMConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	ChatModel      string `mapstructure:"chat_model"`
}

// CrawlerConfig holds site indexing configuration
type CrawlerConfig struct {
	MaxPages          int     `mapstructure:"max_pages"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("DOCCHAT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.uploads_dir", "./data/uploads")
	v.SetDefault("storage.database_path", "./data/docchat.db")

	v.SetDefault("index.chunk_size", 512)
	v.SetDefault("index.chunk_overlap", 128)
	v.SetDefault("index.top_k", 3)
	v.SetDefault("index.embed_batch", 10)

	v.SetDefault("session.max_history_messages", 6)
	v.SetDefault("session.timeout_minutes", 30)
	v.SetDefault("session.max_tokens_history", 8000)
	v.SetDefault("session.max_stored_sessions", 20)

	v.SetDefault("llm.base_url", "https://api.mistral.ai/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.embedding_model", "mistral-embed")
	v.SetDefault("llm.chat_model", "mistral-large-latest")

	v.SetDefault("crawler.max_pages", 50)
	v.SetDefault("crawler.requests_per_second", 2.0)
}

// Validate rejects misconfiguration before any ingestion can start.
func (c *Config) Validate() error {
	if c.Index.ChunkSize <= 0 {
		return fmt.Errorf("index.chunk_size must be positive, got %d", c.Index.ChunkSize)
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("%w: size %d, overlap %d", domain.ErrInvalidChunking,
			c.Index.ChunkSize, c.Index.ChunkOverlap)
	}
	if c.Index.TopK <= 0 {
		return fmt.Errorf("index.top_k must be positive, got %d", c.Index.TopK)
	}
	if c.Index.EmbedBatch <= 0 {
		return fmt.Errorf("index.embed_batch must be positive, got %d", c.Index.EmbedBatch)
	}
	return nil
}

// Address returns the server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
