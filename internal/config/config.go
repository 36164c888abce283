package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr             string `yaml:"addr"`
	ReadTimeoutSecs  int    `yaml:"read_timeout_secs"`
	WriteTimeoutSecs int    `yaml:"write_timeout_secs"`
	MaxUploadMB      int    `yaml:"max_upload_mb"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// DatabaseConfig selects the document store. DSNEnv, when set, names an
// env var that overrides DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	DSNEnv string `yaml:"dsn_env"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection"`
	Distance    string `yaml:"distance"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// RemoteEmbedderConfig points at a self-hosted embedding server.
type RemoteEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	Path        string `yaml:"path"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
	Remote    *RemoteEmbedderConfig `yaml:"remote,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks. Type is
// "word" or "char".
type ChunkerConfig struct {
	Type      string `yaml:"type"`
	ChunkSize int    `yaml:"chunk_size"`
	Overlap   int    `yaml:"overlap"`
}

// RetrievalConfig tunes the search step. A nil MinScore keeps all hits.
type RetrievalConfig struct {
	TopK     int      `yaml:"top_k"`
	MinScore *float32 `yaml:"min_score,omitempty"`
}

// CompletionConfig selects the answer synthesizer: "openai" or "extractive".
type CompletionConfig struct {
	Type         string `yaml:"type"`
	BaseURL      string `yaml:"base_url"`
	APIKeyEnv    string `yaml:"api_key_env"`
	Model        string `yaml:"model"`
	MaxTokens    int    `yaml:"max_tokens"`
	MaxSentences int    `yaml:"max_sentences"`
}

// S3Config configures the S3 file store.
type S3Config struct {
	Region         string `yaml:"region"`
	Bucket         string `yaml:"bucket"`
	Prefix         string `yaml:"prefix"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	AccessKeyEnv   string `yaml:"access_key_env"`
	SecretKeyEnv   string `yaml:"secret_key_env"`
}

// StorageConfig selects where uploaded files are kept: "local", "s3" or "none".
type StorageConfig struct {
	Type string    `yaml:"type"`
	Dir  string    `yaml:"dir"`
	S3   *S3Config `yaml:"s3,omitempty"`
}

// CacheConfig enables the redis embedding cache.
type CacheConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	TTLSecs     int    `yaml:"ttl_secs"`
	KeyPrefix   string `yaml:"key_prefix"`
}

// AuthConfig configures bearer tokens and per-owner rate limits.
type AuthConfig struct {
	SecretEnv     string  `yaml:"secret_env"`
	Issuer        string  `yaml:"issuer"`
	TokenTTLHours int     `yaml:"token_ttl_hours"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// TimeoutsConfig bounds outbound calls.
type TimeoutsConfig struct {
	RemoteSecs int `yaml:"remote_secs"`
}

// BreakerConfig configures the circuit breakers around remote services.
type BreakerConfig struct {
	MaxRequests  uint32  `yaml:"max_requests"`
	IntervalSecs int     `yaml:"interval_secs"`
	TimeoutSecs  int     `yaml:"timeout_secs"`
	FailureRatio float64 `yaml:"failure_ratio"`
	MinRequests  uint32  `yaml:"min_requests"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Completion  CompletionConfig  `yaml:"completion"`
	Storage     StorageConfig     `yaml:"storage"`
	Cache       CacheConfig       `yaml:"cache"`
	Auth        AuthConfig        `yaml:"auth"`
	Timeouts    TimeoutsConfig    `yaml:"timeouts"`
	Breaker     BreakerConfig     `yaml:"breaker"`
}

// RemoteTimeout is the deadline applied to outbound calls.
func (c *AppConfig) RemoteTimeout() time.Duration {
	return time.Duration(c.Timeouts.RemoteSecs) * time.Second
}

// DatabaseDSN returns the DSN, preferring the env var named by dsn_env.
func (c *AppConfig) DatabaseDSN() string {
	if c.Database.DSNEnv != "" {
		if v := os.Getenv(c.Database.DSNEnv); v != "" {
			return v
		}
	}
	return c.Database.DSN
}

// Validate rejects unknown implementation types.
func (c *AppConfig) Validate() error {
	checks := []struct {
		field, value string
		allowed      []string
	}{
		{"database.driver", c.Database.Driver, []string{"postgres", "sqlite"}},
		{"vector_store.type", c.VectorStore.Type, []string{"memory", "qdrant"}},
		{"embedder.type", c.Embedder.Type, []string{"hashing", "openai", "remote"}},
		{"chunker.type", c.Chunker.Type, []string{"word", "char"}},
		{"completion.type", c.Completion.Type, []string{"openai", "extractive"}},
		{"storage.type", c.Storage.Type, []string{"local", "s3", "none"}},
	}
	for _, ch := range checks {
		ok := false
		for _, a := range ch.allowed {
			if ch.value == a {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%s: unknown value %q", ch.field, ch.value)
		}
	}
	if c.Embedder.Type == "remote" && (c.Embedder.Remote == nil || c.Embedder.Remote.BaseURL == "") {
		return errors.New("embedder.remote.base_url is required")
	}
	if c.Storage.Type == "s3" && (c.Storage.S3 == nil || c.Storage.S3.Bucket == "") {
		return errors.New("storage.s3.bucket is required")
	}
	return nil
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/docqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docqa", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeoutSecs == 0 {
		cfg.Server.ReadTimeoutSecs = 30
	}
	if cfg.Server.WriteTimeoutSecs == 0 {
		cfg.Server.WriteTimeoutSecs = 120
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 32
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Service == "" {
		cfg.Log.Service = "docqa"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "docqa.db"
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if cfg.VectorStore.Type == "qdrant" {
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		q := cfg.VectorStore.Qdrant
		if q.URL == "" {
			q.URL = "http://localhost:6333"
		}
		if q.Collection == "" {
			q.Collection = "document_chunks"
		}
		if q.Distance == "" {
			q.Distance = "Cosine"
		}
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 384
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
	}
	if cfg.Embedder.Type == "remote" && cfg.Embedder.Remote != nil {
		r := cfg.Embedder.Remote
		if r.Path == "" {
			r.Path = "/embed"
		}
		if r.MaxRetries == 0 {
			r.MaxRetries = 5
		}
	}

	if cfg.Chunker.Type == "" {
		cfg.Chunker.Type = "word"
	}
	if cfg.Chunker.ChunkSize == 0 {
		if cfg.Chunker.Type == "char" {
			cfg.Chunker.ChunkSize = 1000
			if cfg.Chunker.Overlap == 0 {
				cfg.Chunker.Overlap = 150
			}
		} else {
			cfg.Chunker.ChunkSize = 500
		}
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}

	if cfg.Completion.Type == "" {
		cfg.Completion.Type = "openai"
	}
	if cfg.Completion.BaseURL == "" {
		cfg.Completion.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Completion.APIKeyEnv == "" {
		cfg.Completion.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Completion.Model == "" {
		cfg.Completion.Model = "gpt-3.5-turbo"
	}
	if cfg.Completion.MaxTokens == 0 {
		cfg.Completion.MaxTokens = 500
	}
	if cfg.Completion.MaxSentences == 0 {
		cfg.Completion.MaxSentences = 3
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.Type == "local" && cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "uploads"
	}

	if cfg.Cache.Enabled {
		if cfg.Cache.Addr == "" {
			cfg.Cache.Addr = "localhost:6379"
		}
		if cfg.Cache.KeyPrefix == "" {
			cfg.Cache.KeyPrefix = "docqa:emb:"
		}
		if cfg.Cache.TTLSecs == 0 {
			cfg.Cache.TTLSecs = 24 * 3600
		}
	}

	if cfg.Auth.SecretEnv == "" {
		cfg.Auth.SecretEnv = "DOCQA_JWT_SECRET"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "docqa"
	}
	if cfg.Auth.TokenTTLHours == 0 {
		cfg.Auth.TokenTTLHours = 24
	}
	if cfg.Auth.RatePerSecond == 0 {
		cfg.Auth.RatePerSecond = 5
	}
	if cfg.Auth.Burst == 0 {
		cfg.Auth.Burst = 10
	}

	if cfg.Timeouts.RemoteSecs == 0 {
		cfg.Timeouts.RemoteSecs = 30
	}

	if cfg.Breaker.MaxRequests == 0 {
		cfg.Breaker.MaxRequests = 5
	}
	if cfg.Breaker.IntervalSecs == 0 {
		cfg.Breaker.IntervalSecs = 30
	}
	if cfg.Breaker.TimeoutSecs == 0 {
		cfg.Breaker.TimeoutSecs = 60
	}
	if cfg.Breaker.FailureRatio == 0 {
		cfg.Breaker.FailureRatio = 0.5
	}
	if cfg.Breaker.MinRequests == 0 {
		cfg.Breaker.MinRequests = 5
	}
}
