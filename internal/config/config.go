package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate for settings that make the
// pipeline unusable. These are fatal at startup and never retried.
var ErrInvalidConfig = errors.New("invalid configuration")

// DatabaseConfig selects and connects the vector store backend.
type DatabaseConfig struct {
	// Backend is one of "postgres", "sqlite", "memory".
	Backend  string `yaml:"backend"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	// Path is the database file for the sqlite backend.
	Path  string `yaml:"path"`
	Debug bool   `yaml:"debug"`
}

// LLMConfig describes one provider endpoint, used for both the embedding
// and the completion client.
type LLMConfig struct {
	// Provider is "openai" or "ollama".
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
}

// RAGConfig is the tuning surface of the pipeline itself.
type RAGConfig struct {
	Enabled          bool `yaml:"enabled"`
	EmbeddingDim     int  `yaml:"embedding_dim"`
	ChunkSize        int  `yaml:"chunk_size"`
	ChunkOverlap     int  `yaml:"chunk_overlap"`
	DefaultTopK      int  `yaml:"default_top_k"`
	MaxTopK          int  `yaml:"max_top_k"`
	EmbedBatchSize   int  `yaml:"embed_batch_size"`
	ContextMaxChunks int  `yaml:"context_max_chunks"`
	ContextMaxChars  int  `yaml:"context_max_chars"`
}

type Config struct {
	Database      DatabaseConfig `yaml:"database"`
	EmbedLLM      LLMConfig      `yaml:"embed_llm"`
	CompletionLLM LLMConfig      `yaml:"completion_llm"`
	RAG           RAGConfig      `yaml:"rag"`
}

// LoadConfig reads the yaml file, overlays secrets from the environment and
// fills defaults for unset tuning knobs.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets the environment override secrets so keys can live in .env
// instead of the yaml file.
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.EmbedLLM.Key == "" {
			c.EmbedLLM.Key = v
		}
		if c.CompletionLLM.Key == "" {
			c.CompletionLLM.Key = v
		}
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.Database.Backend == "" {
		c.Database.Backend = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/transcripts.db"
	}
	// The overlap defaults only together with the size: overlap 0 is a
	// valid setting, so an explicit chunk_size keeps whatever overlap the
	// file says, including none.
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = 600
		if c.RAG.ChunkOverlap == 0 {
			c.RAG.ChunkOverlap = 120
		}
	}
	if c.RAG.DefaultTopK == 0 {
		c.RAG.DefaultTopK = 5
	}
	if c.RAG.MaxTopK == 0 {
		c.RAG.MaxTopK = 20
	}
	if c.RAG.EmbedBatchSize == 0 {
		c.RAG.EmbedBatchSize = 16
	}
	if c.RAG.ContextMaxChunks == 0 {
		c.RAG.ContextMaxChunks = 12
	}
	if c.RAG.ContextMaxChars == 0 {
		c.RAG.ContextMaxChars = 20000
	}
}

// Validate reports fatal configuration errors. It does not check provider
// credentials; those fail at first use.
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("%w: unknown database backend %q", ErrInvalidConfig, c.Database.Backend)
	}
	if c.Database.Backend == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("%w: postgres backend requires database.dsn", ErrInvalidConfig)
	}
	if !c.RAG.Enabled {
		return nil
	}
	if c.RAG.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: rag.embedding_dim must be set", ErrInvalidConfig)
	}
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("%w: rag.chunk_size must be positive", ErrInvalidConfig)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("%w: rag.chunk_overlap must satisfy 0 <= overlap < chunk_size", ErrInvalidConfig)
	}
	if c.RAG.DefaultTopK < 1 || c.RAG.DefaultTopK > c.RAG.MaxTopK {
		return fmt.Errorf("%w: rag.default_top_k must be within [1, max_top_k]", ErrInvalidConfig)
	}
	if c.RAG.MaxTopK > 20 {
		return fmt.Errorf("%w: rag.max_top_k must not exceed 20", ErrInvalidConfig)
	}
	return nil
}
