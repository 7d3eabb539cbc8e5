package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreOpenSearch = "opensearch"
	StoreChromem    = "chromem"

	ProviderHuggingFace = "huggingface"
	ProviderOllama      = "ollama"
	ProviderOpenAI      = "openai"
	ProviderHashing     = "hashing"

	DriverPG = "pgdriver"
	DriverPQ = "pq"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	OpenSearch OpenSearchConfig `yaml:"opensearch"`
	EmbedLLM   LLMConfig        `yaml:"embedder"`
	LLM        LLMConfig        `yaml:"llm"`
	RAG        RAGConfig        `yaml:"rag"`
	Database   DatabaseConfig   `yaml:"database"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Addr             string `yaml:"addr"`
	ReadTimeoutSecs  int    `yaml:"read_timeout_secs"`
	WriteTimeoutSecs int    `yaml:"write_timeout_secs"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend"`
	ChromemPath string `yaml:"chromem_path"`
}

type OpenSearchConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	UseSSL             bool   `yaml:"use_ssl"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// LLMConfig describes one model endpoint. It is used both for the embedder and
// for the inference model.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Key       string `yaml:"key"`
	Dimension int    `yaml:"dimension,omitempty"`
}

type RAGConfig struct {
	ChunkSize        int    `yaml:"chunk_size"`
	ChunkOverlap     int    `yaml:"chunk_overlap"`
	TopK             int    `yaml:"top_k"`
	ViewLimit        int    `yaml:"view_limit"`
	PromptFilePath   string `yaml:"prompt_file_path"`
	DocumentFilePath string `yaml:"document_file_path"`
	FetchTimeoutSecs int    `yaml:"fetch_timeout_secs"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Driver   string `yaml:"driver"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type SessionsConfig struct {
	TTLMinutes           int `yaml:"ttl_minutes"`
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// URL returns the OpenSearch base address built from host, port and scheme.
func (c OpenSearchConfig) URL() string {
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

func (c SessionsConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

func (c SessionsConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}

// LoadConfig reads the yaml file at path over the defaults, falls back to the
// defaults alone when the file does not exist and applies environment
// overrides on top. Keys present in the file win even when they are zero.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if cfg.LLM.BaseURL == "" && cfg.LLM.Provider == ProviderOllama {
		cfg.LLM.BaseURL = defaultOllamaURL
	}
	return cfg, cfg.Validate()
}

const defaultOllamaURL = "http://localhost:11434"

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             ":8000",
			ReadTimeoutSecs:  30,
			WriteTimeoutSecs: 300,
		},
		Store: StoreConfig{Backend: StoreOpenSearch},
		OpenSearch: OpenSearchConfig{
			Host: "localhost",
			Port: 9200,
		},
		EmbedLLM: LLMConfig{
			Provider:  ProviderHuggingFace,
			Model:     "sentence-transformers/all-MiniLM-L6-v2",
			Dimension: 384,
		},
		LLM: LLMConfig{
			Provider: ProviderOllama,
			Model:    "llama3",
		},
		RAG: RAGConfig{
			ChunkSize:        1000,
			ChunkOverlap:     200,
			TopK:             4,
			ViewLimit:        10000,
			PromptFilePath:   "./configs/prompt.txt",
			FetchTimeoutSecs: 30,
		},
		Database: DatabaseConfig{Driver: DriverPG},
		Sessions: SessionsConfig{SweepIntervalMinutes: 10},
		Log:      LogConfig{Level: "debug", Console: true},
	}
}

// Validate reports settings that can not work together.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreOpenSearch, StoreChromem:
	default:
		return fmt.Errorf("unknown vector store backend: %s", c.Store.Backend)
	}
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk size: %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("invalid top_k: %d", c.RAG.TopK)
	}
	if c.EmbedLLM.Dimension <= 0 {
		return fmt.Errorf("invalid embedding dimension: %d", c.EmbedLLM.Dimension)
	}
	if c.Sessions.TTLMinutes > 0 && c.Sessions.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("invalid session sweep interval: %d", c.Sessions.SweepIntervalMinutes)
	}
	switch c.Database.Driver {
	case DriverPG, DriverPQ:
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"SERVER_ADDR":         &cfg.Server.Addr,
		"VECTOR_STORE":        &cfg.Store.Backend,
		"CHROMEM_PATH":        &cfg.Store.ChromemPath,
		"OPENSEARCH_HOST":     &cfg.OpenSearch.Host,
		"OPENSEARCH_USERNAME": &cfg.OpenSearch.Username,
		"OPENSEARCH_PASSWORD": &cfg.OpenSearch.Password,
		"EMBEDDINGS_PROVIDER": &cfg.EmbedLLM.Provider,
		"EMBEDDINGS_MODEL":    &cfg.EmbedLLM.Model,
		"EMBEDDINGS_BASE_URL": &cfg.EmbedLLM.BaseURL,
		"EMBEDDINGS_API_KEY":  &cfg.EmbedLLM.Key,
		"LLM_PROVIDER":        &cfg.LLM.Provider,
		"LLM_MODEL":           &cfg.LLM.Model,
		"LLM_BASE_URL":        &cfg.LLM.BaseURL,
		"LLM_API_KEY":         &cfg.LLM.Key,
		"PROMPT_FILE_PATH":    &cfg.RAG.PromptFilePath,
		"DOCUMENT_FILE_PATH":  &cfg.RAG.DocumentFilePath,
		"DATABASE_DSN":        &cfg.Database.DSN,
		"LOG_LEVEL":           &cfg.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"OPENSEARCH_PORT":          &cfg.OpenSearch.Port,
		"EMBEDDINGS_DIMENSION":     &cfg.EmbedLLM.Dimension,
		"TEXT_SPLIT_CHUNK_SIZE":    &cfg.RAG.ChunkSize,
		"TEXT_SPLIT_CHUNK_OVERLAP": &cfg.RAG.ChunkOverlap,
		"SESSION_TTL_MINUTES":      &cfg.Sessions.TTLMinutes,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}

	if v, ok := os.LookupEnv("OPENSEARCH_USE_SSL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid OPENSEARCH_USE_SSL: %w", err)
		}
		cfg.OpenSearch.UseSSL = b
	}
	return nil
}
