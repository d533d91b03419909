package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EmbedderConfig configures the external embedding service client.
type EmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=0"`
	BatchSize   int    `yaml:"batch_size" validate:"gte=0"`
	MaxAttempts int    `yaml:"max_attempts" validate:"gte=0"`
	// RequestsPerSecond caps in-flight calls against the service's rate limit.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// ChunkerConfig configures how chapter text is split into records.
type ChunkerConfig struct {
	MinChars int `yaml:"min_chars" validate:"gte=0"`
	MaxChars int `yaml:"max_chars" validate:"gte=0"`
	// Workers bounds how many source files are chunked in parallel.
	Workers int `yaml:"workers" validate:"gte=0"`
}

// CollectionConfig describes one stored collection (table).
type CollectionConfig struct {
	Table               string  `yaml:"table" validate:"required"`
	Dimension           int     `yaml:"dimension" validate:"oneof=1024 1536"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" validate:"gte=0,lte=1"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Type string `yaml:"type" validate:"oneof=memory postgres"`
	// DSNEnv names the environment variable holding the postgres DSN.
	DSNEnv string `yaml:"dsn_env"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig              `yaml:"embedder"`
	Chunker     ChunkerConfig               `yaml:"chunker"`
	Store       StoreConfig                 `yaml:"store"`
	Collections map[string]CollectionConfig `yaml:"collections" validate:"dive"`
}

// Collection returns the configuration for a named collection.
func (c *AppConfig) Collection(name string) (CollectionConfig, error) {
	col, ok := c.Collections[name]
	if !ok {
		return CollectionConfig{}, fmt.Errorf("unknown collection %q", name)
	}
	return col, nil
}

var validate = validator.New()

// Load reads a config from a specified path. If the file does not exist,
// returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/nelson-rag/config.yaml.
// If neither exists, it writes defaults to the user path and returns them.
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
	return filepath.Join(home, ".config", "nelson-rag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Store: StoreConfig{Type: "memory"},
		Collections: map[string]CollectionConfig{
			"nelson_textbook": {
				Table:               "nelson_textbook",
				Dimension:           1536,
				SimilarityThreshold: 0.7,
			},
			"pediatric_medical_resources": {
				Table:               "pediatric_medical_resources",
				Dimension:           1536,
				SimilarityThreshold: 0.5,
			},
		},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.BaseURL == "" {
		cfg.Embedder.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedder.APIKeyEnv == "" {
		cfg.Embedder.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedder.Model == "" {
		cfg.Embedder.Model = "text-embedding-3-small"
	}
	if cfg.Embedder.TimeoutSecs == 0 {
		cfg.Embedder.TimeoutSecs = 30
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = 32
	}
	if cfg.Embedder.MaxAttempts == 0 {
		cfg.Embedder.MaxAttempts = 5
	}
	if cfg.Embedder.RequestsPerSecond == 0 {
		cfg.Embedder.RequestsPerSecond = 5
	}
	if cfg.Chunker.MinChars == 0 {
		cfg.Chunker.MinChars = 150
	}
	if cfg.Chunker.MaxChars == 0 {
		cfg.Chunker.MaxChars = 1200
	}
	if cfg.Chunker.Workers == 0 {
		cfg.Chunker.Workers = 4
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = "memory"
	}
	if cfg.Store.DSNEnv == "" {
		cfg.Store.DSNEnv = "DATABASE_URL"
	}
}
