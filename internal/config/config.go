package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileNames are searched, in order, when no explicit path is given.
var FileNames = []string{"council.yml", "council.yaml"}

// Storage backends.
const (
	BackendMemory = "memory"
	BackendKuzu   = "kuzu"
)

// StorageConfig selects the conversation backend.
type StorageConfig struct {
	Backend string `yaml:"backend,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// Config holds the settings loaded from council.yml.
type Config struct {
	APIURL         string        `yaml:"apiURL,omitempty"`
	APIKey         string        `yaml:"apiKey,omitempty"`
	Provider       string        `yaml:"provider,omitempty"`
	CouncilModels  []string      `yaml:"councilModels,omitempty"`
	ChairmanModel  string        `yaml:"chairmanModel,omitempty"`
	RequestTimeout time.Duration `yaml:"requestTimeout,omitempty"`
	MaxRetries     int           `yaml:"maxRetries,omitempty"`
	MaxParallel    int           `yaml:"maxParallel,omitempty"`
	ListenAddr     string        `yaml:"listenAddr,omitempty"`
	AllowedOrigins []string      `yaml:"allowedOrigins,omitempty"`
	Storage        StorageConfig `yaml:"storage,omitempty"`
	LogLevel       string        `yaml:"logLevel,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		APIURL:   "https://openrouter.ai/api/v1/chat/completions",
		Provider: "openrouter",
		CouncilModels: []string{
			"openai/gpt-4-turbo",
			"anthropic/claude-3-sonnet",
			"google/gemini-pro",
		},
		ChairmanModel:  "anthropic/claude-3-sonnet",
		RequestTimeout: 120 * time.Second,
		MaxRetries:     5,
		ListenAddr:     ":8001",
		AllowedOrigins: []string{"http://localhost:5173"},
		Storage:        StorageConfig{Backend: BackendMemory, Path: filepath.Join("data", "council.kuzu")},
		LogLevel:       "info",
	}
}

// Load reads the config at path, or the first of FileNames in the working
// directory when path is empty. Environment variables in the file are
// expanded. A missing default file yields Default(), not an error; a
// missing explicit path is an error. An empty APIKey falls back to
// OPENROUTER_API_KEY.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	return cfg, nil
}

func readConfig(path string) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		return data, nil
	}
	for _, name := range FileNames {
		data, err := os.ReadFile(name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	return nil, nil
}

// MaxCouncilModels is the number of distinct anonymization labels.
const MaxCouncilModels = 26

// Validate checks the settings the council cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if len(c.CouncilModels) == 0 {
		errs = append(errs, errors.New("councilModels: at least one model is required"))
	}
	if len(c.CouncilModels) > MaxCouncilModels {
		errs = append(errs, fmt.Errorf("councilModels: at most %d models are supported, got %d", MaxCouncilModels, len(c.CouncilModels)))
	}
	seen := make(map[string]bool, len(c.CouncilModels))
	for _, m := range c.CouncilModels {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, errors.New("councilModels: empty model id"))
			continue
		}
		if seen[m] {
			errs = append(errs, fmt.Errorf("councilModels: duplicate model %q", m))
		}
		seen[m] = true
	}
	if strings.TrimSpace(c.ChairmanModel) == "" {
		errs = append(errs, errors.New("chairmanModel: required"))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, errors.New("requestTimeout: must not be negative"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("maxRetries: must not be negative"))
	}
	if c.MaxParallel < 0 {
		errs = append(errs, errors.New("maxParallel: must not be negative"))
	}
	switch c.Storage.Backend {
	case "", BackendMemory, BackendKuzu:
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a logLevel string to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("logLevel: %w", err)
	}
	return l, nil
}
