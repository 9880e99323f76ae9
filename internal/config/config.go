// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// LLM holds the model client connection settings.
type LLM struct {
	Provider string
	BaseURL  string
	Token    string
	Model    string
	Timeout  time.Duration
}

type Config struct {
	DBPath         string
	ListenAddr     string
	LogLevel       string
	LogDevelopment bool
	LLM            LLM
}

// Load reads configuration from the process environment. Values from the
// given env files (default ".env") are applied first without overriding
// variables that are already set; missing files are ignored.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	provider := strings.ToLower(envOrDefault("LLM_PROVIDER", ProviderOpenAI))
	var defaultBaseURL string
	switch provider {
	case ProviderOpenAI:
		defaultBaseURL = "http://localhost:11434/v1/"
	case ProviderOllama:
		defaultBaseURL = "http://localhost:11434"
	default:
		return Config{}, fmt.Errorf("unsupported LLM_PROVIDER %q", provider)
	}

	timeout, err := envIntOrDefault("LLM_TIMEOUT_SECONDS", 30)
	if err != nil {
		return Config{}, err
	}
	if timeout <= 0 {
		return Config{}, fmt.Errorf("LLM_TIMEOUT_SECONDS must be positive, got %d", timeout)
	}
	development, err := envBoolOrDefault("LOG_DEVELOPMENT", false)
	if err != nil {
		return Config{}, err
	}

	return Config{
		DBPath:         envOrDefault("QA_DB_PATH", "pad-i.db"),
		ListenAddr:     envOrDefault("QA_LISTEN_ADDR", ":8100"),
		LogLevel:       envOrDefault("LOG_LEVEL", "info"),
		LogDevelopment: development,
		LLM: LLM{
			Provider: provider,
			BaseURL:  envOrDefault("LLM_BASE_URL", defaultBaseURL),
			Token:    envOrDefault("OPENAI_API_KEY", "fake"), // local servers accept any token
			Model:    envOrDefault("LLM_MODEL", "llama3.1:8b"),
			Timeout:  time.Duration(timeout) * time.Second,
		},
	}, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envBoolOrDefault(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}
