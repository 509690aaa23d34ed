package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

// Vision backends selectable with VISION_BACKEND.
const (
	BackendGemini = "gemini"
	BackendClaude = "claude"
	BackendOllama = "ollama"
)

var (
	ErrMissingAPIKey  = errors.New("missing API key for vision backend")
	ErrUnknownBackend = errors.New("unknown vision backend")
)

type Config struct {
	ListenAddr      string
	VisionBackend   string
	GeminiAPIKey    string
	GeminiModel     string
	ClaudeAPIKey    string
	ClaudeModel     string
	OllamaHost      string
	OllamaModel     string
	DBPath          string
	PreviewPath     string
	SessionTTL      time.Duration
	AnalysisTimeout time.Duration
	MaxImageBytes   int64
	LogLevel        string
	LogFormat       string
	LogFile         string
}

// Load reads configuration from the environment. A .env file in the working
// directory, if present, is loaded first and never overrides variables that
// are already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		VisionBackend: strings.ToLower(getEnv("VISION_BACKEND", BackendGemini)),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", os.Getenv("API_KEY")),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		ClaudeAPIKey:  getEnv("CLAUDE_API_KEY", ""),
		ClaudeModel:   getEnv("CLAUDE_MODEL", "claude-sonnet-4-5"),
		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:   getEnv("OLLAMA_MODEL", "llava"),
		DBPath:        getEnv("DB_PATH", ""),
		PreviewPath:   getEnv("PREVIEW_PATH", filepath.Join(os.TempDir(), "platescan-previews")),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		LogFile:       getEnv("LOG_FILE", ""),
	}

	var err error
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.AnalysisTimeout, err = getDuration("ANALYSIS_TIMEOUT", 0); err != nil {
		return nil, err
	}
	maxSize := getEnv("MAX_IMAGE_BYTES", "")
	if maxSize == "" {
		maxSize = "10MB"
	}
	size, err := humanize.ParseBytes(maxSize)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_IMAGE_BYTES: %w", err)
	}
	if size == 0 {
		return nil, errors.New("invalid MAX_IMAGE_BYTES: must be positive")
	}
	cfg.MaxImageBytes = int64(size)

	return cfg, nil
}

// Validate reports configuration the server cannot start without.
func (c *Config) Validate() error {
	switch c.VisionBackend {
	case BackendGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: set GEMINI_API_KEY", ErrMissingAPIKey)
		}
	case BackendClaude:
		if c.ClaudeAPIKey == "" {
			return fmt.Errorf("%w: set CLAUDE_API_KEY", ErrMissingAPIKey)
		}
	case BackendOllama:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.VisionBackend)
	}
	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val, exists := os.LookupEnv(key)
	if !exists || val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
