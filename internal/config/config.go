// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultSystemPrompt seeds every fresh conversation.
const DefaultSystemPrompt = "You are a helpful AI assistant. Answer clearly and politely."

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	Completion  CompletionConfig
	Chat        ChatConfig
	RateLimit   RateLimitConfig
	Audit       AuditConfig
}

// CompletionConfig holds settings for the remote chat-completion endpoint.
type CompletionConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// ChatConfig controls conversation behavior.
type ChatConfig struct {
	SystemPrompt  string
	ContextWindow int // most recent turns sent per completion request
}

// RateLimitConfig controls per-user throttling of send requests.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// AuditConfig controls NDJSON conversation audit logging.
type AuditConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/assistant.db"),
		Completion: CompletionConfig{
			APIKey:      getEnv("GROQ_API_KEY", ""),
			BaseURL:     getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
			Model:       getEnv("GROQ_MODEL", "llama-3.1-8b-instant"),
			Temperature: getEnvFloat("GROQ_TEMPERATURE", 0.7),
			Timeout:     getEnvDuration("GROQ_TIMEOUT", 60*time.Second),
		},
		Chat: ChatConfig{
			SystemPrompt:  getEnv("SYSTEM_PROMPT", DefaultSystemPrompt),
			ContextWindow: getEnvInt("CONTEXT_WINDOW", 6),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Audit: AuditConfig{
			Enabled:   getEnvBool("CHAT_AUDIT_ENABLED", false),
			Dir:       getEnv("CHAT_AUDIT_DIR", "./data/logs/chat"),
			QueueSize: getEnvInt("CHAT_AUDIT_QUEUE_SIZE", 1000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Completion.BaseURL == "" {
		return fmt.Errorf("GROQ_BASE_URL cannot be empty")
	}
	if c.Completion.Model == "" {
		return fmt.Errorf("GROQ_MODEL cannot be empty")
	}
	if c.Completion.Timeout <= 0 {
		return fmt.Errorf("GROQ_TIMEOUT must be > 0")
	}
	if c.Chat.ContextWindow <= 0 {
		return fmt.Errorf("CONTEXT_WINDOW must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.Audit.Enabled && c.Audit.Dir == "" {
		return fmt.Errorf("CHAT_AUDIT_DIR cannot be empty when auditing is enabled")
	}
	if c.Audit.QueueSize <= 0 {
		return fmt.Errorf("CHAT_AUDIT_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
