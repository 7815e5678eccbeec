// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	ListenAddr    string
	AllowedOrigin string

	// TLS serves the gateway over wss when both files are set.
	TLSCertFile string
	TLSKeyFile  string

	OpenAIAPIKey        string
	OpenAIBaseURL       string
	ChatModel           string
	Temperature         float64
	MaxCompletionTokens int64

	ToolsEnabled      bool
	ToolServerURL     string
	ToolHealthRetries int

	DBPath       string
	HistoryLimit int
	SessionTTL   time.Duration

	AuditLog AuditLogConfig
}

// AuditLogConfig controls NDJSON conversation audit logging.
type AuditLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("AUDIT_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		AllowedOrigin:       getEnv("ALLOWED_ORIGIN", "*"),
		TLSCertFile:         getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:          getEnv("TLS_KEY_FILE", ""),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		ChatModel:           getEnv("CHAT_MODEL", "gpt-4o-mini"),
		Temperature:         getEnvFloat("TEMPERATURE", 0.7),
		MaxCompletionTokens: int64(getEnvInt("MAX_COMPLETION_TOKENS", 1024)),
		ToolsEnabled:        getEnvBool("TOOLS_ENABLED", true),
		ToolServerURL:       getEnv("TOOL_SERVER_URL", "http://localhost:3001"),
		ToolHealthRetries:   getEnvInt("TOOL_HEALTH_RETRIES", 5),
		DBPath:              getEnv("DB_PATH", "./data/shopchat.db"),
		HistoryLimit:        getEnvInt("HISTORY_LIMIT", 10),
		SessionTTL:          time.Duration(getEnvInt("SESSION_TTL_MINUTES", 1440)) * time.Minute,
		AuditLog: AuditLogConfig{
			Enabled:   getEnvBool("AUDIT_LOG_ENABLED", false),
			Dir:       getEnv("AUDIT_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR cannot be empty")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.ToolsEnabled && c.ToolServerURL == "" {
		return fmt.Errorf("TOOL_SERVER_URL cannot be empty when TOOLS_ENABLED is set")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be > 0")
	}
	if c.MaxCompletionTokens <= 0 {
		return fmt.Errorf("MAX_COMPLETION_TOKENS must be > 0")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if c.AuditLog.Enabled && c.AuditLog.Dir == "" {
		return fmt.Errorf("AUDIT_LOG_DIR cannot be empty when AUDIT_LOG_ENABLED is set")
	}
	return nil
}

// TLSEnabled reports whether the server should terminate TLS itself.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
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
