// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/deskrelay/deskrelay/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Directory     DirectoryConfig
	Session       SessionConfig
	OAuth         OAuthConfig
	Ticketing     TicketingConfig
	Search        SearchConfig
	Database      DatabaseConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DirectoryConfig holds LDAP directory settings
type DirectoryConfig struct {
	URL     string
	BaseDN  string
	Timeout time.Duration
}

// SessionConfig holds session store settings. RedisURL empty means the
// in-memory store is used.
type SessionConfig struct {
	TTL      time.Duration
	RedisURL string
}

// OAuthConfig holds the ticketing API's OAuth client settings
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string
	Timeout      time.Duration
	// FrontendURL is where the browser lands after the callback
	FrontendURL string
}

// TicketingConfig holds the remote ticketing API settings
type TicketingConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SearchConfig holds the external search provider settings
type SearchConfig struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// DatabaseConfig holds the relational store settings
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	RetentionDays int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("DESKRELAY_HOST", "0.0.0.0"),
			Port:            getEnv("DESKRELAY_PORT", "8080"),
			ReadTimeout:     getEnvDuration("DESKRELAY_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("DESKRELAY_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("DESKRELAY_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("DESKRELAY_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Directory: DirectoryConfig{
			URL:     getEnv("DESKRELAY_LDAP_URL", "ldap://localhost:389"),
			BaseDN:  getEnv("DESKRELAY_LDAP_BASE_DN", "dc=example,dc=com"),
			Timeout: getEnvDuration("DESKRELAY_LDAP_TIMEOUT", 10*time.Second),
		},
		Session: SessionConfig{
			TTL:      getEnvDuration("DESKRELAY_SESSION_TTL", time.Hour),
			RedisURL: getEnv("DESKRELAY_REDIS_URL", ""),
		},
		OAuth: OAuthConfig{
			ClientID:     getEnv("DESKRELAY_OAUTH_CLIENT_ID", ""),
			ClientSecret: getEnv("DESKRELAY_OAUTH_CLIENT_SECRET", ""),
			AuthURL:      getEnv("DESKRELAY_OAUTH_AUTH_URL", ""),
			TokenURL:     getEnv("DESKRELAY_OAUTH_TOKEN_URL", ""),
			RedirectURL:  getEnv("DESKRELAY_OAUTH_REDIRECT_URL", ""),
			Scopes:       getEnvList("DESKRELAY_OAUTH_SCOPES", []string{"SDPOnDemand.requesters.ALL"}),
			Timeout:      getEnvDuration("DESKRELAY_OAUTH_TIMEOUT", 15*time.Second),
			FrontendURL:  getEnv("DESKRELAY_FRONTEND_URL", "/"),
		},
		Ticketing: TicketingConfig{
			BaseURL: getEnv("DESKRELAY_TICKETING_BASE_URL", ""),
			Timeout: getEnvDuration("DESKRELAY_TICKETING_TIMEOUT", 15*time.Second),
		},
		Search: SearchConfig{
			BaseURL:  getEnv("DESKRELAY_SEARCH_BASE_URL", ""),
			Timeout:  getEnvDuration("DESKRELAY_SEARCH_TIMEOUT", 10*time.Second),
			CacheTTL: getEnvDuration("DESKRELAY_SEARCH_CACHE_TTL", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver: getEnv("DESKRELAY_DB_DRIVER", "sqlite3"),
			DSN:    getEnv("DESKRELAY_DB_DSN", "file:deskrelay.db?_busy_timeout=5000"),
		},
		Audit: AuditConfig{
			RetentionDays: getEnvInt("DESKRELAY_AUDIT_RETENTION_DAYS", 365),
		},
		Observability: ObservabilityConfig{
			LogLevel:           parseLogLevel(getEnv("DESKRELAY_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("DESKRELAY_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("DESKRELAY_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("DESKRELAY_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("DESKRELAY_OTEL_SERVICE_NAME", "deskrelay"),
			OTelServiceVersion: getEnv("DESKRELAY_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("DESKRELAY_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Directory.URL == "" {
		return fmt.Errorf("directory URL is required")
	}
	if c.Directory.BaseDN == "" {
		return fmt.Errorf("directory base DN is required")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" {
		return fmt.Errorf("OAuth client id and secret are required")
	}
	if c.OAuth.AuthURL == "" || c.OAuth.TokenURL == "" {
		return fmt.Errorf("OAuth auth and token URLs are required")
	}
	if c.OAuth.RedirectURL == "" {
		return fmt.Errorf("OAuth redirect URL is required")
	}
	if c.Ticketing.BaseURL == "" {
		return fmt.Errorf("ticketing base URL is required")
	}
	if c.Search.BaseURL == "" {
		return fmt.Errorf("search base URL is required")
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("invalid database driver: %s (must be sqlite3 or postgres)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit retention must be positive")
	}
	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}
	return nil
}

// Addr returns the host:port the server listens on
func (c ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
