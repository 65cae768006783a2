package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting the service reads from the environment.
type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	Store    StoreConfig
	CORS     CORSConfig
}

// Load reads the full configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	up, err := loadUpstreamConfig()
	if err != nil {
		return nil, err
	}

	st, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Upstream: up,
		Store:    st,
		CORS:     loadCORSConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr          string
	RatePerMinute int
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8787"
	}

	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		// Allow both ":8787" and "127.0.0.1:8787" to be passed directly.
		addr = ":" + port
	}

	rate := 120
	if override, err := parseOptionalIntEnv("RATE_LIMIT_PER_MINUTE"); err != nil {
		return ServerConfig{}, err
	} else if override != nil {
		rate = *override
	}

	return ServerConfig{Addr: addr, RatePerMinute: rate}, nil
}

// UpstreamConfig describes the completion endpoint.
type UpstreamConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	ReadTimeout time.Duration
}

// Enabled reports whether the upstream credential is present. The stream
// endpoint rejects requests with 500 before writing any event when it is
// not, so the server still starts without it.
func (c UpstreamConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadUpstreamConfig() (UpstreamConfig, error) {
	timeout := 60 * time.Second
	if raw := strings.TrimSpace(os.Getenv("UPSTREAM_READ_TIMEOUT")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return UpstreamConfig{}, fmt.Errorf("invalid UPSTREAM_READ_TIMEOUT value %q: %w", raw, err)
		}
		timeout = parsed
	}

	return UpstreamConfig{
		APIKey:      strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL:     getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		Model:       getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		ReadTimeout: timeout,
	}, nil
}

// StoreConfig selects and locates the persistence driver.
type StoreConfig struct {
	Driver string
	Path   string
}

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORE_DRIVER", "file"))

	var defaultPath string
	switch driver {
	case "memory":
		defaultPath = ""
	case "file":
		defaultPath = "db.json"
	case "blob":
		defaultPath = "data"
	case "sqlite":
		defaultPath = "chat.db"
	default:
		return StoreConfig{}, fmt.Errorf("unknown STORE_DRIVER value: %q", driver)
	}

	return StoreConfig{
		Driver: driver,
		Path:   getEnvOrDefault("STORE_PATH", defaultPath),
	}, nil
}

// CORSConfig lists allowed origins; empty means allow any origin.
type CORSConfig struct {
	AllowedOrigins []string
}

func loadCORSConfig() CORSConfig {
	raw := strings.TrimSpace(os.Getenv("CORS_ORIGIN"))
	if raw == "" {
		return CORSConfig{AllowedOrigins: []string{"*"}}
	}

	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return CORSConfig{AllowedOrigins: origins}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
