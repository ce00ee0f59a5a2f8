package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Redis    RedisConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds a SQLite file path or a postgres:// DSN.
type DatabaseConfig struct {
	DSN string
}

type ScraperConfig struct {
	BaseURL       string
	DelayMin      time.Duration
	DelayMax      time.Duration
	WaitTimeout   time.Duration
	DisabledClass string
	UserAgents    []string
}

type BrowserConfig struct {
	Headless      bool
	Timeout       time.Duration
	BinaryPath    string
	DisableImages bool
	Locale        string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type MetricsConfig struct {
	File string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("API_PORT", 8085),
			ReadTimeout:     getDurationOrDefault("API_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("API_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getDurationOrDefault("API_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			DSN: getEnvOrDefault("DATABASE_DSN", "amazon.db"),
		},
		Scraper: ScraperConfig{
			BaseURL:       getEnvOrDefault("SCRAPER_BASE_URL", "https://amazon.com"),
			DelayMin:      getDurationOrDefault("SCRAPER_DELAY_MIN", 1*time.Second),
			DelayMax:      getDurationOrDefault("SCRAPER_DELAY_MAX", 3*time.Second),
			WaitTimeout:   getDurationOrDefault("SCRAPER_WAIT_TIMEOUT", 10*time.Second),
			DisabledClass: getEnvOrDefault("SCRAPER_DISABLED_CLASS", "s-pagination-disabled"),
			UserAgents:    getStringSliceOrDefault("SCRAPER_USER_AGENTS", defaultUserAgents()),
		},
		Browser: BrowserConfig{
			Headless:      getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:       getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			BinaryPath:    getEnvOrDefault("BROWSER_BINARY", ""),
			DisableImages: getBoolOrDefault("BROWSER_DISABLE_IMAGES", true),
			Locale:        getEnvOrDefault("BROWSER_LOCALE", "en-US"),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:search_runs"),
		},
		Metrics: MetricsConfig{
			File: getEnvOrDefault("METRICS_FILE", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.Scraper.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("SCRAPER_BASE_URL must be an absolute URL, got %q", c.Scraper.BaseURL)
	}

	if c.Scraper.DelayMin < 0 {
		return fmt.Errorf("SCRAPER_DELAY_MIN cannot be negative")
	}

	if c.Scraper.DelayMin > c.Scraper.DelayMax {
		return fmt.Errorf("SCRAPER_DELAY_MIN cannot be greater than SCRAPER_DELAY_MAX")
	}

	if c.Scraper.WaitTimeout <= 0 {
		return fmt.Errorf("SCRAPER_WAIT_TIMEOUT must be positive")
	}

	if len(c.Scraper.UserAgents) == 0 {
		return fmt.Errorf("SCRAPER_USER_AGENTS must list at least one user agent")
	}

	if c.Browser.Timeout <= 0 {
		return fmt.Errorf("BROWSER_TIMEOUT must be positive")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid API_PORT: %d", c.Server.Port)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}
