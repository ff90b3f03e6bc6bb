package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `json:"server"`
	Pool    PoolConfig    `json:"pool"`
	Breaker BreakerConfig `json:"breaker"`
	Scan    ScanConfig    `json:"scan"`
	Redis   RedisConfig   `json:"redis"`
	Engine  EngineConfig  `json:"engine"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// PoolConfig contains browser pool configuration
type PoolConfig struct {
	MinSize             int           `json:"min_size"`
	MaxSize             int           `json:"max_size"`
	AcquireTimeout      time.Duration `json:"acquire_timeout"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	ShutdownGrace       time.Duration `json:"shutdown_grace"`
}

// BreakerConfig contains circuit breaker defaults
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	ResetTimeout     time.Duration `json:"reset_timeout"`
	CallTimeout      time.Duration `json:"call_timeout"`
}

// ScanConfig contains scan orchestration configuration
type ScanConfig struct {
	MaxRetries      int           `json:"max_retries"`
	BaseDelay       time.Duration `json:"base_delay"`
	MaxDelay        time.Duration `json:"max_delay"`
	ScanTimeout     time.Duration `json:"scan_timeout"`
	BulkConcurrency int           `json:"bulk_concurrency"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	PoolSize int           `json:"pool_size"`
	Enabled  bool          `json:"enabled"`
	CacheTTL time.Duration `json:"cache_ttl"`
}

// EngineConfig contains analysis engine backend configuration
type EngineConfig struct {
	BaseURL        string        `json:"base_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
	ChromePath     string        `json:"chrome_path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8001),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Pool: PoolConfig{
			MinSize:             getEnvInt("POOL_MIN_SIZE", 2),
			MaxSize:             getEnvInt("POOL_MAX_SIZE", 10),
			AcquireTimeout:      getEnvDuration("POOL_ACQUIRE_TIMEOUT", 30*time.Second),
			HealthCheckInterval: getEnvDuration("POOL_HEALTH_CHECK_INTERVAL", 30*time.Second),
			ShutdownGrace:       getEnvDuration("POOL_SHUTDOWN_GRACE", 30*time.Second),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			SuccessThreshold: getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2),
			ResetTimeout:     getEnvDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
			CallTimeout:      getEnvDuration("BREAKER_CALL_TIMEOUT", 10*time.Second),
		},
		Scan: ScanConfig{
			MaxRetries:      getEnvInt("SCAN_MAX_RETRIES", 3),
			BaseDelay:       getEnvDuration("SCAN_BASE_DELAY", 500*time.Millisecond),
			MaxDelay:        getEnvDuration("SCAN_MAX_DELAY", 10*time.Second),
			ScanTimeout:     getEnvDuration("SCAN_TIMEOUT", 60*time.Second),
			BulkConcurrency: getEnvInt("SCAN_BULK_CONCURRENCY", 3),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			CacheTTL: getEnvDuration("REDIS_CACHE_TTL", 1*time.Hour),
		},
		Engine: EngineConfig{
			BaseURL:        getEnvString("ENGINE_BASE_URL", "http://localhost:8000"),
			RequestTimeout: getEnvDuration("ENGINE_REQUEST_TIMEOUT", 30*time.Second),
			ChromePath:     getEnvString("CHROME_PATH", "/usr/bin/chromium"),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Pool.MinSize < 0 {
		return fmt.Errorf("pool min size cannot be negative")
	}
	if c.Pool.MaxSize < 1 {
		return fmt.Errorf("pool max size must be at least 1")
	}
	if c.Pool.MinSize > c.Pool.MaxSize {
		return fmt.Errorf("pool min size (%d) cannot exceed max size (%d)",
			c.Pool.MinSize, c.Pool.MaxSize)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure threshold must be at least 1")
	}
	if c.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("breaker success threshold must be at least 1")
	}
	if c.Scan.MaxRetries < 1 {
		return fmt.Errorf("scan max retries must be at least 1")
	}
	if c.Scan.BulkConcurrency < 1 {
		return fmt.Errorf("bulk concurrency must be at least 1")
	}
	if c.Engine.BaseURL == "" {
		return fmt.Errorf("engine base URL is required")
	}
	return nil
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
