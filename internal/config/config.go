package config

import (
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the assistant engine. Values come from
// environment variables (with a .env overlay for development) plus an
// optional YAML file for the presentation and reconnect tuning that
// should not be overridden per-deployment.
type Config struct {
	// Chat backend
	APIBaseURL     string        // REST + chat-completion endpoint base
	SocketURL      string        // realtime channel endpoint
	WebBaseURL     string        // base for resolving navigate actions
	Locale         string        // locale segment used in resolved URLs
	RequestTimeout time.Duration // per REST request

	// Streaming presentation
	AnimatorInterval  time.Duration `yaml:"animator_interval"`  // tick between released chunks
	AnimatorChunkSize int           `yaml:"animator_chunk_size"` // runes released per tick

	// Realtime reconnection
	ReconnectMaxAttempts     uint          `yaml:"reconnect_max_attempts"`
	ReconnectInitialInterval time.Duration `yaml:"reconnect_initial_interval"`
	ReconnectMaxInterval     time.Duration `yaml:"reconnect_max_interval"`

	// Conversation lifecycle
	DeleteConfirmTimeout time.Duration `yaml:"delete_confirm_timeout"` // how long to wait for the list to confirm a deletion
	HistoryCacheSize     int           `yaml:"history_cache_size"`     // inactive message logs kept in memory

	// Credential presented on the realtime channel and REST calls.
	// Empty means start signed out.
	AuthToken string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load builds the configuration from the environment. A missing .env
// file is not an error; it only matters for local development.
func Load() *Config {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		APIBaseURL:     getEnvOrDefault("ASSISTANT_API_BASE_URL", "http://localhost:8080/api"),
		SocketURL:      getEnvOrDefault("ASSISTANT_SOCKET_URL", "ws://localhost:8080/socket"),
		WebBaseURL:     getEnvOrDefault("ASSISTANT_WEB_BASE_URL", "http://localhost:3000"),
		Locale:         getEnvOrDefault("ASSISTANT_LOCALE", "en"),
		RequestTimeout: getEnvAsDuration("ASSISTANT_REQUEST_TIMEOUT", 30*time.Second),

		AnimatorInterval:  getEnvAsDuration("ASSISTANT_ANIMATOR_INTERVAL", 30*time.Millisecond),
		AnimatorChunkSize: getEnvAsInt("ASSISTANT_ANIMATOR_CHUNK_SIZE", 3),

		ReconnectMaxAttempts:     uint(getEnvAsInt("ASSISTANT_RECONNECT_MAX_ATTEMPTS", 5)),
		ReconnectInitialInterval: getEnvAsDuration("ASSISTANT_RECONNECT_INITIAL_INTERVAL", 500*time.Millisecond),
		ReconnectMaxInterval:     getEnvAsDuration("ASSISTANT_RECONNECT_MAX_INTERVAL", 15*time.Second),

		DeleteConfirmTimeout: getEnvAsDuration("ASSISTANT_DELETE_CONFIRM_TIMEOUT", 15*time.Second),
		HistoryCacheSize:     getEnvAsInt("ASSISTANT_HISTORY_CACHE_SIZE", 32),

		AuthToken: getEnvOrDefault("ASSISTANT_AUTH_TOKEN", ""),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	// Optional YAML overlay for the tuning knobs.
	configFilePath := getEnvOrDefault("CONFIG_FILE", "")
	if configFilePath != "" {
		configFile, err := os.Open(configFilePath)
		if err != nil {
			log.Fatalf("Failed to open config file: %v", err)
		}
		defer configFile.Close()

		if err := LoadConfigFile(configFile, cfg); err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
	}

	return cfg
}

// LoadConfigFile applies a YAML document on top of an existing config.
func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)
	return decoder.Decode(config)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}
