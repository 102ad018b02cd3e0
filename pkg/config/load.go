package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	BackendBadger   = "badger"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config is the runtime configuration of the server.
type Config struct {
	Port           string        `yaml:"port"`
	DataDir        string        `yaml:"data_dir"`
	StorageBackend string        `yaml:"storage_backend"`
	PostgresDSN    string        `yaml:"postgres_dsn"`
	MaxMemoryMB    int64         `yaml:"max_memory_mb"`
	MaxStorageGB   int64         `yaml:"max_storage_gb"`
	RegistryPath   string        `yaml:"registry"`
	Timezone       string        `yaml:"timezone"`
	Debounce       time.Duration `yaml:"debounce"`
	Retention      time.Duration `yaml:"retention"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`
	InitialMode    string        `yaml:"initial_mode"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	MQTT           MQTTConfig    `yaml:"mqtt"`
}

// MQTTConfig configures the optional door event subscriber.
// An empty Broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:           DefaultPort,
		DataDir:        DefaultDataDir,
		StorageBackend: BackendBadger,
		MaxMemoryMB:    DefaultMaxMemoryMB,
		MaxStorageGB:   DefaultMaxStorageGB,
		RegistryPath:   DefaultRegistryPath,
		Timezone:       "Local",
		Debounce:       DefaultDebounce,
		Retention:      DefaultRetention,
		LogLevel:       "info",
		LogFormat:      "json",
		InitialMode:    "running",
		CORSOrigins:    []string{"*"},
		MQTT: MQTTConfig{
			TopicPrefix: DefaultMQTTTopic,
			ClientID:    DefaultMQTTClient,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// ROOMWATCH_CONFIG, and ROOMWATCH_* environment overrides, in that order.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("ROOMWATCH_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	cfg.Port = getString("PORT", cfg.Port)
	cfg.Port = getString("ROOMWATCH_PORT", cfg.Port)
	cfg.DataDir = getString("ROOMWATCH_DATA_DIR", cfg.DataDir)
	cfg.StorageBackend = strings.ToLower(getString("ROOMWATCH_STORAGE", cfg.StorageBackend))
	cfg.PostgresDSN = getString("ROOMWATCH_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.MaxMemoryMB = getInt64("ROOMWATCH_MAX_MEMORY_MB", cfg.MaxMemoryMB)
	cfg.MaxStorageGB = getInt64("ROOMWATCH_MAX_STORAGE_GB", cfg.MaxStorageGB)
	cfg.RegistryPath = getString("ROOMWATCH_REGISTRY", cfg.RegistryPath)
	cfg.Timezone = getString("ROOMWATCH_TIMEZONE", cfg.Timezone)
	cfg.Debounce = getDuration("ROOMWATCH_DEBOUNCE", cfg.Debounce)
	cfg.Retention = getDuration("ROOMWATCH_RETENTION", cfg.Retention)
	cfg.LogLevel = getString("ROOMWATCH_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getString("ROOMWATCH_LOG_FORMAT", cfg.LogFormat)
	cfg.InitialMode = strings.ToLower(getString("ROOMWATCH_INITIAL_MODE", cfg.InitialMode))
	if origins := os.Getenv("ROOMWATCH_CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitCSV(origins)
	}
	cfg.MQTT.Broker = getString("ROOMWATCH_MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.TopicPrefix = getString("ROOMWATCH_MQTT_TOPIC", cfg.MQTT.TopicPrefix)
	cfg.MQTT.ClientID = getString("ROOMWATCH_MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Username = getString("ROOMWATCH_MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getString("ROOMWATCH_MQTT_PASSWORD", cfg.MQTT.Password)

	return cfg, cfg.Validate()
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	switch c.StorageBackend {
	case BackendBadger, BackendMemory:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres storage requires ROOMWATCH_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}

	switch c.InitialMode {
	case "running", "stopped":
	default:
		return fmt.Errorf("unknown initial mode %q", c.InitialMode)
	}

	if c.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative, got %s", c.Debounce)
	}
	if c.Retention < 0 {
		return fmt.Errorf("retention must not be negative, got %s", c.Retention)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// MaxStorageBytes converts MaxStorageGB to bytes.
func (c Config) MaxStorageBytes() int64 {
	return c.MaxStorageGB * 1024 * 1024 * 1024
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
