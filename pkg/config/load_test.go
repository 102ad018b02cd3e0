package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ROOMWATCH_CONFIG", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, BackendBadger, cfg.StorageBackend)
	assert.Equal(t, DefaultDebounce, cfg.Debounce)
	assert.Equal(t, DefaultRetention, cfg.Retention)
	assert.Empty(t, cfg.MQTT.Broker)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roomwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
storage_backend: memory
debounce: 5s
timezone: UTC
mqtt:
  broker: tcp://localhost:1883
cors_origins: ["http://a.example"]
`), 0o644))

	t.Setenv("ROOMWATCH_CONFIG", path)
	t.Setenv("ROOMWATCH_PORT", "7070")
	t.Setenv("ROOMWATCH_CORS_ORIGINS", "http://b.example, http://c.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, 5*time.Second, cfg.Debounce)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, DefaultMQTTTopic, cfg.MQTT.TopicPrefix)
	assert.Equal(t, []string{"http://b.example", "http://c.example"}, cfg.CORSOrigins)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.StorageBackend = BackendPostgres }},
		{name: "postgres with dsn", mutate: func(c *Config) {
			c.StorageBackend = BackendPostgres
			c.PostgresDSN = "postgres://localhost/roomwatch"
		}, ok: true},
		{name: "unknown backend", mutate: func(c *Config) { c.StorageBackend = "sqlite" }},
		{name: "unknown mode", mutate: func(c *Config) { c.InitialMode = "paused" }},
		{name: "negative debounce", mutate: func(c *Config) { c.Debounce = -time.Second }},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
