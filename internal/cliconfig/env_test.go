package cliconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/gqlsubs/pkg/config"
)

func mapLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := config.Default()
	cfg.Bridges.Postgres = &config.PostgresConfig{Channels: map[string]string{"chat": ""}}

	ApplyEnv(cfg, mapLookup(map[string]string{
		EnvAddr:        ":7000",
		EnvLogLevel:    "debug",
		EnvDebug:       "yes",
		EnvTransport:   "gorilla",
		EnvKeepAlive:   "20s",
		EnvRedisURL:    "redis://cache:6379",
		EnvMQTTBroker:  "tcp://mqtt:1883",
		EnvPostgresDSN: "postgres://db/app",
		EnvJWTSecret:   "s3cret",
		EnvLogFormat:   "",
	}))

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "empty values are ignored")
	assert.True(t, cfg.Debug)
	assert.Equal(t, "gorilla", cfg.Server.Transport)
	assert.Equal(t, "20s", cfg.Server.KeepAlive)
	assert.Equal(t, "redis://cache:6379", cfg.Bridges.Redis.URL)
	assert.Equal(t, "tcp://mqtt:1883", cfg.Bridges.MQTT.Broker)
	assert.Equal(t, "postgres://db/app", cfg.Bridges.Postgres.DSN)
	assert.Equal(t, "s3cret", cfg.Auth.JWT.Secret)
	assert.Equal(t, SourceEnv, cfg.Sources["server.addr"])
}

func TestApplyEnv_PostgresNeedsSection(t *testing.T) {
	cfg := config.Default()
	ApplyEnv(cfg, mapLookup(map[string]string{EnvPostgresDSN: "postgres://db/app"}))
	assert.Nil(t, cfg.Bridges.Postgres)
}

func TestLoad_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gqlsubs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
schema: "type Query { hello: String }"
server:
  addr: ":1000"
  transport: gorilla
log:
  level: warn
`), 0o644))

	debug := true
	cfg, err := Load(path, Overrides{Addr: ":3000", Debug: &debug}, mapLookup(map[string]string{
		EnvAddr:     ":2000",
		EnvLogLevel: "error",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, "gorilla", cfg.Server.Transport)
	assert.True(t, cfg.Debug)

	assert.Equal(t, SourceFlag, Source(cfg, "server.addr"))
	assert.Equal(t, SourceEnv, Source(cfg, "log.level"))
	assert.Equal(t, SourceFile, Source(cfg, "server.transport"))
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvAddr, ":4000")

	cfg, err := Load("", Overrides{}, nil)
	require.NoError(t, err)
	assert.Equal(t, ":4000", cfg.Server.Addr)
	assert.Equal(t, SourceDefault, Source(cfg, "server.transport"))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), Overrides{}, nil)
	assert.ErrorIs(t, err, config.ErrFileNotFound)
}
