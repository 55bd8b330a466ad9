package cliconfig

import (
	"os"
	"strconv"

	"github.com/getmockd/gqlsubs/pkg/config"
)

// Environment variable names
const (
	EnvConfig      = "GQLSUBS_CONFIG"
	EnvAddr        = "GQLSUBS_ADDR"
	EnvLogLevel    = "GQLSUBS_LOG_LEVEL"
	EnvLogFormat   = "GQLSUBS_LOG_FORMAT"
	EnvDebug       = "GQLSUBS_DEBUG"
	EnvTransport   = "GQLSUBS_TRANSPORT"
	EnvKeepAlive   = "GQLSUBS_KEEP_ALIVE"
	EnvRedisURL    = "GQLSUBS_REDIS_URL"
	EnvMQTTBroker  = "GQLSUBS_MQTT_BROKER"
	EnvPostgresDSN = "GQLSUBS_POSTGRES_DSN"
	EnvJWTSecret   = "GQLSUBS_JWT_SECRET"
)

// Value sources recorded in config.Config.Sources.
const (
	SourceDefault = "default"
	SourceFile    = "file"
	SourceEnv     = "env"
	SourceFlag    = "flag"
)

// LookupFunc reports the value of an environment variable.
type LookupFunc func(key string) (string, bool)

// ApplyEnv applies environment overrides to cfg. It only sets values that
// are present and non-empty.
func ApplyEnv(cfg *config.Config, lookup LookupFunc) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if cfg.Sources == nil {
		cfg.Sources = make(map[string]string)
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		return v, ok && v != ""
	}

	// GQLSUBS_ADDR
	if v, ok := get(EnvAddr); ok {
		cfg.Server.Addr = v
		cfg.Sources["server.addr"] = SourceEnv
	}

	// GQLSUBS_LOG_LEVEL
	if v, ok := get(EnvLogLevel); ok {
		cfg.Log.Level = v
		cfg.Sources["log.level"] = SourceEnv
	}

	// GQLSUBS_LOG_FORMAT
	if v, ok := get(EnvLogFormat); ok {
		cfg.Log.Format = v
		cfg.Sources["log.format"] = SourceEnv
	}

	// GQLSUBS_DEBUG
	if v, ok := get(EnvDebug); ok {
		cfg.Debug = parseBool(v)
		cfg.Sources["debug"] = SourceEnv
	}

	// GQLSUBS_TRANSPORT
	if v, ok := get(EnvTransport); ok {
		cfg.Server.Transport = v
		cfg.Sources["server.transport"] = SourceEnv
	}

	// GQLSUBS_KEEP_ALIVE
	if v, ok := get(EnvKeepAlive); ok {
		cfg.Server.KeepAlive = v
		cfg.Sources["server.keepAlive"] = SourceEnv
	}

	// GQLSUBS_REDIS_URL
	if v, ok := get(EnvRedisURL); ok {
		if cfg.Bridges.Redis == nil {
			cfg.Bridges.Redis = &config.RedisConfig{}
		}
		cfg.Bridges.Redis.URL = v
		cfg.Sources["bridges.redis.url"] = SourceEnv
	}

	// GQLSUBS_MQTT_BROKER
	if v, ok := get(EnvMQTTBroker); ok {
		if cfg.Bridges.MQTT == nil {
			cfg.Bridges.MQTT = &config.MQTTConfig{}
		}
		cfg.Bridges.MQTT.Broker = v
		cfg.Sources["bridges.mqtt.broker"] = SourceEnv
	}

	// GQLSUBS_POSTGRES_DSN only overrides an existing postgres section,
	// since the channel mapping has no environment form.
	if v, ok := get(EnvPostgresDSN); ok && cfg.Bridges.Postgres != nil {
		cfg.Bridges.Postgres.DSN = v
		cfg.Sources["bridges.postgres.dsn"] = SourceEnv
	}

	// GQLSUBS_JWT_SECRET
	if v, ok := get(EnvJWTSecret); ok {
		if cfg.Auth.JWT == nil {
			cfg.Auth.JWT = &config.JWTConfig{}
		}
		cfg.Auth.JWT.Secret = v
		cfg.Sources["auth.jwt.secret"] = SourceEnv
	}
}

// ConfigPathFromEnv returns the config file path from the environment.
// Returns empty string if not set.
func ConfigPathFromEnv() string {
	return os.Getenv(EnvConfig)
}

func parseBool(v string) bool {
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v == "yes" || v == "on"
}
