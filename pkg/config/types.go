package config

import (
	"time"

	"github.com/getmockd/gqlsubs/pkg/graphql"
)

// Transport names accepted by ServerConfig.Transport.
const (
	TransportCoder   = "coder"
	TransportGorilla = "gorilla"
)

// Config is the complete server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`

	// Schema is inline GraphQL SDL. Exactly one of Schema and SchemaFile
	// must be set.
	Schema string `yaml:"schema,omitempty"`
	// SchemaFile is a path to a .graphql SDL file.
	SchemaFile string `yaml:"schemaFile,omitempty"`

	// Debug adds panic details to resolver errors.
	Debug bool `yaml:"debug,omitempty"`

	Execution ExecutionConfig `yaml:"execution"`

	// Resolvers maps "Type.field" to canned responses.
	Resolvers map[string][]graphql.ResolverConfig `yaml:"resolvers,omitempty"`

	// Filters maps subscription names to delivery filters.
	Filters map[string]FilterConfig `yaml:"filters,omitempty"`

	// Context holds the baseline context values of every connection.
	Context map[string]interface{} `yaml:"context,omitempty"`

	Auth    AuthConfig    `yaml:"auth"`
	Bridges BridgesConfig `yaml:"bridges"`

	// Sources records where each overridden value came from.
	Sources map[string]string `yaml:"-"`
}

// ServerConfig configures the HTTP listener and the WebSocket binding.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`
	// Path serves both the WebSocket endpoint and HTTP queries.
	Path string `yaml:"path"`
	// PublishPath is the prefix of the publish endpoint. Empty disables it.
	PublishPath string `yaml:"publishPath"`
	// MetricsPath serves Prometheus metrics. Empty disables it.
	MetricsPath string `yaml:"metricsPath"`
	// Transport selects the WebSocket library: coder or gorilla.
	Transport string `yaml:"transport"`
	// KeepAlive is the ka interval, e.g. "15s". Empty disables keep-alive.
	KeepAlive string `yaml:"keepAlive,omitempty"`
	// ReadLimit caps inbound frame size in bytes.
	ReadLimit int64 `yaml:"readLimit,omitempty"`
	// WriteTimeout bounds a single frame write, e.g. "10s".
	WriteTimeout string `yaml:"writeTimeout,omitempty"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout string `yaml:"shutdownTimeout"`
	// InsecureSkipVerify disables the WebSocket origin check.
	InsecureSkipVerify bool `yaml:"insecureSkipVerify,omitempty"`
	// OriginPatterns lists additional allowed origins.
	OriginPatterns []string `yaml:"originPatterns,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File additionally writes JSON records to this path.
	File string `yaml:"file,omitempty"`
}

// ExecutionConfig bounds GraphQL execution and fan-out.
type ExecutionConfig struct {
	Timeout            string `yaml:"timeout,omitempty"`
	SendTimeout        string `yaml:"sendTimeout,omitempty"`
	PublishConcurrency int    `yaml:"publishConcurrency,omitempty"`
}

// FilterConfig describes a delivery filter. When both kinds are set, both
// must pass.
type FilterConfig struct {
	// Expr is an expr-lang boolean expression over payload, variables and
	// context.
	Expr string `yaml:"expr,omitempty"`
	// JSONPath maps JSONPath expressions over the payload to expected
	// values. "$variables.name" expands to a subscription variable.
	JSONPath map[string]interface{} `yaml:"jsonPath,omitempty"`
}

// AuthConfig configures connection_init authentication.
type AuthConfig struct {
	JWT *JWTConfig `yaml:"jwt,omitempty"`
	// ParamsSchema is an inline JSON Schema for the connection_init payload.
	ParamsSchema string `yaml:"paramsSchema,omitempty"`
	// ParamsSchemaFile is a path to a JSON Schema file.
	ParamsSchemaFile string `yaml:"paramsSchemaFile,omitempty"`
}

// JWTConfig configures HMAC-signed token validation.
type JWTConfig struct {
	Secret     string `yaml:"secret"`
	Issuer     string `yaml:"issuer,omitempty"`
	Audience   string `yaml:"audience,omitempty"`
	TokenField string `yaml:"tokenField,omitempty"`
	Required   bool   `yaml:"required,omitempty"`
}

// BridgesConfig configures external event feeds.
type BridgesConfig struct {
	Redis      *RedisConfig      `yaml:"redis,omitempty"`
	MQTT       *MQTTConfig       `yaml:"mqtt,omitempty"`
	MQTTBroker *MQTTBrokerConfig `yaml:"mqttBroker,omitempty"`
	Postgres   *PostgresConfig   `yaml:"postgres,omitempty"`
}

// RedisConfig configures the Redis Pub/Sub bridge.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix,omitempty"`
	// Sink routes the publish endpoint through Redis instead of the local
	// registry, so every instance receives the event.
	Sink bool `yaml:"sink,omitempty"`
}

// MQTTConfig configures the MQTT bridge.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"clientId,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topicPrefix,omitempty"`
	QoS         byte   `yaml:"qos,omitempty"`
}

// MQTTBrokerConfig runs an MQTT broker in-process. Devices publish to
// TopicPrefix/<subscription> directly.
type MQTTBrokerConfig struct {
	Addr        string `yaml:"addr"`
	TopicPrefix string `yaml:"topicPrefix,omitempty"`
	// Users maps usernames to passwords. Empty allows anonymous clients.
	Users map[string]string `yaml:"users,omitempty"`
}

// PostgresConfig configures the LISTEN/NOTIFY bridge.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
	// Channels maps notification channels to subscription names.
	Channels map[string]string `yaml:"channels"`
}

// Default returns the configuration used for unset values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Path:            "/graphql",
			PublishPath:     "/publish",
			MetricsPath:     "/metrics",
			Transport:       TransportCoder,
			ShutdownTimeout: "10s",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Sources: make(map[string]string),
	}
}

// KeepAliveInterval returns the parsed keep-alive interval.
func (s ServerConfig) KeepAliveInterval() time.Duration { return duration(s.KeepAlive) }

// WriteTimeoutDuration returns the parsed write timeout.
func (s ServerConfig) WriteTimeoutDuration() time.Duration { return duration(s.WriteTimeout) }

// ShutdownTimeoutDuration returns the parsed shutdown timeout.
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration { return duration(s.ShutdownTimeout) }

// TimeoutDuration returns the parsed execution timeout.
func (e ExecutionConfig) TimeoutDuration() time.Duration { return duration(e.Timeout) }

// SendTimeoutDuration returns the parsed send timeout.
func (e ExecutionConfig) SendTimeoutDuration() time.Duration { return duration(e.SendTimeout) }

// duration parses s, returning zero for empty or invalid values. Validate
// reports invalid values.
func duration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
