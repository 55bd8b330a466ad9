package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/getmockd/gqlsubs/pkg/graphql"
)

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Validate checks the configuration and returns every problem found,
// joined with errors.Join.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch {
	case c.Schema == "" && c.SchemaFile == "":
		add("schema", "either schema or schemaFile must be provided")
	case c.Schema != "" && c.SchemaFile != "":
		add("schema", "schema and schemaFile are mutually exclusive")
	}

	if c.Server.Addr == "" {
		add("server.addr", "is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		add("server.path", "must start with /")
	}
	if c.Server.PublishPath != "" && !strings.HasPrefix(c.Server.PublishPath, "/") {
		add("server.publishPath", "must start with /")
	}
	if c.Server.MetricsPath != "" && !strings.HasPrefix(c.Server.MetricsPath, "/") {
		add("server.metricsPath", "must start with /")
	}
	switch c.Server.Transport {
	case TransportCoder, TransportGorilla:
	default:
		add("server.transport", "must be %q or %q, got %q", TransportCoder, TransportGorilla, c.Server.Transport)
	}
	if c.Server.ReadLimit < 0 {
		add("server.readLimit", "must not be negative")
	}

	durations := map[string]string{
		"server.keepAlive":       c.Server.KeepAlive,
		"server.writeTimeout":    c.Server.WriteTimeout,
		"server.shutdownTimeout": c.Server.ShutdownTimeout,
		"execution.timeout":      c.Execution.Timeout,
		"execution.sendTimeout":  c.Execution.SendTimeout,
	}
	for _, field := range sortedKeys(durations) {
		if v := durations[field]; v != "" {
			if d, err := time.ParseDuration(v); err != nil {
				add(field, "invalid duration %q", v)
			} else if d < 0 {
				add(field, "must not be negative")
			}
		}
	}
	if c.Execution.PublishConcurrency < 0 {
		add("execution.publishConcurrency", "must not be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", "unknown level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		add("log.format", "unknown format %q", c.Log.Format)
	}

	for _, name := range sortedKeys(c.Filters) {
		f := c.Filters[name]
		if f.Expr == "" && len(f.JSONPath) == 0 {
			add("filters."+name, "needs expr or jsonPath")
		}
	}

	for _, path := range sortedKeys(c.Resolvers) {
		if fp := graphql.ParseFieldPath(path); fp.TypeName == "" || fp.FieldName == "" {
			add("resolvers."+path, "must be Type.field")
		}
		for i, r := range c.Resolvers[path] {
			if r.Delay != "" {
				if _, err := time.ParseDuration(r.Delay); err != nil {
					add(fmt.Sprintf("resolvers.%s[%d].delay", path, i), "invalid duration %q", r.Delay)
				}
			}
		}
	}

	if jwt := c.Auth.JWT; jwt != nil && jwt.Secret == "" {
		add("auth.jwt.secret", "is required")
	}
	if c.Auth.ParamsSchema != "" && c.Auth.ParamsSchemaFile != "" {
		add("auth.paramsSchema", "paramsSchema and paramsSchemaFile are mutually exclusive")
	}

	if r := c.Bridges.Redis; r != nil && r.URL == "" {
		add("bridges.redis.url", "is required")
	}
	if m := c.Bridges.MQTT; m != nil {
		if m.Broker == "" {
			add("bridges.mqtt.broker", "is required")
		}
		if m.QoS > 2 {
			add("bridges.mqtt.qos", "must be 0, 1 or 2")
		}
	}
	if mb := c.Bridges.MQTTBroker; mb != nil && mb.Addr == "" {
		add("bridges.mqttBroker.addr", "is required")
	}
	if p := c.Bridges.Postgres; p != nil {
		if p.DSN == "" {
			add("bridges.postgres.dsn", "is required")
		}
		if len(p.Channels) == 0 {
			add("bridges.postgres.channels", "at least one channel is required")
		}
	}

	return errors.Join(errs...)
}

// ValidateSchema checks that every filter and resolver refers to something
// schema declares.
func (c *Config) ValidateSchema(schema *graphql.Schema) error {
	var errs []error
	for _, name := range sortedKeys(c.Filters) {
		if schema.GetSubscriptionField(name) == nil {
			errs = append(errs, &ValidationError{Field: "filters." + name, Message: "schema has no such subscription"})
		}
	}
	if err := schema.ValidateFieldPaths(sortedKeys(c.Resolvers)); err != nil {
		errs = append(errs, &ValidationError{Field: "resolvers", Message: err.Error()})
	}
	return errors.Join(errs...)
}

// LoadSchema parses the configured schema.
func (c *Config) LoadSchema() (*graphql.Schema, error) {
	if c.Schema != "" {
		return graphql.ParseSchema(c.Schema)
	}
	if c.SchemaFile == "" {
		return nil, errors.New("either schema or schemaFile must be provided")
	}
	return graphql.ParseSchemaFile(c.SchemaFile)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
