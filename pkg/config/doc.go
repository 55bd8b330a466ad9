// Package config loads and validates the gqlsubs server configuration.
//
// Configuration is YAML decoded with gopkg.in/yaml.v3 in strict mode: an
// unknown key is an error. Decoding errors are returned as *ConfigError with
// the line (and, when known, column) yaml.v3 reported.
//
// A minimal file:
//
//	schemaFile: schema.graphql
//	server:
//	  addr: ":8080"
//	  keepAlive: 15s
//	filters:
//	  messageAdded:
//	    expr: payload.channel == variables.channel
//
// Durations are strings in time.ParseDuration syntax and are checked by
// Validate. Environment overrides live in internal/cliconfig.
package config
