// Package cli provides the gqlsubs command-line interface:
//   - serve: run the subscription server in the foreground
//   - validate: check a configuration file and its schema
//   - publish: send an event to a running server or to Redis
//   - config: print the effective configuration and value sources
//   - version: show build information
//
// Configuration precedence is flags > environment (GQLSUBS_*) > config file
// > defaults.
//
// Usage:
//
//	gqlsubs serve -c gqlsubs.yaml
//	gqlsubs validate -c gqlsubs.yaml
//	gqlsubs publish messageAdded '{"id":"1","text":"hi"}'
//	gqlsubs publish messageAdded --redis redis://localhost:6379 < event.json
package cli
