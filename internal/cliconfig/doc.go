// Package cliconfig layers configuration for the gqlsubs CLI.
//
// It implements a layered configuration system with the following precedence
// (highest to lowest):
//
//  1. Command-line flags
//  2. Environment variables (GQLSUBS_* prefix)
//  3. The YAML config file
//  4. Default values
//
// Every override is recorded in config.Config.Sources so that
// "gqlsubs validate" can report where a value came from.
package cliconfig
