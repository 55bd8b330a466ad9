package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/getmockd/gqlsubs/pkg/auth"
	"github.com/getmockd/gqlsubs/pkg/cli/internal/output"
	"github.com/getmockd/gqlsubs/pkg/config"
	"github.com/getmockd/gqlsubs/pkg/filter"
	"github.com/getmockd/gqlsubs/pkg/logging"
)

// ErrInvalidConfig is returned by validate when any check failed.
var ErrInvalidConfig = errors.New("configuration is invalid")

// ValidateOutput is the JSON form of the validate command.
type ValidateOutput struct {
	Valid         bool     `json:"valid"`
	Config        string   `json:"config,omitempty"`
	Subscriptions []string `json:"subscriptions,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

func newValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration without starting the server",
		Long: `Validate the configuration file without starting the server.

This command checks:
  - YAML syntax and unknown keys
  - Field values (addresses, durations, transports, bridges)
  - The GraphQL schema, and that every filter and resolver refers to it
  - Filter expressions and JSONPath conditions compile
  - The connection params JSON Schema compiles`,
		Example: `  gqlsubs validate -c gqlsubs.yaml
  gqlsubs validate -c gqlsubs.yaml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := ValidateOutput{Config: g.configFile}

			cfg, err := loadConfig(cmd, g, nil)
			if err == nil {
				out.Subscriptions, err = validateConfig(cfg)
			}
			if err != nil {
				out.Errors = splitErrors(err)
			}
			out.Valid = len(out.Errors) == 0

			if perr := printResult(cmd, g, out, func() {
				w := cmd.OutOrStdout()
				if out.Valid {
					if len(out.Subscriptions) == 0 {
						output.Warn(cmd.ErrOrStderr(), "schema declares no subscriptions; only queries and mutations will be served")
					}
					fmt.Fprintf(w, "Configuration is valid (%d subscriptions: %s)\n",
						len(out.Subscriptions), strings.Join(out.Subscriptions, ", "))
					return
				}
				fmt.Fprintln(w, "Configuration is invalid:")
				for _, e := range out.Errors {
					fmt.Fprintf(w, "  - %s\n", e)
				}
			}); perr != nil {
				return perr
			}
			if !out.Valid {
				return ErrInvalidConfig
			}
			return nil
		},
	}
}

// validateConfig runs every static check and returns the schema's
// subscription names.
func validateConfig(cfg *config.Config) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	schema, err := cfg.LoadSchema()
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}

	var errs []error
	if err := cfg.ValidateSchema(schema); err != nil {
		errs = append(errs, err)
	}
	if _, err := filter.FromConfig(cfg.Filters, logging.Nop()); err != nil {
		errs = append(errs, err)
	}
	if _, err := auth.FromConfig(cfg.Auth); err != nil {
		errs = append(errs, fmt.Errorf("auth: %w", err))
	}
	return schema.ListSubscriptions(), errors.Join(errs...)
}

// splitErrors flattens a joined error into one message per line.
func splitErrors(err error) []string {
	var out []string
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
