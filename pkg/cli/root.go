package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/getmockd/gqlsubs/internal/cliconfig"
	"github.com/getmockd/gqlsubs/pkg/cli/internal/output"
)

// BuildInfo is injected by main from ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configFile string
	jsonOutput bool
	lookup     cliconfig.LookupFunc
}

// NewRootCommand builds the command tree.
func NewRootCommand(info BuildInfo) *cobra.Command {
	return newRootCommand(info, os.LookupEnv)
}

func newRootCommand(info BuildInfo, lookup cliconfig.LookupFunc) *cobra.Command {
	g := &globalFlags{lookup: lookup}

	root := &cobra.Command{
		Use:   "gqlsubs",
		Short: "gqlsubs is a GraphQL subscriptions server for the graphql-ws protocol",
		Long: `gqlsubs serves GraphQL subscriptions over WebSocket using the graphql-ws
subprotocol (subscriptions-transport-ws). Events are published over HTTP or
bridged from Redis, MQTT and PostgreSQL LISTEN/NOTIFY.

Configuration can be provided via flags, environment variables, or a
configuration file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.configFile, "config", "c", cliconfig.ConfigPathFromEnv(), "Path to the configuration file (env "+cliconfig.EnvConfig+")")
	root.PersistentFlags().BoolVar(&g.jsonOutput, "json", false, "Output command results in JSON format")

	root.AddCommand(
		newServeCmd(g),
		newValidateCmd(g),
		newPublishCmd(g),
		newConfigCmd(g),
		newVersionCmd(g, info),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute(info BuildInfo) int {
	if err := NewRootCommand(info).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// printResult writes data as JSON when --json is set, and otherwise calls
// textFn.
func printResult(cmd *cobra.Command, g *globalFlags, data any, textFn func()) error {
	if g.jsonOutput {
		return output.JSON(cmd.OutOrStdout(), data)
	}
	textFn()
	return nil
}
