package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/getmockd/gqlsubs/internal/cliconfig"
	"github.com/getmockd/gqlsubs/pkg/cli/internal/output"
	"github.com/getmockd/gqlsubs/pkg/config"
)

const masked = "********"

// sourceKeys are the settings whose origin the config command reports.
var sourceKeys = []string{
	"server.addr",
	"server.transport",
	"server.keepAlive",
	"log.level",
	"log.format",
	"debug",
	"bridges.redis.url",
	"bridges.mqtt.broker",
	"bridges.postgres.dsn",
	"auth.jwt.secret",
}

// ConfigOutput is the JSON form of the config command.
type ConfigOutput struct {
	Config  map[string]interface{} `json:"config"`
	Sources map[string]string      `json:"sources"`
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	f := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long: `Show the configuration serve would run with after applying the config file,
GQLSUBS_* environment variables and flags, and where each overridable value
came from. Secrets are masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, g, f)
			if err != nil {
				return err
			}
			shown := redact(cfg)

			sources := make(map[string]string, len(sourceKeys))
			for _, key := range sourceKeys {
				sources[key] = cliconfig.Source(cfg, key)
			}

			data, err := yaml.Marshal(shown)
			if err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}

			if g.jsonOutput {
				// Reuse the yaml field names in the JSON output.
				var generic map[string]interface{}
				if err := yaml.Unmarshal(data, &generic); err != nil {
					return fmt.Errorf("failed to encode configuration: %w", err)
				}
				return output.JSON(cmd.OutOrStdout(), ConfigOutput{Config: generic, Sources: sources})
			}

			w := cmd.OutOrStdout()
			_, _ = w.Write(data)

			fmt.Fprintln(w)
			fmt.Fprintln(w, "# Sources")
			tw := output.Table(w)
			for _, key := range sourceKeys {
				fmt.Fprintf(tw, "#   %s\t%s\n", key, sources[key])
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&f.addr, "addr", "", "Listen address")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "", "Log format")
	cmd.Flags().StringVar(&f.transport, "transport", "", "WebSocket library")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Debug mode")
	return cmd
}

// redact returns a copy of cfg with secrets masked.
func redact(cfg *config.Config) *config.Config {
	out := *cfg
	if j := cfg.Auth.JWT; j != nil && j.Secret != "" {
		jwt := *j
		jwt.Secret = masked
		out.Auth.JWT = &jwt
	}
	if m := cfg.Bridges.MQTT; m != nil && m.Password != "" {
		mqtt := *m
		mqtt.Password = masked
		out.Bridges.MQTT = &mqtt
	}
	if b := cfg.Bridges.MQTTBroker; b != nil && len(b.Users) > 0 {
		broker := *b
		broker.Users = make(map[string]string, len(b.Users))
		for user := range b.Users {
			broker.Users[user] = masked
		}
		out.Bridges.MQTTBroker = &broker
	}
	return &out
}
