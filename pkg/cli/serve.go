package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/getmockd/gqlsubs/internal/cliconfig"
	"github.com/getmockd/gqlsubs/pkg/config"
	"github.com/getmockd/gqlsubs/pkg/logging"
	"github.com/getmockd/gqlsubs/pkg/server"
)

type serveFlags struct {
	addr      string
	logLevel  string
	logFormat string
	transport string
	debug     bool
}

func newServeCmd(g *globalFlags) *cobra.Command {
	f := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the subscription server (foreground)",
		Long: `Start the subscription server. The WebSocket endpoint and the HTTP query
endpoint share server.path; events are accepted on server.publishPath/{name}
and from the configured bridges. SIGINT or SIGTERM closes every client
connection and shuts the server down gracefully.`,
		Example: `  # Start with a config file
  gqlsubs serve -c gqlsubs.yaml

  # Override the listen address and use the gorilla transport
  gqlsubs serve -c gqlsubs.yaml --addr :9090 --transport gorilla

  # Debug logging as JSON
  gqlsubs serve -c gqlsubs.yaml --log-level debug --log-format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, g, f)
			if err != nil {
				return err
			}

			logger, closer, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			srv, err := server.New(cfg, server.WithLogger(logger))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := srv.Run(ctx); err != nil {
				return err
			}
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&f.addr, "addr", "", "Listen address (env "+cliconfig.EnvAddr+")")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error (env "+cliconfig.EnvLogLevel+")")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "", "Log format: text or json (env "+cliconfig.EnvLogFormat+")")
	cmd.Flags().StringVar(&f.transport, "transport", "", "WebSocket library: coder or gorilla (env "+cliconfig.EnvTransport+")")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Include panic details in resolver errors (env "+cliconfig.EnvDebug+")")
	return cmd
}

// loadConfig resolves the effective configuration for cmd. f may be nil for
// commands without server flags.
func loadConfig(cmd *cobra.Command, g *globalFlags, f *serveFlags) (*config.Config, error) {
	var overrides cliconfig.Overrides
	if f != nil {
		overrides = cliconfig.Overrides{
			Addr:      f.addr,
			LogLevel:  f.logLevel,
			LogFormat: f.logFormat,
			Transport: f.transport,
		}
		if cmd.Flags().Changed("debug") {
			overrides.Debug = &f.debug
		}
	}
	cfg, err := cliconfig.Load(g.configFile, overrides, g.lookup)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, io.Closer, error) {
	return logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: logging.ParseFormat(cfg.Log.Format),
		Output: w,
		File:   cfg.Log.File,
	})
}
