package cliconfig

import (
	"github.com/getmockd/gqlsubs/pkg/config"
)

// Overrides holds values set by command-line flags. Empty fields are not
// applied.
type Overrides struct {
	Addr      string
	LogLevel  string
	LogFormat string
	Transport string
	Debug     *bool
}

// Load builds the effective configuration.
// Precedence: flags > env > config file > defaults.
func Load(path string, flags Overrides, lookup LookupFunc) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		fileCfg, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
		cfg.Sources["file"] = path
	}

	ApplyEnv(cfg, lookup)
	ApplyFlags(cfg, flags)
	return cfg, nil
}

// ApplyFlags applies flag overrides to cfg.
func ApplyFlags(cfg *config.Config, flags Overrides) {
	if cfg.Sources == nil {
		cfg.Sources = make(map[string]string)
	}
	if flags.Addr != "" {
		cfg.Server.Addr = flags.Addr
		cfg.Sources["server.addr"] = SourceFlag
	}
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
		cfg.Sources["log.level"] = SourceFlag
	}
	if flags.LogFormat != "" {
		cfg.Log.Format = flags.LogFormat
		cfg.Sources["log.format"] = SourceFlag
	}
	if flags.Transport != "" {
		cfg.Server.Transport = flags.Transport
		cfg.Sources["server.transport"] = SourceFlag
	}
	if flags.Debug != nil {
		cfg.Debug = *flags.Debug
		cfg.Sources["debug"] = SourceFlag
	}
}

// Source returns where the value for key came from.
func Source(cfg *config.Config, key string) string {
	if s, ok := cfg.Sources[key]; ok {
		return s
	}
	if cfg.Sources["file"] != "" {
		return SourceFile
	}
	return SourceDefault
}
