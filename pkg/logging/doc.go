// Package logging configures the log/slog loggers used across gqlsubs.
//
//	logger, closer, err := logging.New(logging.Config{
//	    Level:  logging.ParseLevel("debug"),
//	    Format: logging.FormatJSON,
//	    File:   "/var/log/gqlsubs.log",
//	})
//	if err != nil {
//	    return err
//	}
//	defer closer.Close()
//
// Components take a *slog.Logger through their constructor or an option and
// tag it with Component. A nil logger is replaced by Nop.
package logging
