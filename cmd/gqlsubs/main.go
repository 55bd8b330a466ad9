// gqlsubs - GraphQL subscriptions server for the graphql-ws protocol
package main

import (
	"os"

	"github.com/getmockd/gqlsubs/pkg/cli"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	os.Exit(cli.Execute(cli.BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}))
}
