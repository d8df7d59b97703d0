package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

// CLI represents the main CLI structure
type CLI struct {
	Config   string `help:"Config file path"`
	BaseURL  string `help:"Custom API base URL"`
	LogLevel string `default:"warn" help:"Log level"`

	Chat     ChatCmd     `cmd:"" help:"Send a message to the conversation endpoint"`
	Report   ReportCmd   `cmd:"" help:"Export the diagnostics report for a conversation"`
	Sessions SessionsCmd `cmd:"" help:"List stored conversation metadata"`
	Migrate  MigrateCmd  `cmd:"" help:"Database migrations"`
	Version  VersionCmd  `cmd:"" help:"Show version"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("flowscope"),
		kong.Description("Streaming conversation client with workflow diagnostics"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	err := ctx.Run(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
