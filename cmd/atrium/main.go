// Command atrium runs the multi-agent turn pipeline as an HTTP server.
//
// Usage:
//
//	atrium serve --config atrium.yaml
//	atrium version
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	atrium "github.com/atriumhq/atrium"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the API server."`

	Config   string `short:"c" help:"Path to config file." default:"atrium.yaml" type:"path"`
	LogLevel string `help:"Log level override (debug, info, warn, error)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(atrium.GetVersion().String())
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("atrium"),
		kong.Description("Multi-agent conversation backend"),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
