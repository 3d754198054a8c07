package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// version is overridden at build time with -ldflags "-X smart-router/cmd.version=...".
var version = "dev"

var stdout io.Writer = os.Stdout

const usage = `smart-router classifies queries and answers them with the model that fits.

Usage:
  smart-router serve [flags]
  smart-router version

Commands:
  serve    Start the OpenAI-compatible HTTP server
  version  Print the version

Flags:
  -h, --help     Show this help message
  -v, --version  Print the version`

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return printUsage()
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "version", "-v", "--version":
		return printVersion()
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage() error {
	fmt.Fprintln(stdout, strings.TrimSpace(usage))
	return nil
}

func printVersion() error {
	fmt.Fprintf(stdout, "smart-router %s\n", version)
	return nil
}
