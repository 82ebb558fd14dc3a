package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/aristath/stockwatch/internal/poller"
	"github.com/aristath/stockwatch/pkg/logger"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app carries the state shared by all subcommands.
type app struct {
	serverURL string
	timeout   time.Duration
	jsonOut   bool
	noColor   bool
	verbose   bool

	client *poller.HTTPClient
	log    zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "watch",
		Short: "Terminal client for the stockwatch analysis service",
		Long: `watch submits security analyses to a stockwatch server and follows them
until they finish, and manages the server's monitoring jobs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "warn"
			if a.verbose {
				level = "debug"
			}
			a.log = logger.NewWithWriter(logger.Config{Level: level, Pretty: true}, cmd.ErrOrStderr())
			a.client = poller.NewHTTPClient(a.serverURL, a.timeout)
			if a.noColor {
				color.NoColor = true
			}
		},
	}

	defaultURL := os.Getenv("STOCKWATCH_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.serverURL, "server", defaultURL, "stockwatch server URL (env STOCKWATCH_URL)")
	flags.DurationVar(&a.timeout, "request-timeout", 30*time.Second, "timeout of a single HTTP request")
	flags.BoolVar(&a.jsonOut, "json", false, "print raw JSON instead of formatted output")
	flags.BoolVar(&a.noColor, "no-color", false, "disable coloured output")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newAnalyzeCmd(a), newLatestCmd(a), newMonitorCmd(a))
	return root
}

// commandContext returns the command context, or Background when none was set.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
