package main

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/brojonat/kotomo/client"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "kotomo",
		Usage: "Companion wallet CLI for an ICRC-1 ledger",
		Description: `A command-line tool for the kotomo wallet server.

Use this CLI to check balances, send tokens and inspect transaction history.
Amount conversion commands (format, parse) work offline.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			tokenCommand(),
			balanceCommand(),
			sendCommand(),
			historyCommand(),
			refreshCommand(),
			watchCommand(),
			standardsCommand(),
			validateCommand(),
			formatCommand(),
			parseCommand(),
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   "http://localhost:8080",
				Usage:   "Wallet server URL",
				EnvVars: []string{"KOTOMO_SERVER_URL"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Second,
				Usage: "Request timeout",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}

// newClient builds an API client from the global flags.
func newClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	httpClient := &http.Client{Timeout: c.Duration("timeout")}
	return client.NewClient(c.String("server"), httpClient, logger)
}

// printJSON writes v as indented JSON to the app's writer.
func printJSON(c *cli.Context, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(c.App.Writer, string(data))
	return nil
}
