package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// APIFlags holds daemon connection flags shared by client commands.
type APIFlags struct {
	URL     string
	Timeout time.Duration
}

// StartFlags holds flags for the start command.
type StartFlags struct {
	API               APIFlags
	AllowNoDataSource bool
}

// StopFlags holds flags for the stop command.
type StopFlags struct {
	API  APIFlags
	Wait time.Duration
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
	Listen     string
}

func buildRoot() *cobra.Command {
	c := command{out: os.Stdout}
	root := createRootCommand()
	root.AddCommand(
		createServeCommand(),
		createStatusCommand(c),
		createStartCommand(c),
		createStopCommand(c),
		createSelectCommand(c),
		createEventsCommand(c),
		createVersionCommand(),
	)
	return root
}

func createRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scoutd",
		Short: "Backend worker supervisor daemon",
		Long: `Scoutd owns a single local backend worker process: it allocates a fresh
port per start, spawns the worker against the selected data source, confirms
readiness over HTTP, and restarts it on demand.

Examples:
  scoutd serve --config=scoutd.toml   # Run the daemon
  scoutd select /data/current.db      # Pick a data source and restart
  scoutd status                       # Inspect the daemon
  scoutd events                       # Stream lifecycle events`,
	}
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.URL, "api-url", "", "daemon URL (default http://127.0.0.1:7466/api/v1)")
	cmd.Flags().DurationVar(&f.Timeout, "api-timeout", 10*time.Second, "request timeout")
}

func createServeCommand() *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the scoutd daemon",
		Long: `Run the scoutd daemon: load the config, expose the control API, and
supervise the worker process.

Examples:
  scoutd serve --config=scoutd.toml
  scoutd serve scoutd.toml --listen=127.0.0.1:9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags, args)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "override the configured API listen address")
	return cmd
}

func createStatusCommand(c command) *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and worker status",
		Long: `Show the daemon's coordination state, the worker process detail and the
latest resource sample.

Examples:
  scoutd status
  scoutd status --api-url=http://127.0.0.1:9000/api/v1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(*flags)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createStartCommand(c command) *cobra.Command {
	flags := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the worker",
		Long: `Ask the daemon to start the worker with the current data source.

Examples:
  scoutd start
  scoutd start --allow-no-datasource  # start without a selection`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(*flags)
		},
	}
	cmd.Flags().BoolVar(&flags.AllowNoDataSource, "allow-no-datasource", false, "start even when no data source is selected")
	addAPIFlags(cmd, &flags.API)
	return cmd
}

func createStopCommand(c command) *cobra.Command {
	flags := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the worker",
		Long: `Ask the daemon to terminate the worker. The daemon keeps running.

Examples:
  scoutd stop
  scoutd stop --wait=5s  # allow more time for a cooperative exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(*flags)
		},
	}
	cmd.Flags().DurationVar(&flags.Wait, "wait", 0, "grace for cooperative shutdown (0 uses the daemon's config)")
	addAPIFlags(cmd, &flags.API)
	return cmd
}

func createSelectCommand(c command) *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "select <path>",
		Short: "Select a data source and restart the worker",
		Long: `Validate the given data source file, remember it, and restart the worker
against it. Relative paths are resolved locally before sending.

Examples:
  scoutd select /data/current.db
  scoutd select ./snapshots/2026-08.sqlite`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Select(*flags, args[0])
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createEventsCommand(c command) *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream lifecycle events",
		Long: `Subscribe to the daemon's lifecycle events and print them as JSON lines
until interrupted.

Example:
  scoutd events | jq .type`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Events(*flags)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print scoutd version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "scoutd", version)
		},
	}
}
