package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ssh-commander/internal/config"
	"ssh-commander/internal/errors"
	"ssh-commander/internal/logging"
)

var (
	// Build-time variables (set via -ldflags)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	// Global configuration, loaded before any subcommand runs
	cfg    *config.Config
	logger *logging.Logger

	// --config names the servers file and wins over the servers key
	serversFile string
)

func main() {
	err := newRootCmd().ExecuteContext(context.Background())
	if err != nil {
		reportError(os.Stderr, err)
	}
	os.Exit(getExitCode(err))
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ssh-commander",
		Short: "Run shell commands across a fleet of SSH servers",
		Long: `ssh-commander runs a command, or a file of commands, on every server in
its servers file, one server at a time, streaming remote output as it arrives.

Ctrl+C interrupts the running command and skips the rest of that server's
commands. A second Ctrl+C aborts the whole run.

Examples:
  # Execute a command on all servers
  ssh-commander exec -c 'uptime'

  # Execute multiple commands from a file on servers tagged web
  ssh-commander exec -f commands.txt --tags web

  # Add a new server
  ssh-commander add

  # List configured servers
  ssh-commander list

  # Remove a server
  ssh-commander remove server1.example.com`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&serversFile, "config", "", "Path to the servers file")
	flags.String("known-hosts", "", "known_hosts file used to verify servers (default ~/.ssh/known_hosts)")
	flags.Duration("connect-timeout", 30*time.Second, "Connection and handshake timeout")
	flags.Duration("poll-interval", 100*time.Millisecond, "Output and exit status polling interval")
	flags.Int("chunk-size", 4096, "Bytes read per stream per poll")
	flags.Int("retries", 0, "Connection retries per server")
	flags.String("output", "text", "Summary format (text, json)")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (json, text)")
	flags.Bool("quiet", false, "Suppress non-error logs")
	flags.Bool("no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		newExecCmd(),
		newAddCmd(),
		newListCmd(),
		newRemoveCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		// Printing the version never depends on a readable configuration
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ssh-commander %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
		},
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	manager := config.NewManager()
	if err := manager.BindFlags(cmd.Flags()); err != nil {
		return &SetupError{Message: fmt.Sprintf("failed to apply CLI flags: %v", err)}
	}

	loaded, err := manager.Load()
	if err != nil {
		return &SetupError{Message: fmt.Sprintf("failed to load configuration: %v", err)}
	}
	if cmd.Flags().Changed("config") {
		loaded.Servers = serversFile
	}
	cfg = loaded

	if cfg.NoColor {
		color.NoColor = true
	}

	logger = logging.NewLoggerFromConfig(cfg.LogLevel, cfg.LogFormat, cfg.Quiet)
	source := manager.ConfigFile()
	if source == "" {
		source = "defaults, environment and CLI flags"
	}
	logger.LogConfigLoad(source)

	return nil
}

// SetupError represents an unrecoverable local error: bad configuration,
// an unreadable command file or servers file (exit code 1)
type SetupError struct {
	Message string
}

func (e *SetupError) Error() string {
	return e.Message
}

// UsageError represents invalid arguments (exit code 2)
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

// getExitCode determines the appropriate exit code based on error type
// Returns:
//   - 0: Run completed, even with failed servers or non-zero remote statuses
//   - 130: Run cancelled by the user
//   - 1: Unrecoverable local error
//   - 2: Usage error (unknown flags, missing or conflicting arguments)
func getExitCode(err error) int {
	if err == nil {
		return 0
	}

	var setupErr *SetupError
	var usageErr *UsageError
	switch {
	case errors.IsCancelled(err):
		return 130
	case stderrors.As(err, &setupErr):
		return 1
	case stderrors.As(err, &usageErr):
		return 2
	default:
		// Anything else comes from cobra's own argument and flag parsing
		return 2
	}
}

// reportError prints a failed command's error. Cancellation was already
// reported while the run unwound.
func reportError(w io.Writer, err error) {
	if errors.IsCancelled(err) {
		return
	}
	color.New(color.FgRed).Fprintf(w, "Error: %v\n", err)

	var setupErr *SetupError
	if !stderrors.As(err, &setupErr) {
		fmt.Fprintln(w, "Run 'ssh-commander --help' for usage.")
	}
}
