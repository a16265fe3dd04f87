package main

import (
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"ssh-commander/internal/commandfile"
	"ssh-commander/internal/errors"
	"ssh-commander/internal/executor"
	"ssh-commander/internal/filter"
	"ssh-commander/internal/inventory"
	"ssh-commander/internal/output"
	"ssh-commander/internal/ssh"
	"ssh-commander/internal/target"
	"ssh-commander/internal/template"
)

type execOptions struct {
	command     string
	commandFile string
	tags        []string
	hostPattern string
}

func newExecCmd() *cobra.Command {
	opts := &execOptions{}

	cmd := &cobra.Command{
		Use:   "exec (-c COMMAND | -f FILE)",
		Short: "Execute a command or a command file on the configured servers",
		Long: `Execute a command, or every command of a file, on the configured servers.

A command file holds one command per line. Blank lines and lines starting
with # are ignored. Commands are sent exactly as written. With --template
they are rendered per server first and may use fields such as {{.Host}},
{{.User}}, {{.Port}} and {{index .Tags 0}}.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.command, "command", "c", "", "Command to execute")
	cmd.Flags().StringVarP(&opts.commandFile, "file", "f", "", "File with commands to execute, one per line")
	cmd.Flags().StringSliceVar(&opts.tags, "tags", nil, "Only servers carrying one of these tags (untagged servers carry 'default')")
	cmd.Flags().StringVar(&opts.hostPattern, "host", "", "Only servers whose hostname matches this glob pattern")
	cmd.Flags().Bool("template", false, "Render commands as per-server templates ({{.Host}}, {{.User}}, ...)")
	cmd.MarkFlagsMutuallyExclusive("command", "file")
	cmd.MarkFlagsOneRequired("command", "file")

	return cmd
}

func runExec(cmd *cobra.Command, opts *execOptions) error {
	mode, err := output.ParseMode(cfg.Output)
	if err != nil {
		return &UsageError{Message: err.Error()}
	}
	reporter := output.NewReporter(mode, cmd.OutOrStdout(), cmd.ErrOrStderr())

	targets, err := loadTargets(reporter)
	if err != nil || len(targets) == 0 {
		return err
	}

	if opts.hostPattern != "" {
		hostFilter, err := filter.NewHostFilter(opts.hostPattern)
		if err != nil {
			return &UsageError{Message: err.Error()}
		}
		targets = filter.FilterTargets(targets, hostFilter)
		if len(targets) == 0 {
			reporter.NoMatchingTargets(filter.Describe(hostFilter))
			return nil
		}
	}

	commands, err := loadCommands(cmd, opts, reporter)
	if err != nil || len(commands) == 0 {
		return err
	}
	if cfg.Template {
		if err := template.Validate(commands...); err != nil {
			return &UsageError{Message: err.Error()}
		}
	}

	connector, err := newConnector()
	if err != nil {
		return err
	}

	// Interrupts are handled by the executor's wait loop, not by the runtime
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	exec := executor.New(connector, reporter, logger, sigChan, executor.Config{
		PollInterval: cfg.PollInterval,
		ChunkSize:    cfg.ChunkSize,
		Templates:    cfg.Template,
	})

	var res *executor.RunResult
	if opts.commandFile != "" {
		res, err = exec.RunBatch(cmd.Context(), targets, commands, opts.tags...)
	} else {
		res, err = exec.RunOne(cmd.Context(), targets, commands[0], opts.tags...)
	}

	if res != nil && len(res.Outcomes) > 0 {
		if summaryErr := reporter.Summary(res.Report()); summaryErr != nil {
			logger.Error("Failed to write summary", "error", summaryErr)
		}
	}

	if err != nil {
		if errors.IsCancelled(err) {
			return err
		}
		return &SetupError{Message: err.Error()}
	}
	if res.Cancelled {
		return &errors.CancelledError{}
	}
	return nil
}

// loadTargets resolves and reads the servers file. An empty registry is
// reported and yields no targets and no error.
func loadTargets(reporter *output.Reporter) ([]target.Target, error) {
	path, err := inventory.ResolvePath(cfg.Servers)
	if err != nil {
		return nil, &SetupError{Message: err.Error()}
	}

	registry, err := inventory.Load(path)
	if err != nil {
		return nil, &SetupError{Message: err.Error()}
	}
	if registry.Len() == 0 {
		reporter.NoServersConfigured()
		return nil, nil
	}

	targets, skipped := registry.Targets()
	for _, entryErr := range skipped {
		logger.Warn("servers file entry skipped", "error", entryErr.Error())
		reporter.SkippedEntry(entryErr)
	}
	logger.LogTargetsLoaded(path, len(targets))

	return targets, nil
}

// loadCommands returns the literal command or the command file's lines.
// An empty command list is reported and yields no commands and no error.
func loadCommands(cmd *cobra.Command, opts *execOptions, reporter *output.Reporter) ([]string, error) {
	if opts.commandFile == "" {
		if strings.TrimSpace(opts.command) == "" {
			return nil, &UsageError{Message: "no command specified, use -c 'command' or -f file"}
		}
		return []string{opts.command}, nil
	}

	commands, err := commandfile.Load(opts.commandFile)
	if err != nil {
		if stderrors.Is(err, commandfile.ErrNotFound) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\nExample command file format:\n%s\n", commandfile.Example)
		}
		return nil, &SetupError{Message: err.Error()}
	}
	if len(commands) == 0 {
		reporter.NoCommands(opts.commandFile)
		fmt.Fprintln(cmd.ErrOrStderr(), "File should contain one command per line. Lines starting with # are ignored.")
		return nil, nil
	}

	return commands, nil
}

func newConnector() (*ssh.SSHConnector, error) {
	knownHosts := cfg.KnownHosts
	if knownHosts == "" {
		var err error
		if knownHosts, err = ssh.DefaultKnownHostsPath(); err != nil {
			return nil, &SetupError{Message: err.Error()}
		}
	}

	store, err := ssh.NewHostKeyStore(knownHosts, logger)
	if err != nil {
		return nil, &SetupError{Message: err.Error()}
	}

	return ssh.NewConnector(ssh.ConnectorConfig{
		HostKeys: store.Callback(),
		Timeout:  cfg.ConnectTimeout,
		Retries:  cfg.Retries,
		Logger:   logger,
	}), nil
}
