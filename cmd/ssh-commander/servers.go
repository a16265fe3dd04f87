package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"ssh-commander/internal/inventory"
	"ssh-commander/internal/target"
)

const defaultKeyFile = "~/.ssh/id_rsa"

// openRegistry loads the servers file for add, list and remove. Unlike exec,
// a missing default file is fine here: add creates it.
func openRegistry() (*inventory.Registry, error) {
	path, err := inventory.ResolvePath(cfg.Servers)
	if err != nil {
		return nil, &SetupError{Message: err.Error()}
	}
	registry, err := inventory.Load(path)
	if err != nil {
		return nil, &SetupError{Message: err.Error()}
	}
	return registry, nil
}

type addOptions struct {
	hostname string
	username string
	password string
	keyFile  string
	port     int
	tags     []string
}

func newAddCmd() *cobra.Command {
	opts := &addOptions{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a server to the servers file",
		Long: `Add a server to the servers file.

Without --hostname the server is described interactively. The password
prompt does not echo.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.hostname, "hostname", "", "Server hostname or IP address")
	cmd.Flags().StringVar(&opts.username, "username", "", "Login user")
	cmd.Flags().StringVar(&opts.password, "password", "", "Login password")
	cmd.Flags().StringVar(&opts.keyFile, "key-file", "", "Private key file")
	cmd.Flags().IntVar(&opts.port, "port", target.DefaultPort, "SSH port")
	cmd.Flags().StringSliceVar(&opts.tags, "tags", nil, "Tags used to select the server")
	cmd.MarkFlagsMutuallyExclusive("password", "key-file")

	return cmd
}

func runAdd(cmd *cobra.Command, opts *addOptions) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if _, statErr := os.Stat(registry.Path()); os.IsNotExist(statErr) {
		color.New(color.FgYellow).Fprintf(out, "\nNo config file found. Creating new one at: %s\n", registry.Path())
	}

	var t target.Target
	if opts.hostname != "" {
		t = target.Target{
			Host:     opts.hostname,
			Port:     opts.port,
			User:     opts.username,
			Password: opts.password,
			KeyFile:  opts.keyFile,
			Tags:     opts.tags,
		}
	} else {
		t, err = promptServer(cmd.InOrStdin(), out, readPassword)
		if err != nil {
			return &SetupError{Message: err.Error()}
		}
	}

	if err := registry.Add(t); err != nil {
		return &UsageError{Message: err.Error()}
	}
	if err := registry.Save(); err != nil {
		return &SetupError{Message: err.Error()}
	}

	color.New(color.FgGreen).Fprintf(out, "\nServer %s added successfully!\n", t.Host)
	return nil
}

// readPassword reads a password from the terminal without echo, falling back
// to a plain line read when stdin is not a terminal
func readPassword(in *bufio.Reader, out io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return readLine(in)
	}
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

func readLine(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// promptServer asks for a server description one field at a time
func promptServer(r io.Reader, out io.Writer, password func(*bufio.Reader, io.Writer) (string, error)) (target.Target, error) {
	in := bufio.NewReader(r)
	ask := func(prompt string) (string, error) {
		fmt.Fprint(out, prompt)
		return readLine(in)
	}

	fmt.Fprintln(out, "\nAdding a new server to the configuration")

	var t target.Target
	var err error
	if t.Host, err = ask("Enter hostname: "); err != nil {
		return t, err
	}
	if t.User, err = ask("Enter username: "); err != nil {
		return t, err
	}

	authType, err := ask("Authentication type (key/password): ")
	if err != nil {
		return t, err
	}
	switch strings.ToLower(authType) {
	case "key":
		if t.KeyFile, err = ask(fmt.Sprintf("Enter path to SSH key file (default: %s): ", defaultKeyFile)); err != nil {
			return t, err
		}
		if t.KeyFile == "" {
			t.KeyFile = defaultKeyFile
		}
	case "password":
		fmt.Fprint(out, "Enter password: ")
		if t.Password, err = password(in, out); err != nil {
			return t, err
		}
	default:
		return t, fmt.Errorf("unknown authentication type %q, expected key or password", authType)
	}

	port, err := ask(fmt.Sprintf("Enter SSH port (default: %d): ", target.DefaultPort))
	if err != nil {
		return t, err
	}
	if port != "" {
		if t.Port, err = strconv.Atoi(port); err != nil {
			return t, fmt.Errorf("invalid port %q", port)
		}
	}

	tags, err := ask("Enter tags, comma separated (default: default): ")
	if err != nil {
		return t, err
	}
	for _, tag := range strings.Split(tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			t.Tags = append(t.Tags, tag)
		}
	}

	return t, nil
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := openRegistry()
			if err != nil {
				return err
			}
			listServers(cmd.OutOrStdout(), registry.Servers())
			return nil
		},
	}
}

func listServers(out io.Writer, servers []inventory.Server) {
	if len(servers) == 0 {
		color.New(color.FgHiYellow).Fprintln(out, "No servers configured.")
		return
	}

	heading := color.New(color.FgHiGreen)
	name := color.New(color.FgHiCyan)
	label := color.New(color.FgHiBlue).SprintFunc()

	heading.Fprintln(out, "\nConfigured Servers:")
	for i, s := range servers {
		name.Fprintf(out, "\n%d. %s\n", i+1, s.Hostname)
		fmt.Fprintf(out, "   %s %s\n", label("Username:"), s.Username)

		auth := color.New(color.FgGreen).Sprint("key")
		if s.KeyFile == "" {
			auth = color.New(color.FgYellow).Sprint("password")
		}
		fmt.Fprintf(out, "   %s %s\n", label("Auth Type:"), auth)

		if s.Port != 0 {
			fmt.Fprintf(out, "   %s %d\n", label("Port:"), s.Port)
		}
		if len(s.Tags) > 0 {
			fmt.Fprintf(out, "   %s %s\n", label("Tags:"), strings.Join(s.Tags, ", "))
		}
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove HOSTNAME",
		Short: "Remove a server from the servers file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostname := args[0]

			registry, err := openRegistry()
			if err != nil {
				return err
			}
			if !registry.Remove(hostname) {
				return &SetupError{Message: fmt.Sprintf("server '%s' not found in configuration, use 'ssh-commander list' to see configured servers", hostname)}
			}
			if err := registry.Save(); err != nil {
				return &SetupError{Message: err.Error()}
			}

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Server %s removed successfully!\n", hostname)
			return nil
		},
	}
}
