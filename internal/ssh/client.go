package ssh

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/ssh"

	"ssh-commander/internal/errors"
	"ssh-commander/internal/logging"
	"ssh-commander/internal/target"
)

// DefaultConnectTimeout bounds the TCP dial and the SSH handshake
const DefaultConnectTimeout = 30 * time.Second

// Connector establishes authenticated connections to targets
type Connector interface {
	// Connect dials the target and authenticates with its single credential
	Connect(ctx context.Context, t target.Target) (Conn, error)
}

// Conn is a live authenticated transport to one host
type Conn interface {
	// NewSession opens a channel on the connection and starts command on it
	NewSession(command string) (Session, error)

	// Host returns the hostname the connection was made to
	Host() string

	// Close terminates the connection. Calling it more than once is safe.
	Close() error
}

// Session is one remote command execution. The readiness checks never block.
type Session interface {
	StdoutReady() bool
	StderrReady() bool
	ExitReady() bool

	ReadStdout(p []byte) (int, error)
	ReadStderr(p []byte) (int, error)

	// Send writes p to the remote process's stdin
	Send(p []byte) error

	// ExitStatus returns the remote exit code once ExitReady is true.
	// It returns -1 and an error when the remote sent no status.
	ExitStatus() (int, error)

	// Close tears the channel down. Calling it more than once is safe.
	Close() error
}

// Dialer opens the raw network connection to a target
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ConnectorConfig holds the injected collaborators of an SSHConnector
type ConnectorConfig struct {
	Dialer   Dialer
	HostKeys ssh.HostKeyCallback
	Timeout  time.Duration
	Retries  int
	Logger   *logging.Logger
}

// SSHConnector implements Connector using golang.org/x/crypto/ssh
type SSHConnector struct {
	dialer   Dialer
	hostKeys ssh.HostKeyCallback
	timeout  time.Duration
	retries  int
	logger   *logging.Logger
}

// NewConnector creates a connector. A nil host key callback is refused at
// connect time rather than silently accepting every key.
func NewConnector(cfg ConnectorConfig) *SSHConnector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConnectTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	return &SSHConnector{
		dialer:   cfg.Dialer,
		hostKeys: cfg.HostKeys,
		timeout:  cfg.Timeout,
		retries:  cfg.Retries,
		logger:   cfg.Logger,
	}
}

// Connect establishes an SSH connection to the target host
func (c *SSHConnector) Connect(ctx context.Context, t target.Target) (Conn, error) {
	startTime := time.Now()

	config, err := c.buildSSHConfig(t)
	if err != nil {
		return nil, err
	}

	var (
		client  *ssh.Client
		attempt int
	)

	operation := func() error {
		attempt++
		cl, err := c.dial(ctx, t, config)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		client = cl
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.retries)),
		ctx,
	)

	notify := func(err error, wait time.Duration) {
		c.logger.LogRetry(t, attempt, wait, err)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		c.logger.LogConnectionError(t, err, attempt)
		return nil, &errors.ConnectError{Host: t.Host, Err: err}
	}

	c.logger.LogConnection(t, time.Since(startTime), attempt)

	return &sshConn{host: t.Host, client: client}, nil
}

func (c *SSHConnector) dial(ctx context.Context, t target.Target, config *ssh.ClientConfig) (*ssh.Client, error) {
	address := t.Address()

	netConn, err := c.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	// The handshake itself is not context aware
	stop := context.AfterFunc(ctx, func() { netConn.Close() })
	defer stop()
	_ = netConn.SetDeadline(time.Now().Add(c.timeout))

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, config)
	if err != nil {
		netConn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	_ = netConn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// retryable reports whether a connect failure may succeed on another attempt.
// Authentication and host key failures never do.
func retryable(err error) bool {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch errors.ClassifyError(err).Type {
	case errors.AuthenticationErrorType, errors.CredentialErrorType:
		return false
	}
	return true
}

// buildSSHConfig creates an SSH client configuration with the target's one auth method
func (c *SSHConnector) buildSSHConfig(t target.Target) (*ssh.ClientConfig, error) {
	if c.hostKeys == nil {
		return nil, &errors.ConnectError{Host: t.Host, Err: fmt.Errorf("no host key policy configured")}
	}

	auth, err := authMethods(t)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            auth,
		HostKeyCallback: c.hostKeys,
		Timeout:         c.timeout,
	}, nil
}

func authMethods(t target.Target) ([]ssh.AuthMethod, error) {
	if t.KeyFile != "" {
		signer, err := loadKey(t.Host, t.KeyFile)
		if err != nil {
			return nil, err
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	if t.Password == "" {
		return nil, &errors.CredentialError{Host: t.Host, Message: "no credential configured"}
	}

	password := t.Password
	return []ssh.AuthMethod{
		ssh.Password(password),
		ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = password
			}
			return answers, nil
		}),
	}, nil
}

// loadKey reads and parses a private key file. The path is expanded and made
// absolute first.
func loadKey(host, keyFile string) (ssh.Signer, error) {
	path, err := expandPath(keyFile)
	if err != nil {
		return nil, &errors.CredentialError{Host: host, Path: keyFile, Message: "invalid key file path", Err: err}
	}

	if _, err := os.Stat(path); err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, &errors.CredentialError{Host: host, Path: path, Message: "key file not found"}
		}
		return nil, &errors.CredentialError{Host: host, Path: path, Message: "cannot access key file", Err: err}
	}

	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.CredentialError{Host: host, Path: path, Message: "failed to read key file", Err: err}
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if stderrors.As(err, &missing) {
			return nil, &errors.CredentialError{Host: host, Path: path, Message: "passphrase-protected key files are not supported"}
		}
		return nil, &errors.CredentialError{Host: host, Path: path, Message: "failed to parse key file", Err: err}
	}

	return signer, nil
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}

// sshConn implements Conn over an *ssh.Client
type sshConn struct {
	host   string
	client *ssh.Client

	closeOnce sync.Once
	closeErr  error
}

func (c *sshConn) Host() string { return c.host }

func (c *sshConn) NewSession(command string) (Session, error) {
	return startSession(c.client, command)
}

func (c *sshConn) Close() error {
	c.closeOnce.Do(func() {
		err := c.client.Close()
		if err != nil && !stderrors.Is(err, net.ErrClosed) && !stderrors.Is(err, io.EOF) {
			c.closeErr = err
		}
	})
	return c.closeErr
}
