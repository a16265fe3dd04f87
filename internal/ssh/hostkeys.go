package ssh

import (
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"ssh-commander/internal/logging"
)

// HostKeyStore is a trust-on-first-use known_hosts file. Unknown hosts are
// appended; a host whose key changed is rejected.
type HostKeyStore struct {
	path   string
	logger *logging.Logger
	mu     sync.Mutex
}

// DefaultKnownHostsPath returns ~/.ssh/known_hosts
func DefaultKnownHostsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".ssh", "known_hosts"), nil
}

// NewHostKeyStore opens the known_hosts file at path, creating it and its
// directory when missing.
func NewHostKeyStore(path string, logger *logging.Logger) (*HostKeyStore, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open known_hosts file: %w", err)
	}
	f.Close()

	return &HostKeyStore{path: path, logger: logger}, nil
}

// Path returns the backing file
func (s *HostKeyStore) Path() string { return s.path }

// Callback returns the ssh.HostKeyCallback enforcing the store's policy
func (s *HostKeyStore) Callback() ssh.HostKeyCallback {
	return s.check
}

func (s *HostKeyStore) check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-read on every check so keys added earlier in the run are seen
	known, err := knownhosts.New(s.path)
	if err != nil {
		return fmt.Errorf("failed to read known_hosts: %w", err)
	}

	err = known(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if stderrors.As(err, &keyErr) && len(keyErr.Want) == 0 {
		return s.add(hostname, key)
	}

	return err
}

func (s *HostKeyStore) add(hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts for writing: %w", err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("failed to record host key: %w", err)
	}

	s.logger.LogHostKeyAdded(hostname, key.Type(), ssh.FingerprintSHA256(key))
	return nil
}
