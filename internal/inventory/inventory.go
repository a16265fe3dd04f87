// Package inventory manages the YAML servers file ssh-commander runs against.
package inventory

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"ssh-commander/internal/target"
)

// FileName is the servers file looked up next to the executable
const FileName = "servers.yaml"

// Server is one entry of the servers file
type Server struct {
	Hostname string   `yaml:"hostname"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password,omitempty"`
	KeyFile  string   `yaml:"key_file,omitempty"`
	Port     int      `yaml:"port,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
}

// Target converts the entry into a target descriptor with defaults applied.
// It is not validated: a misconfigured entry fails only its own visit.
func (s Server) Target() target.Target {
	return target.Target{
		Host:     s.Hostname,
		Port:     s.Port,
		User:     s.Username,
		Password: s.Password,
		KeyFile:  s.KeyFile,
		Tags:     s.Tags,
	}.WithDefaults()
}

// EntryError reports a servers file entry that cannot become a target
type EntryError struct {
	Index int // 1-based position in the file
	Path  string
	Err   error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("server entry %d in %s: %v", e.Index, e.Path, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// errNoHostname marks entries that cannot be attributed to any host
var errNoHostname = stderrors.New("hostname is required")

// FromTarget converts a descriptor back into a file entry, leaving defaults implicit
func FromTarget(t target.Target) Server {
	s := Server{
		Hostname: t.Host,
		Username: t.User,
		Password: t.Password,
		KeyFile:  t.KeyFile,
	}
	if t.Port != 0 && t.Port != target.DefaultPort {
		s.Port = t.Port
	}
	if !(len(t.Tags) == 1 && t.Tags[0] == target.DefaultTag) {
		s.Tags = t.Tags
	}
	return s
}

// Registry is the in-memory view of a servers file
type Registry struct {
	path    string
	servers []Server
}

// DefaultPath returns ~/.config/ssh-commander/servers.yaml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ssh-commander", FileName), nil
}

// ResolvePath picks the servers file: an explicit path, which must exist,
// else servers.yaml next to the executable, else the default path.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		info, err := os.Stat(explicit)
		if err != nil {
			return "", fmt.Errorf("config file '%s' not found", explicit)
		}
		if info.IsDir() {
			return "", fmt.Errorf("config file '%s' is a directory", explicit)
		}
		return explicit, nil
	}

	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return DefaultPath()
}

// Load reads the servers file at path. A missing file is an empty registry.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read servers file: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return r, nil
	}

	if err := yaml.Unmarshal(data, &r.servers); err != nil {
		return nil, fmt.Errorf("failed to parse servers file %s: %w", path, err)
	}

	return r, nil
}

// Path returns the file the registry was loaded from
func (r *Registry) Path() string { return r.path }

// Servers returns the entries in file order
func (r *Registry) Servers() []Server { return r.servers }

// Len returns the number of entries
func (r *Registry) Len() int { return len(r.servers) }

// Targets converts every entry that names a host, in file order. Entries
// with other problems are still returned and fail when visited. Entries
// without a hostname are skipped and reported one EntryError each.
func (r *Registry) Targets() ([]target.Target, []*EntryError) {
	targets := make([]target.Target, 0, len(r.servers))
	var skipped []*EntryError
	for i, s := range r.servers {
		t := s.Target()
		if t.Host == "" {
			skipped = append(skipped, &EntryError{Index: i + 1, Path: r.path, Err: errNoHostname})
			continue
		}
		targets = append(targets, t)
	}
	return targets, skipped
}

// Add validates t and appends it. Hostnames are unique within a file.
func (r *Registry) Add(t target.Target) error {
	t, err := target.New(t)
	if err != nil {
		return err
	}
	for _, s := range r.servers {
		if strings.EqualFold(s.Hostname, t.Host) {
			return fmt.Errorf("server %s already exists", t.Host)
		}
	}
	r.servers = append(r.servers, FromTarget(t))
	return nil
}

// Remove drops every entry with hostname and reports whether any matched
func (r *Registry) Remove(hostname string) bool {
	kept := r.servers[:0]
	for _, s := range r.servers {
		if s.Hostname != hostname {
			kept = append(kept, s)
		}
	}
	removed := len(kept) < len(r.servers)
	r.servers = kept
	return removed
}

// Save writes the registry atomically, creating the directory if needed.
// The file holds credentials and is kept private to the owner.
func (r *Registry) Save() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	servers := r.servers
	if servers == nil {
		servers = []Server{}
	}
	data, err := yaml.Marshal(servers)
	if err != nil {
		return fmt.Errorf("failed to encode servers: %w", err)
	}

	if err := atomic.WriteFile(r.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write servers file: %w", err)
	}
	if err := os.Chmod(r.path, 0o600); err != nil {
		return fmt.Errorf("failed to restrict servers file permissions: %w", err)
	}

	return nil
}
