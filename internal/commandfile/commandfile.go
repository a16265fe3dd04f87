// Package commandfile reads the command list run by "exec -f".
package commandfile

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Example is printed when a command file cannot be found
const Example = `  # Check system uptime
  uptime
  # Check disk space
  df -h`

// ErrNotFound is returned when the command file does not exist
var ErrNotFound = stderrors.New("command file not found")

// Load reads the commands in path, one per line
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open command file: %w", err)
	}
	defer f.Close()

	commands, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read command file %s: %w", path, err)
	}
	return commands, nil
}

// Parse returns the trimmed non-empty lines of r, skipping lines that
// start with '#'.
func Parse(r io.Reader) ([]string, error) {
	var commands []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		commands = append(commands, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return commands, nil
}
