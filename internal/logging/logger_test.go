package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssh-commander/internal/target"
)

func TestLogConnectionNeverLogsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})

	tgt := target.Target{Host: "web1", User: "deploy", Port: 22, Password: "hunter2"}
	logger.LogConnection(tgt, 15*time.Millisecond, 0)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ssh connection established", record["msg"])
	assert.Equal(t, "web1", record["host"])
	assert.Equal(t, "password", record["auth"])
	assert.NotContains(t, buf.String(), "hunter2")
}

func TestQuietSuppressesNonErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: LevelDebug, Output: &buf, Quiet: true})

	logger.Info("hello")
	logger.Warn("careful")
	assert.Empty(t, buf.String())

	logger.LogCleanupError(errors.New("close failed"))
	assert.Contains(t, buf.String(), "cleanup failed")
	assert.True(t, logger.IsQuiet())
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: LevelWarn, Output: &buf})

	logger.Info("dropped")
	logger.Warn("kept")
	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
}

func TestWithAddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: LevelInfo, Output: &buf}).With("run_id", "abc")

	logger.Info("run started")
	assert.True(t, strings.Contains(buf.String(), "run_id=abc"), buf.String())
}

func TestNewLoggerFromConfigDefaults(t *testing.T) {
	logger := NewLoggerFromConfig("bogus", "bogus", false)
	require.NotNil(t, logger)
	assert.Equal(t, LevelWarn, logger.config.Level)
	assert.Equal(t, FormatText, logger.config.Format)
}
