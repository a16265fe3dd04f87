package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plainReporter(mode Mode) (*Reporter, *bytes.Buffer, *bytes.Buffer) {
	color.NoColor = true
	var out, errOut bytes.Buffer
	return NewReporter(mode, &out, &errOut), &out, &errOut
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, TextMode, m)

	m, err = ParseMode("json")
	require.NoError(t, err)
	assert.Equal(t, JSONMode, m)

	_, err = ParseMode("yaml")
	assert.Error(t, err)
}

func TestReporterLines(t *testing.T) {
	r, out, errOut := plainReporter(TextMode)

	r.CommandHeader("uptime")
	r.TargetHeader("web1")
	r.BatchHeader("db1")
	r.BatchCommand("df -h")
	r.ExitStatus(2)
	r.ConnectFailed(fmt.Errorf("error connecting to db2: connection refused"))
	r.NoMatchingTargets("tags: cache")

	assert.Equal(t, "Executing command: uptime\n\nExecuting on web1\n\n=== Executing commands on db1 ===\n>>> df -h\n", out.String())
	assert.Contains(t, errOut.String(), "Warning: command exited with status 2\n")
	assert.Contains(t, errOut.String(), "error connecting to db2: connection refused\n")
	assert.Contains(t, errOut.String(), "No matching targets (tags: cache)\n")
}

func sampleReport() RunReport {
	return RunReport{
		RunID: "run-1",
		Targets: []TargetReport{
			{Host: "a", Status: "success", Commands: []CommandReport{{Command: "true", ExitStatus: 0}, {Command: "false", ExitStatus: 1}}},
			{Host: "b", Status: "failed", Error: "error connecting to b: connection refused"},
			{Host: "c", Status: "cancelled"},
		},
		Succeeded: 1,
		Failed:    1,
		Skipped:   1,
		Cancelled: true,
		Duration:  1500 * time.Millisecond,
		Errors:    "total: 1 errors (1 connection)",
	}
}

func TestTextSummary(t *testing.T) {
	r, out, errOut := plainReporter(TextMode)
	require.NoError(t, r.Summary(sampleReport()))

	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Completed on 3 target(s): 1 succeeded, 1 failed, 1 cancelled in 1.5s")
	assert.Contains(t, errOut.String(), "total: 1 errors (1 connection)")
}

func TestTextSummarySkipsEmptyRuns(t *testing.T) {
	r, _, errOut := plainReporter(TextMode)
	require.NoError(t, r.Summary(RunReport{RunID: "x"}))
	assert.Empty(t, errOut.String())
}

func TestJSONSummaryIsNDJSON(t *testing.T) {
	r, out, _ := plainReporter(JSONMode)
	require.NoError(t, r.Summary(sampleReport()))

	var lines []map[string]any
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var obj map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &obj))
		lines = append(lines, obj)
	}
	require.Len(t, lines, 4)

	assert.Equal(t, "a", lines[0]["host"])
	assert.Equal(t, "run-1", lines[0]["run_id"])
	assert.Len(t, lines[0]["commands"], 2)
	assert.Equal(t, "failed", lines[1]["status"])

	run := lines[3]
	assert.Equal(t, float64(3), run["targets"])
	assert.Equal(t, float64(1500), run["duration_ms"])
	assert.Equal(t, true, run["run_cancelled"])
	assert.Equal(t, false, run["run_aborted"])
}
