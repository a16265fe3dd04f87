package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Mode selects how the end-of-run summary is rendered
type Mode string

const (
	// TextMode prints a human readable summary line
	TextMode Mode = "text"

	// JSONMode emits the summary as NDJSON, one object per target and a final run object
	JSONMode Mode = "json"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case TextMode, JSONMode:
		return Mode(s), nil
	case "":
		return TextMode, nil
	default:
		return "", fmt.Errorf("unknown output mode: %s", s)
	}
}

// CommandReport is the summary of one command on one target
type CommandReport struct {
	Command     string `json:"command"`
	ExitStatus  int    `json:"exit_status"`
	Interrupted bool   `json:"interrupted,omitempty"`
	Error       string `json:"error,omitempty"`
}

// TargetReport is the summary of one target
type TargetReport struct {
	Host     string          `json:"host"`
	Status   string          `json:"status"`
	Error    string          `json:"error,omitempty"`
	Commands []CommandReport `json:"commands,omitempty"`
}

// RunReport is the summary of a whole run
type RunReport struct {
	RunID     string         `json:"run_id"`
	Targets   []TargetReport `json:"-"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Skipped   int            `json:"cancelled"`
	Cancelled bool           `json:"run_cancelled"`
	Aborted   bool           `json:"run_aborted"`
	Duration  time.Duration  `json:"-"`
	Errors    string         `json:"errors,omitempty"`
}

// Reporter prints the operator-facing lines around remote output
type Reporter struct {
	mode   Mode
	out    io.Writer
	errOut io.Writer
	mu     sync.Mutex

	header  *color.Color
	failure *color.Color
	warning *color.Color
}

// NewReporter creates a reporter. Nil writers default to stdout and stderr.
func NewReporter(mode Mode, out, errOut io.Writer) *Reporter {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	if mode == "" {
		mode = TextMode
	}

	return &Reporter{
		mode:    mode,
		out:     out,
		errOut:  errOut,
		header:  color.New(color.FgCyan, color.Bold),
		failure: color.New(color.FgRed),
		warning: color.New(color.FgYellow),
	}
}

// Stdout is the sink remote stdout is streamed to
func (r *Reporter) Stdout() io.Writer { return r.out }

// Stderr is the sink remote stderr is streamed to
func (r *Reporter) Stderr() io.Writer { return r.errOut }

func (r *Reporter) println(w io.Writer, c *color.Color, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = c.Fprintf(w, format+"\n", args...)
}

// CommandHeader announces the command of a single-command run
func (r *Reporter) CommandHeader(command string) {
	r.println(r.out, r.header, "Executing command: %s", command)
}

// TargetHeader announces a target in a single-command run
func (r *Reporter) TargetHeader(host string) {
	r.println(r.out, r.header, "\nExecuting on %s", host)
}

// BatchHeader announces a target in a batch run
func (r *Reporter) BatchHeader(host string) {
	r.println(r.out, r.header, "\n=== Executing commands on %s ===", host)
}

// BatchCommand announces one command of a batch
func (r *Reporter) BatchCommand(command string) {
	r.println(r.out, r.header, ">>> %s", command)
}

// TargetFailed reports the one attributable line for a failed target
func (r *Reporter) TargetFailed(host string, err error) {
	r.println(r.errOut, r.failure, "Error on %s: %v", host, err)
}

// ConnectFailed reports a target that could not be reached
func (r *Reporter) ConnectFailed(err error) {
	r.println(r.errOut, r.failure, "%v", err)
}

// ExitStatus warns about a non-zero remote exit status
func (r *Reporter) ExitStatus(status int) {
	r.println(r.errOut, r.warning, "Warning: command exited with status %d", status)
}

// Interrupted notes a command stopped by the operator
func (r *Reporter) Interrupted(host string) {
	r.println(r.errOut, r.warning, "Interrupted on %s, skipping its remaining commands", host)
}

// Aborted notes the whole run was abandoned
func (r *Reporter) Aborted() {
	r.println(r.errOut, r.failure, "Run aborted, remaining targets skipped")
}

// NoMatchingTargets reports that filtering left nothing to do
func (r *Reporter) NoMatchingTargets(filters string) {
	r.println(r.errOut, r.warning, "No matching targets (%s)", filters)
}

// SkippedEntry reports a servers file entry that could not become a target
func (r *Reporter) SkippedEntry(err error) {
	r.println(r.errOut, r.failure, "Skipping %v", err)
}

// NoServersConfigured reports an empty target registry
func (r *Reporter) NoServersConfigured() {
	r.println(r.errOut, r.warning, "No servers configured. Add one with 'ssh-commander add'.")
}

// NoCommands reports an empty command list
func (r *Reporter) NoCommands(source string) {
	r.println(r.errOut, r.warning, "No commands found in %s", source)
}

// Summary renders the end-of-run summary in the reporter's mode
func (r *Reporter) Summary(report RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.mode {
	case JSONMode:
		return r.summaryJSON(report)
	default:
		return r.summaryText(report)
	}
}

func (r *Reporter) summaryText(report RunReport) error {
	total := len(report.Targets)
	if total == 0 {
		return nil
	}

	line := fmt.Sprintf("\nCompleted on %d target(s): %d succeeded, %d failed", total, report.Succeeded, report.Failed)
	if report.Skipped > 0 {
		line += fmt.Sprintf(", %d cancelled", report.Skipped)
	}
	line += fmt.Sprintf(" in %v", report.Duration.Round(time.Millisecond))

	if _, err := fmt.Fprintln(r.errOut, line); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if report.Errors != "" {
		if _, err := r.failure.Fprintln(r.errOut, report.Errors); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	return nil
}

type jsonTarget struct {
	RunID string `json:"run_id"`
	TargetReport
}

type jsonRun struct {
	RunReport
	Targets    int   `json:"targets"`
	DurationMs int64 `json:"duration_ms"`
}

func (r *Reporter) summaryJSON(report RunReport) error {
	enc := json.NewEncoder(r.out)

	for _, t := range report.Targets {
		if err := enc.Encode(jsonTarget{RunID: report.RunID, TargetReport: t}); err != nil {
			return fmt.Errorf("failed to write JSON: %w", err)
		}
	}

	run := jsonRun{
		RunReport:  report,
		Targets:    len(report.Targets),
		DurationMs: report.Duration.Milliseconds(),
	}
	if err := enc.Encode(run); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}
