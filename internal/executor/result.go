package executor

import (
	"time"

	"ssh-commander/internal/errors"
	"ssh-commander/internal/output"
	"ssh-commander/internal/target"
)

// Status is the final state of one target
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// CommandResult records one command run on one target. A non-zero
// ExitStatus is a warning and does not fail the target.
type CommandResult struct {
	Command     string
	ExitStatus  int
	Interrupted bool
	Duration    time.Duration
	Err         error
}

// Outcome records what happened on one target
type Outcome struct {
	Target   target.Target
	Status   Status
	Err      error
	Commands []CommandResult
}

// RunResult holds the ordered outcomes of a run
type RunResult struct {
	RunID     string
	Outcomes  []Outcome
	Cancelled bool
	Aborted   bool
	Duration  time.Duration
}

// Counts returns the number of succeeded, failed and cancelled targets
func (r *RunResult) Counts() (succeeded, failed, cancelled int) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusSuccess:
			succeeded++
		case StatusFailed:
			failed++
		case StatusCancelled:
			cancelled++
		}
	}
	return succeeded, failed, cancelled
}

// Errors collects the failures of the run by classification
func (r *RunResult) Errors() *errors.ErrorCollector {
	collector := errors.NewErrorCollector()
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			collector.Add(o.Err)
		}
	}
	return collector
}

// Report converts the result into the reporter's summary form
func (r *RunResult) Report() output.RunReport {
	report := output.RunReport{
		RunID:     r.RunID,
		Cancelled: r.Cancelled,
		Aborted:   r.Aborted,
		Duration:  r.Duration,
	}
	report.Succeeded, report.Failed, report.Skipped = r.Counts()

	if collector := r.Errors(); collector.HasErrors() {
		report.Errors = collector.Summary()
	}

	for _, o := range r.Outcomes {
		tr := output.TargetReport{Host: o.Target.Host, Status: string(o.Status)}
		if o.Err != nil {
			tr.Error = o.Err.Error()
		}
		for _, c := range o.Commands {
			cr := output.CommandReport{
				Command:     c.Command,
				ExitStatus:  c.ExitStatus,
				Interrupted: c.Interrupted,
			}
			if c.Err != nil {
				cr.Error = c.Err.Error()
			}
			tr.Commands = append(tr.Commands, cr)
		}
		report.Targets = append(report.Targets, tr)
	}

	return report
}
