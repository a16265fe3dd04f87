package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ssh-commander/internal/errors"
	"ssh-commander/internal/filter"
	"ssh-commander/internal/logging"
	"ssh-commander/internal/output"
	"ssh-commander/internal/ssh"
	"ssh-commander/internal/target"
	"ssh-commander/internal/template"
)

// interruptByte is what a terminal sends for Ctrl-C
const interruptByte = 0x03

// DefaultShutdownGrace bounds how long an aborted run waits for the streamer
const DefaultShutdownGrace = 2 * time.Second

// Config holds the executor's timing parameters
type Config struct {
	PollInterval  time.Duration // exit-status polling and streamer idle sleep
	ChunkSize     int           // most bytes read from one stream per poll
	ShutdownGrace time.Duration // streamer join bound once a run is aborted
	Templates     bool          // render commands as per-target templates; off sends them verbatim
}

// DefaultConfig returns the default executor configuration
func DefaultConfig() Config {
	return Config{
		PollInterval:  output.DefaultPollInterval,
		ChunkSize:     output.DefaultChunkSize,
		ShutdownGrace: DefaultShutdownGrace,
	}
}

// Executor visits targets one at a time and runs commands on each,
// streaming output as it arrives.
type Executor struct {
	connector  ssh.Connector
	streamer   *output.Streamer
	reporter   *output.Reporter
	templates  *template.Engine
	logger     *logging.Logger
	interrupts <-chan os.Signal
	config     Config
}

// New creates an executor. Interrupts are read from the given channel, which
// is normally fed by signal.Notify; a nil channel never interrupts.
func New(connector ssh.Connector, reporter *output.Reporter, logger *logging.Logger, interrupts <-chan os.Signal, config Config) *Executor {
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaults.ChunkSize
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = defaults.ShutdownGrace
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if reporter == nil {
		reporter = output.NewReporter(output.TextMode, nil, nil)
	}

	e := &Executor{
		connector:  connector,
		streamer:   output.NewStreamer(config.PollInterval, config.ChunkSize, logger),
		reporter:   reporter,
		logger:     logger,
		interrupts: interrupts,
		config:     config,
	}
	if config.Templates {
		e.templates = template.NewEngine()
	}
	return e
}

// RunOne runs command on every target matching tags
func (e *Executor) RunOne(ctx context.Context, targets []target.Target, command string, tags ...string) (*RunResult, error) {
	return e.run(ctx, targets, []string{command}, false, tags)
}

// RunBatch runs commands in order on every target matching tags, over one
// connection per target. Each command finishes before the next starts.
func (e *Executor) RunBatch(ctx context.Context, targets []target.Target, commands []string, tags ...string) (*RunResult, error) {
	return e.run(ctx, targets, commands, true, tags)
}

// runState is the per-run bookkeeping shared by the target and command loops
type runState struct {
	registry  *ssh.Registry
	logger    *logging.Logger
	cancelled bool
	aborted   bool
}

func (e *Executor) escalate(r *runState) {
	if r.aborted {
		return
	}
	r.aborted = true
	r.cancelled = true
	e.reporter.Aborted()
	r.registry.CloseAll()
}

func (e *Executor) run(ctx context.Context, targets []target.Target, commands []string, batch bool, tags []string) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{RunID: uuid.NewString()}
	logger := e.logger.With("run_id", result.RunID)

	selected := filter.ByTags(targets, tags...)
	if len(selected) == 0 {
		e.reporter.NoMatchingTargets(filter.Describe(filter.NewTagFilter(tags, nil)))
		result.Duration = time.Since(start)
		return result, nil
	}

	mode := "single"
	if batch {
		mode = "batch"
	} else {
		e.reporter.CommandHeader(commands[0])
	}
	logger.LogRunStart(mode, len(selected), len(commands))

	r := &runState{
		registry: ssh.NewRegistry(logger),
		logger:   logger,
	}
	defer r.registry.CloseAll()

	for _, t := range selected {
		if !r.aborted && e.interrupted(ctx) {
			e.escalate(r)
		}
		if r.aborted {
			result.Outcomes = append(result.Outcomes, Outcome{Target: t, Status: StatusCancelled, Err: errors.ErrCancelled})
			continue
		}
		result.Outcomes = append(result.Outcomes, e.runTarget(ctx, r, t, commands, batch))
	}

	result.Cancelled = r.cancelled
	result.Aborted = r.aborted
	result.Duration = time.Since(start)

	succeeded, failed, _ := result.Counts()
	logger.LogRunComplete(len(selected), succeeded, failed, r.cancelled, result.Duration)

	if r.aborted {
		return result, &errors.CancelledError{Escalated: true}
	}
	return result, nil
}

// interrupted consumes a pending interrupt without blocking. It is used when
// no session is active, where any interrupt aborts the run.
func (e *Executor) interrupted(ctx context.Context) bool {
	select {
	case <-e.interrupts:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (e *Executor) runTarget(ctx context.Context, r *runState, t target.Target, commands []string, batch bool) (outcome Outcome) {
	outcome = Outcome{Target: t, Status: StatusSuccess}

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("unexpected failure on %s: %v", t.Host, p)
			r.logger.LogExecutionError(t, err)
			e.reporter.TargetFailed(t.Host, err)
			outcome.Status = StatusFailed
			outcome.Err = err
		}
	}()

	if batch {
		e.reporter.BatchHeader(t.Host)
	} else {
		e.reporter.TargetHeader(t.Host)
	}

	if err := misconfigured(t); err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err
		r.logger.LogExecutionError(t, err)
		e.reporter.ConnectFailed(err)
		return outcome
	}

	conn, err := e.connect(ctx, r, t)
	if err != nil {
		outcome.Err = err
		if r.aborted {
			outcome.Status = StatusCancelled
			return outcome
		}
		outcome.Status = StatusFailed
		e.reporter.ConnectFailed(err)
		return outcome
	}
	// The connection stays tracked after the deferred Close below, so the
	// run's final CloseAll closes it again. Conn.Close is idempotent.
	r.registry.Track(conn, nil)
	defer func() {
		if err := conn.Close(); err != nil {
			r.logger.LogCleanupError(&errors.CleanupError{Resource: "connection", Host: t.Host, Err: err})
		}
	}()

	for i, command := range commands {
		if i > 0 && e.interrupted(ctx) {
			e.escalate(r)
		}
		if r.aborted {
			outcome.Status = StatusCancelled
			outcome.Err = errors.ErrCancelled
			return outcome
		}

		rendered := command
		if e.templates != nil {
			if rendered, err = e.templates.Render(command, t); err != nil {
				outcome.Status = StatusFailed
				outcome.Err = err
				r.logger.LogExecutionError(t, err)
				e.reporter.TargetFailed(t.Host, err)
				return outcome
			}
		}
		if batch {
			e.reporter.BatchCommand(rendered)
		}

		cr, err := e.runCommand(ctx, r, conn, t, rendered)
		outcome.Commands = append(outcome.Commands, cr)

		switch {
		case r.aborted:
			outcome.Status = StatusCancelled
			outcome.Err = errors.ErrCancelled
			return outcome
		case err != nil:
			outcome.Status = StatusFailed
			outcome.Err = err
			r.logger.LogExecutionError(t, err)
			e.reporter.TargetFailed(t.Host, err)
			return outcome
		case cr.Interrupted:
			outcome.Status = StatusCancelled
			outcome.Err = &errors.CancelledError{}
			if batch && i < len(commands)-1 {
				e.reporter.Interrupted(t.Host)
			}
			return outcome
		}
	}

	return outcome
}

// misconfigured validates t before any connection attempt. Credential
// problems become a CredentialError, anything else a ConnectError.
func misconfigured(t target.Target) error {
	err := target.Validate(t)
	if err == nil {
		return nil
	}
	var ve *target.ValidationError
	if !stderrors.As(err, &ve) {
		return &errors.ConnectError{Host: t.Host, Err: err}
	}
	problems := strings.Join(ve.Problems, "; ")
	if ve.Credential {
		return &errors.CredentialError{Host: t.Host, Message: problems}
	}
	return &errors.ConnectError{Host: t.Host, Err: fmt.Errorf("invalid server entry: %s", problems)}
}

type connectResult struct {
	conn ssh.Conn
	err  error
}

// connect dials t while watching for interrupts. An interrupt here has no
// session to stop, so it aborts the run.
func (e *Executor) connect(ctx context.Context, r *runState, t target.Target) (ssh.Conn, error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan connectResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- connectResult{err: &errors.ConnectError{Host: t.Host, Err: fmt.Errorf("panic: %v", p)}}
			}
		}()
		conn, err := e.connector.Connect(connCtx, t)
		done <- connectResult{conn: conn, err: err}
	}()

	select {
	case res := <-done:
		return res.conn, res.err
	case <-e.interrupts:
	case <-ctx.Done():
	}

	cancel()
	e.escalate(r)

	// a connection that completes anyway must not leak
	go func() {
		if res := <-done; res.conn != nil {
			_ = res.conn.Close()
		}
	}()

	return nil, errors.ErrCancelled
}

// runCommand starts one session on conn, streams it and waits for its exit
// status. The returned error is set only when the command could not run.
func (e *Executor) runCommand(ctx context.Context, r *runState, conn ssh.Conn, t target.Target, command string) (CommandResult, error) {
	cr := CommandResult{Command: command, ExitStatus: -1}
	start := time.Now()

	sess, err := conn.NewSession(command)
	if err != nil {
		return cr, fmt.Errorf("failed to start command on %s: %w", t.Host, err)
	}
	r.registry.Track(conn, sess)
	defer func() {
		if err := sess.Close(); err != nil {
			r.logger.LogCleanupError(&errors.CleanupError{Resource: "session", Host: t.Host, Err: err})
		}
	}()

	var streams errgroup.Group
	streams.Go(func() error {
		return e.streamer.Drain(sess, e.reporter.Stdout(), e.reporter.Stderr())
	})
	joined := make(chan error, 1)
	go func() { joined <- streams.Wait() }()

	if !e.waitExit(ctx, r, sess, t, &cr) {
		e.abortJoin(joined)
		cr.Duration = time.Since(start)
		return cr, nil
	}

	var streamErr error
	for done := false; !done; {
		select {
		case streamErr = <-joined:
			done = true
		case <-e.interrupts:
			if cr.Interrupted {
				e.escalate(r)
				e.abortJoin(joined)
				cr.Duration = time.Since(start)
				return cr, nil
			}
			e.interrupt(r, sess, t, &cr)
		case <-ctx.Done():
			e.escalate(r)
			e.abortJoin(joined)
			cr.Duration = time.Since(start)
			return cr, nil
		}
	}

	cr.Duration = time.Since(start)
	status, statusErr := sess.ExitStatus()
	cr.ExitStatus = status

	switch {
	case cr.Interrupted:
	case statusErr != nil:
		cr.Err = statusErr
		e.reporter.ExitStatus(status)
	case status != 0:
		cr.Err = &errors.RemoteExitError{Host: t.Host, Command: command, Status: status}
		e.reporter.ExitStatus(status)
	}
	if streamErr != nil {
		cr.Err = stderrors.Join(cr.Err, streamErr)
	}

	r.logger.LogExecution(t, status, cr.Duration, cr.Interrupted)
	return cr, nil
}

// waitExit polls the session until the remote command exits or the operator
// interrupts it. It returns false when the run was aborted.
func (e *Executor) waitExit(ctx context.Context, r *runState, sess ssh.Session, t target.Target, cr *CommandResult) bool {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for !sess.ExitReady() {
		select {
		case <-ticker.C:
		case <-e.interrupts:
			e.interrupt(r, sess, t, cr)
			return true
		case <-ctx.Done():
			e.escalate(r)
			return false
		}
	}
	return true
}

func (e *Executor) interrupt(r *runState, sess ssh.Session, t target.Target, cr *CommandResult) {
	cr.Interrupted = true
	r.cancelled = true
	if err := sess.Send([]byte{interruptByte}); err != nil {
		r.logger.Warn("failed to forward interrupt", "host", t.Host, "error", err.Error())
	}
}

// abortJoin waits a bounded time for the streamer after an abort
func (e *Executor) abortJoin(joined <-chan error) {
	select {
	case <-joined:
	case <-time.After(e.config.ShutdownGrace):
	}
}
