package output

import (
	stderrors "errors"
	"io"
	"time"

	"github.com/fatih/color"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"ssh-commander/internal/errors"
	"ssh-commander/internal/logging"
	"ssh-commander/internal/ssh"
)

const (
	// DefaultPollInterval is the streamer's idle sleep between polls
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultChunkSize is the most read from one stream per poll
	DefaultChunkSize = 4096

	// settlePolls is the number of consecutive quiet polls after exit before
	// the streams are considered finished.
	settlePolls = 2
)

// Streamer relays a session's stdout and stderr to local writers as the
// output arrives.
type Streamer struct {
	PollInterval time.Duration
	ChunkSize    int
	Logger       *logging.Logger

	// StderrColor decorates remote stderr. Nil leaves it plain.
	StderrColor *color.Color
}

// NewStreamer creates a streamer that colors stderr red. fatih/color turns
// the escape codes off by itself when stdout is not a terminal.
func NewStreamer(pollInterval time.Duration, chunkSize int, logger *logging.Logger) *Streamer {
	return &Streamer{
		PollInterval: pollInterval,
		ChunkSize:    chunkSize,
		Logger:       logger,
		StderrColor:  color.New(color.FgRed),
	}
}

// Drain copies the session's output to stdout and stderr until the remote
// command has exited and both streams have stayed empty for a settle period.
// Write failures on a sink do not stop draining; they are returned joined.
func (s *Streamer) Drain(sess ssh.Session, stdout, stderr io.Writer) error {
	interval := s.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	logger := s.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	var errWriter io.Writer = stderr
	if s.StderrColor != nil {
		errWriter = &colorWriter{w: stderr, c: s.StderrColor}
	}

	outSink := newSink("stdout", stdout, logger)
	errSink := newSink("stderr", errWriter, logger)

	buf := make([]byte, chunkSize)
	quiet := 0

	for {
		exited := sess.ExitReady()

		moved := false
		if sess.StdoutReady() {
			moved = relay(sess.ReadStdout, buf, outSink) || moved
		}
		if sess.StderrReady() {
			moved = relay(sess.ReadStderr, buf, errSink) || moved
		}

		switch {
		case moved:
			quiet = 0
			continue
		case exited:
			quiet++
			if quiet >= settlePolls {
				outSink.close()
				errSink.close()
				return stderrors.Join(outSink.err, errSink.err)
			}
		default:
			quiet = 0
		}

		time.Sleep(interval)
	}
}

func relay(read func([]byte) (int, error), buf []byte, sink *sink) bool {
	n, err := read(buf)
	if err != nil && !stderrors.Is(err, io.EOF) {
		sink.readFailed(err)
	}
	if n == 0 {
		return false
	}
	sink.write(buf[:n])
	return true
}

// sink decodes one stream as permissive UTF-8 and writes it out. After the
// first write failure it keeps accepting data and discards it.
type sink struct {
	name     string
	decoder  *transform.Writer
	logger   *logging.Logger
	err      error
	readErrs int
}

func newSink(name string, w io.Writer, logger *logging.Logger) *sink {
	return &sink{
		name:    name,
		decoder: transform.NewWriter(w, unicode.UTF8.NewDecoder()),
		logger:  logger,
	}
}

func (s *sink) write(p []byte) {
	if s.err != nil {
		return
	}
	if _, err := s.decoder.Write(p); err != nil {
		s.fail(err)
	}
}

func (s *sink) close() {
	if s.err != nil {
		return
	}
	if err := s.decoder.Close(); err != nil {
		s.fail(err)
	}
}

// readFailed logs the first read error of the stream. Read errors do not end
// draining; the session's exit state does.
func (s *sink) readFailed(err error) {
	s.readErrs++
	if s.readErrs == 1 {
		s.logger.LogStreamReadError(s.name, err)
	}
}

func (s *sink) fail(err error) {
	s.err = &errors.StreamIOError{Stream: s.name, Err: err}
	s.logger.LogStreamError(s.err)
}

type colorWriter struct {
	w io.Writer
	c *color.Color
}

func (cw *colorWriter) Write(p []byte) (int, error) {
	if _, err := cw.c.Fprint(cw.w, string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}
