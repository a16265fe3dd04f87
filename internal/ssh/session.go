package ssh

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

const (
	ptyTerm   = "xterm"
	ptyHeight = 24
	ptyWidth  = 80
)

// streamBuffer collects one remote stream locally so readiness can be
// checked without blocking.
type streamBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	eof bool
}

func (b *streamBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *streamBuffer) ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len() > 0
}

func (b *streamBuffer) read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		if b.eof {
			return 0, io.EOF
		}
		return 0, nil
	}
	return b.buf.Read(p)
}

func (b *streamBuffer) pump(r io.Reader) {
	_, _ = io.Copy(b, r)
	b.mu.Lock()
	b.eof = true
	b.mu.Unlock()
}

// sshSession implements Session over an *ssh.Session with a pty
type sshSession struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  *streamBuffer
	stderr  *streamBuffer

	done      chan struct{}
	status    int
	statusErr error

	closeOnce sync.Once
	closeErr  error
}

func startSession(client *ssh.Client, command string) (Session, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s, err := newSSHSession(session, command)
	if err != nil {
		session.Close()
		return nil, err
	}
	return s, nil
}

func newSSHSession(session *ssh.Session, command string) (*sshSession, error) {
	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(ptyTerm, ptyHeight, ptyWidth, modes); err != nil {
		return nil, fmt.Errorf("failed to request pty: %w", err)
	}

	if err := session.Start(command); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	s := &sshSession{
		session: session,
		stdin:   stdin,
		stdout:  &streamBuffer{},
		stderr:  &streamBuffer{},
		done:    make(chan struct{}),
	}

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		s.stdout.pump(stdout)
	}()
	go func() {
		defer pumps.Done()
		s.stderr.pump(stderr)
	}()

	go func() {
		err := session.Wait()
		pumps.Wait()
		s.status, s.statusErr = exitStatus(err)
		close(s.done)
	}()

	return s, nil
}

func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	var missing *ssh.ExitMissingError
	if stderrors.As(err, &missing) {
		return -1, fmt.Errorf("remote sent no exit status")
	}
	return -1, err
}

func (s *sshSession) StdoutReady() bool { return s.stdout.ready() }
func (s *sshSession) StderrReady() bool { return s.stderr.ready() }

func (s *sshSession) ExitReady() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *sshSession) ReadStdout(p []byte) (int, error) { return s.stdout.read(p) }
func (s *sshSession) ReadStderr(p []byte) (int, error) { return s.stderr.read(p) }

func (s *sshSession) Send(p []byte) error {
	_, err := s.stdin.Write(p)
	return err
}

func (s *sshSession) ExitStatus() (int, error) {
	if !s.ExitReady() {
		return -1, fmt.Errorf("command still running")
	}
	return s.status, s.statusErr
}

func (s *sshSession) Close() error {
	s.closeOnce.Do(func() {
		err := s.session.Close()
		if err != nil && !stderrors.Is(err, io.EOF) {
			s.closeErr = err
		}
	})
	return s.closeErr
}
