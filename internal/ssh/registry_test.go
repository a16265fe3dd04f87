package ssh

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"ssh-commander/internal/logging"
)

type closeLog struct {
	closed []string
}

type stubConn struct {
	name   string
	log    *closeLog
	closes int
}

func (c *stubConn) NewSession(string) (Session, error) { return nil, fmt.Errorf("not supported") }
func (c *stubConn) Host() string                       { return c.name }
func (c *stubConn) Close() error {
	c.closes++
	c.log.closed = append(c.log.closed, "conn:"+c.name)
	if c.closes > 1 {
		return fmt.Errorf("already closed")
	}
	return nil
}

type stubSession struct {
	name   string
	log    *closeLog
	closes int
	err    error
}

func (s *stubSession) StdoutReady() bool                { return false }
func (s *stubSession) StderrReady() bool                { return false }
func (s *stubSession) ExitReady() bool                  { return true }
func (s *stubSession) ReadStdout(p []byte) (int, error) { return 0, nil }
func (s *stubSession) ReadStderr(p []byte) (int, error) { return 0, nil }
func (s *stubSession) Send(p []byte) error              { return nil }
func (s *stubSession) ExitStatus() (int, error)         { return 0, nil }
func (s *stubSession) Close() error {
	s.closes++
	s.log.closed = append(s.log.closed, "session:"+s.name)
	return s.err
}

func TestRegistryClosesSessionsBeforeConnection(t *testing.T) {
	log := &closeLog{}
	a := &stubConn{name: "a", log: log}
	b := &stubConn{name: "b", log: log}

	r := NewRegistry(nil)
	r.Track(a, &stubSession{name: "a1", log: log})
	r.Track(a, &stubSession{name: "a2", log: log})
	r.Track(b, nil)
	assert.Equal(t, 2, r.Len())

	r.CloseAll()
	assert.Equal(t, []string{"session:a1", "session:a2", "conn:a", "conn:b"}, log.closed)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryCloseAllIsIdempotent(t *testing.T) {
	log := &closeLog{}
	conn := &stubConn{name: "a", log: log}
	sess := &stubSession{name: "a1", log: log}

	r := NewRegistry(nil)
	r.Track(conn, sess)

	r.CloseAll()
	r.CloseAll()

	assert.Equal(t, 1, conn.closes)
	assert.Equal(t, 1, sess.closes)
}

func TestRegistryLogsCleanupErrors(t *testing.T) {
	log := &closeLog{}
	conn := &stubConn{name: "web1", log: log}
	// already closed by the executor at target end
	_ = conn.Close()

	var buf bytes.Buffer
	logger := logging.NewLogger(logging.Config{Level: logging.LevelError, Output: &buf})

	r := NewRegistry(logger)
	r.Track(conn, &stubSession{name: "s", log: log, err: fmt.Errorf("channel gone")})

	assert.NotPanics(t, r.CloseAll)
	assert.Contains(t, buf.String(), "closing session on web1: channel gone")
	assert.Contains(t, buf.String(), "closing connection on web1: already closed")
}
