package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"ssh-commander/internal/errors"
	"ssh-commander/internal/target"
)

const testPassword = "s3cret"

// testServer is a minimal in-process SSH server that understands a few
// canned commands.
type testServer struct {
	host    string
	port    int
	hostKey ssh.Signer
}

func startTestServer(t *testing.T, authorized ssh.PublicKey) *testServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostKey, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == testPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected")
		},
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if authorized != nil && string(key.Marshal()) == string(authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("key rejected")
		},
	}
	config.AddHostKey(hostKey)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			nc, err := l.Accept()
			if err != nil {
				return
			}
			go serveConn(nc, config)
		}
	}()

	addr := l.Addr().(*net.TCPAddr)
	return &testServer{host: "127.0.0.1", port: addr.Port, hostKey: hostKey}
}

func (s *testServer) address() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

func serveConn(nc net.Conn, config *ssh.ServerConfig) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, config)
	if err != nil {
		nc.Close()
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := nch.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, requests)
	}
}

func serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req":
			_ = req.Reply(true, nil)
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				return
			}
			_ = req.Reply(true, nil)

			status := runCanned(ch, payload.Command)
			_ = ch.CloseWrite()
			_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}

func runCanned(ch ssh.Channel, command string) uint32 {
	switch {
	case strings.HasPrefix(command, "echo "):
		fmt.Fprintf(ch, "%s\n", strings.TrimPrefix(command, "echo "))
		return 0
	case command == "fail":
		fmt.Fprint(ch.Stderr(), "oops\n")
		return 1
	case strings.HasPrefix(command, "exit "):
		n, _ := strconv.Atoi(strings.TrimPrefix(command, "exit "))
		return uint32(n)
	default:
		fmt.Fprintf(ch.Stderr(), "%s: command not found\n", command)
		return 127
	}
}

type countingDialer struct {
	dials atomic.Int32
	inner net.Dialer
}

func (d *countingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.dials.Add(1)
	return d.inner.DialContext(ctx, network, address)
}

func newTestConnector(t *testing.T, retries int) (*SSHConnector, *countingDialer, *HostKeyStore) {
	t.Helper()
	store, err := NewHostKeyStore(filepath.Join(t.TempDir(), "ssh", "known_hosts"), nil)
	require.NoError(t, err)
	dialer := &countingDialer{}
	c := NewConnector(ConnectorConfig{
		Dialer:   dialer,
		HostKeys: store.Callback(),
		Timeout:  5 * time.Second,
		Retries:  retries,
	})
	return c, dialer, store
}

func readAll(t *testing.T, read func([]byte) (int, error)) string {
	t.Helper()
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := read(buf)
		sb.Write(buf[:n])
		if stderrors.Is(err, io.EOF) || n == 0 {
			return sb.String()
		}
		require.NoError(t, err)
	}
}

func runCommand(t *testing.T, conn Conn, command string) (string, string, int) {
	t.Helper()
	sess, err := conn.NewSession(command)
	require.NoError(t, err)
	defer sess.Close()

	require.Eventually(t, sess.ExitReady, 5*time.Second, 10*time.Millisecond)

	status, err := sess.ExitStatus()
	require.NoError(t, err)
	return readAll(t, sess.ReadStdout), readAll(t, sess.ReadStderr), status
}

func TestEchoHiOverPassword(t *testing.T) {
	srv := startTestServer(t, nil)
	c, dialer, store := newTestConnector(t, 0)

	tgt := target.Target{Host: srv.host, Port: srv.port, User: "ops", Password: testPassword}
	conn, err := c.Connect(context.Background(), tgt)
	require.NoError(t, err)
	assert.Equal(t, srv.host, conn.Host())

	stdout, stderr, status := runCommand(t, conn, "echo hi")
	assert.Equal(t, "hi\n", stdout)
	assert.Empty(t, stderr)
	assert.Equal(t, 0, status)

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	assert.Equal(t, int32(1), dialer.dials.Load())

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), knownhosts.Normalize(srv.address()))
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
}

func TestBatchReusesOneConnection(t *testing.T) {
	srv := startTestServer(t, nil)
	c, dialer, _ := newTestConnector(t, 0)

	conn, err := c.Connect(context.Background(), target.Target{Host: srv.host, Port: srv.port, User: "ops", Password: testPassword})
	require.NoError(t, err)
	defer conn.Close()

	_, stderr, status := runCommand(t, conn, "fail")
	assert.Equal(t, "oops\n", stderr)
	assert.Equal(t, 1, status)

	_, _, status = runCommand(t, conn, "exit 3")
	assert.Equal(t, 3, status)

	stdout, _, _ := runCommand(t, conn, "echo again")
	assert.Equal(t, "again\n", stdout)

	assert.Equal(t, int32(1), dialer.dials.Load())
}

func TestKeyFileAuth(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	keyFile := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(block), 0o600))

	srv := startTestServer(t, sshPub)
	c, _, _ := newTestConnector(t, 0)

	conn, err := c.Connect(context.Background(), target.Target{Host: srv.host, Port: srv.port, User: "ops", KeyFile: keyFile})
	require.NoError(t, err)
	defer conn.Close()

	stdout, _, status := runCommand(t, conn, "echo key")
	assert.Equal(t, "key\n", stdout)
	assert.Equal(t, 0, status)
}

func TestKnownHostReconnects(t *testing.T) {
	srv := startTestServer(t, nil)
	_, _, store := newTestConnector(t, 0)
	tgt := target.Target{Host: srv.host, Port: srv.port, User: "ops", Password: testPassword}

	for i := 0; i < 2; i++ {
		c := NewConnector(ConnectorConfig{HostKeys: store.Callback(), Timeout: 5 * time.Second})
		conn, err := c.Connect(context.Background(), tgt)
		require.NoError(t, err)
		conn.Close()
	}

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
}

func TestChangedHostKeyIsRejected(t *testing.T) {
	srv := startTestServer(t, nil)
	c, dialer, store := newTestConnector(t, 2)

	_, other, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherSigner, err := ssh.NewSignerFromKey(other)
	require.NoError(t, err)
	line := knownhosts.Line([]string{knownhosts.Normalize(srv.address())}, otherSigner.PublicKey())
	require.NoError(t, os.WriteFile(store.Path(), []byte(line+"\n"), 0o600))

	_, err = c.Connect(context.Background(), target.Target{Host: srv.host, Port: srv.port, User: "ops", Password: testPassword})
	require.Error(t, err)

	var connErr *errors.ConnectError
	require.True(t, stderrors.As(err, &connErr))
	assert.Equal(t, srv.host, connErr.Host)
	assert.Equal(t, int32(1), dialer.dials.Load(), "host key mismatch must not be retried")
}

func TestWrongPasswordIsNotRetried(t *testing.T) {
	srv := startTestServer(t, nil)
	c, dialer, _ := newTestConnector(t, 3)

	_, err := c.Connect(context.Background(), target.Target{Host: srv.host, Port: srv.port, User: "ops", Password: "wrong"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error connecting to 127.0.0.1")
	assert.Equal(t, errors.AuthenticationErrorType, errors.ClassifyError(err).Type)
	assert.Equal(t, int32(1), dialer.dials.Load())
}

func TestUnreachableHostIsRetried(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	c, dialer, _ := newTestConnector(t, 1)
	_, err = c.Connect(context.Background(), target.Target{Host: "127.0.0.1", Port: port, User: "ops", Password: testPassword})
	require.Error(t, err)

	var connErr *errors.ConnectError
	assert.True(t, stderrors.As(err, &connErr))
	assert.Equal(t, int32(2), dialer.dials.Load())
}

func TestKeyFileProblemsAreCredentialErrors(t *testing.T) {
	dir := t.TempDir()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte("phrase"))
	require.NoError(t, err)
	protected := filepath.Join(dir, "protected")
	require.NoError(t, os.WriteFile(protected, pem.EncodeToMemory(block), 0o600))

	tests := []struct {
		name    string
		keyFile string
		message string
	}{
		{"missing", filepath.Join(dir, "nope"), "key file not found"},
		{"passphrase", protected, "passphrase-protected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, dialer, _ := newTestConnector(t, 2)
			_, err := c.Connect(context.Background(), target.Target{Host: "a", Port: 22, User: "ops", KeyFile: tt.keyFile})
			require.Error(t, err)

			var credErr *errors.CredentialError
			require.True(t, stderrors.As(err, &credErr))
			assert.Contains(t, credErr.Error(), tt.message)
			assert.Equal(t, int32(0), dialer.dials.Load())
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandPath("~/.ssh/id_rsa")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".ssh", "id_rsa"), got)

	got, err = expandPath("relative/key")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
}
