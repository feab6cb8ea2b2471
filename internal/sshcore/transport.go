package sshcore

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// dialTimeout bounds dial, banner, and auth. golang.org/x/crypto/ssh does not
// expose the three phases separately the way paramiko does (spec.md §4.3
// "recommended 15 seconds each"), so Dial bounds the TCP dial with it and then
// sets a connection deadline of the same length that covers the handshake up
// to and including authentication.
const dialTimeout = 15 * time.Second

// Transport is the abstract SSH transport spec.md §6 describes the core as
// consuming: dial, exec, SFTP, and liveness. Connection depends only on
// this interface, never on golang.org/x/crypto/ssh directly, so tests can
// substitute a fake transport.
type Transport interface {
	NewSession() (Session, error)
	OpenSFTP() (SFTPHandle, error)
	IsActive() bool
	Close() error
}

// Session is one exec_command channel: start a command, read its two
// streams, wait for exit status.
type Session interface {
	StdoutPipe() (io.Reader, error)
	StderrPipe() (io.Reader, error)
	Start(cmd string) error
	// Wait blocks until the remote command exits and returns the exit
	// status via ExitError when non-zero, exactly like os/exec.Cmd.Wait.
	Wait() error
	// Close forces the channel (and the streams reading from it) to
	// unblock; used both for normal cleanup and for the execute()
	// timeout's forced teardown.
	Close() error
}

// SFTPHandle is one SFTP sub-channel, opened per upload/download call.
type SFTPHandle interface {
	Put(localPath, remotePath string, timeout time.Duration) (int64, error)
	Get(remotePath, localPath string, timeout time.Duration) error
	Close() error
}

// Dialer creates a Transport for a host. Connection calls Dial exactly
// once per connect attempt.
type Dialer interface {
	Dial(ctx context.Context, spec HostSpec) (Transport, error)
}

// SSHDialer is the real Dialer, backed by golang.org/x/crypto/ssh and
// github.com/pkg/sftp. Grounded on the teacher's internal/terminal/ssh.go
// and internal/terminal/sftp.go dial pattern (ctx-aware dial via a result
// channel) and internal/docker/ssh.go's auth-method selection.
type SSHDialer struct{}

func (SSHDialer) Dial(ctx context.Context, spec HostSpec) (Transport, error) {
	authMethod, err := authMethodFor(spec)
	if err != nil {
		return nil, fmt.Errorf("sshcore: auth config for %q: %w", spec.Name, err)
	}

	hostKeyCallback, err := hostKeyCallbackFor(spec)
	if err != nil {
		return nil, fmt.Errorf("sshcore: host key policy for %q: %w", spec.Name, err)
	}

	clientCfg := &cryptossh.ClientConfig{
		User:            spec.Username,
		Auth:            []cryptossh.AuthMethod{authMethod},
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}

	addr := net.JoinHostPort(spec.Hostname, fmt.Sprintf("%d", spec.Port))

	type dialResult struct {
		client *cryptossh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			ch <- dialResult{nil, err}
			return
		}
		_ = conn.SetDeadline(time.Now().Add(dialTimeout))
		c, chans, reqs, err := cryptossh.NewClientConn(conn, addr, clientCfg)
		if err != nil {
			_ = conn.Close()
			ch <- dialResult{nil, err}
			return
		}
		_ = conn.SetDeadline(time.Time{})
		ch <- dialResult{cryptossh.NewClient(c, chans, reqs), nil}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, r.err)
		}
		return &sshTransport{client: r.client}, nil
	}
}

func authMethodFor(spec HostSpec) (cryptossh.AuthMethod, error) {
	// Identity file takes precedence over password (spec.md §4.3).
	if spec.HasIdentityFile() {
		data, err := os.ReadFile(spec.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("read identity file %q: %w", spec.IdentityFile, err)
		}
		signer, err := cryptossh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse identity file %q: %w", spec.IdentityFile, err)
		}
		return cryptossh.PublicKeys(signer), nil
	}
	if spec.Password != "" {
		return cryptossh.Password(spec.Password), nil
	}
	return nil, fmt.Errorf("host %q has neither identity_file nor password", spec.Name)
}

// hostKeyCallbackFor implements spec.md §4.3's host-key policy. When
// AutoAcceptHostKey is set, the system known_hosts database is not loaded
// at all (Open Question (b): matches the Python original, which never
// calls load_system_host_keys() on that branch). Otherwise, an unknown key
// is rejected — if no known_hosts file exists on this system, every key is
// "unknown", so the callback fails closed rather than falling back to
// accept-any.
func hostKeyCallbackFor(spec HostSpec) (cryptossh.HostKeyCallback, error) {
	if spec.AutoAcceptHostKey {
		return func(hostname string, remote net.Addr, key cryptossh.PublicKey) error {
			log.Printf("sshcore: auto-accepting host key for %q (%s): %s %s",
				spec.Name, hostname, key.Type(), cryptossh.FingerprintSHA256(key))
			return nil
		}, nil
	}

	paths := existingKnownHostsPaths()
	if len(paths) == 0 {
		return func(hostname string, remote net.Addr, key cryptossh.PublicKey) error {
			return fmt.Errorf("no known_hosts database found; refusing unknown host key for %q", hostname)
		}, nil
	}
	return knownhosts.New(paths...)
}

func existingKnownHostsPaths() []string {
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".ssh", "known_hosts"))
	}
	candidates = append(candidates, "/etc/ssh/ssh_known_hosts")

	var paths []string
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	return paths
}

// sshTransport adapts *cryptossh.Client to Transport.
type sshTransport struct {
	client *cryptossh.Client
}

func (t *sshTransport) NewSession() (Session, error) {
	sess, err := t.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &sshSession{session: sess}, nil
}

func (t *sshTransport) OpenSFTP() (SFTPHandle, error) {
	return newRealSFTPHandle(t.client)
}

func (t *sshTransport) IsActive() bool {
	if t.client == nil {
		return false
	}
	_, _, err := t.client.SendRequest("keepalive@sshgate", true, nil)
	return err == nil
}

func (t *sshTransport) Close() error {
	return t.client.Close()
}

// sshSession adapts *cryptossh.Session to Session.
type sshSession struct {
	session *cryptossh.Session
}

func (s *sshSession) StdoutPipe() (io.Reader, error) { return s.session.StdoutPipe() }
func (s *sshSession) StderrPipe() (io.Reader, error) { return s.session.StderrPipe() }
func (s *sshSession) Start(cmd string) error         { return s.session.Start(cmd) }
func (s *sshSession) Wait() error                    { return s.session.Wait() }
func (s *sshSession) Close() error                   { return s.session.Close() }
