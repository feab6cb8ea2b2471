package sshcore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
)

// readerJoinSlack is the extra time beyond commandTimeout allotted to the
// stdout/stderr reader goroutines before execute() gives up and force-closes
// the channel (spec.md §4.4 step 4: "absorbs the gap between the per-recv
// timeout firing and task teardown"). A package-level var, not a const, so
// tests can shrink it instead of waiting out a real 5s timeout.
var readerJoinSlack = 5 * time.Second

// Connection is the state machine and I/O engine for one host (spec.md
// §3, §4.2). All operations acquire mu for their entire duration.
//
// sync.Mutex is not reentrant, so the reentrancy spec.md's design notes
// call for (execute/upload/download call ensureConnected, which may call
// connect) is implemented as exported-method/*Locked pairs: exported methods
// take the lock once; unexported *Locked methods assume it is already
// held and call each other directly, never through the exported entry
// point.
type Connection struct {
	spec   HostSpec
	dialer Dialer

	mu        sync.Mutex
	state     ConnectionState
	transport Transport
	lastUsed  *time.Time
}

// NewConnection builds a Connection in StateDisconnected. No network I/O
// happens until the first explicit Connect or implicit reconnect.
func NewConnection(spec HostSpec, dialer Dialer) *Connection {
	return &Connection{spec: spec, dialer: dialer, state: StateDisconnected}
}

// Connect is idempotent when already Connected and the transport is alive.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Connection) connectLocked(ctx context.Context) error {
	if c.state == StateConnected && c.transport != nil && c.transport.IsActive() {
		return nil
	}

	log.Printf("sshcore: connecting to %q (%s:%d)", c.spec.Name, c.spec.Hostname, c.spec.Port)
	c.state = StateConnecting

	transport, err := c.dialer.Dial(ctx, c.spec)
	if err != nil {
		c.state = StateError
		log.Printf("sshcore: failed to connect to %q: %v", c.spec.Name, err)
		return &ConnectFailureError{Host: c.spec.Name}
	}

	// Close any previous transport to prevent leaks.
	if c.transport != nil {
		_ = c.transport.Close()
	}
	c.transport = transport
	c.state = StateConnected
	c.touchLocked()
	log.Printf("sshcore: connected to %q", c.spec.Name)
	return nil
}

// Disconnect closes the transport if any and is safe to call repeatedly.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectLocked()
}

func (c *Connection) disconnectLocked() error {
	if c.transport != nil {
		_ = c.transport.Close()
		c.transport = nil
	}
	c.state = StateDisconnected
	log.Printf("sshcore: disconnected from %q", c.spec.Name)
	return nil
}

// ensureConnectedLocked reconnects if the transport is not currently
// believed alive. Must be called with mu held.
func (c *Connection) ensureConnectedLocked(ctx context.Context) error {
	if c.checkAliveAndSyncStateLocked() {
		return nil
	}
	return c.connectLocked(ctx)
}

// checkAliveAndSyncStateLocked probes transport liveness and, if the
// transport has died while believed Connected, transitions to StateError
// (spec.md §4.3: "liveness check returns false -> Error"). Must be called
// with mu held.
func (c *Connection) checkAliveAndSyncStateLocked() bool {
	alive := c.transport != nil && c.transport.IsActive()
	if c.state == StateConnected && !alive {
		c.state = StateError
		log.Printf("sshcore: transport died for %q, state -> error", c.spec.Name)
	}
	return c.state == StateConnected && alive
}

// IsConnected probes transport liveness and syncs state accordingly.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkAliveAndSyncStateLocked()
}

// Status returns an atomic snapshot of this connection (spec.md §4.2).
func (c *Connection) Status() StatusRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	connected := c.checkAliveAndSyncStateLocked()
	var idle *float64
	if c.lastUsed != nil {
		secs := time.Since(*c.lastUsed).Seconds()
		idle = &secs
	}

	return StatusRecord{
		Name:        c.spec.Name,
		Hostname:    c.spec.Hostname,
		Port:        c.spec.Port,
		Username:    c.spec.Username,
		State:       c.state.String(),
		Connected:   connected,
		IdleSeconds: idle,
	}
}

func (c *Connection) touchLocked() {
	now := time.Now()
	c.lastUsed = &now
}

// transportError marks an error as transport-layer: the caller must
// transition state to StateError and surface only a generic message.
// Application-layer errors (wrong exit code aside — that's not an error
// at all) are returned unwrapped and leave state untouched.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func asTransportErr(err error) error { return &transportError{err: err} }

func isTransportErr(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}

// Execute runs cmd on the remote host (spec.md §4.4, the deadlock-avoidance
// algorithm). The command allowlist is checked before the lock is ever
// acquired — it reads only immutable config.
func (c *Connection) Execute(ctx context.Context, cmd string) (CommandResult, error) {
	if err := CheckCommand(c.spec.Name, cmd, c.spec.AllowedCommands); err != nil {
		return CommandResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	startedAt := time.Now().UTC()
	result, err := c.executeLocked(ctx, cmd, startedAt)
	if err != nil {
		if isTransportErr(err) {
			c.state = StateError
			log.Printf("sshcore: transport error running %q on %q: %v", cmd, c.spec.Name, err)
			return CommandResult{}, &TransportFailureError{Host: c.spec.Name, Op: "Command execution"}
		}
		var to *TimeoutError
		if errors.As(err, &to) {
			return CommandResult{}, err
		}
		log.Printf("sshcore: command %q failed on %q: %v", cmd, c.spec.Name, err)
		return CommandResult{}, &TransportFailureError{Host: c.spec.Name, Op: "Command execution"}
	}
	return result, nil
}

func (c *Connection) executeLocked(ctx context.Context, cmd string, startedAt time.Time) (CommandResult, error) {
	if err := c.ensureConnectedLocked(ctx); err != nil {
		return CommandResult{}, err
	}

	session, err := c.transport.NewSession()
	if err != nil {
		return CommandResult{}, asTransportErr(fmt.Errorf("new session: %w", err))
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return CommandResult{}, asTransportErr(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		_ = session.Close()
		return CommandResult{}, asTransportErr(fmt.Errorf("stderr pipe: %w", err))
	}

	if err := session.Start(cmd); err != nil {
		_ = session.Close()
		return CommandResult{}, asTransportErr(fmt.Errorf("start command: %w", err))
	}

	// Read stdout and stderr CONCURRENTLY. SSH channels multiplex both
	// streams over one flow-control-limited transport (~64KB windows): if
	// a command fills stderr before stdout closes (or vice versa),
	// sequential reads deadlock — stdout.Read blocks for EOF while the
	// remote process blocks trying to write more stderr. These goroutines
	// only touch channel-local state, so no additional locking is needed.
	type readOutcome struct {
		buf []byte
		err error
	}
	outCh := make(chan readOutcome, 1)
	errCh := make(chan readOutcome, 1)

	go func() {
		b, err := readAll(stdout)
		outCh <- readOutcome{b, err}
	}()
	go func() {
		b, err := readAll(stderr)
		errCh <- readOutcome{b, err}
	}()

	deadline := time.Duration(c.spec.CommandTimeout)*time.Second + readerJoinSlack
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	var outRes, errRes readOutcome
	var outDone, errDone bool
	for !outDone || !errDone {
		select {
		case outRes = <-outCh:
			outDone = true
		case errRes = <-errCh:
			errDone = true
		case <-timer.C:
			// Reader goroutines stuck — kill the channel so they unblock.
			_ = session.Close()
			return CommandResult{}, &TimeoutError{Host: c.spec.Name, CommandTimeout: c.spec.CommandTimeout}
		}
	}

	if outRes.err != nil {
		_ = session.Close()
		return CommandResult{}, asTransportErr(fmt.Errorf("read stdout: %w", outRes.err))
	}
	if errRes.err != nil {
		_ = session.Close()
		return CommandResult{}, asTransportErr(fmt.Errorf("read stderr: %w", errRes.err))
	}

	exitCode := 0
	if err := session.Wait(); err != nil {
		if ee, ok := err.(interface{ ExitStatus() int }); ok {
			exitCode = ee.ExitStatus()
		} else {
			_ = session.Close()
			return CommandResult{}, asTransportErr(fmt.Errorf("wait: %w", err))
		}
	}
	_ = session.Close()

	c.touchLocked()
	endedAt := time.Now().UTC()

	return CommandResult{
		Command:    cmd,
		ExitCode:   exitCode,
		Stdout:     decodeUTF8Replace(outRes.buf),
		Stderr:     decodeUTF8Replace(errRes.buf),
		Host:       c.spec.Name,
		StartedAt:  startedAt,
		EndedAt:    endedAt,
		DurationMs: endedAt.Sub(startedAt).Milliseconds(),
	}, nil
}

func readAll(r io.Reader) ([]byte, error) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf, nil
			}
			return buf, err
		}
	}
}

func decodeUTF8Replace(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

// Upload opens an SFTP sub-channel, puts the local file, and closes the
// sub-channel regardless of outcome (spec.md §4.5). The reported size is
// the pre-upload local file size.
func (c *Connection) Upload(ctx context.Context, localPath, remotePath string) (TransferResult, error) {
	localPath = expandHome(localPath)

	fi, err := os.Stat(localPath)
	if err != nil {
		return TransferResult{}, &LocalIOError{Path: localPath, Err: err}
	}
	if !fi.Mode().IsRegular() {
		return TransferResult{}, &LocalIOError{Path: localPath, Err: fmt.Errorf("not a regular file")}
	}
	size := fi.Size()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnectedLocked(ctx); err != nil {
		return TransferResult{}, err
	}

	handle, err := c.transport.OpenSFTP()
	if err != nil {
		c.state = StateError
		log.Printf("sshcore: upload to %q: open sftp: %v", c.spec.Name, err)
		return TransferResult{}, &TransportFailureError{Host: c.spec.Name, Op: "Upload", Path: remotePath}
	}
	defer handle.Close()

	if _, err := handle.Put(localPath, remotePath, time.Duration(c.spec.TransferTimeout)*time.Second); err != nil {
		if isApplicationSFTPErr(err) {
			log.Printf("sshcore: upload to %q failed: %v", c.spec.Name, err)
			return TransferResult{}, &ApplicationError{Host: c.spec.Name, Op: "Upload", Path: remotePath}
		}
		c.state = StateError
		log.Printf("sshcore: upload transport error to %q: %v", c.spec.Name, err)
		return TransferResult{}, &TransportFailureError{Host: c.spec.Name, Op: "Upload", Path: remotePath}
	}

	c.touchLocked()
	return TransferResult{
		Success:    true,
		Host:       c.spec.Name,
		LocalPath:  localPath,
		RemotePath: remotePath,
		Bytes:      size,
	}, nil
}

// Download creates missing parent directories, opens SFTP, and gets the
// file. On any failure — transport or application — any partially written
// local file is removed before the error is propagated (spec.md §4.5).
func (c *Connection) Download(ctx context.Context, remotePath, localPath string) (TransferResult, error) {
	localPath = expandHome(localPath)

	if dir := filepath.Dir(localPath); dir != "" && dir != "." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return TransferResult{}, &LocalIOError{Path: dir, Err: err}
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnectedLocked(ctx); err != nil {
		return TransferResult{}, err
	}

	handle, err := c.transport.OpenSFTP()
	if err != nil {
		c.state = StateError
		cleanupPartial(localPath)
		log.Printf("sshcore: download from %q: open sftp: %v", c.spec.Name, err)
		return TransferResult{}, &TransportFailureError{Host: c.spec.Name, Op: "Download", Path: remotePath}
	}
	defer handle.Close()

	if err := handle.Get(remotePath, localPath, time.Duration(c.spec.TransferTimeout)*time.Second); err != nil {
		cleanupPartial(localPath)
		if isApplicationSFTPErr(err) {
			log.Printf("sshcore: download from %q failed: %v", c.spec.Name, err)
			return TransferResult{}, &ApplicationError{Host: c.spec.Name, Op: "Download", Path: remotePath}
		}
		c.state = StateError
		log.Printf("sshcore: download transport error from %q: %v", c.spec.Name, err)
		return TransferResult{}, &TransportFailureError{Host: c.spec.Name, Op: "Download", Path: remotePath}
	}

	fi, err := os.Stat(localPath)
	if err != nil {
		cleanupPartial(localPath)
		return TransferResult{}, &LocalIOError{Path: localPath, Err: err}
	}

	c.touchLocked()
	return TransferResult{
		Success:    true,
		Host:       c.spec.Name,
		LocalPath:  localPath,
		RemotePath: remotePath,
		Bytes:      fi.Size(),
	}, nil
}

func cleanupPartial(localPath string) {
	if _, err := os.Stat(localPath); err == nil {
		if err := os.Remove(localPath); err != nil {
			log.Printf("sshcore: failed to clean up partial file %q: %v", localPath, err)
		} else {
			log.Printf("sshcore: cleaned up partial file %q", localPath)
		}
	}
}

// isApplicationSFTPErr reports whether err is a well-formed SFTP protocol
// response from the remote server (permission denied, no such file, disk
// full, ...) rather than a sign that the underlying transport died. A
// *sftp.StatusError means the channel is alive and the server replied —
// the SFTP-level analogue of spec.md's "application-layer (e.g. SFTP
// permission denied)" failure, which leaves connection state unchanged.
// A forced timeout close also counts as application-level: only the SFTP
// sub-channel was closed, not the SSH transport underneath it.
func isApplicationSFTPErr(err error) bool {
	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		return true
	}
	return strings.Contains(err.Error(), "timed out")
}

// expandHome expands a leading ~ or ~user to the relevant home directory.
func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	rest := path[1:]
	if rest == "" || rest[0] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, rest)
	}
	slash := strings.IndexByte(rest, '/')
	name := rest
	tail := ""
	if slash >= 0 {
		name = rest[:slash]
		tail = rest[slash:]
	}
	u, err := user.Lookup(name)
	if err != nil {
		return path
	}
	return filepath.Join(u.HomeDir, tail)
}
