package sshcore

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// fakeExitError mimics the ExitStatus() interface golang.org/x/crypto/ssh's
// *ssh.ExitError satisfies, so executeLocked's type assertion exercises the
// same path it would against a real session.
type fakeExitError struct{ code int }

func (e *fakeExitError) Error() string   { return fmt.Sprintf("exit status %d", e.code) }
func (e *fakeExitError) ExitStatus() int { return e.code }

// script describes how one fake session should behave for one command.
type script struct {
	stdout   []byte
	stderr   []byte
	exitCode int
	// hang, if set, makes Start's producer goroutine block until the
	// session is Close()'d instead of ever writing or exiting — models a
	// remote command that never stops producing (or a dead network) for
	// the commandTimeout scenario.
	hang bool
	// startErr, if set, makes Start fail outright (transport-layer).
	startErr error
	// waitErr, if set, makes Wait return a non-exit-status error
	// (transport-layer) instead of a *fakeExitError.
	waitErr error
}

// fakeDialer hands out the fakeTransport that build returns on each Dial
// call (or nextErr). Tests set nextErr to make the next Connect/reconnect fail.
type fakeDialer struct {
	mu       sync.Mutex
	nextErr  error
	dials    int
	build    func() *fakeTransport
	lastBuilt *fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, spec HostSpec) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.nextErr != nil {
		err := d.nextErr
		d.nextErr = nil
		return nil, err
	}
	t := d.build()
	t.active = true
	d.lastBuilt = t
	return t, nil
}

// fakeTransport is an in-memory Transport. scripts maps a command string to
// its script; commands not present use defaultScript.
type fakeTransport struct {
	mu            sync.Mutex
	active        bool
	scripts       map[string]script
	defaultScript script

	sftp        *fakeSFTP
	openSFTPErr error

	closeCount int
}

func (t *fakeTransport) NewSession() (Session, error) {
	return &fakeSession{transport: t, closeSignal: make(chan struct{})}, nil
}

func (t *fakeTransport) OpenSFTP() (SFTPHandle, error) {
	if t.openSFTPErr != nil {
		return nil, t.openSFTPErr
	}
	return t.sftp, nil
}

func (t *fakeTransport) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.active = false
	t.closeCount++
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) setActive(v bool) {
	t.mu.Lock()
	t.active = v
	t.mu.Unlock()
}

func (t *fakeTransport) scriptFor(cmd string) script {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.scripts[cmd]; ok {
		return s
	}
	return t.defaultScript
}

// fakeSession is an in-memory Session backed by io.Pipe so the two
// stdout/stderr reader goroutines in executeLocked genuinely run
// concurrently against independent, flow-controlled streams — the same
// shape a real SSH channel presents.
type fakeSession struct {
	transport *fakeTransport

	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	waitCh chan error

	closeOnce   sync.Once
	closeSignal chan struct{}
}

func (s *fakeSession) StdoutPipe() (io.Reader, error) {
	s.stdoutR, s.stdoutW = io.Pipe()
	return s.stdoutR, nil
}

func (s *fakeSession) StderrPipe() (io.Reader, error) {
	s.stderrR, s.stderrW = io.Pipe()
	return s.stderrR, nil
}

func (s *fakeSession) Start(cmd string) error {
	sc := s.transport.scriptFor(cmd)
	if sc.startErr != nil {
		return sc.startErr
	}
	s.waitCh = make(chan error, 1)

	go func() {
		if sc.hang {
			<-s.closeSignal
			return
		}
		// stderr is produced in full before stdout is closed, so a caller
		// that reads stdout to EOF before touching stderr blocks forever.
		if len(sc.stderr) > 0 {
			_, _ = s.stderrW.Write(sc.stderr)
		}
		_ = s.stderrW.Close()
		if len(sc.stdout) > 0 {
			_, _ = s.stdoutW.Write(sc.stdout)
		}
		_ = s.stdoutW.Close()
		if sc.waitErr != nil {
			s.waitCh <- sc.waitErr
			return
		}
		s.waitCh <- &fakeExitError{code: sc.exitCode}
	}()
	return nil
}

func (s *fakeSession) Wait() error {
	return <-s.waitCh
}

func (s *fakeSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closeSignal)
		if s.stdoutW != nil {
			_ = s.stdoutW.CloseWithError(io.ErrClosedPipe)
		}
		if s.stderrW != nil {
			_ = s.stderrW.CloseWithError(io.ErrClosedPipe)
		}
	})
	return nil
}

// fakeSFTP is an in-memory SFTPHandle. putErr/getErr simulate either
// application-level or transport-level failures, chosen by the test via
// the error value's type (isApplicationSFTPErr classifies *sftp.StatusError
// and "timed out" messages as application-level).
type fakeSFTP struct {
	mu sync.Mutex

	putErr error
	putN   int64

	getErr     error
	getContent []byte
	// getPartial, if set, is written to localPath before getErr is
	// returned — models a transfer that dies mid-stream, leaving a
	// truncated file for the caller to clean up.
	getPartial []byte

	closed bool
}

func (f *fakeSFTP) Put(localPath, remotePath string, timeout time.Duration) (int64, error) {
	if f.putErr != nil {
		return 0, f.putErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return 0, err
	}
	f.putN = int64(len(data))
	return f.putN, nil
}

func (f *fakeSFTP) Get(remotePath, localPath string, timeout time.Duration) error {
	if f.getErr != nil {
		if f.getPartial != nil {
			_ = os.WriteFile(localPath, f.getPartial, 0o644)
		}
		return f.getErr
	}
	return os.WriteFile(localPath, f.getContent, 0o644)
}

func (f *fakeSFTP) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
