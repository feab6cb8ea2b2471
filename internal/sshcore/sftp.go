package sshcore

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/sftp"
	cryptossh "golang.org/x/crypto/ssh"
)

// realSFTPHandle adapts github.com/pkg/sftp to SFTPHandle. pkg/sftp has no
// built-in per-call timeout (unlike paramiko's sftp.get_channel().settimeout),
// so Put/Get run the transfer in a goroutine and race it against the
// transferTimeout, closing the client to force-unblock a stuck transfer —
// the same timeout-by-forced-close shape execute() uses for commandTimeout.
type realSFTPHandle struct {
	client *sftp.Client
}

func newRealSFTPHandle(conn *cryptossh.Client) (SFTPHandle, error) {
	c, err := sftp.NewClient(conn)
	if err != nil {
		return nil, fmt.Errorf("open sftp subsystem: %w", err)
	}
	return &realSFTPHandle{client: c}, nil
}

func (h *realSFTPHandle) Put(localPath, remotePath string, timeout time.Duration) (int64, error) {
	type result struct {
		n   int64
		err error
	}
	done := make(chan result, 1)

	go func() {
		src, err := os.Open(localPath)
		if err != nil {
			done <- result{0, err}
			return
		}
		defer src.Close()

		dst, err := h.client.Create(remotePath)
		if err != nil {
			done <- result{0, err}
			return
		}
		defer dst.Close()

		n, err := io.Copy(dst, src)
		done <- result{n, err}
	}()

	select {
	case r := <-done:
		return r.n, r.err
	case <-time.After(timeout):
		_ = h.client.Close()
		return 0, fmt.Errorf("sftp put timed out after %s", timeout)
	}
}

func (h *realSFTPHandle) Get(remotePath, localPath string, timeout time.Duration) error {
	done := make(chan error, 1)

	go func() {
		src, err := h.client.Open(remotePath)
		if err != nil {
			done <- err
			return
		}
		defer src.Close()

		dst, err := os.Create(localPath)
		if err != nil {
			done <- err
			return
		}
		defer dst.Close()

		_, err = io.Copy(dst, src)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = h.client.Close()
		return fmt.Errorf("sftp get timed out after %s", timeout)
	}
}

func (h *realSFTPHandle) Close() error {
	return h.client.Close()
}
