package sshcore

import (
	"fmt"
	"strings"
)

// Error kinds. The core never returns ambiguous or partial success
// (spec.md §7): every failure path returns one of these, and the ones
// that cross a transport boundary carry only a generic, host-named
// message — detailed causes are logged, never returned to the caller.

// HostNotAllowedError is returned by Manager.GetConnection for a host
// name that is not a key of the configured host set.
type HostNotAllowedError struct {
	Name      string
	Available []string
}

func (e *HostNotAllowedError) Error() string {
	available := "(none)"
	if len(e.Available) > 0 {
		available = strings.Join(e.Available, ", ")
	}
	return fmt.Sprintf("host %q is not in the allowlist. Available: %s", e.Name, available)
}

// PermissionDeniedError is a CommandGuard rejection: shell metacharacters
// or a base command outside the host's allowlist.
type PermissionDeniedError struct {
	Host    string
	Command string
	Reason  string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("command rejected for host %q: %s", e.Host, e.Reason)
}

// ConnectFailureError reports a dial/auth/host-key failure. The original
// cause is logged by the caller at the point of failure; this type never
// carries it, so it can never leak into a serialized response.
type ConnectFailureError struct {
	Host string
}

func (e *ConnectFailureError) Error() string {
	return fmt.Sprintf("failed to connect to host %q", e.Host)
}

// TransportFailureError reports a mid-operation transport fault (execute,
// upload, or download). State has already transitioned to StateError by
// the time this is constructed.
type TransportFailureError struct {
	Host string
	Op   string // "Command execution", "Upload", "Download"
	Path string // remote path, empty for execute
}

func (e *TransportFailureError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s failed on %q", e.Op, e.Host)
	}
	if e.Op == "Upload" {
		return fmt.Sprintf("%s failed to %q: %s", e.Op, e.Host, e.Path)
	}
	return fmt.Sprintf("%s failed from %q: %s", e.Op, e.Host, e.Path)
}

// TimeoutError reports an execute() deadline exceeded. The channel has
// already been force-closed by the time this is returned.
type TimeoutError struct {
	Host           string
	CommandTimeout int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out on %q (command_timeout %ds)", e.Host, e.CommandTimeout)
}

// LocalIOError reports a local filesystem problem (upload source missing,
// download destination unwritable). Surfaced as-is: it never touches the
// remote host or the SSH library, so there is nothing to hide.
type LocalIOError struct {
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("local file error %q: %v", e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error { return e.Err }

// ApplicationError reports an application-level failure (SFTP permission
// denied, remote path not found) that leaves the connection state
// unchanged. Like TransportFailureError, the detailed cause is logged,
// not returned.
type ApplicationError struct {
	Host string
	Op   string
	Path string
}

func (e *ApplicationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s failed on %q", e.Op, e.Host)
	}
	return fmt.Sprintf("%s failed on %q: %s", e.Op, e.Host, e.Path)
}

// ConfigError is raised by the config loader, never by sshcore itself.
// Defined here so callers can reference one error-kind vocabulary.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }
