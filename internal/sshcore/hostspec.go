// Package sshcore is the SSH connection manager: per-host connection state
// machines, the reentrant locking discipline around them, dual-stream
// command execution, transfer operations, reconnect-on-demand, and the
// command allowlist. Everything else in this repository is a thin client
// of this package.
package sshcore

import "fmt"

// HostSpec is the immutable, validated configuration for one SSH target.
// It is produced by the config loader and never mutated after construction.
type HostSpec struct {
	// Name is the unique identifier used as the host allowlist key.
	Name string
	// Hostname is the DNS name or IP address to dial.
	Hostname string
	// Port is the TCP port, 1-65535.
	Port int
	// Username is the remote login user.
	Username string
	// IdentityFile is a filesystem path to a private key. Either this or
	// Password must be set; IdentityFile takes precedence when both are.
	IdentityFile string
	// Password is a plaintext password credential.
	Password string
	// AutoAcceptHostKey accepts any presented host key on first sight
	// instead of verifying against the system known_hosts database.
	AutoAcceptHostKey bool
	// CommandTimeout bounds a single execute() call, in seconds.
	CommandTimeout int
	// TransferTimeout bounds a single upload()/download() call, in seconds.
	TransferTimeout int
	// AllowedCommands is the ordered set of admissible base commands.
	// Nil means all commands are admitted; it is never the empty slice
	// (that is a config error, rejected before a HostSpec is built).
	AllowedCommands []string
}

// DefaultCommandTimeout and DefaultTransferTimeout mirror the config
// loader's defaults (spec.md §3); sshcore itself never applies them —
// HostSpec values arriving here are expected to be already-validated.
const (
	DefaultCommandTimeout  = 30
	DefaultTransferTimeout = 120
)

// Validate checks the invariants a HostSpec must satisfy. The config
// loader calls this once per host at startup; sshcore does not re-check
// it on every operation.
func (h HostSpec) Validate() error {
	if h.Name == "" {
		return fmt.Errorf("sshcore: host spec has empty name")
	}
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("sshcore: host %q: invalid port %d", h.Name, h.Port)
	}
	if h.IdentityFile == "" && h.Password == "" {
		return fmt.Errorf("sshcore: host %q: must specify identity_file or password", h.Name)
	}
	if h.CommandTimeout < 1 {
		return fmt.Errorf("sshcore: host %q: command_timeout must be >= 1", h.Name)
	}
	if h.TransferTimeout < 1 {
		return fmt.Errorf("sshcore: host %q: transfer_timeout must be >= 1", h.Name)
	}
	if h.AllowedCommands != nil && len(h.AllowedCommands) == 0 {
		return fmt.Errorf("sshcore: host %q: allowed_commands is empty (blocks all commands)", h.Name)
	}
	return nil
}

// HasIdentityFile reports whether host-key-based auth is configured.
func (h HostSpec) HasIdentityFile() bool {
	return h.IdentityFile != ""
}
