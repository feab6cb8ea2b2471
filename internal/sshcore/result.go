package sshcore

import "time"

// CommandResult is the outcome of one execute() call (spec.md §3, §6).
type CommandResult struct {
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
	Host       string    `json:"host"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	DurationMs int64     `json:"duration_ms"`
}

// TransferResult is the outcome of one upload() or download() call.
type TransferResult struct {
	Success    bool   `json:"success"`
	Host       string `json:"host"`
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
	Bytes      int64  `json:"bytes"`
}

// StatusRecord is an atomic snapshot of one connection's status
// (spec.md §4.2, §6: the bare status() shape). IdleSeconds is nil if the
// connection has never performed a successful operation.
type StatusRecord struct {
	Name        string   `json:"name"`
	Hostname    string   `json:"hostname"`
	Port        int      `json:"port"`
	Username    string   `json:"username"`
	State       string   `json:"state"`
	Connected   bool     `json:"connected"`
	IdleSeconds *float64 `json:"idle_seconds"`
}

// HostListEntry is one row of Manager.ListHosts(): a StatusRecord plus the
// host-config fields spec.md §6 says listHosts adds on top of bare status()
// (has_key, command_timeout, allowed_commands?).
type HostListEntry struct {
	StatusRecord
	HasKey         bool `json:"has_key"`
	CommandTimeout int  `json:"command_timeout"`
	// AllowedCommands is present only when the host's allowlist is set.
	AllowedCommands []string `json:"allowed_commands,omitempty"`
}
