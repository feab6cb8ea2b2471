package sshcore

import (
	"fmt"
	"regexp"
	"strings"
)

// shellMetaRe matches the shell metacharacters that can chain, redirect,
// substitute, or quote-escape a command once OpenSSH wraps exec_command in
// /bin/sh -c "...". This list is a contract (spec.md §4.1): it must match
// bit-exactly, including what it deliberately omits — '!' (only
// interactive-shell significant) and '{' '}' (brace expansion, not
// execution) are never rejected.
var shellMetaRe = regexp.MustCompile("[;&|`$()<>\n\"']")

// CheckCommand decides whether cmd is admissible on a host with the given
// allowed commands set. A nil allowed slice admits everything. It is a
// pure function over config and the command string: it never touches the
// connection lock or the network, and runs before a connection is ever
// acquired.
func CheckCommand(host string, cmd string, allowed []string) error {
	if allowed == nil {
		return nil
	}

	if shellMetaRe.MatchString(cmd) {
		return &PermissionDeniedError{
			Host:    host,
			Command: cmd,
			Reason: "command contains shell metacharacters (rejected for a host with an " +
				"allowlist); send each command separately without pipes or chaining",
		}
	}

	base := baseCommand(cmd)
	for _, a := range allowed {
		if a == base {
			return nil
		}
	}
	return &PermissionDeniedError{
		Host:    host,
		Command: cmd,
		Reason: fmt.Sprintf("command %q not in allowlist for %q. Allowed: %s",
			base, host, strings.Join(allowed, ", ")),
	}
}

// baseCommand extracts the first whitespace-separated token of the
// trimmed command, or the empty string for a blank command.
func baseCommand(cmd string) string {
	trimmed := strings.TrimSpace(cmd)
	if trimmed == "" {
		return ""
	}
	fields := strings.Fields(trimmed)
	return fields[0]
}
