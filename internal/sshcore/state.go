package sshcore

// ConnectionState is the four-case tagged state of a Connection.
type ConnectionState int

const (
	// StateDisconnected is the initial state: no transport held.
	StateDisconnected ConnectionState = iota
	// StateConnecting is transient, held only during dial.
	StateConnecting
	// StateConnected means the transport is owned and was last observed alive.
	StateConnected
	// StateError means the transport failed to dial, or died mid-operation,
	// since the last successful connect. Sticky until the next dial succeeds.
	StateError
)

// String renders the lowercase state name used in StatusRecord.State and
// in the wire status JSON (spec.md §6).
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
