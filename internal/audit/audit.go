// Package audit provides a unified helper for writing per-operation audit
// records to the embedded audit_logs collection. All sshgate operations
// (execute, upload, download, disconnect) go through Write(); the collection
// grants no client-side write access (see internal/migrations), so this is
// the only path a record can take.
//
// Grounded on the teacher's internal/audit.Write (PocketBase collection
// write, swallow-and-log on failure) with the fields adapted from the
// operator-facing schema of internal/migrations to the host/command
// schema sshgate actually produces.
package audit

import (
	"log"

	"github.com/google/uuid"
	"github.com/pocketbase/pocketbase/core"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

var validStatuses = map[string]bool{
	StatusSuccess: true,
	StatusFailed:  true,
}

// Entry holds all fields for a single audit record. A named struct avoids
// the swap-bug risk of several consecutive string parameters.
type Entry struct {
	// RequestID correlates one gateway tool call across its audit entries
	// (a batch call writes one Entry per command, all sharing RequestID).
	RequestID string
	// Action names the operation: "execute" (also per command of a
	// synchronous batch), "execute_batch" (per command of an async batch),
	// "upload", "download", "status", "connect" (triggered by a status
	// check), "disconnect".
	Action string
	// Host is the target host name from the allowlist.
	Host string
	// Command or path acted on; empty for actions like "disconnect".
	Subject string
	// Status must be StatusSuccess or StatusFailed.
	Status string
	// Detail holds optional structured context (exit code, byte count,
	// error summary). Never the raw transport error text — the caller is
	// responsible for the same opacity policy sshcore applies (spec.md §7).
	Detail map[string]any
}

// Sink is the interface internal/gateway depends on, so tests can
// substitute an in-memory sink instead of a real PocketBase app.
type Sink interface {
	Write(entry Entry)
}

// pocketbaseSink persists to the audit_logs collection of an embedded
// PocketBase app.
type pocketbaseSink struct {
	app core.App
}

// NewSink wraps a bootstrapped PocketBase app as a Sink.
func NewSink(app core.App) Sink {
	return &pocketbaseSink{app: app}
}

// Write persists one audit record. It bypasses PocketBase access rules via
// app.Save(), so it works from the gateway's stdio dispatch loop or an
// Asynq task handler alike. Errors are logged and swallowed — an audit
// failure must never break the calling operation.
func (s *pocketbaseSink) Write(entry Entry) {
	if !validStatuses[entry.Status] {
		log.Printf("audit.Write: invalid status %q for action %q — skipping", entry.Status, entry.Action)
		return
	}
	if entry.RequestID == "" {
		entry.RequestID = uuid.NewString()
	}

	col, err := s.app.FindCollectionByNameOrId("audit_logs")
	if err != nil {
		log.Printf("audit.Write: collection not found: %v", err)
		return
	}

	rec := core.NewRecord(col)
	rec.Set("request_id", entry.RequestID)
	rec.Set("action", entry.Action)
	rec.Set("host", entry.Host)
	rec.Set("subject", entry.Subject)
	rec.Set("status", entry.Status)
	if entry.Detail != nil {
		rec.Set("detail", entry.Detail)
	}

	if err := s.app.Save(rec); err != nil {
		log.Printf("audit.Write: save failed: %v", err)
	}
}
