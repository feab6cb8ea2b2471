// Package worker manages the embedded Asynq task worker: a periodic
// idle-connection reaper and an async batch-execute job queue.
//
// Grounded on the teacher's internal/worker (Asynq server + shared client,
// task-type constants, ServeMux dispatch, New/Start/Shutdown lifecycle);
// the task set is sshgate's own rather than the teacher's app-lifecycle
// tasks.
package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fabber/sshgate/internal/audit"
	"github.com/fabber/sshgate/internal/sshcore"
)

const (
	// TaskReapIdle is self-rescheduling: its handler reaps idle
	// connections, then enqueues its own next run. There is no separate
	// Asynq scheduler process in this repository, so periodicity lives in
	// the handler rather than a cron spec.
	TaskReapIdle = "maintenance:reap_idle"
	// TaskBatchExecute runs a sequence of commands against one host
	// fire-and-forget, for batches a caller does not want to block on
	// (spec.md's synchronous execute_batch tool, implemented in
	// internal/gateway, is the default path; this is the async escape
	// hatch for long-running batches).
	TaskBatchExecute = "ssh:batch_execute"
)

// reapInterval bounds how often TaskReapIdle re-enqueues itself.
var reapInterval = 5 * time.Minute

// idleThreshold is how long a connection must be idle before it is
// proactively disconnected. Unlike ensureConnectedLocked's sticky-error
// reconnect-on-demand, this is a housekeeping policy on top of sshcore,
// not a core invariant — sshcore never times out a connection on its own.
var idleThreshold = 30 * time.Minute

// BatchExecutePayload is the payload for TaskBatchExecute.
type BatchExecutePayload struct {
	RequestID   string   `json:"request_id"`
	Host        string   `json:"host"`
	Commands    []string `json:"commands"`
	StopOnError bool     `json:"stop_on_error"`
}

// Worker owns the Asynq server and a shared client for enqueuing tasks.
type Worker struct {
	server  *asynq.Server
	client  *asynq.Client
	manager *sshcore.Manager
	sink    audit.Sink
}

// New creates a Worker wired to manager (for reaping and batch execution)
// and sink (for auditing batch task outcomes). Call Start() to begin
// processing and Shutdown() to stop.
func New(redisAddr string, manager *sshcore.Manager, sink audit.Sink) *Worker {
	opt := asynq.RedisClientOpt{Addr: redisAddr}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			"default": 3,
			"low":     1,
		},
	})

	return &Worker{
		server:  srv,
		client:  asynq.NewClient(opt),
		manager: manager,
		sink:    sink,
	}
}

// Start begins processing tasks in a background goroutine and kicks off
// the first idle-reap cycle.
func (w *Worker) Start() {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskReapIdle, w.handleReapIdle)
	mux.HandleFunc(TaskBatchExecute, w.handleBatchExecute)

	go func() {
		if err := w.server.Run(mux); err != nil {
			log.Printf("worker: asynq server error: %v", err)
		}
	}()

	if _, err := w.client.Enqueue(asynq.NewTask(TaskReapIdle, nil), asynq.Queue("low"), asynq.ProcessIn(reapInterval)); err != nil {
		log.Printf("worker: failed to schedule initial idle reap: %v", err)
	}
}

// EnqueueBatchExecute submits an async batch-execute job. Returns the
// Asynq task ID for correlation with worker logs.
func (w *Worker) EnqueueBatchExecute(p BatchExecutePayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	info, err := w.client.Enqueue(asynq.NewTask(TaskBatchExecute, data))
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// Shutdown gracefully stops the server and closes the client connection.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	_ = w.client.Close()
}

// handleReapIdle disconnects every connection idle past idleThreshold,
// then re-enqueues itself for the next cycle — the periodic-task pattern
// this repository uses instead of a separate Asynq scheduler binary.
func (w *Worker) handleReapIdle(_ context.Context, _ *asynq.Task) error {
	reaped := 0
	for _, status := range w.manager.ListHosts() {
		if status.IdleSeconds == nil || *status.IdleSeconds < idleThreshold.Seconds() {
			continue
		}
		conn, err := w.manager.GetConnection(status.Name)
		if err != nil {
			continue
		}
		if err := conn.Disconnect(); err != nil {
			log.Printf("worker: reap idle: disconnect %q: %v", status.Name, err)
			continue
		}
		reaped++
	}
	if reaped > 0 {
		log.Printf("worker: reaped %d idle connection(s)", reaped)
	}

	if _, err := w.client.Enqueue(asynq.NewTask(TaskReapIdle, nil), asynq.Queue("low"), asynq.ProcessIn(reapInterval)); err != nil {
		log.Printf("worker: failed to reschedule idle reap: %v", err)
	}
	return nil
}

// handleBatchExecute runs p.Commands sequentially against p.Host, exactly
// the original_source/src/mcp_ssh/server.py ssh_execute_batch loop (stop on
// first failure when StopOnError), auditing each command individually.
func (w *Worker) handleBatchExecute(ctx context.Context, t *asynq.Task) error {
	var p BatchExecutePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		log.Printf("worker: handleBatchExecute: bad payload: %v", err)
		return err
	}

	conn, err := w.manager.GetConnection(p.Host)
	if err != nil {
		log.Printf("worker: handleBatchExecute: %v", err)
		return nil
	}

	for _, cmd := range p.Commands {
		result, err := conn.Execute(ctx, cmd)
		entry := audit.Entry{
			RequestID: p.RequestID,
			Action:    "execute_batch",
			Host:      p.Host,
			Subject:   cmd,
		}
		if err != nil {
			entry.Status = audit.StatusFailed
			entry.Detail = map[string]any{"error": err.Error()}
			w.sink.Write(entry)
			if p.StopOnError {
				return nil
			}
			continue
		}
		entry.Status = audit.StatusSuccess
		entry.Detail = map[string]any{"exit_code": result.ExitCode}
		w.sink.Write(entry)
		if result.ExitCode != 0 && p.StopOnError {
			return nil
		}
	}
	return nil
}
