// Package gateway is the stdio tool-calling surface sshgate exposes: a
// newline-delimited JSON-RPC-shaped dispatcher for the seven tools spec.md
// §1 names (list_hosts, execute, execute_batch, upload, download, status,
// disconnect), translating each call into sshcore.Manager/Connection calls
// plus one audit.Sink.Write per operation.
//
// Grounded in tool shape on original_source/src/mcp_ssh/server.py (one
// function per tool, one _audit call per tool); the transport itself has no
// FastMCP equivalent in the pack, so it follows the bufio.Scanner +
// encoding/json framing shown in other_examples' stdio transports.
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/google/uuid"

	"github.com/fabber/sshgate/internal/audit"
	"github.com/fabber/sshgate/internal/sshcore"
	"github.com/fabber/sshgate/internal/worker"
)

// request is one line of input: {"id": "...", "method": "...", "params": {...}}.
type request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// response is one line of output. Exactly one of Result/Error is set.
type response struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Gateway dispatches requests read from an io.Reader to Manager/Connection
// calls and writes one response per request to an io.Writer.
type Gateway struct {
	manager *sshcore.Manager
	sink    audit.Sink
	worker  *worker.Worker
}

// New builds a Gateway. worker may be nil — EnqueueBatchExecute calls then
// report a plain error instead of panicking, which keeps Gateway usable in
// tests that don't need the async batch path.
func New(manager *sshcore.Manager, sink audit.Sink, w *worker.Worker) *Gateway {
	return &Gateway{manager: manager, sink: sink, worker: w}
}

// Serve reads newline-delimited requests from r until EOF or ctx is
// canceled, dispatching each synchronously and writing its response to w
// before reading the next line. ctx is checked only after a line has been
// read, so a cancellation while Serve waits for input takes effect when the
// next line arrives (that line is not dispatched) or r reaches EOF. sshgate
// never processes two tool calls
// concurrently, matching spec.md's "no concurrent execution on the same
// host" non-goal at the widest possible scope.
func (g *Gateway) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(response{Error: fmt.Sprintf("invalid request: %v", err)})
			continue
		}

		resp := g.dispatch(ctx, req)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("gateway: write response: %w", err)
		}
	}
	return scanner.Err()
}

func (g *Gateway) dispatch(ctx context.Context, req request) response {
	result, err := g.call(ctx, req.Method, req.Params)
	if err != nil {
		log.Printf("gateway: %s failed: %v", req.Method, err)
		return response{ID: req.ID, Error: err.Error()}
	}
	return response{ID: req.ID, Result: result}
}

func (g *Gateway) call(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "list_hosts":
		return g.listHosts()
	case "execute":
		return g.execute(ctx, params)
	case "execute_batch":
		return g.executeBatch(ctx, params)
	case "upload":
		return g.upload(ctx, params)
	case "download":
		return g.download(ctx, params)
	case "status":
		return g.status(ctx, params)
	case "disconnect":
		return g.disconnect(params)
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

func (g *Gateway) listHosts() (any, error) {
	return g.manager.ListHosts(), nil
}

type hostParams struct {
	Host string `json:"host"`
}

type executeParams struct {
	Host    string `json:"host"`
	Command string `json:"command"`
}

func (g *Gateway) execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var p executeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	requestID := uuid.NewString()

	conn, err := g.manager.GetConnection(p.Host)
	if err != nil {
		return nil, err
	}
	result, err := conn.Execute(ctx, p.Command)
	g.audit(requestID, "execute", p.Host, p.Command, err, map[string]any{})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type executeBatchParams struct {
	Host        string   `json:"host"`
	Commands    []string `json:"commands"`
	StopOnError *bool    `json:"stop_on_error"`
	Async       bool     `json:"async"`
}

// executeBatchResult mirrors original_source's ssh_execute_batch return
// shape: a result per command (with a synthetic failed entry on error,
// exactly like the Python original's except-block) plus an overall
// success flag.
type executeBatchResult struct {
	Results []batchCommandResult `json:"results"`
	Success bool                 `json:"success"`
	TaskID  string               `json:"task_id,omitempty"`
}

type batchCommandResult struct {
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMs int64  `json:"duration_ms"`
}

func (g *Gateway) executeBatch(ctx context.Context, raw json.RawMessage) (any, error) {
	var p executeBatchParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	stopOnError := true
	if p.StopOnError != nil {
		stopOnError = *p.StopOnError
	}
	requestID := uuid.NewString()

	if p.Async {
		if g.worker == nil {
			return nil, errors.New("async batch execute is not available: no worker configured")
		}
		taskID, err := g.worker.EnqueueBatchExecute(worker.BatchExecutePayload{
			RequestID:   requestID,
			Host:        p.Host,
			Commands:    p.Commands,
			StopOnError: stopOnError,
		})
		if err != nil {
			return nil, err
		}
		return executeBatchResult{Success: true, TaskID: taskID}, nil
	}

	conn, err := g.manager.GetConnection(p.Host)
	if err != nil {
		return nil, err
	}

	out := executeBatchResult{Success: true}
	for _, cmd := range p.Commands {
		result, err := conn.Execute(ctx, cmd)
		g.audit(requestID, "execute", p.Host, cmd, err, map[string]any{})
		if err != nil {
			out.Results = append(out.Results, batchCommandResult{
				Command:  cmd,
				ExitCode: -1,
				Stderr:   fmt.Sprintf("command execution failed on %q", p.Host),
			})
			out.Success = false
			if stopOnError {
				break
			}
			continue
		}
		out.Results = append(out.Results, batchCommandResult{
			Command:    cmd,
			ExitCode:   result.ExitCode,
			Stdout:     result.Stdout,
			Stderr:     result.Stderr,
			DurationMs: result.DurationMs,
		})
		if result.ExitCode != 0 {
			out.Success = false
			if stopOnError {
				break
			}
		}
	}
	return out, nil
}

type transferParams struct {
	Host       string `json:"host"`
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
}

func (g *Gateway) upload(ctx context.Context, raw json.RawMessage) (any, error) {
	var p transferParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	requestID := uuid.NewString()

	conn, err := g.manager.GetConnection(p.Host)
	if err != nil {
		return nil, err
	}
	result, err := conn.Upload(ctx, p.LocalPath, p.RemotePath)
	g.audit(requestID, "upload", p.Host, fmt.Sprintf("%s -> %s", p.LocalPath, p.RemotePath), err, map[string]any{})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *Gateway) download(ctx context.Context, raw json.RawMessage) (any, error) {
	var p transferParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	requestID := uuid.NewString()

	conn, err := g.manager.GetConnection(p.Host)
	if err != nil {
		return nil, err
	}
	result, err := conn.Download(ctx, p.RemotePath, p.LocalPath)
	g.audit(requestID, "download", p.Host, fmt.Sprintf("%s -> %s", p.RemotePath, p.LocalPath), err, map[string]any{})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// statusResult adds the live connectivity probe original_source's
// ssh_status performs on top of the plain status() snapshot: an
// "echo ok" round trip when already connected, or a connect attempt when
// not, each updating the reported connectivity field.
type statusResult struct {
	sshcore.StatusRecord
	Connectivity string `json:"connectivity"`
}

func (g *Gateway) status(ctx context.Context, raw json.RawMessage) (any, error) {
	var p hostParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}

	conn, err := g.manager.GetConnection(p.Host)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	g.audit(requestID, "status", p.Host, "", nil, map[string]any{})

	if conn.IsConnected() {
		result, err := conn.Execute(ctx, "echo ok")
		switch {
		case err != nil:
			return statusResult{StatusRecord: conn.Status(), Connectivity: "failed"}, nil
		case result.ExitCode != 0:
			return statusResult{StatusRecord: conn.Status(), Connectivity: "degraded"}, nil
		default:
			return statusResult{StatusRecord: conn.Status(), Connectivity: "ok"}, nil
		}
	}

	g.audit(uuid.NewString(), "connect", p.Host, "triggered by status check", nil, map[string]any{})
	if err := conn.Connect(ctx); err != nil {
		return statusResult{StatusRecord: conn.Status(), Connectivity: "failed"}, nil
	}
	return statusResult{StatusRecord: conn.Status(), Connectivity: "ok"}, nil
}

func (g *Gateway) disconnect(raw json.RawMessage) (any, error) {
	var p hostParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}

	conn, err := g.manager.GetConnection(p.Host)
	if err != nil {
		return nil, err
	}
	if err := conn.Disconnect(); err != nil {
		return nil, err
	}
	g.audit(uuid.NewString(), "disconnect", p.Host, "", nil, map[string]any{})
	return map[string]any{"host": p.Host, "state": "disconnected"}, nil
}

func (g *Gateway) audit(requestID, action, host, subject string, opErr error, detail map[string]any) {
	entry := audit.Entry{
		RequestID: requestID,
		Action:    action,
		Host:      host,
		Subject:   subject,
		Detail:    detail,
	}
	if opErr != nil {
		entry.Status = audit.StatusFailed
		entry.Detail["error"] = opErr.Error()
	} else {
		entry.Status = audit.StatusSuccess
	}
	g.sink.Write(entry)
}
