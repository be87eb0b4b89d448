// Package executor runs one task phase to completion: it spawns the agent's
// CLI in a terminal session, streams its output, and gates every tool
// invocation through the approval policy. It is the only component that
// performs process I/O.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alekspetrov/warden/internal/agent"
	"github.com/alekspetrov/warden/internal/approval"
	"github.com/alekspetrov/warden/internal/cliadapter"
	"github.com/alekspetrov/warden/internal/logging"
)

var (
	// ErrTaskNotActive is returned by Abort for an unknown task id.
	ErrTaskNotActive = errors.New("task not active")
)

// Config holds executor settings.
type Config struct {
	// TimeoutSecs bounds one whole phase execution.
	TimeoutSecs int `yaml:"timeout_secs"`
	// ReadTimeoutSecs bounds each individual output read.
	ReadTimeoutSecs int `yaml:"read_timeout_secs"`
	// MaxToolCalls caps tool invocations per execution; calls past the cap
	// are denied.
	MaxToolCalls int `yaml:"max_tool_calls"`
	// ApprovalTimeoutSecs bounds the wait on one pending approval.
	// Zero uses the gate's default.
	ApprovalTimeoutSecs int `yaml:"approval_timeout_secs"`
}

// DefaultConfig returns sensible executor defaults.
func DefaultConfig() *Config {
	return &Config{
		TimeoutSecs:     300,
		ReadTimeoutSecs: 5,
		MaxToolCalls:    10,
	}
}

// Request describes one phase execution.
type Request struct {
	TaskID  uuid.UUID
	AgentID uuid.UUID
	Role    agent.Role
	CLI     cliadapter.CLIType
	Prompt  string
	Workdir string
	// Timeout overrides the configured execution timeout when positive.
	Timeout time.Duration
}

// Result is the outcome of one phase execution.
type Result struct {
	TaskID     uuid.UUID
	Success    bool
	Output     string
	Events     []Event
	ToolErrors []string
	Duration   time.Duration
	ExitCode   int
}

// ToolRunner executes an approved tool invocation and returns its output.
// Tool implementations live host-side; the executor only feeds results back
// into the agent's terminal.
type ToolRunner interface {
	Run(ctx context.Context, tool string, args map[string]any) (string, error)
}

// Executor drives CLI sessions through task phases.
type Executor struct {
	spawner Spawner
	gate    *approval.Gate
	tools   ToolRunner
	cfg     *Config

	mu     sync.Mutex
	active map[uuid.UUID]TermSession

	log *slog.Logger
}

// New creates an executor. tools may be nil, in which case auto-approved
// invocations are answered with an unavailability message.
func New(spawner Spawner, gate *approval.Gate, tools ToolRunner, cfg *Config) *Executor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Executor{
		spawner: spawner,
		gate:    gate,
		tools:   tools,
		cfg:     cfg,
		active:  make(map[uuid.UUID]TermSession),
		log:     logging.WithComponent("executor"),
	}
}

// Execute runs one task phase: spawn, stream output, gate tools, collect
// the result. Blocks until the process finishes, the timeout elapses, or
// ctx is cancelled.
func (e *Executor) Execute(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	log := e.log.With(
		slog.String("task_id", req.TaskID.String()),
		slog.String("agent_id", req.AgentID.String()),
		slog.String("cli", string(req.CLI)))
	log.Info("executing task phase")

	session, err := e.spawner.Spawn(req.CLI, req.Prompt, req.Workdir)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn agent CLI: %w", err)
	}

	e.mu.Lock()
	e.active[req.TaskID] = session
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.active, req.TaskID)
		e.mu.Unlock()
		_ = session.Kill()
	}()

	timeout := time.Duration(e.cfg.TimeoutSecs) * time.Second
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	readTimeout := time.Duration(e.cfg.ReadTimeoutSecs) * time.Second
	deadline := start.Add(timeout)

	var (
		output    []byte
		events    []Event
		toolErrs  []string
		toolCalls int
		lines     lineBuffer
		timedOut  bool
	)

	handleLine := func(line string) {
		event, ok := parseEvent(line)
		if !ok {
			return
		}
		events = append(events, event)
		if event.Type != EventToolCall {
			return
		}
		toolCalls++
		if toolCalls > e.cfg.MaxToolCalls {
			msg := fmt.Sprintf("tool call limit reached (%d)", e.cfg.MaxToolCalls)
			toolErrs = append(toolErrs, msg)
			_ = session.SendLine(fmt.Sprintf("[TOOL_DENIED] %s: %s", event.Message, msg))
			return
		}
		if toolErr := e.handleToolCall(ctx, session, req, event); toolErr != "" {
			toolErrs = append(toolErrs, toolErr)
		}
	}

readLoop:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		chunk := session.ReadTimeout(readTimeout)
		if chunk != nil {
			output = append(output, chunk...)
			for _, line := range lines.feed(chunk) {
				handleLine(line)
			}
		} else if !session.Alive() {
			break readLoop
		}

		if time.Now().After(deadline) {
			timedOut = true
			log.Warn("task phase timed out", slog.Duration("timeout", timeout))
			break readLoop
		}
	}

	// Drain output still buffered after process death or timeout.
	if remaining := session.ReadAll(); len(remaining) > 0 {
		output = append(output, remaining...)
		for _, line := range lines.feed(remaining) {
			handleLine(line)
		}
	}
	for _, line := range lines.flush() {
		handleLine(line)
	}

	// The adapter's status markers decide success where the CLI emits them;
	// otherwise fall back to produced-output-without-timeout.
	success := !timedOut && len(output) > 0
	if status, ok := e.spawner.ParseStatus(req.CLI, string(output)); ok {
		success = !timedOut && status == cliadapter.StatusCompleted
	}
	exitCode := session.ExitCode()

	result := &Result{
		TaskID:     req.TaskID,
		Success:    success,
		Output:     string(output),
		Events:     events,
		ToolErrors: toolErrs,
		Duration:   time.Since(start),
		ExitCode:   exitCode,
	}

	log.Info("task phase finished",
		slog.Bool("success", success),
		slog.Duration("duration", result.Duration),
		slog.Int("events", len(events)),
		slog.Int("tool_errors", len(toolErrs)))
	return result, nil
}

// handleToolCall resolves the policy for one tool_call event and feeds the
// outcome back into the session. Returns a non-empty string for the
// result's ToolErrors when the tool was denied or failed.
func (e *Executor) handleToolCall(ctx context.Context, session TermSession, req *Request, event Event) string {
	tool := event.Message
	policy := e.gate.CheckApproval(tool, req.Role)

	switch policy {
	case approval.PolicyAutoApprove:
		return e.runTool(ctx, session, tool, event.Data)

	case approval.PolicyDeny:
		e.log.Warn("tool denied by policy",
			slog.String("tool", tool),
			slog.String("agent_id", req.AgentID.String()))
		_ = session.SendLine(fmt.Sprintf("[TOOL_DENIED] %s: denied by policy", tool))
		return fmt.Sprintf("%s: denied by policy", tool)

	default: // PolicyRequireApproval, including unknown tools
		pending := e.gate.Request(req.AgentID, tool, event.Data)
		approvalTimeout := time.Duration(e.cfg.ApprovalTimeoutSecs) * time.Second

		// Blocks only this execution; other agents keep running.
		status, err := e.gate.Await(ctx, pending.ID, approvalTimeout)
		if err != nil {
			_ = session.SendLine(fmt.Sprintf("[TOOL_DENIED] %s: approval unavailable", tool))
			return fmt.Sprintf("%s: approval wait failed: %v", tool, err)
		}

		switch status {
		case approval.StatusApproved:
			return e.runTool(ctx, session, tool, event.Data)
		case approval.StatusTimedOut:
			// Treated exactly like a denial.
			_ = session.SendLine(fmt.Sprintf("[TOOL_DENIED] %s: approval timed out", tool))
			return fmt.Sprintf("%s: approval timed out", tool)
		default:
			_ = session.SendLine(fmt.Sprintf("[TOOL_DENIED] %s: denied by operator", tool))
			return fmt.Sprintf("%s: denied by operator", tool)
		}
	}
}

// runTool executes an approved tool and feeds the result to the session.
func (e *Executor) runTool(ctx context.Context, session TermSession, tool string, args map[string]any) string {
	if e.tools == nil {
		_ = session.SendLine(fmt.Sprintf("[TOOL_RESULT] %s: tool execution unavailable", tool))
		return ""
	}
	out, err := e.tools.Run(ctx, tool, args)
	if err != nil {
		_ = session.SendLine(fmt.Sprintf("[TOOL_ERROR] %s: %v", tool, err))
		return fmt.Sprintf("%s: %v", tool, err)
	}
	_ = session.SendLine(fmt.Sprintf("[TOOL_RESULT] %s: %s", tool, out))
	return ""
}

// Abort kills the session of an in-flight execution. The execution returns
// with whatever output was collected.
func (e *Executor) Abort(taskID uuid.UUID) error {
	e.mu.Lock()
	session, ok := e.active[taskID]
	if ok {
		delete(e.active, taskID)
	}
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotActive, taskID)
	}
	e.log.Info("aborting task execution", slog.String("task_id", taskID.String()))
	return session.Kill()
}

// ActiveTasks returns the ids of executions currently in flight.
func (e *Executor) ActiveTasks() []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]uuid.UUID, 0, len(e.active))
	for id := range e.active {
		out = append(out, id)
	}
	return out
}
