// Package pipeline drives a task through its phase sequence, one executor
// call per phase, with stuck detection and a bounded QA fix loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alekspetrov/warden/internal/agent"
	"github.com/alekspetrov/warden/internal/cliadapter"
	"github.com/alekspetrov/warden/internal/executor"
	"github.com/alekspetrov/warden/internal/logging"
)

var (
	// ErrQAExhausted is returned when QA still fails after the fix budget.
	ErrQAExhausted = errors.New("qa failed after maximum fix iterations")
	// ErrEscalated is returned when the recovery ladder runs out and the
	// task needs manual intervention.
	ErrEscalated = errors.New("task escalated for manual intervention")
)

// RecoveryAction is one rung of the stuck-recovery ladder.
type RecoveryAction string

const (
	ActionShrinkContext  RecoveryAction = "shrink_context"
	ActionSimplifyPrompt RecoveryAction = "simplify_prompt"
	ActionEscalate       RecoveryAction = "escalate"
)

// Config holds pipeline settings.
type Config struct {
	// TokenBudget bounds the context assembled per phase.
	TokenBudget int `yaml:"token_budget"`
	// MaxFixIterations caps the QA fix loop.
	MaxFixIterations int `yaml:"max_fix_iterations"`
	// StuckTimeoutSecs is the no-progress window before a task counts as
	// stalled.
	StuckTimeoutSecs int `yaml:"stuck_timeout_secs"`
	// StuckTokenBudget is the total token spend allowed per task run.
	StuckTokenBudget int `yaml:"stuck_token_budget"`
	// CLI is the external tool that runs each phase.
	CLI cliadapter.CLIType `yaml:"cli"`
	// Role is attributed to phase executions for approval policy lookups.
	Role agent.Role `yaml:"role"`
}

// DefaultConfig returns sensible pipeline defaults.
func DefaultConfig() *Config {
	return &Config{
		TokenBudget:      16000,
		MaxFixIterations: 3,
		StuckTimeoutSecs: 300,
		StuckTokenBudget: 100000,
		CLI:              cliadapter.Claude,
		Role:             agent.RoleCrew,
	}
}

// PhaseExecutor is the slice of the executor the pipeline needs.
// Satisfied by *executor.Executor.
type PhaseExecutor interface {
	Execute(ctx context.Context, req *executor.Request) (*executor.Result, error)
}

// GenerateRequest asks the provider for text generation over assembled
// context.
type GenerateRequest struct {
	Context string
	Prompt  string
}

// GenerateResponse carries the provider's text and token usage.
type GenerateResponse struct {
	Text       string
	TokensUsed int
}

// Provider is an opaque text-generation capability. When configured, the
// pipeline uses it to distill assembled context before each phase; its
// token usage counts against the task's budget.
type Provider interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// Notifier receives pipeline progress events for relay to external clients.
type Notifier func(taskID uuid.UUID, event string)

// Saver persists task records after each phase. Failures are logged, not
// fatal.
type Saver interface {
	SaveTask(t *Task) error
}

// Result is the outcome of one full pipeline run.
type Result struct {
	TaskID        uuid.UUID
	Passed        bool
	FixIterations int
	Recoveries    int
	Duration      time.Duration
}

// Pipeline sequences executor invocations across task phases.
type Pipeline struct {
	exec     PhaseExecutor
	provider Provider
	cfg      *Config
	notify   Notifier
	saver    Saver
	log      *slog.Logger
}

// New creates a pipeline over the given executor.
func New(exec PhaseExecutor, cfg *Config) *Pipeline {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Pipeline{
		exec: exec,
		cfg:  cfg,
		log:  logging.WithComponent("pipeline"),
	}
}

// SetProvider attaches a text-generation provider for context distillation.
func (p *Pipeline) SetProvider(provider Provider) { p.provider = provider }

// SetNotifier attaches a progress event sink.
func (p *Pipeline) SetNotifier(n Notifier) { p.notify = n }

// SetSaver attaches a task persistence hook.
func (p *Pipeline) SetSaver(s Saver) { p.saver = s }

// Run drives the task from its current phase to Complete or Failed.
// The returned Result is valid even when err is non-nil.
func (p *Pipeline) Run(ctx context.Context, task *Task) (*Result, error) {
	start := time.Now()
	log := p.log.With(slog.String("task_id", task.ID.String()), slog.String("title", task.Title))
	log.Info("pipeline started", slog.String("phase", string(task.Phase)))
	p.emit(task.ID, "pipeline_start")

	detector := NewStuckDetector(
		time.Duration(p.cfg.StuckTimeoutSecs)*time.Second,
		p.cfg.StuckTokenBudget,
	)
	budget := p.cfg.TokenBudget
	simplified := false
	recoveryLevel := 0

	fail := func(cause error) (*Result, error) {
		task.Phase = PhaseFailed
		p.save(task)
		p.emit(task.ID, "pipeline_failed")
		log.Warn("pipeline failed", slog.String("error", cause.Error()))
		return p.result(task, false, start), cause
	}

	for !task.Phase.Terminal() {
		select {
		case <-ctx.Done():
			return p.result(task, false, start), ctx.Err()
		default:
		}

		phase := task.Phase
		p.emit(task.ID, "phase_start:"+string(phase))

		contextStr, contextTokens := assembleContext(taskSnippets(task), budget)
		if p.provider != nil && contextStr != "" {
			if distilled, tokens, err := p.distill(ctx, contextStr); err == nil {
				contextStr = distilled
				detector.AddTokens(tokens)
			}
		}
		prompt := buildPrompt(task, phase, contextStr, simplified)

		res, err := p.exec.Execute(ctx, &executor.Request{
			TaskID:  task.ID,
			AgentID: task.AgentID,
			Role:    p.cfg.Role,
			CLI:     p.cfg.CLI,
			Prompt:  prompt,
			Workdir: task.Workdir,
		})
		if err != nil {
			return fail(fmt.Errorf("phase %s: %w", phase, err))
		}

		tokens := contextTokens + estimateTokens(res.Output)
		detector.RecordOutput(res.Output, tokens)
		task.record(PhaseRecord{
			Phase:      phase,
			Success:    res.Success,
			Output:     res.Output,
			TokensUsed: tokens,
			Duration:   res.Duration,
			At:         time.Now().UTC(),
		})

		if reason, stuck := detector.Check(); stuck {
			if !p.recover(task, phase, reason, detector, &budget, &simplified, &recoveryLevel) {
				return fail(fmt.Errorf("%w: stuck (%s) in phase %s", ErrEscalated, reason, phase))
			}
			continue
		}

		switch {
		case phase == PhaseQA && res.Success:
			task.Phase = phase.Next()
			recoveryLevel = 0
			simplified = false

		case phase == PhaseQA:
			if task.FixIterations >= p.cfg.MaxFixIterations {
				return fail(fmt.Errorf("%w (%d)", ErrQAExhausted, task.FixIterations))
			}
			task.FixIterations++
			p.emit(task.ID, fmt.Sprintf("qa_fix_iteration_%d", task.FixIterations))
			log.Info("qa failed, entering fix iteration", slog.Int("iteration", task.FixIterations))
			task.Phase = PhaseFixing

		case res.Success:
			task.Phase = phase.Next()
			recoveryLevel = 0
			simplified = false

		default:
			// Non-QA phase failure goes through the same recovery ladder
			// as a stuck detection.
			if !p.recover(task, phase, ReasonTimeout, detector, &budget, &simplified, &recoveryLevel) {
				return fail(fmt.Errorf("%w: phase %s kept failing", ErrEscalated, phase))
			}
			continue
		}

		p.save(task)
	}

	task.CompletedAt = time.Now().UTC()
	p.save(task)
	p.emit(task.ID, "pipeline_complete")
	log.Info("pipeline complete",
		slog.Int("fix_iterations", task.FixIterations),
		slog.Int("recoveries", len(task.Recoveries)))
	return p.result(task, true, start), nil
}

// recover applies the next rung of the recovery ladder: shrink the context
// budget, then simplify the prompt, then give up and escalate. Returns
// false when escalating.
func (p *Pipeline) recover(task *Task, phase Phase, reason StuckReason, detector *StuckDetector, budget *int, simplified *bool, level *int) bool {
	var action RecoveryAction
	switch *level {
	case 0:
		action = ActionShrinkContext
		*budget /= 2
	case 1:
		action = ActionSimplifyPrompt
		*simplified = true
	default:
		action = ActionEscalate
	}
	*level++

	task.Recoveries = append(task.Recoveries, RecoveryEvent{
		Phase:  phase,
		Reason: reason,
		Action: action,
		At:     time.Now().UTC(),
	})
	p.emit(task.ID, "recovery:"+string(action))
	p.log.Warn("recovery action",
		slog.String("task_id", task.ID.String()),
		slog.String("phase", string(phase)),
		slog.String("reason", string(reason)),
		slog.String("action", string(action)))

	if action == ActionEscalate {
		return false
	}
	detector.Reset()
	return true
}

// distill asks the provider to condense assembled context.
func (p *Pipeline) distill(ctx context.Context, contextStr string) (string, int, error) {
	resp, err := p.provider.Generate(ctx, &GenerateRequest{
		Context: contextStr,
		Prompt:  "Condense the context above to only what is needed for the next step.",
	})
	if err != nil {
		p.log.Warn("context distillation failed", slog.String("error", err.Error()))
		return "", 0, err
	}
	return resp.Text, resp.TokensUsed, nil
}

func (p *Pipeline) result(task *Task, passed bool, start time.Time) *Result {
	return &Result{
		TaskID:        task.ID,
		Passed:        passed,
		FixIterations: task.FixIterations,
		Recoveries:    len(task.Recoveries),
		Duration:      time.Since(start),
	}
}

func (p *Pipeline) emit(taskID uuid.UUID, event string) {
	if p.notify != nil {
		p.notify(taskID, event)
	}
}

func (p *Pipeline) save(task *Task) {
	if p.saver == nil {
		return
	}
	if err := p.saver.SaveTask(task); err != nil {
		p.log.Warn("failed to persist task",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
	}
}
