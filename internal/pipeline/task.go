package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// PhaseRecord is the outcome of one phase execution, kept on the task.
type PhaseRecord struct {
	Phase      Phase
	Success    bool
	Output     string
	TokensUsed int
	Duration   time.Duration
	At         time.Time
}

// RecoveryEvent records one stuck-recovery action taken on a task.
type RecoveryEvent struct {
	Phase  Phase
	Reason StuckReason
	Action RecoveryAction
	At     time.Time
}

// Task is one unit of work driven through the phase pipeline, bound to one
// agent at a time.
type Task struct {
	ID          uuid.UUID
	Title       string
	Description string
	Workdir     string
	AgentID     uuid.UUID

	Phase         Phase
	History       []PhaseRecord
	Recoveries    []RecoveryEvent
	FixIterations int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
}

// NewTask creates a task at the start of the pipeline.
func NewTask(title, description, workdir string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:          uuid.New(),
		Title:       title,
		Description: description,
		Workdir:     workdir,
		Phase:       PhaseDiscovery,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// PhaseOutput returns the most recent output recorded for the given phase.
func (t *Task) PhaseOutput(phase Phase) string {
	for i := len(t.History) - 1; i >= 0; i-- {
		if t.History[i].Phase == phase {
			return t.History[i].Output
		}
	}
	return ""
}

func (t *Task) record(rec PhaseRecord) {
	t.History = append(t.History, rec)
	t.UpdatedAt = time.Now().UTC()
}
