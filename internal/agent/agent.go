// Package agent defines the supervised worker record, its role taxonomy,
// and the lifecycle state machine that governs it.
package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/alekspetrov/warden/internal/cliadapter"
)

// Role classifies what an agent is for.
type Role string

const (
	// RoleCoordinator assigns and sequences work across other agents.
	RoleCoordinator Role = "coordinator"
	// RoleWatchdog watches for failed or hung agents.
	RoleWatchdog Role = "watchdog"
	// RoleMonitor observes and reports without mutating anything.
	RoleMonitor Role = "monitor"
	// RoleMergeManager lands finished work.
	RoleMergeManager Role = "merge-manager"
	// RoleEphemeral is a short-lived worker torn down after one task.
	RoleEphemeral Role = "ephemeral"
	// RoleCrew is a long-lived worker that takes tasks from the queue.
	RoleCrew Role = "crew"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCoordinator, RoleWatchdog, RoleMonitor, RoleMergeManager, RoleEphemeral, RoleCrew:
		return true
	}
	return false
}

// Agent is one supervised worker driving an external coding CLI.
// Owned by the supervisor; created on spawn request, destroyed when the
// machine reaches Stopped.
type Agent struct {
	ID        uuid.UUID
	Name      string
	Role      Role
	CLI       cliadapter.CLIType
	Machine   *Machine
	CreatedAt time.Time
	UpdatedAt time.Time

	// SessionID is the bound terminal session, if any.
	SessionID uuid.UUID
	// LastHeartbeat is the last observed liveness signal.
	LastHeartbeat time.Time
}

// New creates an agent in the Idle state.
func New(name string, role Role, cli cliadapter.CLIType) *Agent {
	now := time.Now().UTC()
	return &Agent{
		ID:        uuid.New(),
		Name:      name,
		Role:      role,
		CLI:       cli,
		Machine:   NewMachine(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// State returns the agent's current lifecycle state.
func (a *Agent) State() State {
	return a.Machine.State()
}
