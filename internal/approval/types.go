// Package approval gates tool invocations behind per-tool policies with
// role overrides and a pending-request table.
package approval

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/alekspetrov/warden/internal/agent"
)

// Policy governs whether a tool invocation proceeds.
type Policy string

const (
	// PolicyAutoApprove executes the tool without asking.
	PolicyAutoApprove Policy = "auto_approve"
	// PolicyRequireApproval blocks the tool until a human decides.
	PolicyRequireApproval Policy = "require_approval"
	// PolicyDeny rejects the tool outright.
	PolicyDeny Policy = "deny"
)

// Status is the lifecycle of one pending request. Approved, Denied, and
// TimedOut are terminal; a resolved request is never mutated again.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	// StatusTimedOut marks a request nobody resolved before the deadline.
	// Callers treat it exactly like a denial; the distinct status exists so
	// the audit trail can tell a human "no" from silence.
	StatusTimedOut Status = "timed_out"
)

// Resolved reports whether the status is terminal.
func (s Status) Resolved() bool {
	return s == StatusApproved || s == StatusDenied || s == StatusTimedOut
}

var (
	// ErrNotFound is returned for an unknown request id.
	ErrNotFound = errors.New("approval request not found")

	// ErrAlreadyResolved is returned when resolving a request twice.
	// The original decision stands.
	ErrAlreadyResolved = errors.New("approval request already resolved")
)

// Pending is one tool-invocation request awaiting (or past) resolution.
type Pending struct {
	ID          uuid.UUID
	AgentID     uuid.UUID
	Tool        string
	Args        map[string]any
	RequestedAt time.Time
	ResolvedAt  time.Time
	Status      Status
}

// Notifier receives new pending requests so a transport layer can relay
// them to humans.
type Notifier func(*Pending)

// Config holds approval gate settings.
type Config struct {
	// TimeoutSecs bounds how long Await blocks before a request times out.
	TimeoutSecs int `yaml:"timeout_secs"`
}

// DefaultConfig returns sensible approval defaults.
func DefaultConfig() *Config {
	return &Config{TimeoutSecs: 300}
}

// defaultPolicies seeds the per-tool policy table. Read-only inspection
// tools run freely, mutating tools ask first, destructive tools never run.
func defaultPolicies() map[string]Policy {
	return map[string]Policy{
		"file_read":      PolicyAutoApprove,
		"list_directory": PolicyAutoApprove,
		"search_files":   PolicyAutoApprove,
		"git_diff":       PolicyAutoApprove,
		"git_log":        PolicyAutoApprove,
		"git_blame":      PolicyAutoApprove,
		"task_status":    PolicyAutoApprove,

		"file_write":    PolicyRequireApproval,
		"shell_execute": PolicyRequireApproval,
		"git_push":      PolicyRequireApproval,
		"git_add":       PolicyRequireApproval,
		"git_commit":    PolicyRequireApproval,
		"task_assign":   PolicyRequireApproval,
		"agent_spawn":   PolicyRequireApproval,
		"agent_stop":    PolicyRequireApproval,

		"delete":      PolicyDeny,
		"file_delete": PolicyDeny,
		"force_push":  PolicyDeny,
	}
}

// overrideKey scopes a policy override to one (tool, role) pair.
type overrideKey struct {
	tool string
	role agent.Role
}
