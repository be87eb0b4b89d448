package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alekspetrov/warden/internal/agent"
	"github.com/alekspetrov/warden/internal/logging"
)

// Gate resolves tool policies and tracks pending requests. Instance-owned
// and lock-guarded; construct one per supervisor so tests stay isolated.
// The lock is held only for table lookups and mutations, never across I/O
// or notification callbacks.
type Gate struct {
	mu        sync.RWMutex
	policies  map[string]Policy
	overrides map[overrideKey]Policy
	pending   map[uuid.UUID]*Pending
	waiters   map[uuid.UUID][]chan Status
	notifier  Notifier

	timeout time.Duration
	log     *slog.Logger
}

// NewGate creates a gate seeded with the default tool policies.
func NewGate(cfg *Config) *Gate {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Gate{
		policies:  defaultPolicies(),
		overrides: make(map[overrideKey]Policy),
		pending:   make(map[uuid.UUID]*Pending),
		waiters:   make(map[uuid.UUID][]chan Status),
		timeout:   time.Duration(cfg.TimeoutSecs) * time.Second,
		log:       logging.WithComponent("approval"),
	}
}

// SetNotifier registers the hook invoked for each new pending request.
func (g *Gate) SetNotifier(n Notifier) {
	g.mu.Lock()
	g.notifier = n
	g.mu.Unlock()
}

// SetPolicy sets the default policy for a tool.
func (g *Gate) SetPolicy(tool string, policy Policy) {
	g.mu.Lock()
	g.policies[tool] = policy
	g.mu.Unlock()
}

// SetRoleOverride sets a policy for one (tool, role) pair. Overrides win
// over the tool's default policy.
func (g *Gate) SetRoleOverride(tool string, role agent.Role, policy Policy) {
	g.mu.Lock()
	g.overrides[overrideKey{tool: tool, role: role}] = policy
	g.mu.Unlock()
}

// CheckApproval resolves the effective policy for a tool invoked by an
// agent with the given role. Resolution order: role override, then the
// tool's default, then RequireApproval. Unknown tools fail toward asking
// a human.
func (g *Gate) CheckApproval(tool string, role agent.Role) Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if policy, ok := g.overrides[overrideKey{tool: tool, role: role}]; ok {
		return policy
	}
	if policy, ok := g.policies[tool]; ok {
		return policy
	}
	return PolicyRequireApproval
}

// Request registers a pending approval for a tool invocation and notifies
// the observer, if any.
func (g *Gate) Request(agentID uuid.UUID, tool string, args map[string]any) *Pending {
	p := &Pending{
		ID:          uuid.New(),
		AgentID:     agentID,
		Tool:        tool,
		Args:        args,
		RequestedAt: time.Now().UTC(),
		Status:      StatusPending,
	}

	g.mu.Lock()
	g.pending[p.ID] = p
	notifier := g.notifier
	g.mu.Unlock()

	g.log.Info("approval requested",
		slog.String("request_id", p.ID.String()),
		slog.String("agent_id", agentID.String()),
		slog.String("tool", tool))

	if notifier != nil {
		notifier(p)
	}
	return p
}

// Approve resolves a pending request as approved.
func (g *Gate) Approve(id uuid.UUID) error {
	return g.resolve(id, StatusApproved)
}

// Deny resolves a pending request as denied.
func (g *Gate) Deny(id uuid.UUID) error {
	return g.resolve(id, StatusDenied)
}

// resolve marks a request terminal and wakes its waiters. A request that
// is already resolved keeps its original status.
func (g *Gate) resolve(id uuid.UUID, status Status) error {
	g.mu.Lock()
	p, ok := g.pending[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.Status.Resolved() {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, id, p.Status)
	}
	p.Status = status
	p.ResolvedAt = time.Now().UTC()
	waiters := g.waiters[id]
	delete(g.waiters, id)
	g.mu.Unlock()

	for _, ch := range waiters {
		ch <- status
	}

	g.log.Info("approval resolved",
		slog.String("request_id", id.String()),
		slog.String("status", string(status)))
	return nil
}

// Await blocks until the request resolves, the timeout elapses, or ctx is
// cancelled. Zero timeout uses the gate's configured default. A timeout
// resolves the request to StatusTimedOut; only this caller blocks, never
// the gate or other agents.
func (g *Gate) Await(ctx context.Context, id uuid.UUID, timeout time.Duration) (Status, error) {
	if timeout <= 0 {
		timeout = g.timeout
	}

	g.mu.Lock()
	p, ok := g.pending[id]
	if !ok {
		g.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.Status.Resolved() {
		status := p.Status
		g.mu.Unlock()
		return status, nil
	}
	ch := make(chan Status, 1)
	g.waiters[id] = append(g.waiters[id], ch)
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case status := <-ch:
		return status, nil
	case <-timer.C:
		// Resolve to timed out; a concurrent Approve/Deny may win the
		// race, in which case the human decision stands.
		if err := g.resolve(id, StatusTimedOut); err != nil {
			if p, getErr := g.Get(id); getErr == nil {
				return p.Status, nil
			}
		}
		return StatusTimedOut, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Get returns the request with the given id.
func (g *Gate) Get(id uuid.UUID) (*Pending, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.pending[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// IsApproved reports whether the request resolved as approved.
func (g *Gate) IsApproved(id uuid.UUID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.pending[id]
	return ok && p.Status == StatusApproved
}

// Pending returns all requests still awaiting resolution.
func (g *Gate) Pending() []*Pending {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Pending, 0, len(g.pending))
	for _, p := range g.pending {
		if p.Status == StatusPending {
			out = append(out, p)
		}
	}
	return out
}

// All returns every tracked request, resolved or not.
func (g *Gate) All() []*Pending {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Pending, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, p)
	}
	return out
}

// GC removes resolved requests older than age and returns them for audit
// export. The pending table never shrinks otherwise.
func (g *Gate) GC(age time.Duration) []*Pending {
	cutoff := time.Now().UTC().Add(-age)

	g.mu.Lock()
	defer g.mu.Unlock()

	var exported []*Pending
	for id, p := range g.pending {
		if p.Status.Resolved() && p.ResolvedAt.Before(cutoff) {
			exported = append(exported, p)
			delete(g.pending, id)
		}
	}
	return exported
}
