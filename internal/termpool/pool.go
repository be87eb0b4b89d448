// Package termpool manages a pool of pseudo-terminal sessions with a strict
// capacity limit and bounded channel I/O.
package termpool

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/alekspetrov/warden/internal/logging"
)

var (
	// ErrAtCapacity is returned by Spawn when the pool is full. Spawns never
	// queue; the caller must release a session and retry.
	ErrAtCapacity = errors.New("session pool is at capacity")

	// ErrNotFound is returned when a session id is not tracked by the pool.
	ErrNotFound = errors.New("session not found")

	// ErrSessionClosed is returned by Send after the session was killed.
	ErrSessionClosed = errors.New("session closed")
)

// SpawnError wraps a failure to start a process inside a PTY.
type SpawnError struct {
	Cmd string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s failed: %v", e.Cmd, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Config holds session pool settings.
type Config struct {
	Capacity int    `yaml:"capacity"`
	Rows     uint16 `yaml:"rows"`
	Cols     uint16 `yaml:"cols"`
}

// DefaultConfig returns sensible pool defaults.
func DefaultConfig() *Config {
	return &Config{
		Capacity: 10,
		Rows:     24,
		Cols:     80,
	}
}

// Pool tracks live sessions up to a fixed capacity. The session table is
// mutated under a single lock held only for lookups and mutations, never
// across I/O, so one session's misbehavior cannot wedge the others.
type Pool struct {
	capacity int
	rows     uint16
	cols     uint16

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	// reserved counts slots claimed by in-flight spawns so concurrent
	// callers cannot race past the capacity check.
	reserved int
}

// New creates an empty pool with the given configuration.
func New(cfg *Config) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logging.WithComponent("termpool").Info("creating session pool", "capacity", cfg.Capacity)
	return &Pool{
		capacity: cfg.Capacity,
		rows:     cfg.Rows,
		cols:     cfg.Cols,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// ActiveCount returns the number of sessions currently tracked, whether or
// not their processes are still alive.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Capacity returns the maximum number of concurrent sessions.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Spawn starts a process inside a new PTY and registers it in the pool.
// Fails immediately with ErrAtCapacity when the pool is full, or with a
// SpawnError when the process cannot be started.
func (p *Pool) Spawn(cmd string, args []string, env []string) (*Session, error) {
	p.mu.Lock()
	if len(p.sessions)+p.reserved >= p.capacity {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrAtCapacity, p.capacity)
	}
	p.reserved++
	p.mu.Unlock()

	c := exec.Command(cmd, args...)
	c.Env = append(os.Environ(), env...)

	ptmx, err := pty.StartWithSize(c, &pty.Winsize{Rows: p.rows, Cols: p.cols})
	if err != nil {
		p.mu.Lock()
		p.reserved--
		p.mu.Unlock()
		return nil, &SpawnError{Cmd: cmd, Err: err}
	}

	id := uuid.New()
	session := newSession(id, c, ptmx)

	p.mu.Lock()
	p.reserved--
	p.sessions[id] = session
	p.mu.Unlock()

	logging.WithSession(id.String()).Debug("spawned session", "cmd", cmd)
	return session, nil
}

// Get returns the session with the given id, if tracked.
func (p *Pool) Get(id uuid.UUID) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	return s, ok
}

// Release removes a session from pool tracking without killing its process,
// freeing a slot. Idempotent: releasing an unknown id is a no-op.
func (p *Pool) Release(id uuid.UUID) {
	p.mu.Lock()
	delete(p.sessions, id)
	p.mu.Unlock()
	logging.WithSession(id.String()).Debug("released session")
}

// Kill terminates a session's process and removes it from the pool.
// Returns ErrNotFound if the id is not tracked.
func (p *Pool) Kill(id uuid.UUID) error {
	p.mu.Lock()
	session, ok := p.sessions[id]
	if ok {
		delete(p.sessions, id)
	}
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := session.Kill(); err != nil {
		return fmt.Errorf("failed to kill session %s: %w", id, err)
	}
	logging.WithSession(id.String()).Info("killed session")
	return nil
}

// KillAll terminates every tracked session. Used on shutdown.
func (p *Pool) KillAll() {
	p.mu.Lock()
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = make(map[uuid.UUID]*Session)
	p.mu.Unlock()

	for _, s := range sessions {
		_ = s.Kill()
	}
}
