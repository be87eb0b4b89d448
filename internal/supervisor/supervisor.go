// Package supervisor owns the live agents and is the only component that
// drives their state machines in response to real outcomes: process
// spawned, process exited, heartbeat missed.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/alekspetrov/warden/internal/agent"
	"github.com/alekspetrov/warden/internal/cliadapter"
	"github.com/alekspetrov/warden/internal/logging"
	"github.com/alekspetrov/warden/internal/termpool"
)

// ErrAgentNotFound is returned for an unknown agent id.
var ErrAgentNotFound = errors.New("agent not found")

// Config holds supervisor settings.
type Config struct {
	// HeartbeatIntervalSecs is the health sweep cadence.
	HeartbeatIntervalSecs int `yaml:"heartbeat_interval_secs"`
	// MissThreshold is the number of consecutive missed heartbeats that
	// fails an agent.
	MissThreshold int `yaml:"miss_threshold"`
	// Workdir is where agent sessions run.
	Workdir string `yaml:"workdir"`
}

// DefaultConfig returns sensible supervisor defaults.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatIntervalSecs: 30,
		MissThreshold:         3,
		Workdir:               ".",
	}
}

// Launcher starts an interactive agent session. The seam keeps process
// spawning out of supervisor tests.
type Launcher interface {
	Launch(cli cliadapter.CLIType, workdir string) (*termpool.Session, error)
}

// PoolLauncher launches interactive sessions through the shared pool: the
// CLI's binary and default args, no one-shot prompt.
type PoolLauncher struct {
	Pool     *termpool.Pool
	Registry *cliadapter.Registry
}

func (l *PoolLauncher) Launch(cli cliadapter.CLIType, workdir string) (*termpool.Session, error) {
	adapter, err := l.Registry.Get(cli)
	if err != nil {
		return nil, err
	}
	return l.Pool.Spawn(adapter.BinaryName(), adapter.DefaultArgs(), []string{"PWD=" + workdir})
}

// Supervisor tracks agents, their heartbeats, and their bound sessions.
type Supervisor struct {
	cfg      *Config
	pool     *termpool.Pool
	launcher Launcher

	mu     sync.RWMutex
	agents map[uuid.UUID]*agent.Agent
	missed map[uuid.UUID]int

	cron    *cron.Cron
	cronID  cron.EntryID
	running bool

	log *slog.Logger
}

// New creates a supervisor. launcher may be nil when agents are created
// and transitioned manually (tests, dry runs).
func New(cfg *Config, pool *termpool.Pool, launcher Launcher) *Supervisor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Supervisor{
		cfg:      cfg,
		pool:     pool,
		launcher: launcher,
		agents:   make(map[uuid.UUID]*agent.Agent),
		missed:   make(map[uuid.UUID]int),
		log:      logging.WithComponent("supervisor"),
	}
}

// Create registers a new agent in the Idle state.
func (s *Supervisor) Create(name string, role agent.Role, cli cliadapter.CLIType) (*agent.Agent, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role: %q", role)
	}
	if !cli.Valid() {
		return nil, fmt.Errorf("invalid CLI type: %q", cli)
	}

	a := agent.New(name, role, cli)

	s.mu.Lock()
	s.agents[a.ID] = a
	s.mu.Unlock()

	s.log.Info("agent created",
		slog.String("agent_id", a.ID.String()),
		slog.String("name", name),
		slog.String("role", string(role)))
	return a, nil
}

// Start drives an idle agent to Active: Start, launch the session, then
// Spawned. A launch failure surfaces the error and fails the agent.
func (s *Supervisor) Start(id uuid.UUID) error {
	a, err := s.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	_, err = a.Machine.Transition(agent.EventStart)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	var session *termpool.Session
	if s.launcher != nil {
		session, err = s.launcher.Launch(a.CLI, s.cfg.Workdir)
		if err != nil {
			s.mu.Lock()
			_, _ = a.Machine.Transition(agent.EventFail)
			a.UpdatedAt = time.Now().UTC()
			s.mu.Unlock()
			s.log.Error("agent session launch failed",
				slog.String("agent_id", id.String()),
				slog.String("error", err.Error()))
			return fmt.Errorf("failed to launch agent session: %w", err)
		}
	}

	s.mu.Lock()
	if session != nil {
		a.SessionID = session.ID
	}
	_, err = a.Machine.Transition(agent.EventSpawned)
	a.LastHeartbeat = time.Now().UTC()
	a.UpdatedAt = a.LastHeartbeat
	s.missed[id] = 0
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.log.Info("agent active", slog.String("agent_id", id.String()))
	return nil
}

// SpawnAgent creates and starts an agent in one call.
func (s *Supervisor) SpawnAgent(name string, role agent.Role, cli cliadapter.CLIType) (uuid.UUID, error) {
	a, err := s.Create(name, role, cli)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.Start(a.ID); err != nil {
		return a.ID, err
	}
	return a.ID, nil
}

// StopAgent drives an agent to Stopped and kills its session.
func (s *Supervisor) StopAgent(id uuid.UUID) error {
	a, err := s.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	_, err = a.Machine.Transition(agent.EventStop)
	sessionID := a.SessionID
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if sessionID != uuid.Nil && s.pool != nil {
		if err := s.pool.Kill(sessionID); err != nil && !errors.Is(err, termpool.ErrNotFound) {
			s.log.Warn("failed to kill agent session",
				slog.String("agent_id", id.String()),
				slog.String("error", err.Error()))
		}
	}

	s.mu.Lock()
	_, err = a.Machine.Transition(agent.EventStop)
	a.SessionID = uuid.Nil
	a.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.log.Info("agent stopped", slog.String("agent_id", id.String()))
	return nil
}

// PauseAgent pauses an active agent.
func (s *Supervisor) PauseAgent(id uuid.UUID) error {
	return s.transition(id, agent.EventPause)
}

// ResumeAgent resumes a paused agent.
func (s *Supervisor) ResumeAgent(id uuid.UUID) error {
	return s.transition(id, agent.EventResume)
}

// ReportFailure fails an agent in response to a real outcome (process
// died, execution error).
func (s *Supervisor) ReportFailure(id uuid.UUID, reason string) error {
	if err := s.transition(id, agent.EventFail); err != nil {
		return err
	}
	s.log.Warn("agent failed",
		slog.String("agent_id", id.String()),
		slog.String("reason", reason))
	return nil
}

// RecoverFailedAgent moves a failed agent back to Idle, releasing (not
// killing) any session it still holds: the process may already be gone
// and its exit state is evidence.
func (s *Supervisor) RecoverFailedAgent(id uuid.UUID) error {
	a, err := s.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	_, err = a.Machine.Transition(agent.EventRecover)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	sessionID := a.SessionID
	a.SessionID = uuid.Nil
	a.UpdatedAt = time.Now().UTC()
	s.missed[id] = 0
	s.mu.Unlock()

	if sessionID != uuid.Nil && s.pool != nil {
		s.pool.Release(sessionID)
	}

	s.log.Info("agent recovered", slog.String("agent_id", id.String()))
	return nil
}

// RestartFailed recovers and restarts every failed agent, returning the
// ids it brought back.
func (s *Supervisor) RestartFailed() []uuid.UUID {
	s.mu.RLock()
	var failed []uuid.UUID
	for id, a := range s.agents {
		if a.State() == agent.StateFailed {
			failed = append(failed, id)
		}
	}
	s.mu.RUnlock()

	var restarted []uuid.UUID
	for _, id := range failed {
		if err := s.RecoverFailedAgent(id); err != nil {
			continue
		}
		if err := s.Start(id); err != nil {
			s.log.Warn("restart failed",
				slog.String("agent_id", id.String()),
				slog.String("error", err.Error()))
			continue
		}
		restarted = append(restarted, id)
	}
	return restarted
}

// Heartbeat records a liveness signal from an agent.
func (s *Supervisor) Heartbeat(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	a.LastHeartbeat = time.Now().UTC()
	s.missed[id] = 0
	return nil
}

// BindSession attaches a session to an agent.
func (s *Supervisor) BindSession(id, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	a.SessionID = sessionID
	return nil
}

// Get returns the agent with the given id.
func (s *Supervisor) Get(id uuid.UUID) (*agent.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return a, nil
}

// Agents returns a snapshot of all managed agents.
func (s *Supervisor) Agents() []*agent.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*agent.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	return out
}

// transition applies one machine event under the supervisor lock.
func (s *Supervisor) transition(id uuid.UUID, event agent.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	if _, err := a.Machine.Transition(event); err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// StartMonitor schedules the periodic health sweep.
func (s *Supervisor) StartMonitor() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.cron = cron.New()
	id, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", s.cfg.HeartbeatIntervalSecs), func() {
		s.CheckHeartbeats()
	})
	if err != nil {
		return fmt.Errorf("failed to schedule health sweep: %w", err)
	}
	s.cronID = id
	s.cron.Start()
	s.running = true
	s.log.Info("health monitor started",
		slog.Int("interval_secs", s.cfg.HeartbeatIntervalSecs),
		slog.Int("miss_threshold", s.cfg.MissThreshold))
	return nil
}

// StopMonitor cancels the health sweep.
func (s *Supervisor) StopMonitor() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
}

// CheckHeartbeats runs one health sweep: an Active agent whose heartbeat
// is older than the interval accrues a miss; at MissThreshold consecutive
// misses, or when its bound session's process has died, the agent fails.
func (s *Supervisor) CheckHeartbeats() {
	interval := time.Duration(s.cfg.HeartbeatIntervalSecs) * time.Second
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.agents {
		if a.State() != agent.StateActive {
			continue
		}

		if a.SessionID != uuid.Nil && s.pool != nil {
			if session, ok := s.pool.Get(a.SessionID); ok && !session.Alive() {
				s.failLocked(id, a, "session process died")
				continue
			}
		}

		if now.Sub(a.LastHeartbeat) > interval {
			s.missed[id]++
			if s.missed[id] >= s.cfg.MissThreshold {
				s.failLocked(id, a, fmt.Sprintf("missed %d heartbeats", s.missed[id]))
			}
		} else {
			s.missed[id] = 0
		}
	}
}

func (s *Supervisor) failLocked(id uuid.UUID, a *agent.Agent, reason string) {
	if _, err := a.Machine.Transition(agent.EventFail); err != nil {
		return
	}
	a.UpdatedAt = time.Now().UTC()
	s.log.Warn("agent failed health check",
		slog.String("agent_id", id.String()),
		slog.String("reason", reason))
}
