package executor

import (
	"time"

	"github.com/alekspetrov/warden/internal/cliadapter"
	"github.com/alekspetrov/warden/internal/termpool"
)

// TermSession is the slice of a terminal session the executor needs.
// Satisfied by *termpool.Session; tests substitute channel-backed fakes.
type TermSession interface {
	Send(data []byte) error
	SendLine(line string) error
	ReadTimeout(d time.Duration) []byte
	ReadAll() []byte
	Alive() bool
	ExitCode() int
	Kill() error
}

// Spawner launches a CLI session for a task and knows how to read that
// CLI's completion markers. The seam exists so tests can run the executor
// against scripted output instead of real processes.
type Spawner interface {
	Spawn(cli cliadapter.CLIType, task, workdir string) (TermSession, error)
	ParseStatus(cli cliadapter.CLIType, output string) (cliadapter.Status, bool)
}

// PoolSpawner launches sessions through the shared pool using the adapter
// registry's per-CLI conventions.
type PoolSpawner struct {
	pool     *termpool.Pool
	registry *cliadapter.Registry
}

// NewPoolSpawner wires a spawner over the pool and registry.
func NewPoolSpawner(pool *termpool.Pool, registry *cliadapter.Registry) *PoolSpawner {
	return &PoolSpawner{pool: pool, registry: registry}
}

// Spawn launches the CLI for the given type. The returned session releases
// its pool slot when killed.
func (s *PoolSpawner) Spawn(cli cliadapter.CLIType, task, workdir string) (TermSession, error) {
	adapter, err := s.registry.Get(cli)
	if err != nil {
		return nil, err
	}
	session, err := adapter.Spawn(s.pool, task, workdir)
	if err != nil {
		return nil, err
	}
	return &poolSession{Session: session, pool: s.pool}, nil
}

// ParseStatus applies the CLI's adapter to the collected output.
func (s *PoolSpawner) ParseStatus(cli cliadapter.CLIType, output string) (cliadapter.Status, bool) {
	adapter, err := s.registry.Get(cli)
	if err != nil {
		return "", false
	}
	return adapter.ParseStatus(output)
}

// poolSession ties a session's lifetime to its pool slot.
type poolSession struct {
	*termpool.Session
	pool *termpool.Pool
}

func (p *poolSession) Kill() error {
	err := p.Session.Kill()
	p.pool.Release(p.Session.ID)
	return err
}
