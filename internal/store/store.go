// Package store persists agent, task, and approval-audit records in SQLite.
// The core runs fine without it; callers wire it in through the persistence
// hooks each component exposes.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alekspetrov/warden/internal/agent"
	"github.com/alekspetrov/warden/internal/approval"
	"github.com/alekspetrov/warden/internal/pipeline"
)

// Config holds storage settings.
type Config struct {
	// Path is the data directory. The database file lives inside it.
	Path string `yaml:"path"`
}

// DefaultConfig returns sensible storage defaults.
func DefaultConfig() *Config {
	return &Config{Path: "~/.warden"}
}

// Store provides persistent storage using SQLite. Migrations run
// automatically on initialization.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database under dataPath and migrates it.
func NewStore(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "warden.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	store := &Store{db: db, path: dataPath}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT NOT NULL,
			cli TEXT NOT NULL,
			state TEXT NOT NULL,
			session_id TEXT,
			last_heartbeat DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			workdir TEXT,
			agent_id TEXT,
			phase TEXT NOT NULL,
			fix_iterations INTEGER DEFAULT 0,
			history TEXT,
			recoveries TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			args TEXT,
			status TEXT NOT NULL,
			requested_at DATETIME NOT NULL,
			resolved_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_phase ON tasks(phase)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_agent ON tasks(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_agent ON approvals(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_tool ON approvals(tool)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// AgentRecord is an agent row as stored.
type AgentRecord struct {
	ID            string
	Name          string
	Role          string
	CLI           string
	State         string
	SessionID     string
	LastHeartbeat time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SaveAgent upserts the agent's current snapshot.
func (s *Store) SaveAgent(a *agent.Agent) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (id, name, role, cli, state, session_id, last_heartbeat, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			session_id = excluded.session_id,
			last_heartbeat = excluded.last_heartbeat,
			updated_at = excluded.updated_at
	`, a.ID.String(), a.Name, string(a.Role), string(a.CLI), string(a.State()),
		a.SessionID.String(), a.LastHeartbeat, a.CreatedAt, a.UpdatedAt)
	return err
}

// GetAgent retrieves an agent row by id. Returns sql.ErrNoRows when absent.
func (s *Store) GetAgent(id string) (*AgentRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, name, role, cli, state, COALESCE(session_id, ''), last_heartbeat, created_at, updated_at
		FROM agents WHERE id = ?
	`, id)

	var rec AgentRecord
	var heartbeat sql.NullTime
	err := row.Scan(&rec.ID, &rec.Name, &rec.Role, &rec.CLI, &rec.State,
		&rec.SessionID, &heartbeat, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if heartbeat.Valid {
		rec.LastHeartbeat = heartbeat.Time
	}
	return &rec, nil
}

// ListAgents returns all stored agent rows.
func (s *Store) ListAgents() ([]*AgentRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, name, role, cli, state, COALESCE(session_id, ''), last_heartbeat, created_at, updated_at
		FROM agents ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var agents []*AgentRecord
	for rows.Next() {
		var rec AgentRecord
		var heartbeat sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Role, &rec.CLI, &rec.State,
			&rec.SessionID, &heartbeat, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if heartbeat.Valid {
			rec.LastHeartbeat = heartbeat.Time
		}
		agents = append(agents, &rec)
	}
	return agents, rows.Err()
}

// TaskRecord is a task row as stored. History and Recoveries are JSON.
type TaskRecord struct {
	ID            string
	Title         string
	Description   string
	Workdir       string
	AgentID       string
	Phase         string
	FixIterations int
	History       string
	Recoveries    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// SaveTask upserts the task's current snapshot. Satisfies pipeline.Saver.
func (s *Store) SaveTask(t *pipeline.Task) error {
	history, err := json.Marshal(t.History)
	if err != nil {
		return fmt.Errorf("failed to encode task history: %w", err)
	}
	recoveries, err := json.Marshal(t.Recoveries)
	if err != nil {
		return fmt.Errorf("failed to encode task recoveries: %w", err)
	}

	var completedAt *time.Time
	if !t.CompletedAt.IsZero() {
		completedAt = &t.CompletedAt
	}

	_, err = s.db.Exec(`
		INSERT INTO tasks (id, title, description, workdir, agent_id, phase, fix_iterations, history, recoveries, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			fix_iterations = excluded.fix_iterations,
			history = excluded.history,
			recoveries = excluded.recoveries,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`, t.ID.String(), t.Title, t.Description, t.Workdir, t.AgentID.String(),
		string(t.Phase), t.FixIterations, string(history), string(recoveries),
		t.CreatedAt, t.UpdatedAt, completedAt)
	return err
}

// GetTask retrieves a task row by id. Returns sql.ErrNoRows when absent.
func (s *Store) GetTask(id string) (*TaskRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, title, COALESCE(description, ''), COALESCE(workdir, ''), COALESCE(agent_id, ''),
			phase, fix_iterations, COALESCE(history, '[]'), COALESCE(recoveries, '[]'),
			created_at, updated_at, completed_at
		FROM tasks WHERE id = ?
	`, id)
	return scanTask(row)
}

// ListTasks returns the most recently updated task rows.
func (s *Store) ListTasks(limit int) ([]*TaskRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, title, COALESCE(description, ''), COALESCE(workdir, ''), COALESCE(agent_id, ''),
			phase, fix_iterations, COALESCE(history, '[]'), COALESCE(recoveries, '[]'),
			created_at, updated_at, completed_at
		FROM tasks ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tasks []*TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, rec)
	}
	return tasks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*TaskRecord, error) {
	var rec TaskRecord
	var completedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.Title, &rec.Description, &rec.Workdir, &rec.AgentID,
		&rec.Phase, &rec.FixIterations, &rec.History, &rec.Recoveries,
		&rec.CreatedAt, &rec.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	return &rec, nil
}

// ApprovalRecord is a resolved approval as stored for audit.
type ApprovalRecord struct {
	ID          string
	AgentID     string
	Tool        string
	Args        string
	Status      string
	RequestedAt time.Time
	ResolvedAt  *time.Time
}

// SaveApprovals writes resolved approvals for audit. Used with the gate's
// garbage collection export.
func (s *Store) SaveApprovals(resolved []*approval.Pending) error {
	for _, p := range resolved {
		args, err := json.Marshal(p.Args)
		if err != nil {
			return fmt.Errorf("failed to encode approval args: %w", err)
		}
		var resolvedAt *time.Time
		if !p.ResolvedAt.IsZero() {
			resolvedAt = &p.ResolvedAt
		}
		_, err = s.db.Exec(`
			INSERT OR REPLACE INTO approvals (id, agent_id, tool, args, status, requested_at, resolved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, p.ID.String(), p.AgentID.String(), p.Tool, string(args),
			string(p.Status), p.RequestedAt, resolvedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListApprovals returns the most recent audit rows.
func (s *Store) ListApprovals(limit int) ([]*ApprovalRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, agent_id, tool, COALESCE(args, '{}'), status, requested_at, resolved_at
		FROM approvals ORDER BY requested_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var approvals []*ApprovalRecord
	for rows.Next() {
		var rec ApprovalRecord
		var resolvedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.AgentID, &rec.Tool, &rec.Args,
			&rec.Status, &rec.RequestedAt, &resolvedAt); err != nil {
			return nil, err
		}
		if resolvedAt.Valid {
			rec.ResolvedAt = &resolvedAt.Time
		}
		approvals = append(approvals, &rec)
	}
	return approvals, rows.Err()
}
