// Package cliadapter knows how to launch and read each supported
// coding-agent CLI inside a terminal session.
package cliadapter

import (
	"fmt"

	"github.com/alekspetrov/warden/internal/termpool"
)

// CLIType identifies a supported external coding-agent CLI.
type CLIType string

const (
	Claude   CLIType = "claude"
	Codex    CLIType = "codex"
	Gemini   CLIType = "gemini"
	OpenCode CLIType = "opencode"
)

// All returns the supported CLI types.
func All() []CLIType {
	return []CLIType{Claude, Codex, Gemini, OpenCode}
}

// Valid reports whether t names a supported CLI.
func (t CLIType) Valid() bool {
	switch t {
	case Claude, Codex, Gemini, OpenCode:
		return true
	}
	return false
}

// Status is a coarse completion signal parsed from raw CLI output.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Adapter abstracts the command-line conventions of one external CLI tool:
// its binary, its default flags, how the task prompt is injected, and how
// completion or error shows up in its output.
type Adapter interface {
	// Type returns the CLI this adapter handles.
	Type() CLIType

	// BinaryName returns the command to execute. Must be on PATH or absolute.
	BinaryName() string

	// DefaultArgs returns flags always passed to the CLI.
	DefaultArgs() []string

	// Spawn launches the CLI in a session from the pool with the given task
	// prompt and working directory.
	Spawn(pool *termpool.Pool, task, workdir string) (*termpool.Session, error)

	// ParseStatus extracts a completion/error signal from raw output.
	// Best-effort text matching; the underlying tools are not ours.
	ParseStatus(output string) (Status, bool)
}

// ForType returns the adapter for the given CLI type.
func ForType(t CLIType) (Adapter, error) {
	switch t {
	case Claude:
		return &claudeAdapter{}, nil
	case Codex:
		return &codexAdapter{}, nil
	case Gemini:
		return &geminiAdapter{}, nil
	case OpenCode:
		return &openCodeAdapter{}, nil
	default:
		return nil, fmt.Errorf("unsupported CLI type: %q", t)
	}
}

// workdirEnv builds the environment passed to a spawned CLI.
func workdirEnv(workdir string) []string {
	return []string{"PWD=" + workdir}
}
