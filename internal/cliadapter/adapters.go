package cliadapter

import (
	"strings"

	"github.com/alekspetrov/warden/internal/termpool"
)

// claudeAdapter drives the claude CLI. The prompt is passed via -p and
// interactive permission prompts are skipped.
type claudeAdapter struct{}

func (a *claudeAdapter) Type() CLIType      { return Claude }
func (a *claudeAdapter) BinaryName() string { return "claude" }

func (a *claudeAdapter) DefaultArgs() []string {
	return []string{"--dangerously-skip-permissions"}
}

func (a *claudeAdapter) Spawn(pool *termpool.Pool, task, workdir string) (*termpool.Session, error) {
	args := append(a.DefaultArgs(), "-p", task)
	return pool.Spawn(a.BinaryName(), args, workdirEnv(workdir))
}

func (a *claudeAdapter) ParseStatus(output string) (Status, bool) {
	switch {
	case strings.Contains(output, "Task complete") || strings.Contains(output, "Done!"):
		return StatusCompleted, true
	case strings.Contains(output, "Error") || strings.Contains(output, "error:"):
		return StatusError, true
	}
	return "", false
}

// codexAdapter drives the codex CLI in non-interactive quiet mode. The task
// is the trailing argument.
type codexAdapter struct{}

func (a *codexAdapter) Type() CLIType      { return Codex }
func (a *codexAdapter) BinaryName() string { return "codex" }

func (a *codexAdapter) DefaultArgs() []string {
	return []string{"--approval-mode", "full-auto", "-q"}
}

func (a *codexAdapter) Spawn(pool *termpool.Pool, task, workdir string) (*termpool.Session, error) {
	args := append(a.DefaultArgs(), task)
	return pool.Spawn(a.BinaryName(), args, workdirEnv(workdir))
}

func (a *codexAdapter) ParseStatus(output string) (Status, bool) {
	switch {
	case strings.Contains(output, "completed") || strings.Contains(output, "finished"):
		return StatusCompleted, true
	case strings.Contains(output, "error"):
		return StatusError, true
	}
	return "", false
}

// geminiAdapter drives the gemini CLI. No default flags; prompt via -p.
type geminiAdapter struct{}

func (a *geminiAdapter) Type() CLIType         { return Gemini }
func (a *geminiAdapter) BinaryName() string    { return "gemini" }
func (a *geminiAdapter) DefaultArgs() []string { return nil }

func (a *geminiAdapter) Spawn(pool *termpool.Pool, task, workdir string) (*termpool.Session, error) {
	return pool.Spawn(a.BinaryName(), []string{"-p", task}, workdirEnv(workdir))
}

func (a *geminiAdapter) ParseStatus(output string) (Status, bool) {
	switch {
	case strings.Contains(output, "Done") || strings.Contains(output, "Complete"):
		return StatusCompleted, true
	case strings.Contains(output, "Error"):
		return StatusError, true
	}
	return "", false
}

// openCodeAdapter drives the opencode CLI. The task is the bare argument.
type openCodeAdapter struct{}

func (a *openCodeAdapter) Type() CLIType         { return OpenCode }
func (a *openCodeAdapter) BinaryName() string    { return "opencode" }
func (a *openCodeAdapter) DefaultArgs() []string { return nil }

func (a *openCodeAdapter) Spawn(pool *termpool.Pool, task, workdir string) (*termpool.Session, error) {
	return pool.Spawn(a.BinaryName(), []string{task}, workdirEnv(workdir))
}

func (a *openCodeAdapter) ParseStatus(output string) (Status, bool) {
	switch {
	case strings.Contains(output, "done") || strings.Contains(output, "complete"):
		return StatusCompleted, true
	case strings.Contains(output, "error") || strings.Contains(output, "Error"):
		return StatusError, true
	}
	return "", false
}
