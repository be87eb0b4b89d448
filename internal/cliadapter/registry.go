package cliadapter

import (
	"sync"

	"github.com/alekspetrov/warden/internal/termpool"
)

// ToolConfig overrides how one CLI is launched. Zero values keep the
// adapter's built-in behavior.
type ToolConfig struct {
	Binary    string   `yaml:"binary"`
	ExtraArgs []string `yaml:"extra_args"`
}

// Registry resolves adapters, applying host-configured overrides per CLI.
// Instance-owned so tests can construct isolated registries.
type Registry struct {
	mu        sync.RWMutex
	overrides map[CLIType]*ToolConfig
}

// NewRegistry creates a registry with no overrides.
func NewRegistry() *Registry {
	return &Registry{overrides: make(map[CLIType]*ToolConfig)}
}

// Override sets the launch configuration for one CLI type.
func (r *Registry) Override(t CLIType, cfg *ToolConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[t] = cfg
}

// Get returns the adapter for t, wrapped with any configured override.
func (r *Registry) Get(t CLIType) (Adapter, error) {
	base, err := ForType(t)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	cfg := r.overrides[t]
	r.mu.RUnlock()

	if cfg == nil {
		return base, nil
	}
	return &configuredAdapter{base: base, cfg: cfg}, nil
}

// configuredAdapter applies a ToolConfig on top of a built-in adapter.
type configuredAdapter struct {
	base Adapter
	cfg  *ToolConfig
}

func (a *configuredAdapter) Type() CLIType { return a.base.Type() }

func (a *configuredAdapter) BinaryName() string {
	if a.cfg.Binary != "" {
		return a.cfg.Binary
	}
	return a.base.BinaryName()
}

func (a *configuredAdapter) DefaultArgs() []string {
	return append(a.base.DefaultArgs(), a.cfg.ExtraArgs...)
}

func (a *configuredAdapter) Spawn(pool *termpool.Pool, task, workdir string) (*termpool.Session, error) {
	// Rebuild the base adapter's spawn shape around the overridden binary
	// and args: prompt-injection convention stays with the base type.
	args := a.DefaultArgs()
	switch a.base.Type() {
	case Claude, Gemini:
		args = append(args, "-p", task)
	default:
		args = append(args, task)
	}
	return pool.Spawn(a.BinaryName(), args, workdirEnv(workdir))
}

func (a *configuredAdapter) ParseStatus(output string) (Status, bool) {
	return a.base.ParseStatus(output)
}
