package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// localToolRunner executes approved tool invocations on the host. The
// approval gate decides whether a tool runs; this only carries it out.
type localToolRunner struct {
	workdir string
}

func (r *localToolRunner) Run(ctx context.Context, tool string, args map[string]any) (string, error) {
	switch tool {
	case "file_read":
		path, ok := args["path"].(string)
		if !ok {
			return "", fmt.Errorf("file_read requires a path argument")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil

	case "list_directory":
		path, _ := args["path"].(string)
		if path == "" {
			path = r.workdir
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return "", err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return strings.Join(names, "\n"), nil

	case "shell_execute":
		command, ok := args["command"].(string)
		if !ok {
			return "", fmt.Errorf("shell_execute requires a command argument")
		}
		return r.exec(ctx, "sh", "-c", command)

	case "git_diff":
		return r.exec(ctx, "git", "diff")
	case "git_log":
		return r.exec(ctx, "git", "log", "--oneline", "-20")
	case "git_blame":
		path, ok := args["path"].(string)
		if !ok {
			return "", fmt.Errorf("git_blame requires a path argument")
		}
		return r.exec(ctx, "git", "blame", path)

	default:
		return "", fmt.Errorf("unsupported tool: %s", tool)
	}
}

func (r *localToolRunner) exec(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.workdir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
