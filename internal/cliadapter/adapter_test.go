package cliadapter

import (
	"testing"
)

func TestForType(t *testing.T) {
	tests := []struct {
		cliType CLIType
		binary  string
		args    []string
	}{
		{Claude, "claude", []string{"--dangerously-skip-permissions"}},
		{Codex, "codex", []string{"--approval-mode", "full-auto", "-q"}},
		{Gemini, "gemini", nil},
		{OpenCode, "opencode", nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.cliType), func(t *testing.T) {
			adapter, err := ForType(tt.cliType)
			if err != nil {
				t.Fatalf("ForType(%s) failed: %v", tt.cliType, err)
			}
			if adapter.Type() != tt.cliType {
				t.Errorf("Type() = %s, want %s", adapter.Type(), tt.cliType)
			}
			if adapter.BinaryName() != tt.binary {
				t.Errorf("BinaryName() = %s, want %s", adapter.BinaryName(), tt.binary)
			}
			got := adapter.DefaultArgs()
			if len(got) != len(tt.args) {
				t.Fatalf("DefaultArgs() = %v, want %v", got, tt.args)
			}
			for i := range got {
				if got[i] != tt.args[i] {
					t.Errorf("DefaultArgs()[%d] = %s, want %s", i, got[i], tt.args[i])
				}
			}
		})
	}
}

func TestForTypeUnknown(t *testing.T) {
	if _, err := ForType("vim"); err == nil {
		t.Fatal("expected error for unknown CLI type")
	}
}

func TestCLITypeValid(t *testing.T) {
	for _, valid := range []CLIType{Claude, Codex, Gemini, OpenCode} {
		if !valid.Valid() {
			t.Errorf("%s should be valid", valid)
		}
	}
	if CLIType("emacs").Valid() {
		t.Error("unknown type should not be valid")
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		cliType CLIType
		output  string
		status  Status
		found   bool
	}{
		{Claude, "all done. Task complete", StatusCompleted, true},
		{Claude, "Done!", StatusCompleted, true},
		{Claude, "error: file not found", StatusError, true},
		{Claude, "still thinking...", "", false},
		{Codex, "run finished", StatusCompleted, true},
		{Codex, "an error occurred", StatusError, true},
		{Codex, "working", "", false},
		{Gemini, "Done", StatusCompleted, true},
		{Gemini, "Error", StatusError, true},
		{OpenCode, "task complete", StatusCompleted, true},
		{OpenCode, "Error in step 2", StatusError, true},
		{OpenCode, "in progress", "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.cliType)+"/"+tt.output, func(t *testing.T) {
			adapter, err := ForType(tt.cliType)
			if err != nil {
				t.Fatalf("ForType failed: %v", err)
			}
			status, found := adapter.ParseStatus(tt.output)
			if found != tt.found {
				t.Fatalf("ParseStatus(%q) found = %v, want %v", tt.output, found, tt.found)
			}
			if status != tt.status {
				t.Errorf("ParseStatus(%q) = %s, want %s", tt.output, status, tt.status)
			}
		})
	}
}

func TestRegistryOverride(t *testing.T) {
	reg := NewRegistry()
	reg.Override(Claude, &ToolConfig{
		Binary:    "/opt/bin/claude-next",
		ExtraArgs: []string{"--model", "fast"},
	})

	adapter, err := reg.Get(Claude)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if adapter.BinaryName() != "/opt/bin/claude-next" {
		t.Errorf("BinaryName() = %s, want override", adapter.BinaryName())
	}

	args := adapter.DefaultArgs()
	want := []string{"--dangerously-skip-permissions", "--model", "fast"}
	if len(args) != len(want) {
		t.Fatalf("DefaultArgs() = %v, want %v", args, want)
	}
	for i := range args {
		if args[i] != want[i] {
			t.Errorf("DefaultArgs()[%d] = %s, want %s", i, args[i], want[i])
		}
	}
}

func TestRegistryWithoutOverride(t *testing.T) {
	reg := NewRegistry()

	adapter, err := reg.Get(Gemini)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if adapter.BinaryName() != "gemini" {
		t.Errorf("BinaryName() = %s, want gemini", adapter.BinaryName())
	}
}
