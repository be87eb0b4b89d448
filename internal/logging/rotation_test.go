package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRotatingWriter(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *RotationConfig
		wantError bool
	}{
		{
			name:      "nil config uses defaults",
			cfg:       nil,
			wantError: false,
		},
		{
			name: "valid config",
			cfg: &RotationConfig{
				MaxSize:    "10MB",
				MaxAge:     "7d",
				MaxBackups: 5,
			},
			wantError: false,
		},
		{
			name: "invalid max_size",
			cfg: &RotationConfig{
				MaxSize: "invalid",
			},
			wantError: true,
		},
		{
			name: "invalid max_age",
			cfg: &RotationConfig{
				MaxAge: "invalid",
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			logFile := filepath.Join(tmpDir, "warden.log")

			writer, err := newRotatingWriter(logFile, tt.cfg)
			if tt.wantError {
				if err == nil {
					t.Error("expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if writer == nil {
				t.Fatal("expected writer, got nil")
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		hasError bool
	}{
		{"100", 100, false},
		{"100B", 100, false},
		{"100KB", 100 * 1024, false},
		{"50MB", 50 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"50mb", 50 * 1024 * 1024, false}, // case insensitive
		{"invalid", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := parseSize(tt.input)
			if tt.hasError && err == nil {
				t.Errorf("parseSize(%q) expected error", tt.input)
			}
			if !tt.hasError && err != nil {
				t.Errorf("parseSize(%q) unexpected error: %v", tt.input, err)
			}
			if result != tt.expected {
				t.Errorf("parseSize(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParseAge(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		hasError bool
	}{
		{"7d", "168h0m0s", false},
		{"1w", "168h0m0s", false},
		{"2w", "336h0m0s", false},
		{"24h", "24h0m0s", false},
		{"invalid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := parseAge(tt.input)
			if tt.hasError && err == nil {
				t.Errorf("parseAge(%q) expected error", tt.input)
			}
			if !tt.hasError {
				if err != nil {
					t.Errorf("parseAge(%q) unexpected error: %v", tt.input, err)
				}
				if result.String() != tt.expected {
					t.Errorf("parseAge(%q) = %v, want %v", tt.input, result.String(), tt.expected)
				}
			}
		})
	}
}

func TestRotatingWriterRotates(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "warden.log")

	w, err := newRotatingWriter(logFile, &RotationConfig{
		MaxSize:    "1KB",
		MaxBackups: 2,
	})
	if err != nil {
		t.Fatalf("newRotatingWriter failed: %v", err)
	}

	line := strings.Repeat("x", 100) + "\n"
	for i := 0; i < 30; i++ {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	matches, err := filepath.Glob(filepath.Join(tmpDir, "warden.*.log"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(matches) == 0 {
		t.Error("expected at least one rotated backup file")
	}

	info, err := os.Stat(logFile)
	if err != nil {
		t.Fatalf("stat current log failed: %v", err)
	}
	if info.Size() > 1024+int64(len(line)) {
		t.Errorf("current log grew past max size: %d bytes", info.Size())
	}
}
