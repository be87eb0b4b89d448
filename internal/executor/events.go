package executor

import (
	"encoding/json"
	"strings"
)

// Event is a structured sub-event parsed out of raw agent output.
type Event struct {
	Type    string         `json:"event"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Well-known event types.
const (
	EventToolCall = "tool_call"
	EventProgress = "progress"
	EventError    = "error"
)

// parseEvent tries to read one output line as a structured event.
//
// Recognized forms:
//
//	{"event":"tool_call","message":"file_write","data":{...}}
//	[PROGRESS] 50% complete
//	[ERROR] something failed
//
// Plain output lines return false.
func parseEvent(line string) (Event, bool) {
	trimmed := strings.TrimSpace(line)

	if strings.HasPrefix(trimmed, "{") {
		var raw struct {
			Event   string         `json:"event"`
			Message string         `json:"message"`
			Data    map[string]any `json:"data"`
		}
		if err := json.Unmarshal([]byte(trimmed), &raw); err == nil && raw.Event != "" {
			return Event{Type: raw.Event, Message: raw.Message, Data: raw.Data}, true
		}
	}

	if rest, ok := strings.CutPrefix(trimmed, "[PROGRESS]"); ok {
		return Event{Type: EventProgress, Message: strings.TrimSpace(rest)}, true
	}

	if rest, ok := strings.CutPrefix(trimmed, "[ERROR]"); ok {
		return Event{Type: EventError, Message: strings.TrimSpace(rest)}, true
	}

	return Event{}, false
}

// lineBuffer reassembles output chunks into whole lines for event parsing.
// The trailing partial line is held back until completed or flushed.
type lineBuffer struct {
	partial string
}

// feed appends a chunk and returns the completed lines.
func (b *lineBuffer) feed(chunk []byte) []string {
	b.partial += string(chunk)
	if !strings.Contains(b.partial, "\n") {
		return nil
	}
	parts := strings.Split(b.partial, "\n")
	b.partial = parts[len(parts)-1]
	return parts[:len(parts)-1]
}

// flush returns any held partial line.
func (b *lineBuffer) flush() []string {
	if b.partial == "" {
		return nil
	}
	line := b.partial
	b.partial = ""
	return []string{line}
}
