package healing

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// ProgressEvent represents a single progress update during a healing run.
type ProgressEvent struct {
	Type     string `json:"type"`               // "test", "strategy", "result", "info", "error"
	Index    int    `json:"index,omitempty"`    // 1-based position of the current test
	Total    int    `json:"total,omitempty"`    // number of tests in the run
	Test     string `json:"test,omitempty"`     // test name
	Strategy string `json:"strategy,omitempty"` // strategy name
	Message  string `json:"message,omitempty"`  // human-readable message
}

// ProgressEmitter receives progress events during a healing run.
type ProgressEmitter interface {
	Emit(event ProgressEvent)
}

// TextEmitter formats progress events as human-readable text for CLI output.
type TextEmitter struct {
	W io.Writer
}

// Emit writes a formatted progress line to the underlying writer.
func (e *TextEmitter) Emit(ev ProgressEvent) {
	switch ev.Type {
	case "test":
		fmt.Fprintf(e.W, "[%d/%d] %s\n", ev.Index, ev.Total, ev.Test)
	case "strategy":
		fmt.Fprintf(e.W, "[%d/%d]   trying %s\n", ev.Index, ev.Total, ev.Strategy)
	case "result":
		fmt.Fprintf(e.W, "[%d/%d]   %s\n", ev.Index, ev.Total, ev.Message)
	case "info":
		fmt.Fprintf(e.W, "  %s\n", ev.Message)
	case "error":
		fmt.Fprintf(e.W, "Error: %s\n", ev.Message)
	}
}

// JSONEmitter writes each progress event as one JSON line.
type JSONEmitter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONEmitter creates a JSONEmitter for w.
func NewJSONEmitter(w io.Writer) *JSONEmitter {
	return &JSONEmitter{w: w}
}

// Emit encodes ev followed by a newline. Events that fail to encode are
// dropped.
func (e *JSONEmitter) Emit(ev ProgressEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.w, "%s\n", data)
}
