package healing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := &TextEmitter{W: &buf}

	e.Emit(ProgressEvent{Type: "test", Index: 1, Total: 3, Test: "creates user"})
	e.Emit(ProgressEvent{Type: "strategy", Index: 1, Total: 3, Strategy: "rule-based"})
	e.Emit(ProgressEvent{Type: "result", Index: 1, Total: 3, Message: "healed"})
	e.Emit(ProgressEvent{Type: "info", Message: "2 changes loaded"})
	e.Emit(ProgressEvent{Type: "error", Message: "run budget exceeded"})
	e.Emit(ProgressEvent{Type: "unknown", Message: "ignored"})

	want := "[1/3] creates user\n" +
		"[1/3]   trying rule-based\n" +
		"[1/3]   healed\n" +
		"  2 changes loaded\n" +
		"Error: run budget exceeded\n"
	assert.Equal(t, want, buf.String())
}

func TestJSONEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := NewJSONEmitter(&buf)

	e.Emit(ProgressEvent{Type: "test", Index: 2, Total: 3, Test: "creates user"})
	e.Emit(ProgressEvent{Type: "info", Message: "done"})

	want := `{"type":"test","index":2,"total":3,"test":"creates user"}` + "\n" +
		`{"type":"info","message":"done"}` + "\n"
	assert.Equal(t, want, buf.String())
}

func TestErrorHelpers(t *testing.T) {
	nh := &NonHealableError{Kind: "timeout", Confidence: 0.3, MinConfidence: 0.6}
	assert.True(t, IsNonHealableError(nh))
	assert.Equal(t, "timeout failure not healable: confidence 0.30 below 0.60", nh.Error())

	be := &BudgetExceededError{Scope: ScopeTest, TestID: "t", Attempts: 2, Limit: 2}
	assert.True(t, IsBudgetExceededError(be))
	assert.False(t, IsBudgetExceededError(nh))
	assert.Equal(t, "attempt budget exceeded for t: 2 of 2 attempts used", be.Error())
}
