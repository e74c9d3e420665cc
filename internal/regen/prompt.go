package regen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kamilpajak/testmend/internal/llm"
	"github.com/kamilpajak/testmend/pkg/models"
)

const systemPrompt = `You are an expert API test engineer. Your task is to repair a Playwright API test that broke because the API contract changed.

When repairing, consider:
1. The failure analysis and the specification changes listed
2. Renamed or removed fields, changed status codes and moved endpoints
3. Keeping the original intent of the test

Respond with the complete updated test file in a single fenced typescript code block and nothing else.`

var requirements = []string{
	"Keep the test name, structure and intent unchanged.",
	"Only change what the specification changes require.",
	"Use the request fixture from @playwright/test for every HTTP call.",
	"Await every asynchronous call.",
	"Keep at least one expect assertion.",
	"Do not add new test cases or remove existing ones.",
}

// Limits applied when assembling a prompt.
const (
	DefaultMaxExamples  = 2
	DefaultMaxChanges   = 20
	DefaultMaxSourceLen = 20000
)

// SourceTooLargeError is returned for a test source the assembler will not
// send. Sending a truncated file would let the reply overwrite its tail.
type SourceTooLargeError struct {
	Size  int
	Limit int
}

func (e *SourceTooLargeError) Error() string {
	return fmt.Sprintf("test source is %d bytes, limit is %d", e.Size, e.Limit)
}

// IsSourceTooLargeError checks if an error is a SourceTooLargeError.
func IsSourceTooLargeError(err error) bool {
	var e *SourceTooLargeError
	return errors.As(err, &e)
}

// Context is everything known about a failing test when asking for a repair.
type Context struct {
	TestName string
	FilePath string
	Source   string
	Analysis models.FailureAnalysis
	Changes  []models.SpecChange
}

// Prompt is an assembled repair request.
type Prompt struct {
	System string
	User   string
}

// Messages converts the prompt for a Completer.
func (p Prompt) Messages() []llm.Message {
	return []llm.Message{
		{Role: "system", Content: p.System},
		{Role: "user", Content: p.User},
	}
}

// Assembler builds repair prompts.
type Assembler struct {
	examples     []Example
	maxExamples  int
	maxChanges   int
	maxSourceLen int
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithExamples replaces the few-shot library.
func WithExamples(examples []Example) AssemblerOption {
	return func(a *Assembler) { a.examples = examples }
}

// WithMaxExamples bounds the few-shot examples per prompt.
func WithMaxExamples(n int) AssemblerOption {
	return func(a *Assembler) { a.maxExamples = n }
}

// WithMaxChanges bounds the listed specification changes.
func WithMaxChanges(n int) AssemblerOption {
	return func(a *Assembler) { a.maxChanges = n }
}

// WithMaxSourceLen sets the largest source, in bytes, a prompt may carry.
func WithMaxSourceLen(n int) AssemblerOption {
	return func(a *Assembler) { a.maxSourceLen = n }
}

// NewAssembler creates an Assembler with the default library.
func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		examples:     DefaultExamples,
		maxExamples:  DefaultMaxExamples,
		maxChanges:   DefaultMaxChanges,
		maxSourceLen: DefaultMaxSourceLen,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build creates the prompt for c. Sources over the size limit are rejected
// with a SourceTooLargeError rather than shortened.
func (a *Assembler) Build(c Context) (Prompt, error) {
	if a.maxSourceLen > 0 && len(c.Source) > a.maxSourceLen {
		return Prompt{}, &SourceTooLargeError{Size: len(c.Source), Limit: a.maxSourceLen}
	}

	var sb strings.Builder

	sb.WriteString("## Test\n")
	if c.TestName != "" {
		fmt.Fprintf(&sb, "- Name: %s\n", c.TestName)
	}
	if c.FilePath != "" {
		fmt.Fprintf(&sb, "- File: `%s`\n", c.FilePath)
	}
	sb.WriteString("\n")

	an := c.Analysis
	sb.WriteString("## Failure Analysis\n")
	fmt.Fprintf(&sb, "- Kind: %s\n", an.Kind)
	if an.RootCause != "" {
		fmt.Fprintf(&sb, "- Root cause: %s\n", an.RootCause)
	}
	fmt.Fprintf(&sb, "- Confidence: %.0f%%\n", an.Confidence*100)
	if an.Suggestion != "" {
		fmt.Fprintf(&sb, "- Suggested fix: %s\n", an.Suggestion)
	}
	sb.WriteString("\n")

	a.writeChanges(&sb, c.Changes)

	sb.WriteString("## Requirements\n")
	for i, r := range requirements {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, r)
	}
	sb.WriteString("\n")

	examples := selectExamples(a.examples, an.Kind, a.maxExamples)
	if len(examples) > 0 {
		sb.WriteString("## Examples\n\n")
		for i, ex := range examples {
			fmt.Fprintf(&sb, "### Example %d: %s\n", i+1, ex.Title)
			if ex.Explanation != "" {
				fmt.Fprintf(&sb, "%s\n", ex.Explanation)
			}
			fmt.Fprintf(&sb, "Before:\n```typescript\n%s\n```\n", ex.Before)
			fmt.Fprintf(&sb, "After:\n```typescript\n%s\n```\n\n", ex.After)
		}
	}

	fmt.Fprintf(&sb, "## Original Test\n```typescript\n%s\n```\n\n", strings.TrimRight(c.Source, "\n"))
	sb.WriteString("Return only the complete updated test file in a single ```typescript code block.\n")

	return Prompt{System: systemPrompt, User: sb.String()}, nil
}

func (a *Assembler) writeChanges(sb *strings.Builder, changes []models.SpecChange) {
	sb.WriteString("## Specification Changes\n")
	if len(changes) == 0 {
		sb.WriteString("No specification changes are known for this test.\n\n")
		return
	}
	for i, ch := range changes {
		if i >= a.maxChanges {
			fmt.Fprintf(sb, "\n... and %d more changes\n", len(changes)-a.maxChanges)
			break
		}
		marker := ""
		if ch.IsBreaking() {
			marker = "[BREAKING] "
		}
		fmt.Fprintf(sb, "%d. %s%s at `%s`", i+1, marker, ch.Kind, ch.Path)
		if ch.Description != "" {
			fmt.Fprintf(sb, ": %s", ch.Description)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}
