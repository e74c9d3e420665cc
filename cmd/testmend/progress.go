package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"

	"github.com/kamilpajak/testmend/internal/healing"
)

// progressEmitter is a healing.ProgressEmitter that can be stopped.
type progressEmitter interface {
	healing.ProgressEmitter
	Close()
}

type textEmitter struct {
	*healing.TextEmitter
}

func (textEmitter) Close() {}

type jsonEmitter struct {
	*healing.JSONEmitter
}

func (jsonEmitter) Close() {}

// spinnerEmitter shows the current test on a spinner line and prints only
// results and errors.
type spinnerEmitter struct {
	s      *spinner.Spinner
	w      io.Writer
	closed bool
}

func newSpinnerEmitter(f *os.File) *spinnerEmitter {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriterFile(f))
	return &spinnerEmitter{s: s, w: f}
}

func (e *spinnerEmitter) Emit(ev healing.ProgressEvent) {
	if e.closed {
		return
	}
	switch ev.Type {
	case "test":
		e.setSuffix(fmt.Sprintf(" [%d/%d] %s", ev.Index, ev.Total, ev.Test))
		if !e.s.Active() {
			e.s.Start()
		}
	case "strategy":
		e.setSuffix(fmt.Sprintf(" [%d/%d] %s (%s)", ev.Index, ev.Total, ev.Test, ev.Strategy))
	case "result":
		e.s.Stop()
		fmt.Fprintf(e.w, "[%d/%d] %s: %s\n", ev.Index, ev.Total, ev.Test, ev.Message)
	case "info":
		e.s.Stop()
		fmt.Fprintf(e.w, "  %s\n", ev.Message)
	case "error":
		e.s.Stop()
		fmt.Fprintf(e.w, "Error: %s\n", ev.Message)
	}
}

func (e *spinnerEmitter) setSuffix(s string) {
	e.s.Lock()
	e.s.Suffix = s
	e.s.Unlock()
}

func (e *spinnerEmitter) Close() {
	if !e.closed {
		e.s.Stop()
		e.closed = true
	}
}

// newEmitter returns a JSON-lines emitter when jsonLines is set, a spinner
// on interactive terminals and plain lines otherwise.
func newEmitter(w io.Writer, jsonLines bool) progressEmitter {
	if jsonLines {
		return jsonEmitter{healing.NewJSONEmitter(w)}
	}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return newSpinnerEmitter(f)
	}
	return textEmitter{&healing.TextEmitter{W: w}}
}
