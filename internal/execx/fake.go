package execx

import (
	"context"
	"io"
	"strings"
	"sync"
)

// Call records a single command invocation seen by a FakeRunner.
type Call struct {
	Dir    string
	Name   string
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

// Line renders the call the way a shell user would type it.
func (c Call) Line() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// FakeRunner is a Runner for tests. Handler, when set, decides each call's
// stdout and error; otherwise every call succeeds with empty output. Calls
// are recorded in order.
type FakeRunner struct {
	mu      sync.Mutex
	Calls   []Call
	Handler func(Call) (string, error)
}

func (f *FakeRunner) Run(_ context.Context, opts Options, name string, args ...string) error {
	_, err := f.record(opts, name, args)
	return err
}

func (f *FakeRunner) Output(_ context.Context, opts Options, name string, args ...string) (string, error) {
	return f.record(opts, name, args)
}

func (f *FakeRunner) record(opts Options, name string, args []string) (string, error) {
	f.mu.Lock()
	call := Call{Dir: opts.Dir, Name: name, Args: args, Stdout: opts.Stdout, Stderr: opts.Stderr}
	f.Calls = append(f.Calls, call)
	f.mu.Unlock()

	if f.Handler != nil {
		return f.Handler(call)
	}
	return "", nil
}

// Lines returns the recorded calls as rendered command lines.
func (f *FakeRunner) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		lines = append(lines, c.Line())
	}
	return lines
}
