// Package debugger describes the debugger control capability the interceptor
// consumes: attaching to a process by name, a symbolic breakpoint, a
// synchronous continue, per-thread stop reasons, register access, step-out
// and expression evaluation in the paused target.
//
// Implementations are synchronous: Continue and StepOut do not return until
// the target has stopped again. None of the methods are safe for concurrent
// use; exactly one goroutine drives a Process.
package debugger

import (
	"context"
	"errors"
)

var (
	// ErrNotStopped is returned by thread operations while the process is running.
	ErrNotStopped = errors.New("process is not stopped")
	// ErrUnknownRegister is returned when a register name is not present in the frame.
	ErrUnknownRegister = errors.New("unknown register")
	// ErrDetached is returned for any operation after Detach.
	ErrDetached = errors.New("process detached")
)

// Debugger attaches to running processes.
type Debugger interface {
	// Attach attaches to the process with the given name or path. The process
	// is stopped when Attach returns.
	Attach(ctx context.Context, name string) (Process, error)
}

// Process is an attached target process.
type Process interface {
	// Triple is the target triple, e.g. "arm64e-apple-macosx15.4.0".
	Triple() string
	// CreateBreakpoint sets a breakpoint on a symbol name and reports how many
	// locations it resolved to.
	CreateBreakpoint(ctx context.Context, symbol string) (Breakpoint, error)
	// Continue resumes the process and blocks until it stops, exits or detaches.
	Continue(ctx context.Context) error
	// State is the process state observed after the last blocking call.
	State() State
	// Threads lists threads with their stop reasons from the last stop.
	Threads(ctx context.Context) ([]Thread, error)
	// Detach releases the process and leaves it running.
	Detach(ctx context.Context) error
}

// Thread is a thread of a stopped process.
type Thread interface {
	ID() int
	StopReason() StopReason
	// StopReasonData carries reason specific data. For StopReasonBreakpoint
	// the first element is the breakpoint id.
	StopReasonData() []uint64
	// Register resolves a register of the innermost frame.
	Register(ctx context.Context, name string) (Register, error)
	// StepOut runs until the innermost frame returns and blocks until the
	// process stops again.
	StepOut(ctx context.Context) error
	// Evaluate evaluates an expression in the innermost frame.
	Evaluate(ctx context.Context, expr string) (Value, error)
	// Describe evaluates an expression and returns its object description,
	// the equivalent of LLDB's "po".
	Describe(ctx context.Context, expr string) (string, error)
}

// Register is a handle to a register of a stopped frame.
type Register interface {
	Name() string
	// Value is the register content as formatted by the debugger, usually a hex literal.
	Value() string
	// Set writes a new value into the register.
	Set(ctx context.Context, value string) error
}

// Breakpoint is an installed breakpoint.
type Breakpoint struct {
	ID        int
	Symbol    string
	Locations int
}

// Resolved reports whether the breakpoint has at least one location.
func (b Breakpoint) Resolved() bool {
	return b.Locations > 0
}

// BreakpointID returns the breakpoint a thread stopped at, if it stopped at one.
func BreakpointID(t Thread) (int, bool) {
	if t.StopReason() != StopReasonBreakpoint {
		return 0, false
	}
	data := t.StopReasonData()
	if len(data) == 0 {
		return 0, false
	}
	return int(data[0]), true
}

// FindStopped returns the first thread stopped for the given reason.
func FindStopped(threads []Thread, reason StopReason) (Thread, bool) {
	for _, t := range threads {
		if t.StopReason() == reason {
			return t, true
		}
	}
	return nil, false
}
