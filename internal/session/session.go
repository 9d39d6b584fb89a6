// Package session owns the debugger session with the validation service:
// attach, install the breakpoint, drive the resume/dispatch loop on a
// worker goroutine and detach.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/vburojevic/amfid-allow/internal/arch"
	"github.com/vburojevic/amfid-allow/internal/debugger"
)

var (
	// ErrAttach is returned when the target process cannot be attached.
	ErrAttach = errors.New("attach failed")
	// ErrUnsupportedPlatform is returned when the intercepted method has no
	// location on this OS build.
	ErrUnsupportedPlatform = errors.New("unsupported platform version")
	// ErrDisconnected is returned when the process leaves debugger control unexpectedly.
	ErrDisconnected = errors.New("process disconnected")
)

// State is the lifecycle state of a session.
type State int

const (
	StateDetached State = iota
	StateAttaching
	StateListening
	StateDispatching
	StateDetaching
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateAttaching:
		return "attaching"
	case StateListening:
		return "listening"
	case StateDispatching:
		return "dispatching"
	case StateDetaching:
		return "detaching"
	default:
		return "detached"
	}
}

// Interceptor handles one hit of the session's breakpoint. It returns false
// when the session should detach.
type Interceptor interface {
	Handle(ctx context.Context, sess *Session, t debugger.Thread) (keepAlive bool, err error)
}

// Session is the live relationship with the target process. Process,
// Convention and Breakpoint are set before the worker starts and never
// change afterwards.
type Session struct {
	ID         string
	Process    debugger.Process
	Convention arch.Convention
	Breakpoint debugger.Breakpoint
	RunForever bool
	Stats      *Tracker

	mu    sync.Mutex
	state State
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
