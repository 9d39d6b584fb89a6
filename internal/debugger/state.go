package debugger

import (
	"fmt"
	"strconv"
	"strings"
)

// State is the lifecycle state of a debugged process.
type State int

const (
	StateInvalid State = iota
	StateStopped
	StateRunning
	StateSuspended
	StateExited
	StateCrashed
	StateDetached
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateExited:
		return "exited"
	case StateCrashed:
		return "crashed"
	case StateDetached:
		return "detached"
	default:
		return "invalid"
	}
}

// Connected reports whether the debugger still controls the process.
func (s State) Connected() bool {
	return s == StateStopped || s == StateRunning || s == StateSuspended
}

// StopReason explains why a thread stopped.
type StopReason int

const (
	StopReasonNone StopReason = iota
	StopReasonBreakpoint
	// StopReasonPlanComplete means a step operation finished normally.
	StopReasonPlanComplete
	StopReasonSignal
	StopReasonException
	StopReasonOther
)

// String returns a string representation of the stop reason.
func (r StopReason) String() string {
	switch r {
	case StopReasonNone:
		return "none"
	case StopReasonBreakpoint:
		return "breakpoint"
	case StopReasonPlanComplete:
		return "plan-complete"
	case StopReasonSignal:
		return "signal"
	case StopReasonException:
		return "exception"
	default:
		return "other"
	}
}

// Value is the result of an expression evaluation.
type Value struct {
	Result string
	Type   string
}

// Unsigned interprets the result as an unsigned integer. LLDB renders BOOL as
// YES/NO, bool as true/false and signed char as a quoted character, all of
// which are accepted.
func (v Value) Unsigned() (uint64, error) {
	s := strings.TrimSpace(v.Result)
	switch s {
	case "YES", "true":
		return 1, nil
	case "NO", "false":
		return 0, nil
	}
	if len(s) >= 3 && s[0] == '\'' && s[len(s)-1] == '\'' {
		inner := s[1 : len(s)-1]
		if inner == `\0` {
			return 0, nil
		}
		c, _, _, err := strconv.UnquoteChar(inner, '\'')
		if err != nil {
			return 0, fmt.Errorf("parse %q as char: %w", v.Result, err)
		}
		return uint64(c), nil
	}
	if f := strings.Fields(s); len(f) > 0 {
		s = f[0]
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q as unsigned: %w", v.Result, err)
	}
	return n, nil
}

// Bool interprets the result as a boolean.
func (v Value) Bool() (bool, error) {
	n, err := v.Unsigned()
	if err != nil {
		return false, err
	}
	return n != 0, nil
}
