package session

import (
	"context"
	"fmt"

	"github.com/vburojevic/amfid-allow/internal/debugger"
)

// Stop is a stop at the session's breakpoint.
type Stop struct {
	Thread       debugger.Thread
	BreakpointID int
}

// StopStream is a blocking sequence of breakpoint stops.
type StopStream interface {
	// Next resumes the target and blocks until it stops at the session's
	// breakpoint.
	Next(ctx context.Context) (Stop, error)
}

type processStream struct {
	sess    *Session
	unknown func(id int)
}

// NewStopStream returns the stream that drives sess.Process. unknown is
// called for every stop at a breakpoint the session did not install; such
// stops are resumed without being yielded.
func NewStopStream(sess *Session, unknown func(id int)) StopStream {
	if unknown == nil {
		unknown = func(int) {}
	}
	return &processStream{sess: sess, unknown: unknown}
}

func (s *processStream) Next(ctx context.Context) (Stop, error) {
	proc := s.sess.Process
	for {
		if err := ctx.Err(); err != nil {
			return Stop{}, err
		}
		if err := proc.Continue(ctx); err != nil {
			return Stop{}, fmt.Errorf("continue: %w", err)
		}

		state := proc.State()
		if !state.Connected() {
			return Stop{}, fmt.Errorf("%w: process is %s", ErrDisconnected, state)
		}
		if state != debugger.StateStopped {
			continue
		}

		threads, err := proc.Threads(ctx)
		if err != nil {
			return Stop{}, fmt.Errorf("list threads: %w", err)
		}
		for _, t := range threads {
			id, ok := debugger.BreakpointID(t)
			if !ok {
				continue
			}
			if id == s.sess.Breakpoint.ID {
				return Stop{Thread: t, BreakpointID: id}, nil
			}
			s.unknown(id)
		}
	}
}
