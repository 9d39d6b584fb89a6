package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vburojevic/amfid-allow/internal/domain"
)

// Tracker counts what happened during a session. The worker records, the
// main goroutine reads the final summary.
type Tracker struct {
	mu      sync.Mutex
	clock   clock.Clock
	started time.Time

	interceptions      int
	overrides          int
	alreadyValid       int
	unknownBreakpoints int
}

// NewTracker creates a tracker that starts counting now.
func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{clock: clk, started: clk.Now()}
}

// Intercepted records a breakpoint hit and returns its 1-based number.
func (t *Tracker) Intercepted() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interceptions++
	return t.interceptions
}

// Decided records the outcome of a policy decision.
func (t *Tracker) Decided(originalVerdict, override bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case originalVerdict:
		t.alreadyValid++
	case override:
		t.overrides++
	}
}

// UnknownBreakpoint records a stop at a breakpoint this session did not install.
func (t *Tracker) UnknownBreakpoint() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unknownBreakpoints++
}

// Summary returns the statistics so far.
func (t *Tracker) Summary() domain.SessionSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return domain.SessionSummary{
		Interceptions:      t.interceptions,
		Overrides:          t.overrides,
		AlreadyValid:       t.alreadyValid,
		UnknownBreakpoints: t.unknownBreakpoints,
		DurationSeconds:    int(t.clock.Since(t.started).Seconds()),
	}
}
