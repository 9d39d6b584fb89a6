// Package lldbdap implements the debugger capability on top of lldb-dap, the
// Debug Adapter Protocol server that ships with LLDB.
//
// Stops are reported asynchronously by the adapter as "stopped" events. The
// backend records the stop reason per thread and turns continue and stepOut
// into blocking calls that return once the next stop, exit or disconnect has
// been observed.
package lldbdap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/amfid-allow/internal/dap"
	"github.com/vburojevic/amfid-allow/internal/debugger"
)

// ErrStepTimeout is returned when a step does not stop within the configured timeout.
var ErrStepTimeout = errors.New("step did not complete in time")

// DefaultAdapter runs lldb-dap from the active developer directory.
var DefaultAdapter = []string{"xcrun", "lldb-dap"}

// Config configures the backend.
type Config struct {
	// Adapter is the adapter command line. Empty means DefaultAdapter.
	Adapter []string
	// StepTimeout bounds StepOut. Zero waits for ever.
	StepTimeout time.Duration
	// RequestTimeout bounds each request that is not a resume.
	RequestTimeout time.Duration
	Clock          clock.Clock
	Logger         *zap.Logger

	// Dial overrides adapter startup, used by tests.
	Dial func() (dap.Transport, error)
}

// Debugger attaches through a fresh lldb-dap instance per process.
type Debugger struct {
	cfg Config
}

// New returns a Debugger. Unset fields take defaults.
func New(cfg Config) *Debugger {
	if len(cfg.Adapter) == 0 {
		cfg.Adapter = DefaultAdapter
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Dial == nil {
		adapter := cfg.Adapter
		cfg.Dial = func() (dap.Transport, error) {
			return dap.StartAdapter(adapter[0], adapter[1:]...)
		}
	}
	return &Debugger{cfg: cfg}
}

var tripleRe = regexp.MustCompile(`arch=([A-Za-z0-9_.-]+)`)

// Attach starts an adapter, attaches to the named process and leaves it stopped.
func (d *Debugger) Attach(ctx context.Context, name string) (debugger.Process, error) {
	transport, err := d.cfg.Dial()
	if err != nil {
		return nil, fmt.Errorf("start debug adapter: %w", err)
	}

	client := dap.NewClient(transport, d.cfg.Logger.Named("dap"))
	p := newProcess(client, d.cfg)
	client.OnEvent(p.onEvent)

	if err := p.attach(ctx, name); err != nil {
		_ = client.Close()
		return nil, err
	}
	return p, nil
}

type stopInfo struct {
	reason debugger.StopReason
	data   []uint64
}

// Process is an attached lldb-dap session.
type Process struct {
	client *dap.Client
	cfg    Config
	log    *zap.Logger

	initialized     chan struct{}
	initializedOnce sync.Once

	mu      sync.Mutex
	state   debugger.State
	stopped bool // a stop event arrived since the last resume
	stops   map[int]stopInfo
	focus   int
	changed chan struct{}

	triple string
}

func newProcess(client *dap.Client, cfg Config) *Process {
	return &Process{
		client:      client,
		cfg:         cfg,
		log:         cfg.Logger,
		initialized: make(chan struct{}),
		stops:       make(map[int]stopInfo),
		changed:     make(chan struct{}),
	}
}

func (p *Process) attach(ctx context.Context, name string) error {
	rctx, cancel := p.withTimeout(ctx)
	caps, err := p.client.Initialize(rctx, dap.InitializeArguments{
		ClientID:        "amfid-allow",
		ClientName:      "amfid-allow",
		AdapterID:       "lldb-dap",
		LinesStartAt1:   true,
		ColumnsStartAt1: true,
		PathFormat:      "path",
	})
	cancel()
	if err != nil {
		return fmt.Errorf("initialize adapter: %w", err)
	}
	if !caps.SupportsFunctionBreakpoints {
		return errors.New("debug adapter does not support function breakpoints")
	}

	// The attach response may only arrive after configurationDone, so the
	// configuration phase runs while attach is still outstanding.
	attach, err := p.client.StartAttach(dap.AttachArguments{Program: name, StopOnEntry: true})
	if err != nil {
		return err
	}
	rctx, cancel = p.withTimeout(ctx)
	defer cancel()

	if err := p.awaitInitialized(rctx, attach); err != nil {
		return err
	}

	p.mu.Lock()
	p.state = debugger.StateStopped
	p.mu.Unlock()

	if err := p.client.ConfigurationDone(rctx); err != nil {
		return err
	}
	if _, err := attach.Wait(rctx); err != nil {
		return err
	}

	out, err := p.command(ctx, 0, "target list")
	if err != nil {
		return fmt.Errorf("query target: %w", err)
	}
	if m := tripleRe.FindStringSubmatch(out); m != nil {
		p.triple = m[1]
	}
	p.log.Debug("attached", zap.String("process", name), zap.String("triple", p.triple))
	return nil
}

// awaitInitialized waits for the initialized event. An attach failure
// reported before it ends the wait.
func (p *Process) awaitInitialized(ctx context.Context, attach *dap.Call) error {
	answered := attach.Done()
	for {
		select {
		case <-p.initialized:
			return nil
		case <-answered:
			if _, err := attach.Wait(ctx); err != nil {
				return err
			}
			answered = nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for initialized event: %w", ctx.Err())
		case <-p.client.Done():
			return fmt.Errorf("waiting for initialized event: %w", dap.ErrClosed)
		}
	}
}

// withTimeout bounds a request that does not resume the target.
func (p *Process) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.RequestTimeout)
}

func (p *Process) onEvent(evt dap.Event) {
	switch evt.Event {
	case "initialized":
		p.initializedOnce.Do(func() { close(p.initialized) })
	case "stopped":
		var body dap.StoppedEventBody
		if err := json.Unmarshal(evt.Body, &body); err != nil {
			return
		}
		p.mu.Lock()
		p.stops[body.ThreadID] = stopInfo{reason: stopReason(body.Reason), data: hitData(body.HitBreakpointIDs)}
		if body.ThreadID != 0 {
			p.focus = body.ThreadID
		}
		p.state = debugger.StateStopped
		p.stopped = true
		p.signalLocked()
		p.mu.Unlock()
	case "continued":
		p.mu.Lock()
		if p.state.Connected() && !p.stopped {
			p.state = debugger.StateRunning
		}
		p.mu.Unlock()
	case "exited", "terminated":
		p.mu.Lock()
		if p.state != debugger.StateDetached {
			p.state = debugger.StateExited
		}
		p.signalLocked()
		p.mu.Unlock()
	case "output":
		var body dap.OutputEventBody
		if err := json.Unmarshal(evt.Body, &body); err == nil && body.Category != "telemetry" {
			p.log.Debug("adapter output", zap.String("category", body.Category), zap.String("output", strings.TrimSpace(body.Output)))
		}
	}
}

func (p *Process) signalLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

func stopReason(reason string) debugger.StopReason {
	switch reason {
	case "breakpoint", "function breakpoint":
		return debugger.StopReasonBreakpoint
	case "step":
		return debugger.StopReasonPlanComplete
	case "exception":
		return debugger.StopReasonException
	case "signal", "entry", "pause":
		return debugger.StopReasonSignal
	}
	return debugger.StopReasonOther
}

// hitData mirrors LLDB's breakpoint stop data: breakpoint id, location id.
func hitData(ids []int) []uint64 {
	if len(ids) == 0 {
		return nil
	}
	return []uint64{uint64(ids[0]), 1}
}

// Triple implements debugger.Process.
func (p *Process) Triple() string { return p.triple }

// State implements debugger.Process.
func (p *Process) State() debugger.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// CreateBreakpoint implements debugger.Process. DAP reports whether the
// breakpoint resolved, not how many locations it has, so a verified
// breakpoint counts as one location.
func (p *Process) CreateBreakpoint(ctx context.Context, symbol string) (debugger.Breakpoint, error) {
	if err := p.live(); err != nil {
		return debugger.Breakpoint{}, err
	}
	rctx, cancel := p.withTimeout(ctx)
	defer cancel()
	bps, err := p.client.SetFunctionBreakpoints(rctx, symbol)
	if err != nil {
		return debugger.Breakpoint{}, err
	}
	bp := debugger.Breakpoint{Symbol: symbol}
	if len(bps) > 0 {
		bp.ID = bps[0].ID
		if bps[0].Verified {
			bp.Locations = 1
		}
	}
	return bp, nil
}

// Continue implements debugger.Process.
func (p *Process) Continue(ctx context.Context) error {
	if err := p.live(); err != nil {
		return err
	}
	tid := p.resume()
	if err := p.client.Continue(ctx, tid); err != nil {
		if p.lost() {
			return nil
		}
		return err
	}
	return p.wait(ctx, 0)
}

// lost reports whether the adapter connection is gone and, if so, marks the
// process as no longer controlled.
func (p *Process) lost() bool {
	select {
	case <-p.client.Done():
	default:
		return false
	}
	p.mu.Lock()
	if p.state.Connected() {
		p.state = debugger.StateInvalid
	}
	p.mu.Unlock()
	return true
}

// Threads implements debugger.Process.
func (p *Process) Threads(ctx context.Context) ([]debugger.Thread, error) {
	if p.State() != debugger.StateStopped {
		return nil, debugger.ErrNotStopped
	}
	rctx, cancel := p.withTimeout(ctx)
	defer cancel()
	threads, err := p.client.Threads(rctx)
	if err != nil {
		return nil, err
	}
	out := make([]debugger.Thread, 0, len(threads))
	for _, t := range threads {
		out = append(out, &Thread{proc: p, id: t.ID})
	}
	return out, nil
}

// Detach implements debugger.Process. The debuggee keeps running.
func (p *Process) Detach(ctx context.Context) error {
	p.mu.Lock()
	if p.state == debugger.StateDetached {
		p.mu.Unlock()
		return nil
	}
	connected := p.state.Connected()
	p.state = debugger.StateDetached
	p.mu.Unlock()

	var err error
	if connected {
		rctx, cancel := p.withTimeout(ctx)
		err = p.client.Disconnect(rctx)
		cancel()
	}
	if cerr := p.client.Close(); cerr != nil {
		p.log.Debug("closing adapter", zap.Error(cerr))
	}
	return err
}

func (p *Process) live() error {
	if p.State() == debugger.StateDetached {
		return debugger.ErrDetached
	}
	select {
	case <-p.client.Done():
		return fmt.Errorf("%w: %v", dap.ErrClosed, p.client.Err())
	default:
	}
	return nil
}

// resume clears the recorded stop and returns the thread to resume from.
func (p *Process) resume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	tid := p.focus
	p.stopped = false
	p.stops = make(map[int]stopInfo)
	p.state = debugger.StateRunning
	return tid
}

// wait blocks until a stop or exit was observed since the last resume.
func (p *Process) wait(ctx context.Context, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		deadline = p.cfg.Clock.After(timeout)
	}
	for {
		p.mu.Lock()
		done := p.stopped || !p.state.Connected()
		changed := p.changed
		p.mu.Unlock()
		if done {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrStepTimeout
		case <-p.client.Done():
			p.lost()
			return nil
		}
	}
}

func (p *Process) stopOf(tid int) stopInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops[tid]
}

func (p *Process) topFrame(ctx context.Context, tid int) (int, error) {
	rctx, cancel := p.withTimeout(ctx)
	defer cancel()
	frames, err := p.client.StackTrace(rctx, dap.StackTraceArguments{ThreadID: tid, Levels: 1})
	if err != nil {
		return 0, err
	}
	if len(frames) == 0 {
		return 0, fmt.Errorf("thread %d has no frames", tid)
	}
	return frames[0].ID, nil
}

// command runs an LLDB command through the repl and returns its output.
func (p *Process) command(ctx context.Context, frameID int, cmd string) (string, error) {
	rctx, cancel := p.withTimeout(ctx)
	defer cancel()
	res, err := p.client.Evaluate(rctx, dap.EvaluateArguments{
		Expression: "`" + cmd,
		FrameID:    frameID,
		Context:    "repl",
	})
	if err != nil {
		return "", err
	}
	return strings.TrimRight(res.Result, "\r\n"), nil
}
