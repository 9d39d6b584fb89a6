// Package debuggertest provides a scripted in-memory debugger for tests.
package debuggertest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vburojevic/amfid-allow/internal/debugger"
)

// Debugger is a scripted debugger.Debugger.
type Debugger struct {
	Process   *Process
	AttachErr error

	// Attached records the name passed to Attach.
	Attached string
}

// Attach returns the scripted process.
func (d *Debugger) Attach(_ context.Context, name string) (debugger.Process, error) {
	d.Attached = name
	if d.AttachErr != nil {
		return nil, d.AttachErr
	}
	if d.Process == nil {
		return nil, fmt.Errorf("process %q not found", name)
	}
	d.Process.state = debugger.StateStopped
	return d.Process, nil
}

// Stop is one scripted stop delivered by Continue.
type Stop struct {
	// State after the stop. Zero means stopped.
	State   debugger.State
	Threads []*Thread
	Err     error
}

// Process is a scripted debugger.Process. Each Continue consumes one Stop;
// once the script is exhausted the process reports that it exited.
type Process struct {
	TripleValue   string
	Locations     int
	BreakpointErr error
	Stops         []Stop
	DetachErr     error

	// Recorded calls.
	Log        []string
	Continues  int
	Detached   bool
	Breakpoint debugger.Breakpoint

	state   debugger.State
	threads []*Thread
}

// Triple implements debugger.Process.
func (p *Process) Triple() string { return p.TripleValue }

// State implements debugger.Process.
func (p *Process) State() debugger.State { return p.state }

// CreateBreakpoint implements debugger.Process.
func (p *Process) CreateBreakpoint(_ context.Context, symbol string) (debugger.Breakpoint, error) {
	p.Log = append(p.Log, "breakpoint "+symbol)
	if p.BreakpointErr != nil {
		return debugger.Breakpoint{}, p.BreakpointErr
	}
	p.Breakpoint = debugger.Breakpoint{ID: 1, Symbol: symbol, Locations: p.Locations}
	return p.Breakpoint, nil
}

// Continue implements debugger.Process.
func (p *Process) Continue(ctx context.Context) error {
	if p.Detached {
		return debugger.ErrDetached
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Continues++
	p.Log = append(p.Log, "continue")
	if len(p.Stops) == 0 {
		p.state = debugger.StateExited
		p.threads = nil
		return nil
	}
	stop := p.Stops[0]
	p.Stops = p.Stops[1:]
	if stop.Err != nil {
		return stop.Err
	}
	p.apply(stop)
	return nil
}

func (p *Process) apply(stop Stop) {
	p.state = stop.State
	if p.state == debugger.StateInvalid {
		p.state = debugger.StateStopped
	}
	p.threads = stop.Threads
	for _, t := range p.threads {
		t.proc = p
	}
}

// Threads implements debugger.Process.
func (p *Process) Threads(context.Context) ([]debugger.Thread, error) {
	if p.state != debugger.StateStopped {
		return nil, debugger.ErrNotStopped
	}
	out := make([]debugger.Thread, 0, len(p.threads))
	for _, t := range p.threads {
		out = append(out, t)
	}
	return out, nil
}

// Detach implements debugger.Process.
func (p *Process) Detach(context.Context) error {
	p.Log = append(p.Log, "detach")
	p.Detached = true
	p.state = debugger.StateDetached
	return p.DetachErr
}

// Thread is a scripted debugger.Thread.
type Thread struct {
	TID    int
	Reason debugger.StopReason
	Data   []uint64

	Registers map[string]string
	// AfterStepOut is merged into Registers when StepOut runs.
	AfterStepOut map[string]string
	// StepOutReason is the reason this thread reports after StepOut. Nil
	// means the step completes normally.
	StepOutReason *debugger.StopReason
	StepOutErr    error
	RegisterErr   error
	WriteErr      error

	// Values and Descriptions answer Evaluate and Describe for any
	// expression containing the key.
	Values       map[string]debugger.Value
	Descriptions map[string]string
	EvalErr      error

	// Recorded calls.
	Evaluations []string
	Writes      map[string]string

	proc *Process
}

// ID implements debugger.Thread.
func (t *Thread) ID() int { return t.TID }

// StopReason implements debugger.Thread.
func (t *Thread) StopReason() debugger.StopReason { return t.Reason }

// StopReasonData implements debugger.Thread.
func (t *Thread) StopReasonData() []uint64 { return t.Data }

// StepOut implements debugger.Thread.
func (t *Thread) StepOut(context.Context) error {
	t.log("stepout")
	if t.StepOutErr != nil {
		return t.StepOutErr
	}
	for k, v := range t.AfterStepOut {
		if t.Registers == nil {
			t.Registers = map[string]string{}
		}
		t.Registers[k] = v
	}
	t.Reason = debugger.StopReasonPlanComplete
	if t.StepOutReason != nil {
		t.Reason = *t.StepOutReason
	}
	t.Data = nil
	return nil
}

// Register implements debugger.Thread.
func (t *Thread) Register(_ context.Context, name string) (debugger.Register, error) {
	if t.RegisterErr != nil {
		return nil, t.RegisterErr
	}
	v, ok := t.Registers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", debugger.ErrUnknownRegister, name)
	}
	return &register{thread: t, name: name, value: v}, nil
}

// Evaluate implements debugger.Thread.
func (t *Thread) Evaluate(_ context.Context, expr string) (debugger.Value, error) {
	t.Evaluations = append(t.Evaluations, expr)
	t.log("evaluate " + expr)
	if t.EvalErr != nil {
		return debugger.Value{}, t.EvalErr
	}
	if key, ok := match(expr, t.Values); ok {
		return t.Values[key], nil
	}
	return debugger.Value{Result: "0"}, nil
}

// Describe implements debugger.Thread.
func (t *Thread) Describe(_ context.Context, expr string) (string, error) {
	t.Evaluations = append(t.Evaluations, expr)
	t.log("describe " + expr)
	if t.EvalErr != nil {
		return "", t.EvalErr
	}
	if key, ok := match(expr, t.Descriptions); ok {
		return t.Descriptions[key], nil
	}
	return "<nil>", nil
}

func (t *Thread) log(entry string) {
	if t.proc != nil {
		t.proc.Log = append(t.proc.Log, entry)
	}
}

// match picks the longest key contained in expr so overlapping keys stay deterministic.
func match[V any](expr string, m map[string]V) (string, bool) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		if strings.Contains(expr, k) {
			return k, true
		}
	}
	return "", false
}

type register struct {
	thread *Thread
	name   string
	value  string
}

func (r *register) Name() string  { return r.name }
func (r *register) Value() string { return r.value }

func (r *register) Set(_ context.Context, value string) error {
	r.thread.log("write " + r.name + "=" + value)
	if r.thread.WriteErr != nil {
		return r.thread.WriteErr
	}
	if r.thread.Writes == nil {
		r.thread.Writes = map[string]string{}
	}
	r.thread.Writes[r.name] = value
	r.thread.Registers[r.name] = value
	r.value = value
	return nil
}

// Reason returns a pointer to r for StepOutReason.
func Reason(r debugger.StopReason) *debugger.StopReason { return &r }
