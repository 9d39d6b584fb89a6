package lldbdap

import (
	"context"
	"fmt"
	"strings"

	"github.com/vburojevic/amfid-allow/internal/dap"
	"github.com/vburojevic/amfid-allow/internal/debugger"
)

// Thread is a thread of a stopped lldb-dap process. Its stop reason is read
// from the process's latest stop, so it stays current across StepOut.
type Thread struct {
	proc *Process
	id   int
}

func (t *Thread) ID() int { return t.id }

func (t *Thread) StopReason() debugger.StopReason { return t.proc.stopOf(t.id).reason }

func (t *Thread) StopReasonData() []uint64 { return t.proc.stopOf(t.id).data }

// StepOut implements debugger.Thread. It waits at most Config.StepTimeout.
func (t *Thread) StepOut(ctx context.Context) error {
	if err := t.proc.live(); err != nil {
		return err
	}
	t.proc.resume()
	if err := t.proc.client.StepOut(ctx, t.id); err != nil {
		return err
	}
	if err := t.proc.wait(ctx, t.proc.cfg.StepTimeout); err != nil {
		return err
	}
	if s := t.proc.State(); s != debugger.StateStopped {
		return fmt.Errorf("process %s after step out", s)
	}
	return nil
}

// Register implements debugger.Thread. lldb-dap exposes registers as a
// "Registers" scope holding one variable per register set.
func (t *Thread) Register(ctx context.Context, name string) (debugger.Register, error) {
	if t.proc.State() != debugger.StateStopped {
		return nil, debugger.ErrNotStopped
	}
	frameID, err := t.proc.topFrame(ctx, t.id)
	if err != nil {
		return nil, err
	}

	rctx, cancel := t.proc.withTimeout(ctx)
	defer cancel()
	scopes, err := t.proc.client.Scopes(rctx, frameID)
	if err != nil {
		return nil, err
	}
	for _, sc := range scopes {
		if !strings.Contains(strings.ToLower(sc.Name), "register") {
			continue
		}
		sets, err := t.proc.client.Variables(rctx, sc.VariablesReference)
		if err != nil {
			return nil, err
		}
		for _, set := range sets {
			if set.Name == name {
				return &register{thread: t, container: sc.VariablesReference, name: name, value: set.Value}, nil
			}
			if set.VariablesReference == 0 {
				continue
			}
			regs, err := t.proc.client.Variables(rctx, set.VariablesReference)
			if err != nil {
				return nil, err
			}
			for _, r := range regs {
				if r.Name == name {
					return &register{thread: t, container: set.VariablesReference, name: name, value: r.Value}, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", debugger.ErrUnknownRegister, name)
}

// Evaluate implements debugger.Thread.
func (t *Thread) Evaluate(ctx context.Context, expr string) (debugger.Value, error) {
	if t.proc.State() != debugger.StateStopped {
		return debugger.Value{}, debugger.ErrNotStopped
	}
	frameID, err := t.proc.topFrame(ctx, t.id)
	if err != nil {
		return debugger.Value{}, err
	}
	rctx, cancel := t.proc.withTimeout(ctx)
	defer cancel()
	res, err := t.proc.client.Evaluate(rctx, dap.EvaluateArguments{
		Expression: expr,
		FrameID:    frameID,
		Context:    "watch",
	})
	if err != nil {
		return debugger.Value{}, err
	}
	return debugger.Value{Result: res.Result, Type: res.Type}, nil
}

// Describe implements debugger.Thread using "expression -O".
func (t *Thread) Describe(ctx context.Context, expr string) (string, error) {
	if t.proc.State() != debugger.StateStopped {
		return "", debugger.ErrNotStopped
	}
	frameID, err := t.proc.topFrame(ctx, t.id)
	if err != nil {
		return "", err
	}
	out, err := t.proc.command(ctx, frameID, "expression -O -- "+expr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

type register struct {
	thread    *Thread
	container int
	name      string
	value     string
}

func (r *register) Name() string  { return r.name }
func (r *register) Value() string { return r.value }

func (r *register) Set(ctx context.Context, value string) error {
	p := r.thread.proc
	if p.State() != debugger.StateStopped {
		return debugger.ErrNotStopped
	}
	rctx, cancel := p.withTimeout(ctx)
	defer cancel()
	res, err := p.client.SetVariable(rctx, dap.SetVariableArguments{
		VariablesReference: r.container,
		Name:               r.name,
		Value:              value,
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", r.name, err)
	}
	r.value = res.Value
	return nil
}
