package lldbdap

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/amfid-allow/internal/dap"
	"github.com/vburojevic/amfid-allow/internal/dap/daptest"
	"github.com/vburojevic/amfid-allow/internal/debugger"
)

const targetList = "Current targets:\n* target #0: /usr/libexec/amfid ( arch=arm64e-apple-macosx15.4.0, platform=host, pid=42, state=stopped )\n"

// adapter scripts a well behaved lldb-dap attached to amfid.
func adapter(t *testing.T) *daptest.Server {
	t.Helper()
	srv := daptest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	srv.Handle("initialize", func(dap.Request) (any, error) {
		return dap.Capabilities{SupportsFunctionBreakpoints: true, SupportsSetVariable: true}, nil
	})
	srv.Handle("attach", func(dap.Request) (any, error) {
		return nil, srv.Emit("initialized", nil)
	})
	srv.Handle("configurationDone", func(dap.Request) (any, error) {
		return nil, srv.Emit("stopped", dap.StoppedEventBody{Reason: "entry", ThreadID: 1, AllThreadsStopped: true})
	})
	srv.Handle("setFunctionBreakpoints", func(dap.Request) (any, error) {
		return map[string]any{"breakpoints": []dap.Breakpoint{{ID: 1, Verified: true}}}, nil
	})
	srv.Handle("continue", func(dap.Request) (any, error) {
		go func() {
			time.Sleep(5 * time.Millisecond)
			_ = srv.Emit("stopped", dap.StoppedEventBody{Reason: "breakpoint", ThreadID: 1, HitBreakpointIDs: []int{1}})
		}()
		return map[string]any{"allThreadsContinued": true}, nil
	})
	srv.Handle("stepOut", func(req dap.Request) (any, error) {
		args := daptest.Args[dap.ThreadArguments](req)
		return nil, srv.Emit("stopped", dap.StoppedEventBody{Reason: "step", ThreadID: args.ThreadID})
	})
	srv.Handle("threads", func(dap.Request) (any, error) {
		return map[string]any{"threads": []dap.Thread{{ID: 1, Name: "main"}, {ID: 2, Name: "worker"}}}, nil
	})
	srv.Handle("stackTrace", func(dap.Request) (any, error) {
		return map[string]any{"stackFrames": []dap.StackFrame{{ID: 100, Name: "-[AMFIPathValidator_macos validateWithError:]"}}}, nil
	})
	srv.Handle("scopes", func(dap.Request) (any, error) {
		return map[string]any{"scopes": []dap.Scope{{Name: "Locals", VariablesReference: 1}, {Name: "Registers", VariablesReference: 2}}}, nil
	})
	srv.Handle("variables", func(req dap.Request) (any, error) {
		switch daptest.Args[dap.VariablesArguments](req).VariablesReference {
		case 2:
			return map[string]any{"variables": []dap.Variable{{Name: "General Purpose Registers", VariablesReference: 3}}}, nil
		case 3:
			return map[string]any{"variables": []dap.Variable{
				{Name: "x0", Value: "0x0000600003a1c000"},
				{Name: "x1", Value: "0x00000001f1c2a3b4"},
			}}, nil
		}
		return map[string]any{"variables": []dap.Variable{}}, nil
	})
	srv.Handle("setVariable", func(req dap.Request) (any, error) {
		args := daptest.Args[dap.SetVariableArguments](req)
		return dap.SetVariableResponseBody{Value: "0x0000000000000001"}, errorIf(args.VariablesReference != 3, "no such variable")
	})
	srv.Handle("evaluate", func(req dap.Request) (any, error) {
		args := daptest.Args[dap.EvaluateArguments](req)
		switch {
		case args.Expression == "`target list":
			return dap.EvaluateResponseBody{Result: targetList}, nil
		case strings.HasPrefix(args.Expression, "`expression -O -- "):
			return dap.EvaluateResponseBody{Result: "file:///Users/me/bin/a.out\n"}, nil
		case args.Context == "watch":
			return dap.EvaluateResponseBody{Result: "NO", Type: "BOOL"}, nil
		}
		return nil, errors.New("unexpected expression")
	})
	return srv
}

func errorIf(cond bool, msg string) error {
	if cond {
		return errors.New(msg)
	}
	return nil
}

func newDebugger(srv *daptest.Server, cfg Config) *Debugger {
	cfg.Dial = func() (dap.Transport, error) { return srv.ClientTransport(), nil }
	return New(cfg)
}

func attach(t *testing.T, srv *daptest.Server, cfg Config) *Process {
	t.Helper()
	proc, err := newDebugger(srv, cfg).Attach(testCtx(t), "/usr/libexec/amfid")
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Detach(context.Background()) })
	return proc.(*Process)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestAttach(t *testing.T) {
	srv := adapter(t)
	p := attach(t, srv, Config{})

	assert.Equal(t, "arm64e-apple-macosx15.4.0", p.Triple())
	assert.Equal(t, debugger.StateStopped, p.State())
	assert.Equal(t, []string{"initialize", "attach", "configurationDone", "evaluate"}, srv.Commands())

	args := daptest.Args[dap.AttachArguments](srv.Requests()[1])
	assert.Equal(t, "/usr/libexec/amfid", args.Program)
	assert.True(t, args.StopOnEntry)
}

func TestAttachFailure(t *testing.T) {
	srv := adapter(t)
	srv.Handle("attach", func(dap.Request) (any, error) {
		return nil, errors.New("process not found")
	})

	_, err := newDebugger(srv, Config{}).Attach(testCtx(t), "amfid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "process not found")
}

func TestAttachResponseAfterConfigurationDone(t *testing.T) {
	srv := adapter(t)
	held := make(chan dap.Request, 1)
	srv.Handle("attach", func(req dap.Request) (any, error) {
		held <- req
		if err := srv.Emit("initialized", nil); err != nil {
			return nil, err
		}
		return nil, daptest.ErrDeferred
	})
	srv.Handle("configurationDone", func(dap.Request) (any, error) {
		if err := srv.Reply(<-held, nil, nil); err != nil {
			return nil, err
		}
		return nil, srv.Emit("stopped", dap.StoppedEventBody{Reason: "entry", ThreadID: 1, AllThreadsStopped: true})
	})

	p := attach(t, srv, Config{RequestTimeout: time.Second})
	assert.Equal(t, "arm64e-apple-macosx15.4.0", p.Triple())
	assert.Equal(t, []string{"initialize", "attach", "configurationDone", "evaluate"}, srv.Commands())
}

func TestAttachTimesOut(t *testing.T) {
	srv := adapter(t)
	srv.Handle("attach", func(dap.Request) (any, error) {
		return nil, daptest.ErrDeferred
	})

	start := time.Now()
	_, err := newDebugger(srv, Config{RequestTimeout: 50 * time.Millisecond}).Attach(testCtx(t), "amfid")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.NotContains(t, srv.Commands(), "configurationDone")
}

func TestAttachRequiresFunctionBreakpoints(t *testing.T) {
	srv := adapter(t)
	srv.Handle("initialize", func(dap.Request) (any, error) {
		return dap.Capabilities{}, nil
	})

	_, err := newDebugger(srv, Config{}).Attach(testCtx(t), "amfid")
	require.Error(t, err)
}

func TestCreateBreakpoint(t *testing.T) {
	srv := adapter(t)
	p := attach(t, srv, Config{})

	bp, err := p.CreateBreakpoint(testCtx(t), "-[AMFIPathValidator_macos validateWithError:]")
	require.NoError(t, err)
	assert.Equal(t, 1, bp.ID)
	assert.True(t, bp.Resolved())

	srv.Handle("setFunctionBreakpoints", func(dap.Request) (any, error) {
		return map[string]any{"breakpoints": []dap.Breakpoint{{ID: 2, Verified: false, Message: "no locations"}}}, nil
	})
	bp, err = p.CreateBreakpoint(testCtx(t), "-[Nope nope]")
	require.NoError(t, err)
	assert.False(t, bp.Resolved())
}

func TestContinueReportsBreakpointStop(t *testing.T) {
	srv := adapter(t)
	p := attach(t, srv, Config{})

	require.NoError(t, p.Continue(testCtx(t)))
	assert.Equal(t, debugger.StateStopped, p.State())

	threads, err := p.Threads(testCtx(t))
	require.NoError(t, err)
	require.Len(t, threads, 2)

	th, ok := debugger.FindStopped(threads, debugger.StopReasonBreakpoint)
	require.True(t, ok)
	assert.Equal(t, 1, th.ID())
	id, ok := debugger.BreakpointID(th)
	require.True(t, ok)
	assert.Equal(t, 1, id)
	assert.Equal(t, debugger.StopReasonNone, threads[1].StopReason())
}

func TestStepOutRegistersAndEvaluate(t *testing.T) {
	srv := adapter(t)
	p := attach(t, srv, Config{StepTimeout: time.Second})
	require.NoError(t, p.Continue(testCtx(t)))
	threads, err := p.Threads(testCtx(t))
	require.NoError(t, err)
	th := threads[0]

	self, err := th.Register(testCtx(t), "x0")
	require.NoError(t, err)
	assert.Equal(t, "0x0000600003a1c000", self.Value())

	require.NoError(t, th.StepOut(testCtx(t)))
	assert.Equal(t, debugger.StopReasonPlanComplete, th.StopReason())

	v, err := th.Evaluate(testCtx(t), "(BOOL)[(id)0x0000600003a1c000 isValid]")
	require.NoError(t, err)
	ok, err := v.Bool()
	require.NoError(t, err)
	assert.False(t, ok)

	desc, err := th.Describe(testCtx(t), "(NSURL *)[(id)0x0000600003a1c000 codePath]")
	require.NoError(t, err)
	assert.Equal(t, "file:///Users/me/bin/a.out", desc)

	ret, err := th.Register(testCtx(t), "x0")
	require.NoError(t, err)
	require.NoError(t, ret.Set(testCtx(t), "1"))
	assert.Equal(t, "0x0000000000000001", ret.Value())

	var set dap.SetVariableArguments
	for _, r := range srv.Requests() {
		if r.Command == "setVariable" {
			set = daptest.Args[dap.SetVariableArguments](r)
		}
	}
	assert.Equal(t, dap.SetVariableArguments{VariablesReference: 3, Name: "x0", Value: "1"}, set)
}

func TestUnknownRegister(t *testing.T) {
	srv := adapter(t)
	p := attach(t, srv, Config{})
	require.NoError(t, p.Continue(testCtx(t)))
	threads, err := p.Threads(testCtx(t))
	require.NoError(t, err)

	_, err = threads[0].Register(testCtx(t), "rax")
	require.ErrorIs(t, err, debugger.ErrUnknownRegister)
}

func TestStepOutTimeout(t *testing.T) {
	srv := adapter(t)
	srv.Handle("stepOut", func(dap.Request) (any, error) { return nil, nil })
	mock := clock.NewMock()
	p := attach(t, srv, Config{StepTimeout: 5 * time.Second, Clock: mock})
	require.NoError(t, p.Continue(testCtx(t)))
	threads, err := p.Threads(testCtx(t))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	ctx := testCtx(t)
	go func() { errCh <- threads[0].StepOut(ctx) }()

	var stepErr error
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		select {
		case stepErr = <-errCh:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, stepErr, ErrStepTimeout)
}

func TestContinueObservesExit(t *testing.T) {
	srv := adapter(t)
	srv.Handle("continue", func(dap.Request) (any, error) {
		go func() {
			_ = srv.Emit("exited", dap.ExitedEventBody{ExitCode: 0})
			_ = srv.Emit("terminated", nil)
		}()
		return nil, nil
	})
	p := attach(t, srv, Config{})

	require.NoError(t, p.Continue(testCtx(t)))
	assert.Equal(t, debugger.StateExited, p.State())
	assert.False(t, p.State().Connected())
}

func TestContinueObservesAdapterLoss(t *testing.T) {
	srv := adapter(t)
	srv.Handle("continue", func(dap.Request) (any, error) {
		_ = srv.Close()
		return nil, nil
	})
	p := attach(t, srv, Config{})

	require.NoError(t, p.Continue(testCtx(t)))
	assert.False(t, p.State().Connected())
}

func TestDetach(t *testing.T) {
	srv := adapter(t)
	p := attach(t, srv, Config{})

	require.NoError(t, p.Detach(testCtx(t)))
	assert.Equal(t, debugger.StateDetached, p.State())
	assert.Contains(t, srv.Commands(), "disconnect")
	assert.NoError(t, p.Detach(testCtx(t)))

	require.ErrorIs(t, p.Continue(testCtx(t)), debugger.ErrDetached)
	_, err := p.Threads(testCtx(t))
	require.ErrorIs(t, err, debugger.ErrNotStopped)
}

func TestStopReasonMapping(t *testing.T) {
	assert.Equal(t, debugger.StopReasonBreakpoint, stopReason("breakpoint"))
	assert.Equal(t, debugger.StopReasonBreakpoint, stopReason("function breakpoint"))
	assert.Equal(t, debugger.StopReasonPlanComplete, stopReason("step"))
	assert.Equal(t, debugger.StopReasonException, stopReason("exception"))
	assert.Equal(t, debugger.StopReasonSignal, stopReason("entry"))
	assert.Equal(t, debugger.StopReasonOther, stopReason("data breakpoint"))
	assert.Nil(t, hitData(nil))
	assert.Equal(t, []uint64{4, 1}, hitData([]int{4, 9}))
}
