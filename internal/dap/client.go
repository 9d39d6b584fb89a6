package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrClosed is returned for requests issued after the connection ended.
var ErrClosed = errors.New("debug adapter connection closed")

// ResponseError is a response with success=false.
type ResponseError struct {
	Command string
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return e.Command + " failed"
	}
	return fmt.Sprintf("%s failed: %s", e.Command, e.Message)
}

// Client correlates requests with responses and fans events out to a
// single handler. The handler runs on the receive goroutine and must not
// issue requests itself.
type Client struct {
	transport Transport
	log       *zap.Logger
	seq       atomic.Int64

	pendingMu sync.Mutex
	pending   map[int]*Call

	handlerMu sync.RWMutex
	handler   func(Event)

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.RWMutex
	err       error
}

// NewClient starts the receive loop on transport.
func NewClient(transport Transport, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		transport: transport,
		log:       log,
		pending:   make(map[int]*Call),
		done:      make(chan struct{}),
	}
	go c.receiveLoop()
	return c
}

// OnEvent sets the event handler.
func (c *Client) OnEvent(handler func(Event)) {
	c.handlerMu.Lock()
	c.handler = handler
	c.handlerMu.Unlock()
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the receive loop, if any.
func (c *Client) Err() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.err
}

// Close tears down the transport. Pending requests fail with ErrClosed.
func (c *Client) Close() error {
	err := c.transport.Close()
	c.finish(ErrClosed)
	return err
}

func (c *Client) finish(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()

		c.pendingMu.Lock()
		for seq, call := range c.pending {
			call.complete(nil)
			delete(c.pending, seq)
		}
		close(c.done)
		c.pendingMu.Unlock()
	})
}

func (c *Client) receiveLoop() {
	for {
		content, err := c.transport.Receive()
		if err != nil {
			c.log.Debug("dap receive loop ended", zap.Error(err))
			c.finish(err)
			return
		}
		c.dispatch(content)
	}
}

func (c *Client) dispatch(content json.RawMessage) {
	var base ProtocolMessage
	if err := json.Unmarshal(content, &base); err != nil {
		c.log.Debug("dap: dropping malformed message", zap.Error(err))
		return
	}

	switch base.Type {
	case "response":
		var resp Response
		if err := json.Unmarshal(content, &resp); err != nil {
			return
		}
		c.pendingMu.Lock()
		call, ok := c.pending[resp.RequestSeq]
		delete(c.pending, resp.RequestSeq)
		c.pendingMu.Unlock()
		if ok {
			call.complete(&resp)
		}
	case "event":
		var evt Event
		if err := json.Unmarshal(content, &evt); err != nil {
			return
		}
		c.log.Debug("dap event", zap.String("event", evt.Event))
		c.handlerMu.RLock()
		h := c.handler
		c.handlerMu.RUnlock()
		if h != nil {
			h(evt)
		}
	}
}

// Call is a request that has been sent and may still be waiting for its
// response.
type Call struct {
	client  *Client
	seq     int
	command string
	done    chan struct{}
	resp    *Response // nil when the connection closed first
}

func (call *Call) complete(resp *Response) {
	call.resp = resp
	close(call.done)
}

// Done is closed once the response arrived or the connection ended.
func (call *Call) Done() <-chan struct{} { return call.done }

// Wait blocks for the response body. Giving up on ctx abandons the request;
// a late response is dropped.
func (call *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-ctx.Done():
		call.client.forget(call.seq)
		return nil, ctx.Err()
	case <-call.done:
	}
	resp := call.resp
	if resp == nil {
		return nil, fmt.Errorf("%s: %w", call.command, ErrClosed)
	}
	if !resp.Success {
		return nil, &ResponseError{Command: call.command, Message: responseMessage(resp)}
	}
	return resp.Body, nil
}

// Start sends a request without waiting for the response.
func (c *Client) Start(command string, args any) (*Call, error) {
	seq := int(c.seq.Add(1))
	req := Request{
		ProtocolMessage: ProtocolMessage{Seq: seq, Type: "request"},
		Command:         command,
	}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal %s arguments: %w", command, err)
		}
		req.Arguments = raw
	}
	content, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", command, err)
	}

	call := &Call{client: c, seq: seq, command: command, done: make(chan struct{})}
	c.pendingMu.Lock()
	select {
	case <-c.done:
		c.pendingMu.Unlock()
		return nil, ErrClosed
	default:
	}
	c.pending[seq] = call
	c.pendingMu.Unlock()

	c.log.Debug("dap request", zap.String("command", command), zap.Int("seq", seq))
	if err := c.transport.Send(content); err != nil {
		c.forget(seq)
		return nil, fmt.Errorf("send %s: %w", command, err)
	}
	return call, nil
}

// Do sends a request and waits for its response body.
func (c *Client) Do(ctx context.Context, command string, args any) (json.RawMessage, error) {
	call, err := c.Start(command, args)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

func (c *Client) forget(seq int) {
	c.pendingMu.Lock()
	delete(c.pending, seq)
	c.pendingMu.Unlock()
}

func responseMessage(resp *Response) string {
	var body errorBody
	if len(resp.Body) > 0 && json.Unmarshal(resp.Body, &body) == nil && body.Error != nil && body.Error.Format != "" {
		return body.Error.Format
	}
	return resp.Message
}

// call issues command and decodes the response body into T.
func call[T any](ctx context.Context, c *Client, command string, args any) (*T, error) {
	raw, err := c.Do(ctx, command, args)
	if err != nil {
		return nil, err
	}
	var out T
	if len(raw) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal %s response: %w", command, err)
	}
	return &out, nil
}

func (c *Client) Initialize(ctx context.Context, args InitializeArguments) (*Capabilities, error) {
	return call[Capabilities](ctx, c, "initialize", args)
}

// StartAttach sends attach. Adapters may hold the response until after
// configurationDone, so the caller waits on the returned Call once the
// configuration phase is over.
func (c *Client) StartAttach(args AttachArguments) (*Call, error) {
	return c.Start("attach", args)
}

func (c *Client) ConfigurationDone(ctx context.Context) error {
	_, err := c.Do(ctx, "configurationDone", nil)
	return err
}

func (c *Client) SetFunctionBreakpoints(ctx context.Context, names ...string) ([]Breakpoint, error) {
	args := SetFunctionBreakpointsArguments{Breakpoints: make([]FunctionBreakpoint, len(names))}
	for i, n := range names {
		args.Breakpoints[i] = FunctionBreakpoint{Name: n}
	}
	body, err := call[breakpointsBody](ctx, c, "setFunctionBreakpoints", args)
	if err != nil {
		return nil, err
	}
	return body.Breakpoints, nil
}

func (c *Client) Continue(ctx context.Context, threadID int) error {
	_, err := c.Do(ctx, "continue", ThreadArguments{ThreadID: threadID})
	return err
}

func (c *Client) StepOut(ctx context.Context, threadID int) error {
	_, err := c.Do(ctx, "stepOut", ThreadArguments{ThreadID: threadID, SingleThread: true})
	return err
}

func (c *Client) Threads(ctx context.Context) ([]Thread, error) {
	body, err := call[threadsBody](ctx, c, "threads", nil)
	if err != nil {
		return nil, err
	}
	return body.Threads, nil
}

func (c *Client) StackTrace(ctx context.Context, args StackTraceArguments) ([]StackFrame, error) {
	body, err := call[stackTraceBody](ctx, c, "stackTrace", args)
	if err != nil {
		return nil, err
	}
	return body.StackFrames, nil
}

func (c *Client) Scopes(ctx context.Context, frameID int) ([]Scope, error) {
	body, err := call[scopesBody](ctx, c, "scopes", ScopesArguments{FrameID: frameID})
	if err != nil {
		return nil, err
	}
	return body.Scopes, nil
}

func (c *Client) Variables(ctx context.Context, ref int) ([]Variable, error) {
	body, err := call[variablesBody](ctx, c, "variables", VariablesArguments{VariablesReference: ref})
	if err != nil {
		return nil, err
	}
	return body.Variables, nil
}

func (c *Client) SetVariable(ctx context.Context, args SetVariableArguments) (*SetVariableResponseBody, error) {
	return call[SetVariableResponseBody](ctx, c, "setVariable", args)
}

func (c *Client) Evaluate(ctx context.Context, args EvaluateArguments) (*EvaluateResponseBody, error) {
	return call[EvaluateResponseBody](ctx, c, "evaluate", args)
}

// Disconnect ends the session, leaving the debuggee running.
func (c *Client) Disconnect(ctx context.Context) error {
	_, err := c.Do(ctx, "disconnect", DisconnectArguments{TerminateDebuggee: false})
	return err
}
