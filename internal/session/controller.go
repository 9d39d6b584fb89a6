package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vburojevic/amfid-allow/internal/arch"
	"github.com/vburojevic/amfid-allow/internal/debugger"
	"github.com/vburojevic/amfid-allow/internal/domain"
	"github.com/vburojevic/amfid-allow/internal/output"
)

// Defaults for the intercepted service and method.
const (
	DefaultProcess = "/usr/libexec/amfid"
	DefaultSymbol  = "-[AMFIPathValidator_macos validateWithError:]"
)

// Session end reasons.
const (
	ReasonCompleted = "completed"
	ReasonCancelled = "cancelled"
	ReasonError     = "error"
)

// Config configures a Controller.
type Config struct {
	Debugger   debugger.Debugger
	Handler    Interceptor
	Process    string
	Symbol     string
	RunForever bool

	Output output.Writer
	Logger *zap.Logger
	Clock  clock.Clock

	// Stream replaces the process-backed stop stream.
	Stream func(sess *Session, unknown func(id int)) StopStream
}

// Controller runs one session from attach to detach.
type Controller struct {
	cfg  Config
	log  *zap.Logger
	sess *Session
}

// New creates a Controller, filling in defaults.
func New(cfg Config) *Controller {
	if cfg.Process == "" {
		cfg.Process = DefaultProcess
	}
	if cfg.Symbol == "" {
		cfg.Symbol = DefaultSymbol
	}
	if cfg.Output == nil {
		cfg.Output = output.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Stream == nil {
		cfg.Stream = NewStopStream
	}
	return &Controller{cfg: cfg, log: cfg.Logger}
}

// Session returns the session of the last Run, or nil.
func (c *Controller) Session() *Session {
	return c.sess
}

// Run attaches, installs the breakpoint and blocks until the worker exits.
// The target is always detached before Run returns, never terminated.
// Cancelling ctx stops the loop between interceptions and is not an error.
func (c *Controller) Run(ctx context.Context) error {
	sess := &Session{
		ID:         uuid.NewString(),
		RunForever: c.cfg.RunForever,
		Stats:      NewTracker(c.cfg.Clock),
	}
	c.sess = sess
	log := c.log.With(zap.String("session_id", sess.ID))

	sess.setState(StateAttaching)
	log.Info("attaching", zap.String("process", c.cfg.Process))
	proc, err := c.cfg.Debugger.Attach(ctx, c.cfg.Process)
	if err != nil {
		sess.setState(StateDetached)
		return fmt.Errorf("%w: %s: %w", ErrAttach, c.cfg.Process, err)
	}
	sess.Process = proc

	err = c.run(ctx, sess, log)

	reason := ReasonCompleted
	switch {
	case err != nil:
		reason = ReasonError
	case ctx.Err() != nil:
		reason = ReasonCancelled
	}
	if derr := c.detach(ctx, sess, log); derr != nil && err == nil {
		err = derr
	}

	summary := sess.Stats.Summary()
	log.Info("session ended",
		zap.String("reason", reason),
		zap.Int("interceptions", summary.Interceptions),
		zap.Int("overrides", summary.Overrides))
	warnWrite(log, "session_end", c.cfg.Output.WriteSessionEnd(domain.NewSessionEnd(sess.ID, reason, summary)))
	return err
}

func (c *Controller) run(ctx context.Context, sess *Session, log *zap.Logger) error {
	conv, err := arch.Resolve(sess.Process.Triple())
	if err != nil {
		return err
	}
	sess.Convention = conv

	bp, err := sess.Process.CreateBreakpoint(ctx, c.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("create breakpoint on %s: %w", c.cfg.Symbol, err)
	}
	if !bp.Resolved() {
		return fmt.Errorf("%w: %s has no locations", ErrUnsupportedPlatform, c.cfg.Symbol)
	}
	sess.Breakpoint = bp

	log.Info("breakpoint installed",
		zap.Int("breakpoint", bp.ID),
		zap.Int("locations", bp.Locations),
		zap.String("arch", conv.Name()))
	warnWrite(log, "ready", c.cfg.Output.WriteReady(domain.NewReady(sess.ID, c.cfg.Process, conv.Name(), bp.Symbol, bp.ID, sess.RunForever)))

	unknown := func(id int) {
		sess.Stats.UnknownBreakpoint()
		log.Warn("stopped at unknown breakpoint", zap.Int("breakpoint", id))
		warnWrite(log, "warning", c.cfg.Output.WriteWarning(domain.NewWarning(sess.ID, "UNKNOWN_BREAKPOINT",
			"stopped at breakpoint "+strconv.Itoa(id)+", resuming")))
	}
	stream := c.cfg.Stream(sess, unknown)

	done := make(chan error, 1)
	go func() {
		done <- c.loop(ctx, sess, stream)
	}()
	return <-done
}

// loop is the worker: it is the only goroutine touching the process until it returns.
func (c *Controller) loop(ctx context.Context, sess *Session, stream StopStream) error {
	for {
		sess.setState(StateListening)
		stop, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}

		sess.setState(StateDispatching)
		keepAlive, err := c.cfg.Handler.Handle(context.WithoutCancel(ctx), sess, stop.Thread)
		if err != nil {
			return err
		}
		if !keepAlive {
			return nil
		}
	}
}

func (c *Controller) detach(ctx context.Context, sess *Session, log *zap.Logger) error {
	sess.setState(StateDetaching)
	defer sess.setState(StateDetached)

	if err := sess.Process.Detach(context.WithoutCancel(ctx)); err != nil {
		log.Warn("detach failed", zap.Error(err))
		return fmt.Errorf("detach: %w", err)
	}
	log.Info("detached")
	return nil
}

func warnWrite(log *zap.Logger, event string, err error) {
	if err != nil {
		log.Warn("failed to write event", zap.String("event", event), zap.Error(err))
	}
}
