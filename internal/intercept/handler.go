// Package intercept handles one hit of the validation breakpoint: capture
// the receiver, step out to the return point, read the validator state,
// decide and optionally rewrite the return register.
package intercept

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vburojevic/amfid-allow/internal/audit"
	"github.com/vburojevic/amfid-allow/internal/debugger"
	"github.com/vburojevic/amfid-allow/internal/domain"
	"github.com/vburojevic/amfid-allow/internal/output"
	"github.com/vburojevic/amfid-allow/internal/policy"
	"github.com/vburojevic/amfid-allow/internal/session"
	"github.com/vburojevic/amfid-allow/internal/validator"
)

var (
	// ErrStepOut is returned when no thread completed the step out of the
	// validation method.
	ErrStepOut = errors.New("step out did not complete")
	// ErrIntercept wraps register and evaluation failures during an interception.
	ErrIntercept = errors.New("interception failed")
)

// Marker is evaluated inside the target before the verdict is rewritten so
// the override shows up in the unified log.
const Marker = `(void)NSLog(@"[amfid-allow] Overriding verdict")`

// Recorder persists decisions.
type Recorder interface {
	Record(e audit.Entry) error
}

// Handler implements session.Interceptor.
type Handler struct {
	rules  *policy.Rules
	reader *validator.Reader
	out    output.Writer
	audit  Recorder
	log    *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithOutput sets the event writer.
func WithOutput(w output.Writer) Option {
	return func(h *Handler) { h.out = w }
}

// WithRecorder sets the audit recorder.
func WithRecorder(r Recorder) Option {
	return func(h *Handler) { h.audit = r }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// NewHandler creates a Handler for a rule set.
func NewHandler(rules *policy.Rules, opts ...Option) *Handler {
	h := &Handler{
		rules: rules,
		out:   output.Discard,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.reader = validator.NewReader(h.log)
	return h
}

// Handle processes one breakpoint hit on thread t. Every failure is fatal
// for the session; nothing is retried.
func (h *Handler) Handle(ctx context.Context, sess *session.Session, t debugger.Thread) (bool, error) {
	conv := sess.Convention
	hit := sess.Stats.Intercepted()
	log := h.log.With(zap.String("session_id", sess.ID), zap.Int("hit", hit), zap.Int("thread", t.ID()))

	self, err := t.Register(ctx, conv.SelfRegister())
	if err != nil {
		return false, fmt.Errorf("%w: read %s: %w", ErrIntercept, conv.SelfRegister(), err)
	}
	log.Debug("captured receiver", zap.String("register", self.Name()), zap.String("value", self.Value()))

	returned, err := h.stepOut(ctx, sess, t)
	if err != nil {
		return false, err
	}

	ret, err := returned.Register(ctx, conv.ReturnRegister())
	if err != nil {
		return false, fmt.Errorf("%w: resolve %s: %w", ErrIntercept, conv.ReturnRegister(), err)
	}

	snap, err := h.reader.Read(ctx, returned, self.Value())
	if err != nil {
		return false, err
	}
	warnWrite(log, "snapshot", h.out.WriteSnapshot(domain.NewSnapshotEvent(sess.ID, hit, snap)))

	d := policy.Decide(snap, h.rules)
	sess.Stats.Decided(d.OriginalVerdict, d.Override)
	if d.OriginalVerdict {
		log.Info("original verdict", zap.Bool("is_valid", true), zap.String("path", snap.Path))
	} else {
		log.Info("original verdict", zap.Bool("is_valid", false), zap.String("path", snap.Path), zap.String("cdhash", snap.CDHash))
		log.Info("matcher results", d.MatcherFields()...)
		log.Info("new verdict", zap.Bool("override", d.Override))
	}
	warnWrite(log, "decision", h.out.WriteDecision(domain.NewDecisionEvent(sess.ID, hit, snap, d.ByPath, d.ByCDHash, d.ByCustom, d.Override)))

	if err := h.record(sess.ID, hit, snap, d); err != nil {
		return false, err
	}

	if d.Override {
		if _, err := returned.Evaluate(ctx, Marker); err != nil {
			return false, fmt.Errorf("%w: log marker: %w", ErrIntercept, err)
		}
		if err := ret.Set(ctx, conv.TrueValue()); err != nil {
			return false, fmt.Errorf("%w: write %s: %w", ErrIntercept, ret.Name(), err)
		}
		log.Info("bypassing validation", zap.String("path", snap.Path), zap.String("register", ret.Name()))
		warnWrite(log, "override", h.out.WriteOverride(domain.NewOverrideEvent(sess.ID, hit, snap, ret.Name(), ret.Value())))
	}

	return sess.RunForever, nil
}

// warnWrite logs a failed event write. Output is a report; the interception
// carries on without it.
func warnWrite(log *zap.Logger, event string, err error) {
	if err != nil {
		log.Warn("failed to write event", zap.String("event", event), zap.Error(err))
	}
}

// stepOut runs t to the return point and returns the thread that completed the step.
func (h *Handler) stepOut(ctx context.Context, sess *session.Session, t debugger.Thread) (debugger.Thread, error) {
	if err := t.StepOut(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStepOut, err)
	}
	if state := sess.Process.State(); !state.Connected() {
		return nil, fmt.Errorf("%w: process is %s", session.ErrDisconnected, state)
	}
	threads, err := sess.Process.Threads(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list threads: %w", ErrStepOut, err)
	}
	returned, ok := debugger.FindStopped(threads, debugger.StopReasonPlanComplete)
	if !ok {
		return nil, fmt.Errorf("%w: no thread stopped with reason %s", ErrStepOut, debugger.StopReasonPlanComplete)
	}
	return returned, nil
}

func (h *Handler) record(sessionID string, hit int, snap domain.Snapshot, d policy.Decision) error {
	if h.audit == nil {
		return nil
	}
	e := audit.Entry{
		SessionID: sessionID,
		Hit:       hit,
		Path:      snap.Path,
		CDHash:    snap.CDHash,
		Decision:  audit.DecisionKeep,
		MatchedBy: d.Matched(),
	}
	switch {
	case d.OriginalVerdict:
		e.Decision = audit.DecisionValid
	case d.Override:
		e.Decision = audit.DecisionOverride
	}
	if err := h.audit.Record(e); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return nil
}
