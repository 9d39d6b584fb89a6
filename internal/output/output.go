// Package output renders session events as NDJSON records or human readable text.
package output

import (
	"io"

	"github.com/vburojevic/amfid-allow/internal/domain"
)

// Writer receives session events. Implementations are safe for concurrent use.
type Writer interface {
	WriteReady(r *domain.Ready) error
	WriteSnapshot(e *domain.SnapshotEvent) error
	WriteDecision(e *domain.DecisionEvent) error
	WriteOverride(e *domain.OverrideEvent) error
	WriteWarning(w *domain.Warning) error
	WriteSessionEnd(e *domain.SessionEnd) error
	WriteError(code, message string, hint ...string) error
}

// New returns the writer for a --format value. Quiet drops per-request
// snapshot and decision records; overrides, warnings and errors are kept.
func New(format string, w io.Writer, quiet bool) Writer {
	var out Writer
	if format == "ndjson" {
		out = NewNDJSONWriter(w)
	} else {
		out = NewTextWriter(w)
	}
	if quiet {
		return quietWriter{out}
	}
	return out
}

type quietWriter struct {
	Writer
}

func (quietWriter) WriteSnapshot(*domain.SnapshotEvent) error { return nil }
func (quietWriter) WriteDecision(*domain.DecisionEvent) error { return nil }

// Discard drops every event.
var Discard Writer = discard{}

type discard struct{}

func (discard) WriteReady(*domain.Ready) error             { return nil }
func (discard) WriteSnapshot(*domain.SnapshotEvent) error  { return nil }
func (discard) WriteDecision(*domain.DecisionEvent) error  { return nil }
func (discard) WriteOverride(*domain.OverrideEvent) error  { return nil }
func (discard) WriteWarning(*domain.Warning) error         { return nil }
func (discard) WriteSessionEnd(*domain.SessionEnd) error   { return nil }
func (discard) WriteError(string, string, ...string) error { return nil }

func firstHint(hint []string) string {
	if len(hint) > 0 {
		return hint[0]
	}
	return ""
}
