package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/vburojevic/amfid-allow/internal/domain"
)

// NDJSONWriter writes one JSON object per line
type NDJSONWriter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewNDJSONWriter creates a new NDJSON writer
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	return &NDJSONWriter{encoder: json.NewEncoder(w)}
}

func (w *NDJSONWriter) write(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.encoder.Encode(v)
}

// WriteReady writes the ready record
func (w *NDJSONWriter) WriteReady(r *domain.Ready) error { return w.write(r) }

// WriteSnapshot writes the original validation state of a request
func (w *NDJSONWriter) WriteSnapshot(e *domain.SnapshotEvent) error { return w.write(e) }

// WriteDecision writes the per-matcher results and combined verdict
func (w *NDJSONWriter) WriteDecision(e *domain.DecisionEvent) error { return w.write(e) }

// WriteOverride writes an override record
func (w *NDJSONWriter) WriteOverride(e *domain.OverrideEvent) error { return w.write(e) }

// WriteWarning writes a soft failure
func (w *NDJSONWriter) WriteWarning(e *domain.Warning) error { return w.write(e) }

// WriteSessionEnd writes the final summary
func (w *NDJSONWriter) WriteSessionEnd(e *domain.SessionEnd) error { return w.write(e) }

// WriteError writes a fatal error record
func (w *NDJSONWriter) WriteError(code, message string, hint ...string) error {
	return w.write(domain.NewErrorOutput(code, message, firstHint(hint)))
}
