package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vburojevic/amfid-allow/internal/domain"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	dec := json.NewDecoder(buf)
	var out []map[string]interface{}
	for dec.More() {
		var m map[string]interface{}
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	return out
}

func snapshot() domain.Snapshot {
	return domain.Snapshot{
		IsValid: false,
		Path:    "/Users/me/bin/a.out",
		CDHash:  "0123456789abcdef0123456789abcdef01234567",
		Unverified: domain.Unverified{
			Identifier:     "a.out",
			TeamIdentifier: "ABCDE12345",
		},
	}
}

func TestNDJSONEvents(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New("ndjson", buf, false)
	yes := true

	require.NoError(t, w.WriteReady(domain.NewReady("s1", "/usr/libexec/amfid", "arm64", "-[X y]", 1, false)))
	require.NoError(t, w.WriteSnapshot(domain.NewSnapshotEvent("s1", 1, snapshot())))
	require.NoError(t, w.WriteDecision(domain.NewDecisionEvent("s1", 1, snapshot(), &yes, nil, nil, true)))
	require.NoError(t, w.WriteOverride(domain.NewOverrideEvent("s1", 1, snapshot(), "x0", "1")))
	require.NoError(t, w.WriteWarning(domain.NewWarning("s1", "UNKNOWN_BREAKPOINT", "breakpoint 9")))
	require.NoError(t, w.WriteSessionEnd(domain.NewSessionEnd("s1", "completed", domain.SessionSummary{Interceptions: 1, Overrides: 1})))
	require.NoError(t, w.WriteError("ATTACH_FAILED", "boom", "run as root"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 7)
	types := make([]string, len(lines))
	for i, m := range lines {
		types[i] = m["type"].(string)
		assert.EqualValues(t, 1, m["schemaVersion"])
	}
	assert.Equal(t, []string{"ready", "snapshot", "decision", "override", "warning", "session_end", "error"}, types)

	snap := lines[1]["snapshot"].(map[string]interface{})
	assert.Equal(t, "/Users/me/bin/a.out", snap["path"])
	assert.Equal(t, true, lines[2]["allowed_by_path"])
	assert.Equal(t, "x0", lines[3]["register"])
	assert.Equal(t, "run as root", lines[6]["hint"])
}

func TestQuietDropsPerRequestRecords(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New("ndjson", buf, true)

	require.NoError(t, w.WriteSnapshot(domain.NewSnapshotEvent("s1", 1, snapshot())))
	require.NoError(t, w.WriteDecision(domain.NewDecisionEvent("s1", 1, snapshot(), nil, nil, nil, false)))
	require.NoError(t, w.WriteOverride(domain.NewOverrideEvent("s1", 1, snapshot(), "x0", "1")))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "override", lines[0]["type"])
}

func TestTextWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New("text", buf, false)
	no := false

	require.NoError(t, w.WriteReady(domain.NewReady("s1", "/usr/libexec/amfid", "x86_64", "-[X y]", 1, false)))
	require.NoError(t, w.WriteSnapshot(domain.NewSnapshotEvent("s1", 1, snapshot())))
	require.NoError(t, w.WriteDecision(domain.NewDecisionEvent("s1", 1, snapshot(), &no, nil, nil, false)))
	require.NoError(t, w.WriteError("STEP_OUT_FAILED", "no thread completed the step", "retry"))

	out := buf.String()
	assert.Contains(t, out, "Attached to /usr/libexec/amfid (x86_64)")
	assert.Contains(t, out, "--run-forever")
	assert.Contains(t, out, "/Users/me/bin/a.out")
	assert.Contains(t, out, "ABCDE12345")
	assert.Contains(t, out, "path false, cdhash n/a, custom checks n/a")
	assert.Contains(t, out, "New verdict: keep")
	assert.Contains(t, out, "Error [STEP_OUT_FAILED]: no thread completed the step (hint: retry)")
	assert.NotContains(t, out, "\x1b[", "no ANSI escapes when not writing to a terminal")
}

func TestTextWriterValidAndOverride(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewTextWriter(buf)
	valid := snapshot()
	valid.IsValid = true

	require.NoError(t, w.WriteDecision(domain.NewDecisionEvent("s1", 1, valid, nil, nil, nil, false)))
	require.NoError(t, w.WriteOverride(domain.NewOverrideEvent("s1", 2, snapshot(), "rax", "1")))
	require.NoError(t, w.WriteSessionEnd(domain.NewSessionEnd("s1", "cancelled", domain.SessionSummary{Interceptions: 2, Overrides: 1, AlreadyValid: 1})))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Original verdict: valid", lines[0])
	assert.Equal(t, "Bypassing validation for /Users/me/bin/a.out (cdhash 0123456789abcdef0123456789abcdef01234567, rax=1)", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "Detached (cancelled): 2 intercepted, 1 overridden, 1 already valid"))
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, Discard.WriteError("X", "y"))
	assert.NoError(t, Discard.WriteSnapshot(nil))
}
