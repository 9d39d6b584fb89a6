package output

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"

	"github.com/vburojevic/amfid-allow/internal/domain"
)

// TextWriter renders events for a person watching the terminal.
type TextWriter struct {
	mu sync.Mutex
	w  io.Writer

	title lipgloss.Style
	allow lipgloss.Style
	deny  lipgloss.Style
	warn  lipgloss.Style
	dim   lipgloss.Style
}

// NewTextWriter creates a text writer. Colors are used only when w is a terminal.
func NewTextWriter(w io.Writer) *TextWriter {
	r := lipgloss.NewRenderer(w)
	return &TextWriter{
		w:     w,
		title: r.NewStyle().Bold(true),
		allow: r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		deny:  r.NewStyle().Foreground(lipgloss.Color("1")),
		warn:  r.NewStyle().Foreground(lipgloss.Color("3")),
		dim:   r.NewStyle().Faint(true),
	}
}

func (t *TextWriter) printf(format string, args ...interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, format, args...)
	return err
}

// WriteReady prints the attach banner.
func (t *TextWriter) WriteReady(r *domain.Ready) error {
	mode := "detaching after the first intercepted validation (pass --run-forever to stay attached)"
	if r.RunForever {
		mode = "staying attached until interrupted"
	}
	return t.printf("%s %s (%s), breakpoint %d on %s\n%s\nStart your program now.\n",
		t.title.Render("Attached to"), r.Process, r.Arch, r.Breakpoint, r.Symbol, t.dim.Render(mode))
}

// WriteSnapshot prints the original validation state as a table.
func (t *TextWriter) WriteSnapshot(e *domain.SnapshotEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := e.Snapshot
	if _, err := fmt.Fprintf(t.w, "%s #%d\n", t.title.Render("Original validation result"), e.Hit); err != nil {
		return err
	}
	table := tablewriter.NewTable(t.w)
	table.Header("Field", "Value")
	rows := [][]string{
		{"is_valid", strconv.FormatBool(s.IsValid)},
		{"are_entitlements_validated", strconv.FormatBool(s.AreEntitlementsValidated)},
		{"path", s.Path},
		{"cdhash", s.CDHash},
		{"unverified.identifier", s.Unverified.Identifier},
		{"unverified.team_identifier", s.Unverified.TeamIdentifier},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// WriteDecision prints each matcher result and the new verdict.
func (t *TextWriter) WriteDecision(e *domain.DecisionEvent) error {
	if e.OriginalVerdict {
		return t.printf("Original verdict: %s\n", t.allow.Render("valid"))
	}
	line := fmt.Sprintf("Original verdict: %s; path %s, cdhash %s, custom checks %s",
		t.deny.Render("invalid"), result(e.AllowedByPath), result(e.AllowedByCDHash), result(e.AllowedByCustom))
	verdict := t.deny.Render("keep")
	if e.Override {
		verdict = t.allow.Render("allow")
	}
	return t.printf("%s\nNew verdict: %s\n", line, verdict)
}

func result(v *bool) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatBool(*v)
}

// WriteOverride prints the bypass notice.
func (t *TextWriter) WriteOverride(e *domain.OverrideEvent) error {
	return t.printf("%s %s (cdhash %s, %s=%s)\n", t.allow.Render("Bypassing validation for"), e.Path, e.CDHash, e.Register, e.Value)
}

// WriteWarning prints a soft failure.
func (t *TextWriter) WriteWarning(e *domain.Warning) error {
	return t.printf("%s [%s]: %s\n", t.warn.Render("Warning"), e.Code, e.Message)
}

// WriteSessionEnd prints the final summary.
func (t *TextWriter) WriteSessionEnd(e *domain.SessionEnd) error {
	s := e.Summary
	return t.printf("Detached (%s): %d intercepted, %d overridden, %d already valid, %d unknown breakpoints in %ds\n",
		e.Reason, s.Interceptions, s.Overrides, s.AlreadyValid, s.UnknownBreakpoints, s.DurationSeconds)
}

// WriteError prints "Error [CODE]: message (hint: ...)".
func (t *TextWriter) WriteError(code, message string, hint ...string) error {
	line := fmt.Sprintf("%s [%s]: %s", t.deny.Render("Error"), code, message)
	if h := firstHint(hint); h != "" {
		line += fmt.Sprintf(" (hint: %s)", h)
	}
	return t.printf("%s\n", line)
}
