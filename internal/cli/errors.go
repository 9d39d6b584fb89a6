package cli

import (
	"errors"
	"fmt"

	"github.com/vburojevic/amfid-allow/internal/arch"
	"github.com/vburojevic/amfid-allow/internal/dap"
	"github.com/vburojevic/amfid-allow/internal/debugger/lldbdap"
	"github.com/vburojevic/amfid-allow/internal/intercept"
	"github.com/vburojevic/amfid-allow/internal/output"
	"github.com/vburojevic/amfid-allow/internal/session"
	"github.com/vburojevic/amfid-allow/internal/validator"
)

// outputErrorCommon normalizes error emission across commands, respecting
// ndjson vs text formats so scripts always get machine-readable failures.
func outputErrorCommon(globals *Globals, code, message string, hint ...string) error {
	if globals != nil && globals.Format == "ndjson" {
		output.NewNDJSONWriter(globals.Stdout).WriteError(code, message, hint...)
	} else if globals != nil {
		fmt.Fprintf(globals.Stderr, "Error [%s]: %s", code, message)
		if len(hint) > 0 && hint[0] != "" {
			fmt.Fprintf(globals.Stderr, " (hint: %s)", hint[0])
		}
		fmt.Fprintln(globals.Stderr)
	}
	return errors.New(message)
}

// sessionErrors maps fatal session errors to stable codes, most specific first.
var sessionErrors = []struct {
	err  error
	code string
	hint string
}{
	{session.ErrAttach, "ATTACH_FAILED", "run as root and make sure System Integrity Protection allows debugging amfid"},
	{session.ErrUnsupportedPlatform, "UNSUPPORTED_PLATFORM", "this macOS build does not have the intercepted validation method"},
	{arch.ErrUnsupportedArch, "UNSUPPORTED_ARCH", "only arm64 and x86_64 are supported"},
	{lldbdap.ErrStepTimeout, "STEP_OUT_FAILED", "raise --step-timeout if amfid is slow to return"},
	{intercept.ErrStepOut, "STEP_OUT_FAILED", ""},
	{session.ErrDisconnected, "DISCONNECTED", "amfid exited or the debugger lost control; launchd restarts it, run again"},
	{dap.ErrClosed, "DISCONNECTED", "lldb-dap exited unexpectedly; rerun with --verbose"},
	{validator.ErrUnsupportedCodePath, "UNSUPPORTED_CODE_PATH", ""},
}

// classify returns the error code and hint for a session error.
func classify(err error) (code, hint string) {
	for _, e := range sessionErrors {
		if errors.Is(err, e.err) {
			return e.code, e.hint
		}
	}
	return "INTERCEPT_FAILED", ""
}
