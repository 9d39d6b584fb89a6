package debuggertest

import "github.com/vburojevic/amfid-allow/internal/debugger"

// SelfPointer is the receiver address scripted validation threads report.
const SelfPointer = "0x0000600003a1c000"

// Validation describes how a scripted validator object answers queries.
type Validation struct {
	IsValid               bool
	EntitlementsValidated bool
	// CodePath is the NSURL description, e.g. "file:///bin/foo".
	CodePath string
	// CDHash is the NSData description, e.g. "<aabbccdd ...>".
	CDHash         string
	Identifier     string
	TeamIdentifier string
}

// ValidationThread returns a thread stopped at breakpoint bp inside the
// validation method. Both arm64 and x86_64 registers are populated.
func ValidationThread(tid, bp int, v Validation) *Thread {
	return &Thread{
		TID:    tid,
		Reason: debugger.StopReasonBreakpoint,
		Data:   []uint64{uint64(bp), 1},
		Registers: map[string]string{
			"x0":  SelfPointer,
			"rdi": SelfPointer,
			"rax": "0x0000000000000000",
		},
		AfterStepOut: map[string]string{
			"x0":  "0x0000000000000000",
			"rax": "0x0000000000000000",
		},
		Values: map[string]debugger.Value{
			"isValid":                  boolValue(v.IsValid),
			"areEntitlementsValidated": boolValue(v.EntitlementsValidated),
		},
		Descriptions: map[string]string{
			"codePath":          v.CodePath,
			"cdhashAsData":      v.CDHash,
			"signingIdentifier": v.Identifier,
			"teamIdentifier":    v.TeamIdentifier,
		},
	}
}

// BreakpointStop is a stop with a single thread.
func BreakpointStop(t *Thread) Stop {
	return Stop{Threads: []*Thread{t}}
}

func boolValue(b bool) debugger.Value {
	if b {
		return debugger.Value{Result: "YES", Type: "BOOL"}
	}
	return debugger.Value{Result: "NO", Type: "BOOL"}
}
