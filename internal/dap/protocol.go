package dap

import "encoding/json"

// ProtocolMessage is the base for all DAP messages.
type ProtocolMessage struct {
	Seq  int    `json:"seq"`
	Type string `json:"type"` // "request", "response", "event"
}

type Request struct {
	ProtocolMessage
	Command   string          `json:"command"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type Response struct {
	ProtocolMessage
	RequestSeq int             `json:"request_seq"`
	Success    bool            `json:"success"`
	Command    string          `json:"command"`
	Message    string          `json:"message,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}

type Event struct {
	ProtocolMessage
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// errorBody is the body of a failed response when the adapter sends details.
type errorBody struct {
	Error *struct {
		ID     int    `json:"id"`
		Format string `json:"format"`
	} `json:"error,omitempty"`
}

// Capabilities lists the adapter features this client looks at.
type Capabilities struct {
	SupportsConfigurationDoneRequest bool `json:"supportsConfigurationDoneRequest,omitempty"`
	SupportsFunctionBreakpoints      bool `json:"supportsFunctionBreakpoints,omitempty"`
	SupportsSetVariable              bool `json:"supportsSetVariable,omitempty"`
	SupportTerminateDebuggee         bool `json:"supportTerminateDebuggee,omitempty"`
}

type InitializeArguments struct {
	ClientID        string `json:"clientID,omitempty"`
	ClientName      string `json:"clientName,omitempty"`
	AdapterID       string `json:"adapterID"`
	LinesStartAt1   bool   `json:"linesStartAt1"`
	ColumnsStartAt1 bool   `json:"columnsStartAt1"`
	PathFormat      string `json:"pathFormat,omitempty"`
}

// AttachArguments are lldb-dap's attach-by-name arguments.
type AttachArguments struct {
	Program     string `json:"program,omitempty"`
	PID         int    `json:"pid,omitempty"`
	WaitFor     bool   `json:"waitFor,omitempty"`
	StopOnEntry bool   `json:"stopOnEntry,omitempty"`
}

type DisconnectArguments struct {
	TerminateDebuggee bool `json:"terminateDebuggee"`
}

type FunctionBreakpoint struct {
	Name      string `json:"name"`
	Condition string `json:"condition,omitempty"`
}

type SetFunctionBreakpointsArguments struct {
	Breakpoints []FunctionBreakpoint `json:"breakpoints"`
}

type Breakpoint struct {
	ID       int    `json:"id,omitempty"`
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`
}

type breakpointsBody struct {
	Breakpoints []Breakpoint `json:"breakpoints"`
}

type ThreadArguments struct {
	ThreadID     int  `json:"threadId"`
	SingleThread bool `json:"singleThread,omitempty"`
}

type Thread struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type threadsBody struct {
	Threads []Thread `json:"threads"`
}

type StackTraceArguments struct {
	ThreadID   int `json:"threadId"`
	StartFrame int `json:"startFrame,omitempty"`
	Levels     int `json:"levels,omitempty"`
}

type StackFrame struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type stackTraceBody struct {
	StackFrames []StackFrame `json:"stackFrames"`
}

type ScopesArguments struct {
	FrameID int `json:"frameId"`
}

type Scope struct {
	Name               string `json:"name"`
	VariablesReference int    `json:"variablesReference"`
}

type scopesBody struct {
	Scopes []Scope `json:"scopes"`
}

type VariablesArguments struct {
	VariablesReference int `json:"variablesReference"`
}

type Variable struct {
	Name               string `json:"name"`
	Value              string `json:"value"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variablesReference"`
}

type variablesBody struct {
	Variables []Variable `json:"variables"`
}

type SetVariableArguments struct {
	VariablesReference int    `json:"variablesReference"`
	Name               string `json:"name"`
	Value              string `json:"value"`
}

type SetVariableResponseBody struct {
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

type EvaluateArguments struct {
	Expression string `json:"expression"`
	FrameID    int    `json:"frameId,omitempty"`
	Context    string `json:"context,omitempty"` // "watch", "repl", "hover"
}

type EvaluateResponseBody struct {
	Result             string `json:"result"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variablesReference"`
}

// Event bodies.

type StoppedEventBody struct {
	Reason            string `json:"reason"` // "step", "breakpoint", "function breakpoint", "exception", "signal", "pause", "entry"
	Description       string `json:"description,omitempty"`
	ThreadID          int    `json:"threadId,omitempty"`
	AllThreadsStopped bool   `json:"allThreadsStopped,omitempty"`
	HitBreakpointIDs  []int  `json:"hitBreakpointIds,omitempty"`
}

type ExitedEventBody struct {
	ExitCode int `json:"exitCode"`
}

type OutputEventBody struct {
	Category string `json:"category,omitempty"`
	Output   string `json:"output"`
}
