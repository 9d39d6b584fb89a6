package audit

// Decision values recorded per intercepted validation.
const (
	DecisionValid    = "valid"    // the service already accepted the code
	DecisionKeep     = "keep"     // rejected and no rule matched
	DecisionOverride = "override" // rejected and the verdict was rewritten
)

// Entry is one line in the hash-chained JSONL audit log.
// Fields are plain structs and slices so json.Marshal output is deterministic.
type Entry struct {
	Timestamp string   `json:"ts"`
	SessionID string   `json:"session_id"`
	Hit       int      `json:"hit"`
	Path      string   `json:"path"`
	CDHash    string   `json:"cdhash"`
	Decision  string   `json:"decision"`
	MatchedBy []string `json:"matched_by,omitempty"`
	PrevHash  string   `json:"prev_hash"`
}
