package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult is the outcome of a chain verification.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Overrides int    `json:"overrides"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify walks the log and reports the first broken link, if any.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	res := VerifyResult{}
	expected := GenesisHash
	for scanner.Scan() {
		res.Lines++
		line := scanner.Bytes()

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return VerifyResult{Lines: res.Lines, Error: fmt.Sprintf("parse error: %v", err), ErrorLine: res.Lines}
		}
		if entry.PrevHash != expected {
			msg := fmt.Sprintf("hash mismatch: expected %s, got %s", expected, entry.PrevHash)
			if res.Lines == 1 {
				msg = fmt.Sprintf("first entry prev_hash is %q, expected genesis hash", entry.PrevHash)
			}
			return VerifyResult{Lines: res.Lines, Error: msg, ErrorLine: res.Lines}
		}
		if entry.Decision == DecisionOverride {
			res.Overrides++
		}
		expected = HashLine(line)
	}
	if err := scanner.Err(); err != nil {
		return VerifyResult{Lines: res.Lines, Error: fmt.Sprintf("scan: %v", err)}
	}

	res.Valid = true
	return res
}
