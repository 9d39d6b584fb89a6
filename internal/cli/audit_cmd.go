package cli

import (
	"encoding/json"
	"fmt"

	"github.com/vburojevic/amfid-allow/internal/audit"
	"github.com/vburojevic/amfid-allow/internal/domain"
)

// AuditCmd groups audit log subcommands
type AuditCmd struct {
	Verify AuditVerifyCmd `cmd:"" help:"Check the hash chain of an audit log"`
}

// AuditVerifyCmd verifies an audit log written with --audit-log
type AuditVerifyCmd struct {
	File string `arg:"" type:"existingfile" help:"Audit log to verify"`
}

// Run executes the audit verify command
func (c *AuditVerifyCmd) Run(globals *Globals) error {
	res := audit.Verify(c.File)
	if !res.Valid {
		msg := fmt.Sprintf("%s: %s", c.File, res.Error)
		if res.ErrorLine > 0 {
			msg = fmt.Sprintf("%s: line %d: %s", c.File, res.ErrorLine, res.Error)
		}
		return outputErrorCommon(globals, "AUDIT_INVALID", msg, "the log was modified after it was written")
	}

	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(struct {
			Type          string `json:"type"`
			SchemaVersion int    `json:"schemaVersion"`
			File          string `json:"file"`
			audit.VerifyResult
		}{"audit_verify", domain.SchemaVersion, c.File, res})
	}
	fmt.Fprintf(globals.Stdout, "%s: chain intact, %d entries, %d overrides\n", c.File, res.Lines, res.Overrides)
	return nil
}
