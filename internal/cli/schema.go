package cli

import (
	"encoding/json"
	"strings"

	"github.com/vburojevic/amfid-allow/internal/domain"
)

// SchemaCmd outputs JSON Schema for amfid-allow NDJSON output types
type SchemaCmd struct {
	Type []string `short:"t" help:"Output types to include (ready,snapshot,decision,override,warning,session_end,error). Default: all"`
}

var schemaTypes = []string{"ready", "snapshot", "decision", "override", "warning", "session_end", "error"}

// Run executes the schema command
func (c *SchemaCmd) Run(globals *Globals) error {
	schemas := map[string]interface{}{
		"ready":       readySchema(),
		"snapshot":    snapshotSchema(),
		"decision":    decisionSchema(),
		"override":    overrideSchema(),
		"warning":     warningSchema(),
		"session_end": sessionEndSchema(),
		"error":       errorSchema(),
	}

	typesToOutput := c.Type
	if len(typesToOutput) == 0 {
		typesToOutput = schemaTypes
	}

	output := map[string]interface{}{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"title":       "amfid-allow Output Schemas",
		"description": "JSON Schema definitions for all amfid-allow NDJSON output types",
		"definitions": map[string]interface{}{},
	}

	defs := output["definitions"].(map[string]interface{})
	for _, t := range typesToOutput {
		t = strings.ToLower(strings.TrimSpace(t))
		if schema, ok := schemas[t]; ok {
			defs[t] = schema
		}
	}

	encoder := json.NewEncoder(globals.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

type props map[string]interface{}

// event builds the schema of a record carrying the common envelope fields.
func event(typ, title, description string, fields props, required ...string) map[string]interface{} {
	properties := props{
		"type":          props{"type": "string", "const": typ},
		"schemaVersion": props{"type": "integer", "const": domain.SchemaVersion},
		"session_id":    props{"type": "string", "format": "uuid", "description": "Identifier of the debugger session"},
		"timestamp":     props{"type": "string", "format": "date-time"},
	}
	for k, v := range fields {
		properties[k] = v
	}
	return map[string]interface{}{
		"type":        "object",
		"title":       title,
		"description": description,
		"properties":  properties,
		"required":    append([]string{"type", "schemaVersion"}, required...),
	}
}

func str(description string) props {
	return props{"type": "string", "description": description}
}

func boolean(description string) props {
	return props{"type": "boolean", "description": description}
}

func integer(description string) props {
	return props{"type": "integer", "description": description}
}

func cdhash() props {
	return props{"type": "string", "pattern": "^[0-9a-f]{40}$", "description": "Canonical lowercase CDHash"}
}

func readySchema() map[string]interface{} {
	return event("ready", "Ready", "Breakpoint installed; start the program to validate now", props{
		"process":     str("Attached process"),
		"arch":        props{"type": "string", "enum": []string{"arm64", "x86_64"}},
		"breakpoint":  integer("Installed breakpoint id"),
		"symbol":      str("Intercepted method"),
		"run_forever": boolean("Whether the session stays attached after the first interception"),
	}, "session_id", "process", "arch", "breakpoint")
}

func snapshotSchema() map[string]interface{} {
	return event("snapshot", "Validation Snapshot", "Original state of one intercepted validation", props{
		"hit": integer("1-based interception counter"),
		"snapshot": props{
			"type": "object",
			"properties": props{
				"is_valid":                   boolean("Verdict amfid was about to return"),
				"are_entitlements_validated": boolean("Whether entitlements were validated"),
				"path":                       str("Absolute path of the validated code"),
				"cdhash":                     cdhash(),
				"unverified": props{
					"type":        "object",
					"description": "Advisory identity, never trusted on its own",
					"properties": props{
						"identifier":      str("Signing identifier"),
						"team_identifier": str("Team identifier"),
					},
				},
			},
			"required": []string{"is_valid", "path", "cdhash"},
		},
	}, "session_id", "hit", "snapshot")
}

func decisionSchema() map[string]interface{} {
	return event("decision", "Decision", "Each matcher result and the combined verdict; matcher fields are absent when not consulted", props{
		"hit":               integer("1-based interception counter"),
		"path":              str("Absolute path of the validated code"),
		"cdhash":            cdhash(),
		"original_verdict":  boolean("Verdict amfid was about to return"),
		"allowed_by_path":   boolean("Path is in the allowed set"),
		"allowed_by_cdhash": boolean("CDHash is in the allowed set"),
		"allowed_by_custom": boolean("Custom checks matched"),
		"override":          boolean("Whether the verdict is rewritten"),
	}, "session_id", "hit", "original_verdict", "override")
}

func overrideSchema() map[string]interface{} {
	return event("override", "Override", "The return register was rewritten to the valid verdict", props{
		"hit":      integer("1-based interception counter"),
		"path":     str("Absolute path of the validated code"),
		"cdhash":   cdhash(),
		"register": str("Rewritten register"),
		"value":    str("Value written"),
	}, "session_id", "hit", "path", "register")
}

func warningSchema() map[string]interface{} {
	return event("warning", "Warning", "Soft failure that did not end the session", props{
		"code":    props{"type": "string", "enum": []string{"UNKNOWN_BREAKPOINT"}},
		"message": str("Human-readable description"),
	}, "code", "message")
}

func sessionEndSchema() map[string]interface{} {
	return event("session_end", "Session End", "The session detached from the target", props{
		"reason": props{"type": "string", "enum": []string{"completed", "cancelled", "error"}},
		"summary": props{
			"type": "object",
			"properties": props{
				"interceptions":       integer("Breakpoint hits handled"),
				"overrides":           integer("Verdicts rewritten"),
				"already_valid":       integer("Hits amfid already allowed"),
				"unknown_breakpoints": integer("Stops at foreign breakpoints"),
				"duration_seconds":    integer("Session duration"),
			},
		},
	}, "session_id", "reason", "summary")
}

func errorSchema() map[string]interface{} {
	return event("error", "Error", "Fatal error from amfid-allow", props{
		"code": props{
			"type":        "string",
			"description": "Error code",
			"enum": []string{
				"ATTACH_FAILED",
				"UNSUPPORTED_PLATFORM",
				"UNSUPPORTED_ARCH",
				"STEP_OUT_FAILED",
				"DISCONNECTED",
				"UNSUPPORTED_CODE_PATH",
				"INTERCEPT_FAILED",
				"INVALID_FLAGS",
				"INVALID_RULES",
				"AUDIT_FAILED",
				"AUDIT_INVALID",
			},
		},
		"message": str("Human-readable error description"),
		"hint":    str("Suggested fix"),
	}, "code", "message")
}
