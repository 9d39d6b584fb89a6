package cli

// validateFlags centralizes flag combinations that cannot work together.
func validateFlags(globals *Globals, c *AllowCmd) error {
	if len(c.Checks) > 0 && !c.UseCustomChecks {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--check has no effect without --use-custom-checks", "add --use-custom-checks")
	}
	if c.StepTimeout < 0 {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--step-timeout must not be negative", "use 0 to wait without a limit")
	}
	// quiet + text leaves an operator staring at a silent terminal; steer to ndjson
	if globals != nil && globals.Format == "text" && globals.Quiet {
		return outputErrorCommon(globals, "INVALID_FLAGS", "--quiet is only supported with ndjson output", "switch to --format ndjson or drop --quiet")
	}
	return nil
}
