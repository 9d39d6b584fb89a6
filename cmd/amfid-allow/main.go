package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/vburojevic/amfid-allow/internal/cli"
	"github.com/vburojevic/amfid-allow/internal/config"
)

const usage = `amfid-allow - allow rejected code by overriding amfid's verdict

Usage:
  sudo amfid-allow [--path PATH]... [--cdhash HASH]... [--use-custom-checks] [--run-forever]

Examples:
  sudo amfid-allow --path /Users/me/bin/a.out
  sudo amfid-allow --cdhash 0123456789abcdef0123456789abcdef01234567 --run-forever

For help:
  amfid-allow --help                    All commands and flags
  amfid-allow schema                    NDJSON output schemas
`

func main() {
	// Nothing to allow without arguments
	if len(os.Args) == 1 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	// Load configuration from files/environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI

	// Config values become flag defaults; flags on the command line win
	vars := kong.Vars{
		"config_format":       cfg.Format,
		"config_process":      cfg.Process,
		"config_adapter":      cfg.Adapter,
		"config_step_timeout": cfg.StepTimeout.String(),
		"config_audit_log":    cfg.AuditLog,
		"config_rules_file":   cfg.Rules.File,
	}

	ctx := kong.Parse(&c,
		kong.Name("amfid-allow"),
		kong.Description("Intercept amfid code validation through lldb-dap and allow rejected code that matches your rules.\n\nRequires root and a debugger-friendly System Integrity Protection configuration."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		vars,
	)

	globals := cli.NewGlobalsWithConfig(&c, cfg)
	err = ctx.Run(globals)
	if err != nil {
		os.Exit(1)
	}
}
