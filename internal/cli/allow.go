package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/samber/lo"

	"github.com/vburojevic/amfid-allow/internal/audit"
	"github.com/vburojevic/amfid-allow/internal/debugger"
	"github.com/vburojevic/amfid-allow/internal/debugger/lldbdap"
	"github.com/vburojevic/amfid-allow/internal/filter"
	"github.com/vburojevic/amfid-allow/internal/intercept"
	"github.com/vburojevic/amfid-allow/internal/output"
	"github.com/vburojevic/amfid-allow/internal/policy"
	"github.com/vburojevic/amfid-allow/internal/session"
)

// AllowCmd attaches to amfid and overrides rejected verdicts for matching code
type AllowCmd struct {
	Paths           []string      `name:"path" short:"p" sep:"none" placeholder:"PATH" help:"Allow code at this exact path (repeatable)"`
	CDHashes        []string      `name:"cdhash" sep:"none" placeholder:"HASH" help:"Allow code with this CDHash, 40 hex characters (repeatable)"`
	UseCustomChecks bool          `help:"Also allow code matching the custom checks (config custom_checks and --check)"`
	Checks          []string      `name:"check" sep:"none" placeholder:"CLAUSE" help:"Custom check clause, e.g. 'path^/Users/me/bin' or 'team_identifier=ABCDE12345' (repeatable, all must match)"`
	RunForever      bool          `help:"Stay attached after the first intercepted validation"`
	Rules           string        `default:"${config_rules_file}" placeholder:"FILE" help:"YAML or plist file with extra paths and cdhashes"`
	Process         string        `default:"${config_process}" help:"Process to attach to"`
	Adapter         string        `default:"${config_adapter}" help:"lldb-dap command line"`
	StepTimeout     time.Duration `default:"${config_step_timeout}" help:"Maximum time to wait for the validation method to return"`
	AuditLog        string        `default:"${config_audit_log}" placeholder:"FILE" help:"Append a hash-chained record of every decision to FILE"`
}

var newDebugger = func(cfg lldbdap.Config) debugger.Debugger {
	return lldbdap.New(cfg)
}

// Run executes the allow command
func (c *AllowCmd) Run(globals *Globals) error {
	if err := validateFlags(globals, c); err != nil {
		return err
	}
	cfg := globals.Config

	rules, err := c.buildRules(globals)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_RULES", err.Error())
	}

	log := newLogger(globals)
	defer func() { _ = log.Sync() }()
	if rules.Empty() {
		log.Warn("no allow rules configured, verdicts will only be reported")
	}

	out := output.New(globals.Format, globals.Stdout, globals.Quiet)
	opts := []intercept.Option{intercept.WithOutput(out), intercept.WithLogger(log)}

	if path := lo.CoalesceOrEmpty(c.AuditLog, cfg.AuditLog); path != "" {
		al, err := audit.Open(path, nil)
		if err != nil {
			return outputErrorCommon(globals, "AUDIT_FAILED", err.Error(), "check that the directory is writable")
		}
		defer al.Close()
		opts = append(opts, intercept.WithRecorder(al))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			log.Info("interrupted, detaching after the current interception")
			cancel()
		case <-ctx.Done():
		}
	}()

	adapter := strings.Fields(lo.CoalesceOrEmpty(c.Adapter, cfg.Adapter))
	ctrl := session.New(session.Config{
		Debugger: newDebugger(lldbdap.Config{
			Adapter:        adapter,
			StepTimeout:    lo.CoalesceOrEmpty(c.StepTimeout, cfg.StepTimeout),
			RequestTimeout: cfg.RequestTimeout,
			Logger:         log.Named("dap"),
		}),
		Handler:    intercept.NewHandler(rules, opts...),
		Process:    lo.CoalesceOrEmpty(c.Process, cfg.Process),
		Symbol:     cfg.Symbol,
		RunForever: c.RunForever,
		Output:     out,
		Logger:     log,
	})

	if err := ctrl.Run(ctx); err != nil {
		code, hint := classify(err)
		return outputErrorCommon(globals, code, err.Error(), hint)
	}
	return nil
}

// buildRules merges config rules, the rules file and flags.
func (c *AllowCmd) buildRules(globals *Globals) (*policy.Rules, error) {
	cfg := globals.Config
	paths := slices.Concat(cfg.Rules.Paths, c.Paths)
	cdhashes := slices.Concat(cfg.Rules.CDHashes, c.CDHashes)

	if file := lo.CoalesceOrEmpty(c.Rules, cfg.Rules.File); file != "" {
		rf, err := policy.LoadRuleFile(file)
		if err != nil {
			return nil, err
		}
		paths = append(paths, rf.Paths...)
		cdhashes = append(cdhashes, rf.CDHashes...)
	}

	var custom policy.Matcher
	if c.UseCustomChecks {
		f, err := filter.NewWhereFilter(slices.Concat(cfg.CustomChecks, c.Checks))
		if err != nil {
			return nil, fmt.Errorf("custom checks: %w", err)
		}
		// a nil *WhereFilter must not become a non-nil Matcher
		if f != nil {
			custom = f
		}
	}

	return policy.NewRules(paths, cdhashes, c.UseCustomChecks, custom)
}
