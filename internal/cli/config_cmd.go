package cli

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/vburojevic/amfid-allow/internal/domain"
)

// ConfigCmd groups configuration subcommands
type ConfigCmd struct {
	Show ConfigShowCmd `cmd:"" default:"1" help:"Show the effective configuration"`
	Path ConfigPathCmd `cmd:"" help:"Show which config file was loaded"`
}

// configView is the effective configuration as printed by config show.
type configView struct {
	Format         string    `json:"format" yaml:"format"`
	Quiet          bool      `json:"quiet" yaml:"quiet"`
	Verbose        bool      `json:"verbose" yaml:"verbose"`
	Process        string    `json:"process" yaml:"process"`
	Symbol         string    `json:"symbol" yaml:"symbol"`
	Adapter        string    `json:"adapter" yaml:"adapter"`
	StepTimeout    string    `json:"step_timeout" yaml:"step_timeout"`
	RequestTimeout string    `json:"request_timeout" yaml:"request_timeout"`
	AuditLog       string    `json:"audit_log" yaml:"audit_log"`
	Rules          rulesView `json:"rules" yaml:"rules"`
	CustomChecks   []string  `json:"custom_checks" yaml:"custom_checks"`
}

type rulesView struct {
	Paths    []string `json:"paths" yaml:"paths"`
	CDHashes []string `json:"cdhashes" yaml:"cdhashes"`
	File     string   `json:"file" yaml:"file"`
}

// ConfigShowCmd prints the effective configuration
type ConfigShowCmd struct{}

// Run executes the config show command
func (c *ConfigShowCmd) Run(globals *Globals) error {
	cfg := globals.Config
	view := configView{
		Format:         globals.Format,
		Quiet:          globals.Quiet,
		Verbose:        globals.Verbose,
		Process:        cfg.Process,
		Symbol:         cfg.Symbol,
		Adapter:        cfg.Adapter,
		StepTimeout:    cfg.StepTimeout.String(),
		RequestTimeout: cfg.RequestTimeout.String(),
		AuditLog:       cfg.AuditLog,
		Rules: rulesView{
			Paths:    nonNil(cfg.Rules.Paths),
			CDHashes: nonNil(cfg.Rules.CDHashes),
			File:     cfg.Rules.File,
		},
		CustomChecks: nonNil(cfg.CustomChecks),
	}

	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(struct {
			Type          string `json:"type"`
			SchemaVersion int    `json:"schemaVersion"`
			Source        string `json:"source"`
			configView
		}{"config", domain.SchemaVersion, cfg.Source, view})
	}

	fmt.Fprintln(globals.Stdout, "Current Configuration:")
	if cfg.Source != "" {
		fmt.Fprintf(globals.Stdout, "# loaded from %s\n", cfg.Source)
	}
	enc := yaml.NewEncoder(globals.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return err
	}
	return enc.Close()
}

// ConfigPathCmd prints the loaded config file
type ConfigPathCmd struct{}

// Run executes the config path command
func (c *ConfigPathCmd) Run(globals *Globals) error {
	path := globals.Config.Source
	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(map[string]interface{}{
			"type":          "config_path",
			"schemaVersion": domain.SchemaVersion,
			"path":          path,
		})
	}
	if path == "" {
		fmt.Fprintln(globals.Stdout, "No configuration file found; using defaults")
		return nil
	}
	fmt.Fprintf(globals.Stdout, "Config file: %s\n", path)
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
