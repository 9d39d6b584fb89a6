// Package cli defines the amfid-allow command line.
package cli

import (
	"io"
	"os"

	"github.com/vburojevic/amfid-allow/internal/config"
)

// Version information, set at build time with -ldflags.
var (
	Version = "dev"
	Commit  = "none"
)

// CLI is the root command model.
type CLI struct {
	Format  string `short:"f" default:"${config_format}" enum:"text,ndjson" help:"Output format (text or ndjson)"`
	Quiet   bool   `short:"q" help:"Only print overrides, warnings and errors"`
	Verbose bool   `short:"v" help:"Debug logging on stderr"`

	Allow   AllowCmd   `cmd:"" default:"withargs" help:"Attach to amfid and allow rejected code that matches the rules"`
	Audit   AuditCmd   `cmd:"" help:"Inspect an audit log"`
	Config  ConfigCmd  `cmd:"" help:"Show configuration"`
	Schema  SchemaCmd  `cmd:"" help:"Print JSON Schema for NDJSON output"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// Globals is passed to every command's Run.
type Globals struct {
	Format  string
	Quiet   bool
	Verbose bool
	Stdout  io.Writer
	Stderr  io.Writer
	Config  *config.Config
}

// NewGlobalsWithConfig builds Globals from parsed flags, falling back to cfg.
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	if cfg == nil {
		cfg = config.Default()
	}
	g := &Globals{
		Format:  c.Format,
		Quiet:   c.Quiet || cfg.Quiet,
		Verbose: c.Verbose || cfg.Verbose,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Config:  cfg,
	}
	if g.Format == "" {
		g.Format = cfg.Format
	}
	return g
}
