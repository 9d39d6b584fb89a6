package cli

import (
	"encoding/json"
	"fmt"

	"github.com/vburojevic/amfid-allow/internal/domain"
)

// VersionCmd prints version information and how to upgrade
type VersionCmd struct{}

// VersionOutput represents the NDJSON output of the version command
type VersionOutput struct {
	Type          string `json:"type"`
	SchemaVersion int    `json:"schemaVersion"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	GoInstall     string `json:"go_install"`
}

const goInstallCmd = "go install github.com/vburojevic/amfid-allow/cmd/amfid-allow@latest"

// Run executes the version command
func (c *VersionCmd) Run(globals *Globals) error {
	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(VersionOutput{
			Type:          "version",
			SchemaVersion: domain.SchemaVersion,
			Version:       Version,
			Commit:        Commit,
			GoInstall:     goInstallCmd,
		})
	}
	fmt.Fprintf(globals.Stdout, "amfid-allow %s (%s)\n", Version, Commit)
	fmt.Fprintf(globals.Stdout, "Upgrade: %s\n", goInstallCmd)
	return nil
}
