package policy

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
	"howett.net/plist"
)

// RuleFile is the on-disk form of extra allow rules.
//
// YAML:
//
//	paths:
//	  - /Users/me/bin/tool
//	cdhashes:
//	  - 0123456789abcdef0123456789abcdef01234567
//
// Property lists use the same keys in a top-level dictionary.
type RuleFile struct {
	Paths    []string `yaml:"paths" plist:"paths"`
	CDHashes []string `yaml:"cdhashes" plist:"cdhashes"`
}

// LoadRuleFile reads a YAML or property list rule file. The format is chosen
// by extension, falling back to sniffing the content.
func LoadRuleFile(path string) (*RuleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var rf RuleFile
	if isPlist(path, data) {
		if _, err := plist.Unmarshal(data, &rf); err != nil {
			return nil, fmt.Errorf("parse plist rules file %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse yaml rules file %s: %w", path, err)
	}

	rf.Paths = trimAll(rf.Paths)
	rf.CDHashes = trimAll(rf.CDHashes)
	return &rf, nil
}

func isPlist(path string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".plist":
		return true
	case ".yaml", ".yml", ".json":
		return false
	}
	trimmed := bytes.TrimSpace(data)
	return bytes.HasPrefix(trimmed, []byte("bplist")) ||
		bytes.HasPrefix(trimmed, []byte("<?xml")) ||
		bytes.HasPrefix(trimmed, []byte("<plist"))
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
