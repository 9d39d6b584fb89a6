// Package config loads defaults for amfid-allow from config files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format"`
	Quiet   bool   `mapstructure:"quiet"`
	Verbose bool   `mapstructure:"verbose"`

	// Target and debugger
	Process        string        `mapstructure:"process"`
	Symbol         string        `mapstructure:"symbol"`
	Adapter        string        `mapstructure:"adapter"`
	StepTimeout    time.Duration `mapstructure:"step_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	AuditLog string `mapstructure:"audit_log"`

	// Allow rules merged with the command line
	Rules        RulesConfig `mapstructure:"rules"`
	CustomChecks []string    `mapstructure:"custom_checks"`

	// Source is the config file that was read, if any.
	Source string `mapstructure:"-" yaml:"-"`
}

// RulesConfig holds allow rules
type RulesConfig struct {
	Paths    []string `mapstructure:"paths"`
	CDHashes []string `mapstructure:"cdhashes"`
	File     string   `mapstructure:"file"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Format:         "text",
		Process:        "/usr/libexec/amfid",
		Symbol:         "-[AMFIPathValidator_macos validateWithError:]",
		Adapter:        "xcrun lldb-dap",
		StepTimeout:    5 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// SystemDir is the only place searched for a config file when running as root.
const SystemDir = "/etc/amfid-allow/"

// ErrUntrusted is returned for a config file root must not read.
var ErrUntrusted = errors.New("untrusted config file")

var geteuid = os.Geteuid

// Load loads configuration from files and environment
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".amfid-allow")
	v.SetConfigType("yaml")
	for _, dir := range searchPaths(geteuid()) {
		v.AddConfigPath(dir)
	}

	return load(v)
}

// searchPaths lists config directories, lowest precedence first. Root only
// reads the system directory: the config names the adapter binary it runs
// and the rules that widen what amfid accepts.
func searchPaths(euid int) []string {
	if euid == 0 {
		return []string{SystemDir}
	}
	paths := []string{SystemDir}
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "amfid-allow"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}
	return append(paths, ".")
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

// checkTrusted rejects a file that is not owned by uid or that others can
// write.
func checkTrusted(path string, uid int) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0o022 != 0 {
		return fmt.Errorf("%w: %s is writable by group or others", ErrUntrusted, path)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("%w: cannot read the owner of %s", ErrUntrusted, path)
	}
	if int(st.Uid) != uid {
		return fmt.Errorf("%w: %s is owned by uid %d", ErrUntrusted, path, st.Uid)
	}
	return nil
}

func load(v *viper.Viper) (*Config, error) {
	// Environment variables: AMFID_ALLOW_FORMAT, AMFID_ALLOW_RULES_PATHS, ...
	v.SetEnvPrefix("AMFID_ALLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := Default()
	v.SetDefault("format", cfg.Format)
	v.SetDefault("quiet", cfg.Quiet)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("process", cfg.Process)
	v.SetDefault("symbol", cfg.Symbol)
	v.SetDefault("adapter", cfg.Adapter)
	v.SetDefault("step_timeout", cfg.StepTimeout)
	v.SetDefault("request_timeout", cfg.RequestTimeout)
	v.SetDefault("audit_log", "")
	v.SetDefault("rules.paths", []string{})
	v.SetDefault("rules.cdhashes", []string{})
	v.SetDefault("rules.file", "")
	v.SetDefault("custom_checks", []string{})

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error occurred
			return nil, err
		}
	}

	if used := v.ConfigFileUsed(); used != "" && geteuid() == 0 {
		if err := checkTrusted(used, 0); err != nil {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.Source = v.ConfigFileUsed()
	return cfg, nil
}
