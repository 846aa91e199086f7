// Package config loads the vault configuration from a YAML or TOML file,
// with ${VAR} environment expansion and defaults rooted at the data
// directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/forest6511/anavault/pkg/crypto"
	"github.com/forest6511/anavault/pkg/vault"
)

// EnvConfig names the configuration file.
const EnvConfig = "ANAVAULT_CONFIG"

// DefaultDirName is the data directory under the user's home.
const DefaultDirName = ".anavault"

// Config is the complete vault configuration.
type Config struct {
	DataDir  string `yaml:"data_dir" toml:"data_dir"`
	KeyFile  string `yaml:"key_file" toml:"key_file"`
	Database string `yaml:"database" toml:"database"`
	FilesDir string `yaml:"files_dir" toml:"files_dir"`
	AuditDir string `yaml:"audit_dir" toml:"audit_dir"`

	Security SecurityConfig `yaml:"security" toml:"security"`
	Gateway  GatewayConfig  `yaml:"gateway" toml:"gateway"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// SecurityConfig selects encryption.
type SecurityConfig struct {
	// EncryptionEnabled defaults to true when unset.
	EncryptionEnabled *bool  `yaml:"encryption_enabled" toml:"encryption_enabled"`
	Cipher            string `yaml:"cipher" toml:"cipher"`
}

// GatewayConfig configures the privacy gateway.
type GatewayConfig struct {
	PolicyFile      string `yaml:"policy_file" toml:"policy_file"`
	PseudonymPrefix string `yaml:"pseudonym_prefix" toml:"pseudonym_prefix"`
}

// LoggingConfig configures the CLI's log handler.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file exists, rooted at
// ~/.anavault.
func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config: failed to find home directory: %w", err)
	}
	cfg := &Config{DataDir: filepath.Join(home, DefaultDirName)}
	cfg.applyDefaults()
	return cfg, nil
}

// Load reads the configuration file at path. The format follows the
// extension: .toml is TOML, anything else YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading config file: %w", err)
	}
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing config file: %w", err)
		}
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("config: failed to find home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, DefaultDirName)
	}
	if err := cfg.expandHome(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validating config: %w", err)
	}
	return &cfg, nil
}

// LoadDefault loads the file named by ANAVAULT_CONFIG, or explicit when
// non-empty. With neither set, or when the default file is absent, the
// defaults are returned. An explicitly named file must exist.
func LoadDefault(explicit string) (*Config, error) {
	path := explicit
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		return Load(path)
	}

	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"config.yaml", "config.toml"} {
		p := filepath.Join(cfg.DataDir, name)
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(re.FindStringSubmatch(match)[1])
	})
}

// expandHome resolves a leading ~/ in every path field.
func (c *Config) expandHome() error {
	fields := []*string{&c.DataDir, &c.KeyFile, &c.Database, &c.FilesDir, &c.AuditDir, &c.Gateway.PolicyFile}
	var home string
	for _, f := range fields {
		if !strings.HasPrefix(*f, "~/") && *f != "~" {
			continue
		}
		if home == "" {
			h, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("config: failed to find home directory: %w", err)
			}
			home = h
		}
		*f = filepath.Join(home, strings.TrimPrefix(*f, "~"))
	}
	return nil
}

func (c *Config) applyDefaults() {
	defaults := vault.DefaultOptions(c.DataDir)
	if c.KeyFile == "" {
		c.KeyFile = defaults.KeyFile
	}
	if c.Database == "" {
		c.Database = defaults.Database
	}
	if c.FilesDir == "" {
		c.FilesDir = defaults.FilesDir
	}
	if c.AuditDir == "" {
		c.AuditDir = defaults.JournalDir
	}
	if c.Security.EncryptionEnabled == nil {
		enabled := true
		c.Security.EncryptionEnabled = &enabled
	}
	if c.Security.Cipher == "" {
		c.Security.Cipher = crypto.SchemeAESGCM.String()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Encrypted reports whether encryption is enabled.
func (c *Config) Encrypted() bool {
	return c.Security.EncryptionEnabled == nil || *c.Security.EncryptionEnabled
}

// Validate checks field values. The files area must not contain the key
// file, the database or the journal, so a wipe of the area can never remove
// them.
func (c *Config) Validate() error {
	if _, err := crypto.ParseScheme(c.Security.Cipher); err != nil {
		return fmt.Errorf("security.cipher: %w", err)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json; got %q", c.Logging.Format)
	}
	if c.Database == "" || c.FilesDir == "" {
		return fmt.Errorf("database and files_dir are required")
	}
	if within(c.KeyFile, c.FilesDir) {
		return fmt.Errorf("key_file must not be inside files_dir")
	}
	if within(c.Database, c.FilesDir) {
		return fmt.Errorf("database must not be inside files_dir")
	}
	if c.AuditDir != "" && within(c.AuditDir, c.FilesDir) {
		return fmt.Errorf("audit_dir must not be inside files_dir")
	}
	return nil
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// VaultOptions converts the configuration into vault.Options.
func (c *Config) VaultOptions() (vault.Options, error) {
	scheme, err := crypto.ParseScheme(c.Security.Cipher)
	if err != nil {
		return vault.Options{}, fmt.Errorf("config: security.cipher: %w", err)
	}
	return vault.Options{
		KeyFile:           c.KeyFile,
		Database:          c.Database,
		FilesDir:          c.FilesDir,
		JournalDir:        c.AuditDir,
		Cipher:            scheme,
		DisableEncryption: !c.Encrypted(),
		PolicyFile:        c.Gateway.PolicyFile,
		PseudonymPrefix:   c.Gateway.PseudonymPrefix,
	}, nil
}
