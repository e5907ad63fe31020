package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/cryptox"
	"github.com/spf13/pflag"
)

const (
	vaultFileName       = "vault.enc"
	tokenConfigFileName = "config.usbkey"
	totpSecretFileName  = "totp.enc"
	sessionFileName     = ".session"
)

// KDF holds argon2id cost parameters.
type KDF struct {
	Time      uint32 `json:"time"`
	MemoryKiB uint32 `json:"memory_kib"`
	Threads   uint8  `json:"threads"`
}

// Params converts k to the form used by the crypto layer.
func (k KDF) Params() cryptox.KDFParams {
	return cryptox.KDFParams{Time: k.Time, Memory: k.MemoryKiB, Threads: k.Threads}
}

// Config holds runtime settings for the VaultKeeper CLI.
type Config struct {
	DataDir         string
	VaultPath       string
	TokenConfigPath string
	TOTPSecretPath  string
	SessionPath     string

	// AutoLockTimeout is the inactivity window after which the session
	// reads as locked.
	AutoLockTimeout time.Duration

	LogLevel  string
	LogFormat string

	KDF KDF
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	c.DataDir = filepath.Join(home, ".vaultkeeper")
	c.VaultPath = ""
	c.TokenConfigPath = ""
	c.TOTPSecretPath = ""
	c.SessionPath = ""
	c.AutoLockTimeout = 5 * time.Minute
	c.LogLevel = "warn"
	c.LogFormat = "text"
	c.KDF = KDF{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}
}

// Resolve fills derived file paths from DataDir where they were left empty.
func (c *Config) Resolve() {
	if c.VaultPath == "" {
		c.VaultPath = filepath.Join(c.DataDir, vaultFileName)
	}
	if c.TokenConfigPath == "" {
		c.TokenConfigPath = filepath.Join(c.DataDir, tokenConfigFileName)
	}
	if c.TOTPSecretPath == "" {
		c.TOTPSecretPath = filepath.Join(c.DataDir, totpSecretFileName)
	}
	if c.SessionPath == "" {
		c.SessionPath = filepath.Join(c.DataDir, sessionFileName)
	}
}

// Validate reports settings that cannot work at runtime.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data dir is empty", common.ErrValidation)
	}
	if c.AutoLockTimeout <= 0 {
		return fmt.Errorf("%w: auto-lock timeout must be positive, got %s", common.ErrValidation, c.AutoLockTimeout)
	}
	if err := c.KDF.Params().Validate(); err != nil {
		return fmt.Errorf("kdf: %w", err)
	}
	return nil
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// the JSON file named by --config (if any), the environment and explicitly set
// flags. Later sources take precedence over earlier ones.
func LoadConfig(fs *pflag.FlagSet) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	path := ""
	if fs != nil {
		path, _ = fs.GetString(flagConfig)
	}
	if err := parseJSON(cfg, path); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if fs != nil {
		if err := parseFlags(cfg, fs); err != nil {
			return nil, err
		}
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
