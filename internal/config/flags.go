package config

import (
	"github.com/spf13/pflag"
)

const (
	flagConfig      = "config"
	flagDataDir     = "data-dir"
	flagVault       = "vault"
	flagTokenConfig = "token-config"
	flagTOTPSecret  = "totp-secret"
	flagSession     = "session-file"
	flagAutoLock    = "auto-lock"
	flagLogLevel    = "log-level"
	flagLogFormat   = "log-format"
)

// RegisterFlags defines the configuration flags on fs. Flag defaults are
// zero values; only flags the user actually sets override other sources.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP(flagConfig, "c", "", "path to JSON config file")
	fs.String(flagDataDir, "", "directory holding vault and second-factor files (default ~/.vaultkeeper)")
	fs.String(flagVault, "", "path to the vault file")
	fs.String(flagTokenConfig, "", "path to the USB token registration file")
	fs.String(flagTOTPSecret, "", "path to the encrypted TOTP secret")
	fs.String(flagSession, "", "path to the persisted session file")
	fs.Duration(flagAutoLock, 0, "inactivity timeout before the session locks (e.g. 5m)")
	fs.String(flagLogLevel, "", "log level: debug, info, warn, error")
	fs.String(flagLogFormat, "", "log format: text or json")
}

// parseFlags copies explicitly set flags from fs into cfg.
func parseFlags(cfg *Config, fs *pflag.FlagSet) error {
	strFlags := map[string]*string{
		flagDataDir:     &cfg.DataDir,
		flagVault:       &cfg.VaultPath,
		flagTokenConfig: &cfg.TokenConfigPath,
		flagTOTPSecret:  &cfg.TOTPSecretPath,
		flagSession:     &cfg.SessionPath,
		flagLogLevel:    &cfg.LogLevel,
		flagLogFormat:   &cfg.LogFormat,
	}
	for name, dst := range strFlags {
		if fs.Lookup(name) == nil || !fs.Changed(name) {
			continue
		}
		v, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	if fs.Lookup(flagAutoLock) != nil && fs.Changed(flagAutoLock) {
		d, err := fs.GetDuration(flagAutoLock)
		if err != nil {
			return err
		}
		cfg.AutoLockTimeout = d
	}
	return nil
}
