package config

import (
	"fmt"
	"time"
)

const envPrefix = "VAULTKEEPER_"

// parseEnv overlays cfg with VAULTKEEPER_* variables. lookup is os.LookupEnv
// in production and a map-backed stub in tests.
func parseEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strVars := map[string]*string{
		"DATA_DIR":     &cfg.DataDir,
		"VAULT":        &cfg.VaultPath,
		"TOKEN_CONFIG": &cfg.TokenConfigPath,
		"TOTP_SECRET":  &cfg.TOTPSecretPath,
		"SESSION_FILE": &cfg.SessionPath,
		"LOG_LEVEL":    &cfg.LogLevel,
		"LOG_FORMAT":   &cfg.LogFormat,
	}
	for name, dst := range strVars {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup(envPrefix + "AUTO_LOCK"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sAUTO_LOCK: %w", envPrefix, err)
		}
		cfg.AutoLockTimeout = d
	}
	return nil
}
