package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/vaultkeeper/internal/timex"
)

// JSONConfig is a DTO used exclusively for JSON unmarshalling. Pointer and
// zero-value fields are only copied when present, so a partial file keeps the
// defaults for everything it omits.
type JSONConfig struct {
	DataDir         string          `json:"data_dir"`
	VaultPath       string          `json:"vault_path"`
	TokenConfigPath string          `json:"token_config_path"`
	TOTPSecretPath  string          `json:"totp_secret_path"`
	SessionPath     string          `json:"session_path"`
	AutoLockTimeout *timex.Duration `json:"auto_lock_timeout"`
	LogLevel        string          `json:"log_level"`
	LogFormat       string          `json:"log_format"`
	KDF             *KDF            `json:"kdf"`
}

// parseJSON overlays cfg with values loaded from the JSON file at path.
// An empty path is a no-op.
func parseJSON(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var jc JSONConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setIfNotEmpty(&cfg.DataDir, jc.DataDir)
	setIfNotEmpty(&cfg.VaultPath, jc.VaultPath)
	setIfNotEmpty(&cfg.TokenConfigPath, jc.TokenConfigPath)
	setIfNotEmpty(&cfg.TOTPSecretPath, jc.TOTPSecretPath)
	setIfNotEmpty(&cfg.SessionPath, jc.SessionPath)
	setIfNotEmpty(&cfg.LogLevel, jc.LogLevel)
	setIfNotEmpty(&cfg.LogFormat, jc.LogFormat)

	if jc.AutoLockTimeout != nil {
		cfg.AutoLockTimeout = jc.AutoLockTimeout.Duration
	}
	if jc.KDF != nil {
		cfg.KDF = *jc.KDF
	}
	return nil
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
