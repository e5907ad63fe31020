// Package config loads runtime configuration for the VaultKeeper CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with --config.
//  3. Environment variables prefixed with VAULTKEEPER_.
//  4. Command-line flags registered by RegisterFlags, which override
//     everything else when explicitly set.
//
// # JSON schema
//
// Durations use timex.Duration, so values can be either strings like "5m"
// or integer nanoseconds:
//
//	{
//	  "data_dir": "/home/me/.vaultkeeper",
//	  "vault_path": "/home/me/.vaultkeeper/vault.enc",
//	  "auto_lock_timeout": "5m",
//	  "log_level": "info",
//	  "kdf": {"time": 3, "memory_kib": 65536, "threads": 4}
//	}
//
// Paths left empty are derived from DataDir by (*Config).Resolve.
package config
