// Package cli provides the VaultKeeper command-line interface.
//
// It wires configuration, the vault storage engine, the second-factor
// stores and the session machinery into cobra commands. One-shot commands
// unlock the vault for a single operation and persist a short-lived session
// so that the TOTP code is not asked on every invocation; `shell` keeps the
// vault open in an interactive loop guarded by the inactivity auto-lock.
//
// Key features:
//   - init / passwd / lock
//   - add, get, list, search, update, delete entries
//   - export / import (unencrypted JSON)
//   - totp enable / disable / status
//   - usbkey list / register / unregister / status / check / watch
//   - service install / uninstall / start / stop / status / logs
package cli
