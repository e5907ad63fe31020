// Package daemon installs and controls the background watcher process.
//
// It is a boundary capability: the vault engine never depends on it, and
// only the command-line layer selects an implementation for the running OS.
package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
)

// Service controls one background process.
type Service interface {
	// Install writes the user-level service definition.
	Install(ctx context.Context) error
	// Uninstall stops the process and removes the service definition.
	Uninstall(ctx context.Context) error
	IsRunning(ctx context.Context) (bool, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Logs returns up to the last n lines written by the process.
	Logs(ctx context.Context, n int) ([]string, error)
}

// Options describe the process to run.
type Options struct {
	// Name identifies the service; it names the PID, log and unit files.
	Name string
	// Executable and Args are the command line of the process.
	Executable string
	Args       []string
	// StateDir holds the PID and log files.
	StateDir string
	// UnitDir overrides where Install writes the service definition.
	// Empty selects the per-user location of the platform's service manager.
	UnitDir string
}

func (o Options) withDefaults() (Options, error) {
	if o.Name == "" {
		o.Name = "vaultkeeper"
	}
	if o.Executable == "" {
		return o, fmt.Errorf("%w: daemon executable is required", common.ErrValidation)
	}
	if o.StateDir == "" {
		return o, fmt.Errorf("%w: daemon state dir is required", common.ErrValidation)
	}
	return o, nil
}

func (o Options) pidPath() string { return filepath.Join(o.StateDir, o.Name+".pid") }
func (o Options) logPath() string { return filepath.Join(o.StateDir, o.Name+".log") }

// ForPlatform returns the Service implementation for goos. Only linux and
// darwin are supported; other systems get common.ErrUnsupportedPlatform.
func ForPlatform(goos string, opts Options) (Service, error) {
	switch goos {
	case "linux", "darwin":
	default:
		return nil, fmt.Errorf("%w: %s", common.ErrUnsupportedPlatform, goos)
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return newPIDService(goos, opts)
}
