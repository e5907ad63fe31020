package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/config"
	"github.com/dmitrijs2005/vaultkeeper/internal/filex"
	"github.com/dmitrijs2005/vaultkeeper/internal/logging"
	"github.com/dmitrijs2005/vaultkeeper/internal/platform"
	"github.com/dmitrijs2005/vaultkeeper/internal/session"
	"github.com/dmitrijs2005/vaultkeeper/internal/totp"
	"github.com/dmitrijs2005/vaultkeeper/internal/usbkey"
	"github.com/dmitrijs2005/vaultkeeper/internal/vault"
)

// newLister is a test seam selecting how connected USB devices are found.
var newLister = func() usbkey.Lister {
	if runtime.GOOS == "linux" {
		return usbkey.NewSysfsLister()
	}
	return usbkey.StaticLister{}
}

// IO bundles the standard streams used by the CLI.
type IO struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// App holds everything a command needs once configuration is loaded.
type App struct {
	cfg *config.Config
	log logging.Logger
	in  *bufio.Reader
	out io.Writer
	now func() time.Time

	storage   *vault.Storage
	sessions  *session.Store
	totpStore *totp.SecretStore
	usb       *usbkey.Manager
}

// NewApp wires the stores described by cfg.
func NewApp(cfg *config.Config, log logging.Logger, stdio IO) (*App, error) {
	if err := filex.EnsureDir(cfg.DataDir); err != nil {
		return nil, err
	}

	kdf := cfg.KDF.Params()
	return &App{
		cfg:       cfg,
		log:       log,
		in:        bufio.NewReader(stdio.In),
		out:       stdio.Out,
		now:       time.Now,
		storage:   vault.NewStorage(cfg.VaultPath, vault.WithLogger(log), vault.WithKDFParams(kdf)),
		sessions:  session.NewStore(cfg.SessionPath, session.WithStoreLogger(log)),
		totpStore: totp.NewSecretStore(cfg.TOTPSecretPath),
		usb:       usbkey.NewManager(cfg.TokenConfigPath, newLister(), usbkey.WithLogger(log)),
	}, nil
}

func (a *App) hardenProcess(ctx context.Context) {
	if err := platform.DisableCoreDumps(); err != nil {
		a.log.Warn(ctx, "could not disable core dumps", "error", err.Error())
	}
}

// close drops decrypted state. Commands defer it right after unlocking.
func (a *App) close() {
	a.storage.Clear()
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

var (
	errNoVault      = errors.New("no vault found; run 'vaultkeeper init' first")
	errVaultExists  = errors.New("a vault already exists")
	errNoKey        = errors.New("no key detected")
	errTOTPEnabled  = errors.New("totp is already enabled")
	errTOTPDisabled = errors.New("totp is not enabled")
)

// userMessage maps core errors onto what the user is shown. Authentication
// failures are never broken down further.
func userMessage(err error) string {
	switch {
	case errors.Is(err, common.ErrAuthentication):
		return "failed to unlock"
	case errors.Is(err, common.ErrNotFound):
		return "not found"
	case errors.Is(err, session.ErrLocked):
		return "session is locked"
	case errors.Is(err, vault.ErrUnsupportedVersion):
		return "vault was written by a newer version"
	case errors.Is(err, common.ErrUnsupportedPlatform):
		return "not supported on this platform"
	default:
		return err.Error()
	}
}
