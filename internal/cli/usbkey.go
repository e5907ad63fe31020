package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/usbkey"
	"github.com/spf13/cobra"
)

const defaultWatchInterval = 2 * time.Second

var errAmbiguousKey = errors.New("several usb devices connected; pick one with --serial")

func (r *runner) usbkeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usbkey",
		Short: "Manage the USB-key second factor",
	}
	cmd.AddCommand(
		r.usbkeyListCmd(),
		r.usbkeyRegisterCmd(),
		r.usbkeyUnregisterCmd(),
		r.usbkeyStatusCmd(),
		r.usbkeyCheckCmd(),
		r.usbkeyWatchCmd(),
	)
	return cmd
}

func (r *runner) usbkeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List connected USB devices that expose a serial number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			devices, err := a.usb.ListAvailableDevices(cmd.Context())
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				a.printf("No USB devices found.\n")
				return nil
			}
			registered, regErr := a.usb.GetRegisteredDevice()

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VENDOR\tPRODUCT\tSERIAL\tDESCRIPTION\tREGISTERED")
			for _, d := range devices {
				mark := ""
				if regErr == nil && registered.Matches(d) {
					mark = "yes"
				}
				fmt.Fprintf(w, "%04x\t%04x\t%s\t%s %s\t%s\n",
					d.VendorID, d.ProductID, d.SerialNumber, d.Manufacturer, d.Product, mark)
			}
			return w.Flush()
		},
	}
}

func (r *runner) usbkeyRegisterCmd() *cobra.Command {
	var serial string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Bind a connected USB device to the vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			ctx := cmd.Context()

			pass, err := GetPassword(a.out, "Master passphrase: ")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pass)

			if err := a.unlockWith(ctx, pass); err != nil {
				return err
			}
			defer a.close()

			d, err := a.pickDevice(ctx, serial)
			if err != nil {
				return err
			}
			if _, err := a.usb.RegisterDevice(d, pass); err != nil {
				return err
			}
			a.printf("Registered %s\n", d)
			return nil
		},
	}
	cmd.Flags().StringVar(&serial, "serial", "", "serial number of the device to register")
	return cmd
}

// pickDevice selects the device to register: the one with serial, or the
// only connected device when serial is empty.
func (a *App) pickDevice(ctx context.Context, serial string) (usbkey.Device, error) {
	devices, err := a.usb.ListAvailableDevices(ctx)
	if err != nil {
		return usbkey.Device{}, err
	}
	if serial != "" {
		for _, d := range devices {
			if d.SerialNumber == serial {
				return d, nil
			}
		}
		return usbkey.Device{}, errNoKey
	}
	switch len(devices) {
	case 0:
		return usbkey.Device{}, errNoKey
	case 1:
		return devices[0], nil
	default:
		return usbkey.Device{}, errAmbiguousKey
	}
}

func (r *runner) usbkeyUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister",
		Short: "Stop requiring the USB key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !r.app.usb.IsDeviceRegistered() {
				return fmt.Errorf("usb key: %w", common.ErrNotFound)
			}
			return r.withVault(cmd, func(ctx context.Context, a *App) error {
				if err := a.usb.UnregisterDevice(); err != nil {
					return err
				}
				a.printf("USB key unregistered.\n")
				return nil
			})
		},
	}
}

func (r *runner) usbkeyStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the registered USB key and whether it is connected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := r.app
			reg, err := a.usb.Registration()
			if errors.Is(err, common.ErrNotFound) {
				a.printf("USB key: not registered\n")
				return nil
			}
			if err != nil {
				a.printf("USB key: registration damaged (%s)\nUnlocking fails until %s is removed or the key is registered again.\n",
					err, a.usb.ConfigPath())
				return nil
			}
			connected, err := a.usb.IsDeviceConnected(cmd.Context())
			if err != nil {
				return err
			}
			state := "disconnected"
			if connected {
				state = "connected"
			}
			a.printf("USB key: %s\nRegistered: %s\nState: %s\n",
				reg.Device, reg.RegisteredAt.Local().Format(timeLayout), state)
			return nil
		},
	}
}

func (r *runner) usbkeyCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether the registered USB key is present",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, ok, err := r.app.usb.AuthenticateWithDeviceOnly(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				return errNoKey
			}
			r.app.printf("USB key detected.\n")
			return nil
		},
	}
}

func (r *runner) usbkeyWatchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Lock the session whenever the registered USB key is removed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.app.watchKey(cmd.Context(), interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", defaultWatchInterval, "polling interval")
	return cmd
}

// watchKey polls for the registered key until ctx is done. While the key is
// absent the persisted session is cleared, so the next command has to
// unlock from scratch.
func (a *App) watchKey(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	a.log.Info(ctx, "usb key watcher started", "interval", interval.String())

	present := true
	check := func() {
		if !a.usb.IsDeviceRegistered() {
			return
		}
		connected, err := a.usb.IsDeviceConnected(ctx)
		if errors.Is(err, common.ErrAuthentication) {
			a.log.Warn(ctx, "usb key registration is damaged", "error", err.Error())
			connected = false
		} else if err != nil {
			a.log.Warn(ctx, "usb scan failed", "error", err.Error())
			return
		}
		if connected == present {
			return
		}
		present = connected
		if connected {
			a.log.Info(ctx, "usb key inserted")
			return
		}
		a.log.Info(ctx, "usb key removed, locking session")
		if err := a.sessions.Clear(); err != nil {
			a.log.Error(ctx, "could not clear session", "error", err.Error())
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	check()
	for {
		select {
		case <-ticker.C:
			check()
		case <-ctx.Done():
			a.log.Info(ctx, "usb key watcher stopped")
			return nil
		}
	}
}
