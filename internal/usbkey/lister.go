package usbkey

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultSysfsRoot is where Linux exposes connected USB devices.
const DefaultSysfsRoot = "/sys/bus/usb/devices"

// Lister enumerates currently connected USB devices.
type Lister interface {
	ListDevices(ctx context.Context) ([]Device, error)
}

// SysfsLister reads devices from the Linux sysfs USB tree. Devices without a
// serial number are skipped since they cannot be told apart.
type SysfsLister struct {
	Root string
}

// NewSysfsLister returns a lister over DefaultSysfsRoot.
func NewSysfsLister() *SysfsLister {
	return &SysfsLister{Root: DefaultSysfsRoot}
}

func (l *SysfsLister) ListDevices(ctx context.Context) ([]Device, error) {
	root := l.Root
	if root == "" {
		root = DefaultSysfsRoot
	}

	dirs, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return []Device{}, nil
	}
	if err != nil {
		return nil, err
	}

	devices := make([]Device, 0, len(dirs))
	for _, de := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := filepath.Join(root, de.Name())

		vid, ok := readHexAttr(dir, "idVendor")
		if !ok {
			continue // interface entries have no idVendor
		}
		pid, ok := readHexAttr(dir, "idProduct")
		if !ok {
			continue
		}

		d, err := NewDevice(vid, pid, readAttr(dir, "serial"), readAttr(dir, "manufacturer"), readAttr(dir, "product"))
		if err != nil {
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func readAttr(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func readHexAttr(dir, name string) (int, bool) {
	s := readAttr(dir, name)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, false
	}
	return int(v), true
}

// StaticLister returns a fixed device list. It serves platforms without a
// supported enumeration backend and tests.
type StaticLister struct {
	Devices []Device
	Err     error
}

func (l StaticLister) ListDevices(context.Context) ([]Device, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	out := make([]Device, len(l.Devices))
	copy(out, l.Devices)
	return out, nil
}
