package usbkey

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
	"github.com/dmitrijs2005/vaultkeeper/internal/filex"
	"github.com/dmitrijs2005/vaultkeeper/internal/logging"
)

// ChallengeSize is the length of the random registration challenge.
const ChallengeSize = 32

// Registration is the persisted record of the registered token.
type Registration struct {
	Device       Device
	Challenge    []byte
	ResponseHash string
	RegisteredAt time.Time
}

// tokenConfig is the on-disk form of a Registration.
type tokenConfig struct {
	VendorID     int       `json:"vendor_id"`
	ProductID    int       `json:"product_id"`
	SerialNumber string    `json:"serial_number"`
	Manufacturer string    `json:"manufacturer"`
	Product      string    `json:"product"`
	Challenge    string    `json:"challenge"`
	ResponseHash string    `json:"response_hash"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock overrides the time source for registration timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the token config file. At most one device is registered at a
// time; registering again replaces the previous device.
type Manager struct {
	mu     sync.Mutex
	path   string
	lister Lister
	log    logging.Logger
	now    func() time.Time
}

// NewManager returns a Manager storing its registration at configPath and
// enumerating devices with lister.
func NewManager(configPath string, lister Lister, opts ...Option) *Manager {
	m := &Manager{
		path:   configPath,
		lister: lister,
		log:    logging.NewNopLogger(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ConfigPath returns the token config file path.
func (m *Manager) ConfigPath() string { return m.path }

// ResponseHash computes hex(HMAC-SHA256(passphrase, challenge || identity)).
func ResponseHash(challenge []byte, d Device, passphrase []byte) string {
	mac := hmac.New(sha256.New, passphrase)
	mac.Write(challenge)
	mac.Write(d.identity())
	return hex.EncodeToString(mac.Sum(nil))
}

// sessionKey derives the device-only session key from the challenge and
// device identity.
func sessionKey(challenge []byte, d Device) string {
	h := sha256.New()
	h.Write(challenge)
	h.Write(d.identity())
	return hex.EncodeToString(h.Sum(nil))
}

// RegisterDevice registers device under passphrase, replacing any previous
// registration, and returns the new challenge.
func (m *Manager) RegisterDevice(device Device, passphrase []byte) ([]byte, error) {
	if err := device.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	challenge := common.GenerateRandByteArray(ChallengeSize)
	cfg := tokenConfig{
		VendorID:     device.VendorID,
		ProductID:    device.ProductID,
		SerialNumber: device.SerialNumber,
		Manufacturer: device.Manufacturer,
		Product:      device.Product,
		Challenge:    base64.StdEncoding.EncodeToString(challenge),
		ResponseHash: ResponseHash(challenge, device, passphrase),
		RegisteredAt: m.now().UTC(),
	}
	if err := filex.WriteJSONAtomic(m.path, cfg, filex.PrivateFileMode); err != nil {
		return nil, fmt.Errorf("write token config: %w", err)
	}

	m.log.Info(context.Background(), "usb key registered",
		"vendor_id", fmt.Sprintf("%04x", device.VendorID),
		"product_id", fmt.Sprintf("%04x", device.ProductID))
	return challenge, nil
}

// registration loads the config file. A missing file is common.ErrNotFound.
// A file that exists but cannot be read or does not hold a valid
// registration wraps common.ErrAuthentication, so callers never mistake a
// damaged registration for no registration.
func (m *Manager) registration() (*Registration, error) {
	var cfg tokenConfig
	found, err := filex.ReadJSON(m.path, &cfg)
	if !found && err == nil {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read token config: %v", common.ErrAuthentication, err)
	}

	challenge, err := base64.StdEncoding.DecodeString(cfg.Challenge)
	if err != nil || len(challenge) != ChallengeSize {
		return nil, fmt.Errorf("%w: token config has an invalid challenge", common.ErrAuthentication)
	}
	if len(cfg.ResponseHash) != sha256.Size*2 {
		return nil, fmt.Errorf("%w: token config has an invalid response hash", common.ErrAuthentication)
	}
	d := Device{
		VendorID:     cfg.VendorID,
		ProductID:    cfg.ProductID,
		SerialNumber: cfg.SerialNumber,
		Manufacturer: cfg.Manufacturer,
		Product:      cfg.Product,
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: token config has an invalid device: %v", common.ErrAuthentication, err)
	}
	return &Registration{Device: d, Challenge: challenge, ResponseHash: cfg.ResponseHash, RegisteredAt: cfg.RegisteredAt}, nil
}

// Registration returns the full registration record, common.ErrNotFound
// when nothing is registered, or common.ErrAuthentication when the config
// file is damaged.
func (m *Manager) Registration() (*Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registration()
}

// IsDeviceRegistered reports whether a token config file is present. A
// damaged file still counts, so the USB factor is never skipped for it.
func (m *Manager) IsDeviceRegistered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filex.Exists(m.path)
}

// GetRegisteredDevice returns the registered device. Errors are those of
// Registration.
func (m *Manager) GetRegisteredDevice() (Device, error) {
	r, err := m.Registration()
	if err != nil {
		return Device{}, err
	}
	return r.Device, nil
}

// Challenge returns the stored challenge, or common.ErrNotFound.
func (m *Manager) Challenge() ([]byte, error) {
	r, err := m.Registration()
	if err != nil {
		return nil, err
	}
	return r.Challenge, nil
}

// ResponseHash returns the stored response hash, or common.ErrNotFound.
func (m *Manager) ResponseHash() (string, error) {
	r, err := m.Registration()
	if err != nil {
		return "", err
	}
	return r.ResponseHash, nil
}

// UnregisterDevice deletes the config file. Nothing registered is not an
// error.
func (m *Manager) UnregisterDevice() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := filex.RemoveIfExists(m.path); err != nil {
		return fmt.Errorf("remove token config: %w", err)
	}
	m.log.Info(context.Background(), "usb key unregistered")
	return nil
}

// VerifyDevice checks that device is the registered one and that passphrase
// reproduces the stored response hash. Every mismatch and a damaged
// registration return common.ErrAuthentication. With nothing registered it
// returns common.ErrNotFound.
func (m *Manager) VerifyDevice(device Device, passphrase []byte) error {
	r, err := m.Registration()
	if err != nil {
		return err
	}

	// The identity is part of the hash, so a different device cannot match.
	got := ResponseHash(r.Challenge, device, passphrase)
	if !hmac.Equal([]byte(got), []byte(r.ResponseHash)) {
		return common.ErrAuthentication
	}
	return nil
}

// AuthenticateWithDeviceOnly looks for the registered device among the
// connected ones and, if present, returns a session key derived from the
// challenge and device identity without asking for the passphrase.
//
// The key is only as secret as the token config file and only as strong as
// possession of the device. ok is false with a nil error when nothing is
// registered or the device is not connected. A damaged registration is an
// error.
func (m *Manager) AuthenticateWithDeviceOnly(ctx context.Context) (key string, ok bool, err error) {
	r, err := m.Registration()
	if errors.Is(err, common.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	connected, err := m.lister.ListDevices(ctx)
	if err != nil {
		return "", false, fmt.Errorf("list usb devices: %w", err)
	}
	for _, d := range connected {
		if r.Device.Matches(d) {
			m.log.Debug(ctx, "registered usb key detected")
			return sessionKey(r.Challenge, r.Device), true, nil
		}
	}
	return "", false, nil
}

// ListAvailableDevices returns the connected devices.
func (m *Manager) ListAvailableDevices(ctx context.Context) ([]Device, error) {
	return m.lister.ListDevices(ctx)
}

// IsDeviceConnected reports whether the registered device is connected. It
// is false with a nil error when nothing is registered and an error when the
// registration is damaged.
func (m *Manager) IsDeviceConnected(ctx context.Context) (bool, error) {
	r, err := m.Registration()
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	connected, err := m.lister.ListDevices(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range connected {
		if r.Device.Matches(d) {
			return true, nil
		}
	}
	return false, nil
}
