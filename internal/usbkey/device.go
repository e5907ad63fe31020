// Package usbkey registers a USB device as an unlock factor and verifies it
// with a stored challenge and response hash.
//
// Only the device identity (vendor id, product id, serial number) takes part
// in matching and hashing. Manufacturer and product strings are informational
// because drivers report them inconsistently.
package usbkey

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
)

const maxUSBID = 0xFFFF

// Device identifies a USB device.
type Device struct {
	VendorID     int    `json:"vendor_id"`
	ProductID    int    `json:"product_id"`
	SerialNumber string `json:"serial_number"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
}

// NewDevice returns a validated Device. The serial number is trimmed.
func NewDevice(vendorID, productID int, serial, manufacturer, product string) (Device, error) {
	d := Device{
		VendorID:     vendorID,
		ProductID:    productID,
		SerialNumber: strings.TrimSpace(serial),
		Manufacturer: manufacturer,
		Product:      product,
	}
	if err := d.Validate(); err != nil {
		return Device{}, err
	}
	return d, nil
}

// Validate checks that both ids fit in 16 bits and the serial number is not
// blank.
func (d Device) Validate() error {
	if d.VendorID < 0 || d.VendorID > maxUSBID {
		return fmt.Errorf("%w: invalid vendor_id %d", common.ErrValidation, d.VendorID)
	}
	if d.ProductID < 0 || d.ProductID > maxUSBID {
		return fmt.Errorf("%w: invalid product_id %d", common.ErrValidation, d.ProductID)
	}
	if strings.TrimSpace(d.SerialNumber) == "" {
		return fmt.Errorf("%w: serial number cannot be empty", common.ErrValidation)
	}
	return nil
}

// Matches reports whether d and other are the same physical device.
func (d Device) Matches(other Device) bool {
	return d.VendorID == other.VendorID &&
		d.ProductID == other.ProductID &&
		strings.TrimSpace(d.SerialNumber) == strings.TrimSpace(other.SerialNumber)
}

// identity is the byte string bound into the response hash and session key.
func (d Device) identity() []byte {
	return fmt.Appendf(nil, "%04x:%04x:%s", d.VendorID, d.ProductID, strings.TrimSpace(d.SerialNumber))
}

func (d Device) String() string {
	name := strings.TrimSpace(d.Manufacturer + " " + d.Product)
	if name == "" {
		name = "USB device"
	}
	return fmt.Sprintf("%s [%04x:%04x] S/N %s", name, d.VendorID, d.ProductID, d.SerialNumber)
}
