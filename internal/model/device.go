// internal/model/device.go
package model

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ObservedPort is a snapshot of one serial port at enumeration time
type ObservedPort struct {
	PortID       string `json:"port_id"`
	VendorID     uint16 `json:"vendor_id"`
	ProductID    uint16 `json:"product_id"`
	IsUSB        bool   `json:"is_usb"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// PortKey identifies the hardware plugged into a port. A port id reused by the
// OS for different hardware yields a different key.
type PortKey struct {
	PortID    string
	VendorID  uint16
	ProductID uint16
}

// Key returns the identity key of the port
func (p ObservedPort) Key() PortKey {
	return PortKey{PortID: p.PortID, VendorID: p.VendorID, ProductID: p.ProductID}
}

// USBID formats the vendor/product pair as VVVV:PPPP
func (p ObservedPort) USBID() string {
	return fmt.Sprintf("%04X:%04X", p.VendorID, p.ProductID)
}

// DeviceProfile associates a vendor/product identifier pair with a supported device type
type DeviceProfile struct {
	DeviceType string `json:"device_type"`
	VendorID   uint16 `json:"vendor_id"`
	ProductID  uint16 `json:"product_id"`
}

// Matches reports whether the port carries this profile's vendor/product pair
func (p DeviceProfile) Matches(port ObservedPort) bool {
	return port.VendorID == p.VendorID && port.ProductID == p.ProductID
}

// Validate checks the profile is usable for matching
func (p DeviceProfile) Validate() error {
	if p.DeviceType == "" {
		return fmt.Errorf("device type is required")
	}
	if p.VendorID == 0 && p.ProductID == 0 {
		return fmt.Errorf("profile %s: vendor and product id are both zero", p.DeviceType)
	}
	return nil
}

// Connection is an open byte-stream handle to a specific port
type Connection interface {
	io.ReadWriteCloser
	PortID() string
}

// DeviceStatus represents the current status of a live device
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "ONLINE"
	DeviceStatusOffline DeviceStatus = "OFFLINE"
)

// DeviceInfo describes a live device for consumers
type DeviceInfo struct {
	DeviceType   string       `json:"device_type"`
	PortID       string       `json:"port_id"`
	VendorID     uint16       `json:"vendor_id"`
	ProductID    uint16       `json:"product_id"`
	Manufacturer string       `json:"manufacturer,omitempty"`
	Product      string       `json:"product,omitempty"`
	SerialNumber string       `json:"serial_number,omitempty"`
	Status       DeviceStatus `json:"status"`
	AttachedAt   time.Time    `json:"attached_at"`
}

// ParseUSBID parses a hexadecimal USB vendor or product id such as "2341",
// "0x2341" or "0X2341".
func ParseUSBID(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("empty usb id")
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid usb id %q: %w", s, err)
	}
	return uint16(v), nil
}
