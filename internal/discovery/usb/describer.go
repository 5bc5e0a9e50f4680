// Package usb resolves manufacturer and product strings for attached USB serial devices.
package usb

import (
	"go.uber.org/zap"

	"device-scanner/internal/model"
)

// Description holds the descriptor strings of one USB device
type Description struct {
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// LookupFunc reads descriptor strings for the device with the given ids.
// serial narrows the match when several identical devices are plugged in.
type LookupFunc func(vid, pid uint16, serial string) (*Description, error)

// Describer enriches observed ports with USB descriptor strings
type Describer struct {
	lookup    LookupFunc
	vendors   *DeviceDatabase
	logger    *zap.Logger
	useLibusb bool
}

// NewDescriber creates a describer. When useLibusb is false only the built-in
// vendor database is consulted. Descriptor lookups need a binary built with
// the libusb tag; see LibusbAvailable.
func NewDescriber(useLibusb bool, logger *zap.Logger) *Describer {
	d := &Describer{
		vendors:   NewDeviceDatabase(),
		logger:    logger.With(zap.String("component", "usb-describer")),
		useLibusb: useLibusb,
	}
	d.lookup = d.libusbLookup
	return d
}

// NewDescriberWithLookup creates a describer with a custom descriptor lookup
func NewDescriberWithLookup(lookup LookupFunc, logger *zap.Logger) *Describer {
	return &Describer{
		lookup:    lookup,
		vendors:   NewDeviceDatabase(),
		logger:    logger.With(zap.String("component", "usb-describer")),
		useLibusb: true,
	}
}

// Describe returns the best description available for the port. Lookup
// failures fall back to the vendor database and are never fatal.
func (d *Describer) Describe(port model.ObservedPort) Description {
	desc := Description{
		Product:      port.Product,
		SerialNumber: port.SerialNumber,
	}

	if vendor := d.vendors.GetVendorInfo(port.VendorID); vendor != nil {
		desc.Manufacturer = vendor.Name
		if desc.Product == "" {
			desc.Product = vendor.GetProductName(port.ProductID)
		}
	}

	if !d.useLibusb || !port.IsUSB {
		return desc
	}

	found, err := d.lookup(port.VendorID, port.ProductID, port.SerialNumber)
	if err != nil {
		d.logger.Debug("USB descriptor lookup failed",
			zap.String("port", port.PortID),
			zap.String("usb_id", port.USBID()),
			zap.Error(err),
		)
		return desc
	}

	if found.Manufacturer != "" {
		desc.Manufacturer = found.Manufacturer
	}
	if found.Product != "" {
		desc.Product = found.Product
	}
	if found.SerialNumber != "" {
		desc.SerialNumber = found.SerialNumber
	}
	return desc
}
