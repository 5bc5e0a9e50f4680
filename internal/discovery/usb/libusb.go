//go:build libusb

package usb

import (
	"fmt"
	"strings"

	"github.com/google/gousb"
	"go.uber.org/zap"
)

// LibusbAvailable reports whether descriptor lookups are compiled in
const LibusbAvailable = true

// libusbLookup opens matching devices through libusb and reads their string descriptors
func (d *Describer) libusbLookup(vid, pid uint16, serial string) (*Description, error) {
	usbCtx := gousb.NewContext()
	defer func() {
		if err := usbCtx.Close(); err != nil {
			d.logger.Warn("Failed to close USB context", zap.Error(err))
		}
	}()

	devices, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(vid) && desc.Product == gousb.ID(pid)
	})
	defer closeAllDevices(devices, d.logger)
	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("failed to open USB devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no USB device %04X:%04X", vid, pid)
	}

	var fallback *Description
	for _, device := range devices {
		desc := readDescription(device)
		if serial == "" || strings.EqualFold(desc.SerialNumber, serial) {
			return desc, nil
		}
		if fallback == nil {
			fallback = desc
		}
	}
	return fallback, nil
}

// readDescription reads string descriptors, leaving fields empty on error
func readDescription(device *gousb.Device) *Description {
	desc := &Description{}
	if s, err := device.Manufacturer(); err == nil {
		desc.Manufacturer = strings.TrimSpace(s)
	}
	if s, err := device.Product(); err == nil {
		desc.Product = strings.TrimSpace(s)
	}
	if s, err := device.SerialNumber(); err == nil {
		desc.SerialNumber = strings.TrimSpace(s)
	}
	return desc
}

// closeAllDevices safely closes all opened USB devices
func closeAllDevices(devices []*gousb.Device, logger *zap.Logger) {
	for i, device := range devices {
		if device == nil {
			continue
		}
		if err := device.Close(); err != nil {
			logger.Warn("Failed to close USB device",
				zap.Int("device_index", i),
				zap.Error(err),
			)
		}
	}
}
