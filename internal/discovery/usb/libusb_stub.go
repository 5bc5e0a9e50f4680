//go:build !libusb

package usb

import "errors"

// LibusbAvailable reports whether descriptor lookups are compiled in
const LibusbAvailable = false

// ErrLibusbUnavailable is returned by lookups in binaries built without the libusb tag
var ErrLibusbUnavailable = errors.New("built without libusb support")

func (d *Describer) libusbLookup(vid, pid uint16, serial string) (*Description, error) {
	return nil, ErrLibusbUnavailable
}
