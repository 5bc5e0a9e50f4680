// internal/discovery/usb/database.go
package usb

// DeviceDatabase contains vendor names for USB serial hardware common on lab benches
type DeviceDatabase struct {
	vendors map[uint16]*VendorInfo
}

// VendorInfo contains vendor-specific information
type VendorInfo struct {
	Name     string
	products map[uint16]string
}

// NewDeviceDatabase creates and initializes the device database
func NewDeviceDatabase() *DeviceDatabase {
	db := &DeviceDatabase{
		vendors: make(map[uint16]*VendorInfo),
	}
	db.initializeDatabase()
	return db
}

func (db *DeviceDatabase) initializeDatabase() {
	db.add(0x2341, "Arduino SA", map[uint16]string{
		0x0043: "Uno R3",
		0x8036: "Leonardo",
		0x8037: "Micro",
	})
	db.add(0x16C0, "Van Ooijen Technische Informatica", map[uint16]string{
		0x0483: "Teensyduino Serial",
	})
	db.add(0x239A, "Adafruit Industries", nil)
	db.add(0x0403, "Future Technology Devices International", map[uint16]string{
		0x6001: "FT232 Serial (UART)",
		0x6015: "FT231X Serial",
	})
	db.add(0x10C4, "Silicon Laboratories", map[uint16]string{
		0xEA60: "CP210x UART Bridge",
	})
	db.add(0x1A86, "QinHeng Electronics", map[uint16]string{
		0x7523: "CH340 Serial",
	})
}

func (db *DeviceDatabase) add(vendor uint16, name string, products map[uint16]string) {
	if products == nil {
		products = make(map[uint16]string)
	}
	db.vendors[vendor] = &VendorInfo{Name: name, products: products}
}

// IsKnownVendor checks if a vendor ID is in the database
func (db *DeviceDatabase) IsKnownVendor(vendorID uint16) bool {
	_, exists := db.vendors[vendorID]
	return exists
}

// GetVendorInfo returns vendor information, or nil when unknown
func (db *DeviceDatabase) GetVendorInfo(vendorID uint16) *VendorInfo {
	return db.vendors[vendorID]
}

// GetProductName returns the product name, or "" when unknown
func (vi *VendorInfo) GetProductName(productID uint16) string {
	return vi.products[productID]
}
