// Package drt provides the Detection Response Task device module.
package drt

import (
	"go.uber.org/zap"

	"device-scanner/internal/model"
	"device-scanner/pkg/controller"
)

const (
	DeviceType = "DRT"

	VendorID  uint16 = 0x2341
	ProductID uint16 = 0x8036

	modelName    = "Detection Response Task"
	manufacturer = "Red Scientific"
)

// Module builds DRT controllers
type Module struct{}

// NewModule creates the DRT module
func NewModule() *Module {
	return &Module{}
}

// Profile returns the DRT vendor/product pair
func (m *Module) Profile() model.DeviceProfile {
	return model.DeviceProfile{DeviceType: DeviceType, VendorID: VendorID, ProductID: ProductID}
}

// NewController wraps conn in a controller that owns it
func (m *Module) NewController(conn model.Connection, logger *zap.Logger) (controller.Controller, error) {
	return controller.NewGeneric(DeviceType, modelName, manufacturer, conn, logger), nil
}
