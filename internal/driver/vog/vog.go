// Package vog provides the Visual Occlusion Glasses device module.
package vog

import (
	"go.uber.org/zap"

	"device-scanner/internal/model"
	"device-scanner/pkg/controller"
)

const (
	DeviceType = "VOG"

	VendorID  uint16 = 0x16C0
	ProductID uint16 = 0x0483

	modelName    = "Visual Occlusion Glasses"
	manufacturer = "Red Scientific"
)

// Module builds VOG controllers
type Module struct{}

// NewModule creates the VOG module
func NewModule() *Module {
	return &Module{}
}

// Profile returns the VOG vendor/product pair
func (m *Module) Profile() model.DeviceProfile {
	return model.DeviceProfile{DeviceType: DeviceType, VendorID: VendorID, ProductID: ProductID}
}

// NewController wraps conn in a controller that owns it
func (m *Module) NewController(conn model.Connection, logger *zap.Logger) (controller.Controller, error) {
	return controller.NewGeneric(DeviceType, modelName, manufacturer, conn, logger), nil
}
