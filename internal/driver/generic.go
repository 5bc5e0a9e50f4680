package driver

import (
	"go.uber.org/zap"

	"device-scanner/internal/model"
	"device-scanner/pkg/controller"
)

// GenericModule serves any profile with the line-oriented generic controller
type GenericModule struct {
	profile      model.DeviceProfile
	modelName    string
	manufacturer string
}

// NewGenericModule creates a module for profile
func NewGenericModule(profile model.DeviceProfile, modelName, manufacturer string) *GenericModule {
	return &GenericModule{
		profile:      profile,
		modelName:    modelName,
		manufacturer: manufacturer,
	}
}

// Profile returns the module's device profile
func (m *GenericModule) Profile() model.DeviceProfile {
	return m.profile
}

// NewController wraps conn in a generic controller
func (m *GenericModule) NewController(conn model.Connection, logger *zap.Logger) (controller.Controller, error) {
	return controller.NewGeneric(m.profile.DeviceType, m.modelName, m.manufacturer, conn, logger), nil
}
