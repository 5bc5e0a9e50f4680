// internal/driver/registry_init.go
package driver

import (
	"fmt"

	"go.uber.org/zap"

	"device-scanner/internal/config"
	"device-scanner/internal/driver/drt"
	"device-scanner/internal/driver/vog"
	"device-scanner/internal/model"
)

// RegisterDefaultModules registers the built-in device modules. Registration
// order is match order.
func RegisterDefaultModules(registry *Registry, logger *zap.Logger) error {
	for _, m := range []Module{drt.NewModule(), vog.NewModule()} {
		if err := registry.Register(m); err != nil {
			return err
		}
	}

	logger.Info("Built-in device modules registered", zap.Int("modules", 2))
	return nil
}

// RegisterConfiguredModules registers profiles declared in configuration,
// served by the generic controller. They match after the built-in modules.
func RegisterConfiguredModules(registry *Registry, profiles []config.ProfileConfig, logger *zap.Logger) error {
	for i, p := range profiles {
		profile, err := profileFromConfig(p)
		if err != nil {
			return fmt.Errorf("scanner.profiles[%d]: %w", i, err)
		}
		if err := registry.Register(NewGenericModule(profile, "", "")); err != nil {
			return fmt.Errorf("scanner.profiles[%d]: %w", i, err)
		}
	}

	if len(profiles) > 0 {
		logger.Info("Configured device modules registered", zap.Int("modules", len(profiles)))
	}
	return nil
}

func profileFromConfig(p config.ProfileConfig) (model.DeviceProfile, error) {
	vid, err := model.ParseUSBID(p.VendorID)
	if err != nil {
		return model.DeviceProfile{}, fmt.Errorf("vendor_id: %w", err)
	}
	pid, err := model.ParseUSBID(p.ProductID)
	if err != nil {
		return model.DeviceProfile{}, fmt.Errorf("product_id: %w", err)
	}
	return model.DeviceProfile{DeviceType: p.DeviceType, VendorID: vid, ProductID: pid}, nil
}
