// internal/driver/registry.go
package driver

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"device-scanner/internal/model"
	"device-scanner/pkg/controller"
)

var (
	// ErrDuplicateDeviceType is returned when a device type is registered twice
	ErrDuplicateDeviceType = errors.New("device type already registered")
	// ErrUnknownDeviceType is returned when no module serves a device type
	ErrUnknownDeviceType = errors.New("unknown device type")
)

// Module describes one supported device: how to recognise it and how to build
// its controller from an open connection.
type Module interface {
	Profile() model.DeviceProfile
	NewController(conn model.Connection, logger *zap.Logger) (controller.Controller, error)
}

// Registry holds device modules in registration order
type Registry struct {
	modules []Module
	index   map[string]int
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		index:  make(map[string]int),
		logger: logger.With(zap.String("component", "driver-registry")),
	}
}

// Register adds a module. Device types must be unique.
func (r *Registry) Register(m Module) error {
	profile := m.Profile()
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[profile.DeviceType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDeviceType, profile.DeviceType)
	}

	for _, existing := range r.modules {
		if p := existing.Profile(); p.VendorID == profile.VendorID && p.ProductID == profile.ProductID {
			r.logger.Warn("Overlapping device profiles, earlier registration wins",
				zap.String("device_type", profile.DeviceType),
				zap.String("shadowed_by", p.DeviceType),
			)
		}
	}

	r.index[profile.DeviceType] = len(r.modules)
	r.modules = append(r.modules, m)

	r.logger.Info("Device module registered",
		zap.String("device_type", profile.DeviceType),
		zap.String("usb_id", fmt.Sprintf("%04X:%04X", profile.VendorID, profile.ProductID)),
	)
	return nil
}

// Profiles returns the registered profiles in registration order
func (r *Registry) Profiles() []model.DeviceProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profiles := make([]model.DeviceProfile, 0, len(r.modules))
	for _, m := range r.modules {
		profiles = append(profiles, m.Profile())
	}
	return profiles
}

// Module returns the module serving deviceType
func (r *Registry) Module(deviceType string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[deviceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDeviceType, deviceType)
	}
	return r.modules[i], nil
}

// Match returns the first module whose profile matches the port
func (r *Registry) Match(port model.ObservedPort) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.modules {
		if m.Profile().Matches(port) {
			return m, true
		}
	}
	return nil, false
}

// NewController builds the controller for an attached device
func (r *Registry) NewController(deviceType string, conn model.Connection) (controller.Controller, error) {
	m, err := r.Module(deviceType)
	if err != nil {
		return nil, err
	}

	ctrl, err := m.NewController(conn, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s controller: %w", deviceType, err)
	}
	return ctrl, nil
}

// Len returns the number of registered modules
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}
