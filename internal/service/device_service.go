// internal/service/device_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"device-scanner/internal/discovery/usb"
	"device-scanner/internal/model"
	"device-scanner/internal/utils"
	"device-scanner/pkg/controller"
)

// ErrDeviceNotFound is returned when no live device is attached to a port
var ErrDeviceNotFound = errors.New("device not found")

// ConnectionErrorMessage is the alert shown when a matched device cannot be opened
const ConnectionErrorMessage = "Could not connect to the device, please unplug it and plug it back in"

// ControllerFactory builds controllers for attached devices
type ControllerFactory interface {
	NewController(deviceType string, conn model.Connection) (controller.Controller, error)
}

// Describer resolves descriptor strings for a port
type Describer interface {
	Describe(port model.ObservedPort) usb.Description
}

// Journal records lifecycle events
type Journal interface {
	Insert(ctx context.Context, event model.LifecycleEvent) error
}

// Publisher fans notifications out to observers
type Publisher interface {
	Publish(n Notification)
}

// Notification is what observers of the device table receive
type Notification struct {
	Type       model.EventType   `json:"type"`
	EventID    string            `json:"event_id"`
	DeviceType string            `json:"device_type,omitempty"`
	PortID     string            `json:"port_id"`
	Message    string            `json:"message,omitempty"`
	Device     *model.DeviceInfo `json:"device,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Stats counts handled lifecycle events
type Stats struct {
	LiveDevices      int       `json:"live_devices"`
	Attached         int64     `json:"attached"`
	Removed          int64     `json:"removed"`
	ConnectionErrors int64     `json:"connection_errors"`
	LastEventAt      time.Time `json:"last_event_at,omitzero"`
}

type liveDevice struct {
	ctrl controller.Controller
	info model.DeviceInfo
}

// DeviceService consumes scanner events and keeps the table of live devices
type DeviceService struct {
	factory   ControllerFactory
	publisher Publisher
	describer Describer
	journal   Journal
	logger    *utils.ServiceLogger

	devices map[string]*liveDevice
	stats   Stats
	mutex   sync.RWMutex
}

// Option configures optional collaborators
type Option func(*DeviceService)

// WithDescriber enriches device info with USB descriptor strings
func WithDescriber(d Describer) Option {
	return func(ds *DeviceService) { ds.describer = d }
}

// WithJournal records every handled event
func WithJournal(j Journal) Option {
	return func(ds *DeviceService) { ds.journal = j }
}

// NewDeviceService creates a new device service instance. publisher may be nil.
func NewDeviceService(factory ControllerFactory, publisher Publisher, logger *zap.Logger, opts ...Option) *DeviceService {
	ds := &DeviceService{
		factory:   factory,
		publisher: publisher,
		logger:    utils.NewServiceLogger(logger, "device-service"),
		devices:   make(map[string]*liveDevice),
	}
	for _, opt := range opts {
		opt(ds)
	}
	return ds
}

// Run drains events until the channel is closed or ctx is done
func (ds *DeviceService) Run(ctx context.Context, events <-chan model.LifecycleEvent) {
	ds.logger.Info("Device service consuming lifecycle events")
	defer ds.logger.Info("Device service stopped consuming events")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			ds.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent applies one lifecycle event to the device table
func (ds *DeviceService) HandleEvent(ctx context.Context, ev model.LifecycleEvent) {
	switch ev.Type {
	case model.EventDeviceAttached:
		ds.handleAttached(ev)
	case model.EventDeviceRemoved:
		ds.handleRemoved(ev)
	case model.EventConnectionError:
		ds.handleConnectionError(ev)
	default:
		ds.logger.Warn("Unknown lifecycle event type", zap.String("type", string(ev.Type)))
		return
	}

	ds.record(ctx, ev)
}

func (ds *DeviceService) handleAttached(ev model.LifecycleEvent) {
	deviceLogger := utils.NewDeviceLogger(ds.logger.Logger, ev.DeviceType, ev.PortID)

	if ev.Connection == nil {
		deviceLogger.Error("Attach event without connection")
		return
	}

	ctrl, err := ds.factory.NewController(ev.DeviceType, ev.Connection)
	if err != nil {
		deviceLogger.LogConnection("create_controller", false, err)
		if closeErr := ev.Connection.Close(); closeErr != nil {
			deviceLogger.Warn("Failed to close connection", zap.Error(closeErr))
		}
		return
	}

	info := ds.buildInfo(ev)

	ds.mutex.Lock()
	previous := ds.devices[ev.PortID]
	ds.devices[ev.PortID] = &liveDevice{ctrl: ctrl, info: info}
	ds.stats.Attached++
	ds.stats.LastEventAt = ev.Timestamp
	ds.mutex.Unlock()

	if previous != nil {
		deviceLogger.Warn("Replacing stale controller on port", zap.String("previous_type", previous.info.DeviceType))
		if err := previous.ctrl.Close(); err != nil {
			deviceLogger.Warn("Failed to close stale controller", zap.Error(err))
		}
	}

	deviceLogger.LogConnection("attach", true, nil)
	ds.publish(Notification{
		Type:       model.EventDeviceAttached,
		EventID:    ev.ID.String(),
		DeviceType: ev.DeviceType,
		PortID:     ev.PortID,
		Message:    fmt.Sprintf("%s connected on %s", ev.DeviceType, ev.PortID),
		Device:     &info,
		Timestamp:  ev.Timestamp,
	})
}

func (ds *DeviceService) handleRemoved(ev model.LifecycleEvent) {
	ds.mutex.Lock()
	live, ok := ds.devices[ev.PortID]
	if ok {
		delete(ds.devices, ev.PortID)
		ds.stats.Removed++
		ds.stats.LastEventAt = ev.Timestamp
	}
	ds.mutex.Unlock()

	if !ok {
		ds.logger.Debug("Removal for port without live device", zap.String("port", ev.PortID))
		return
	}

	deviceLogger := utils.NewDeviceLogger(ds.logger.Logger, live.info.DeviceType, ev.PortID)
	if err := live.ctrl.Close(); err != nil {
		deviceLogger.Warn("Failed to close controller", zap.Error(err))
	}
	deviceLogger.LogConnection("remove", true, nil)

	info := live.info
	info.Status = model.DeviceStatusOffline
	ds.publish(Notification{
		Type:       model.EventDeviceRemoved,
		EventID:    ev.ID.String(),
		DeviceType: info.DeviceType,
		PortID:     ev.PortID,
		Message:    fmt.Sprintf("%s disconnected from %s", info.DeviceType, ev.PortID),
		Device:     &info,
		Timestamp:  ev.Timestamp,
	})
}

func (ds *DeviceService) handleConnectionError(ev model.LifecycleEvent) {
	ds.mutex.Lock()
	ds.stats.ConnectionErrors++
	ds.stats.LastEventAt = ev.Timestamp
	ds.mutex.Unlock()

	utils.NewDeviceLogger(ds.logger.Logger, ev.DeviceType, ev.PortID).
		LogConnection("open", false, ev.Err)

	ds.publish(Notification{
		Type:       model.EventConnectionError,
		EventID:    ev.ID.String(),
		DeviceType: ev.DeviceType,
		PortID:     ev.PortID,
		Message:    ConnectionErrorMessage,
		Timestamp:  ev.Timestamp,
	})
}

func (ds *DeviceService) buildInfo(ev model.LifecycleEvent) model.DeviceInfo {
	info := model.DeviceInfo{
		DeviceType:   ev.DeviceType,
		PortID:       ev.PortID,
		VendorID:     ev.Port.VendorID,
		ProductID:    ev.Port.ProductID,
		Product:      ev.Port.Product,
		SerialNumber: ev.Port.SerialNumber,
		Status:       model.DeviceStatusOnline,
		AttachedAt:   ev.Timestamp,
	}

	if ds.describer != nil {
		desc := ds.describer.Describe(ev.Port)
		info.Manufacturer = desc.Manufacturer
		if desc.Product != "" {
			info.Product = desc.Product
		}
		if desc.SerialNumber != "" {
			info.SerialNumber = desc.SerialNumber
		}
	}
	return info
}

func (ds *DeviceService) record(ctx context.Context, ev model.LifecycleEvent) {
	if ds.journal == nil {
		return
	}
	if err := ds.journal.Insert(ctx, ev); err != nil {
		utils.LogError(ds.logger.Logger, "Failed to journal lifecycle event", err,
			zap.String("type", string(ev.Type)),
			zap.String("port", ev.PortID),
		)
	}
}

func (ds *DeviceService) publish(n Notification) {
	if ds.publisher != nil {
		ds.publisher.Publish(n)
	}
}

// ListDevices returns the live devices sorted by port id
func (ds *DeviceService) ListDevices() []model.DeviceInfo {
	ds.mutex.RLock()
	defer ds.mutex.RUnlock()

	devices := make([]model.DeviceInfo, 0, len(ds.devices))
	for _, d := range ds.devices {
		devices = append(devices, d.info)
	}
	slices.SortFunc(devices, func(a, b model.DeviceInfo) int {
		return strings.Compare(a.PortID, b.PortID)
	})
	return devices
}

// GetDevice returns the live device attached to portID
func (ds *DeviceService) GetDevice(portID string) (model.DeviceInfo, error) {
	ds.mutex.RLock()
	defer ds.mutex.RUnlock()

	d, ok := ds.devices[portID]
	if !ok {
		return model.DeviceInfo{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, portID)
	}
	return d.info, nil
}

// Controller returns the controller of the device attached to portID
func (ds *DeviceService) Controller(portID string) (controller.Controller, error) {
	ds.mutex.RLock()
	defer ds.mutex.RUnlock()

	d, ok := ds.devices[portID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, portID)
	}
	return d.ctrl, nil
}

// Stats returns event counters
func (ds *DeviceService) Stats() Stats {
	ds.mutex.RLock()
	defer ds.mutex.RUnlock()

	s := ds.stats
	s.LiveDevices = len(ds.devices)
	return s
}

// Shutdown closes every live controller and empties the table
func (ds *DeviceService) Shutdown() error {
	ds.mutex.Lock()
	devices := ds.devices
	ds.devices = make(map[string]*liveDevice)
	ds.mutex.Unlock()

	var errs []error
	for portID, d := range devices {
		if err := d.ctrl.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", portID, err))
		}
	}

	ds.logger.Info("Device service shut down", zap.Int("closed_devices", len(devices)))
	return errors.Join(errs...)
}
