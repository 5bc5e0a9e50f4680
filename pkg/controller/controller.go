// pkg/controller/controller.go
package controller

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"device-scanner/internal/model"
)

// ErrClosed is returned by Send after the controller has been closed
var ErrClosed = errors.New("controller closed")

// Controller is the per-device object built from an attach event. It owns the
// connection it was built with.
type Controller interface {
	DeviceType() string
	PortID() string
	Info() Info
	Close() error
}

// Info describes a controller for status listings
type Info struct {
	DeviceType   string    `json:"device_type"`
	PortID       string    `json:"port_id"`
	Model        string    `json:"model,omitempty"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	Connected    bool      `json:"connected"`
	CreatedAt    time.Time `json:"created_at"`
	ClosedAt     time.Time `json:"closed_at,omitzero"`
}

// Generic is a line-oriented controller usable by any serial device module
type Generic struct {
	info   Info
	conn   model.Connection
	logger *zap.Logger
	mutex  sync.RWMutex
	closed bool
}

// NewGeneric creates a controller that takes ownership of conn
func NewGeneric(deviceType, modelName, manufacturer string, conn model.Connection, logger *zap.Logger) *Generic {
	return &Generic{
		info: Info{
			DeviceType:   deviceType,
			PortID:       conn.PortID(),
			Model:        modelName,
			Manufacturer: manufacturer,
			Connected:    true,
			CreatedAt:    time.Now(),
		},
		conn: conn,
		logger: logger.With(
			zap.String("device_type", deviceType),
			zap.String("port", conn.PortID()),
		),
	}
}

// DeviceType returns the device type tag
func (g *Generic) DeviceType() string {
	return g.info.DeviceType
}

// PortID returns the port the device is attached to
func (g *Generic) PortID() string {
	return g.info.PortID
}

// Info returns a snapshot of the controller state
func (g *Generic) Info() Info {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.info
}

// Send writes one newline-terminated command to the device
func (g *Generic) Send(command string) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.closed {
		return ErrClosed
	}

	if _, err := g.conn.Write([]byte(command + "\n")); err != nil {
		return fmt.Errorf("failed to send %q: %w", command, err)
	}

	g.logger.Debug("Command sent", zap.String("command", command))
	return nil
}

// Close releases the connection. Closing twice is a no-op.
func (g *Generic) Close() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	g.info.Connected = false
	g.info.ClosedAt = time.Now()

	if err := g.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}

	g.logger.Info("Controller closed")
	return nil
}
