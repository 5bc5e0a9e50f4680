// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of lifecycle event
type EventType string

const (
	EventDeviceAttached  EventType = "DEVICE_ATTACHED"
	EventDeviceRemoved   EventType = "DEVICE_REMOVED"
	EventConnectionError EventType = "CONNECTION_ERROR"
)

// LifecycleEvent is the scanner's output vocabulary. Connection is only set on
// attach events and is owned by whoever consumes that event.
type LifecycleEvent struct {
	ID         uuid.UUID    `json:"id"`
	Type       EventType    `json:"type"`
	DeviceType string       `json:"device_type,omitempty"`
	PortID     string       `json:"port_id"`
	Port       ObservedPort `json:"port"`
	Connection Connection   `json:"-"`
	Attempts   int          `json:"attempts,omitempty"`
	Err        error        `json:"-"`
	Timestamp  time.Time    `json:"timestamp"`
}

// NewAttachedEvent creates a device-attached event carrying the open connection
func NewAttachedEvent(deviceType string, port ObservedPort, conn Connection, now time.Time) LifecycleEvent {
	return LifecycleEvent{
		ID:         uuid.New(),
		Type:       EventDeviceAttached,
		DeviceType: deviceType,
		PortID:     port.PortID,
		Port:       port,
		Connection: conn,
		Timestamp:  now,
	}
}

// NewRemovedEvent creates a device-removed event
func NewRemovedEvent(deviceType string, port ObservedPort, now time.Time) LifecycleEvent {
	return LifecycleEvent{
		ID:         uuid.New(),
		Type:       EventDeviceRemoved,
		DeviceType: deviceType,
		PortID:     port.PortID,
		Port:       port,
		Timestamp:  now,
	}
}

// NewConnectionErrorEvent creates an event for a matched device that could not be opened
func NewConnectionErrorEvent(deviceType string, port ObservedPort, attempts int, err error, now time.Time) LifecycleEvent {
	return LifecycleEvent{
		ID:         uuid.New(),
		Type:       EventConnectionError,
		DeviceType: deviceType,
		PortID:     port.PortID,
		Port:       port,
		Attempts:   attempts,
		Err:        err,
		Timestamp:  now,
	}
}

// ErrorMessage returns the error text, or "" when the event carries no error
func (e LifecycleEvent) ErrorMessage() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
