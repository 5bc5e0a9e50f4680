// Package serial lists serial ports with their USB vendor/product identifiers.
package serial

import (
	"fmt"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"device-scanner/internal/model"
)

// ListFunc returns the detailed port list. It is a field so tests can stub the OS.
type ListFunc func() ([]*enumerator.PortDetails, error)

// Enumerator implements scanner.Enumerator on top of go.bug.st/serial
type Enumerator struct {
	list   ListFunc
	logger *zap.Logger
}

// NewEnumerator creates an enumerator backed by the OS port list
func NewEnumerator(logger *zap.Logger) *Enumerator {
	return &Enumerator{
		list:   enumerator.GetDetailedPortsList,
		logger: logger.With(zap.String("component", "serial-enumerator")),
	}
}

// NewEnumeratorWithList creates an enumerator using a custom list function
func NewEnumeratorWithList(list ListFunc, logger *zap.Logger) *Enumerator {
	return &Enumerator{
		list:   list,
		logger: logger.With(zap.String("component", "serial-enumerator")),
	}
}

// Ports returns the ports currently present, in OS enumeration order
func (e *Enumerator) Ports() ([]model.ObservedPort, error) {
	details, err := e.list()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	ports := make([]model.ObservedPort, 0, len(details))
	for _, d := range details {
		if d == nil || d.Name == "" {
			continue
		}
		ports = append(ports, e.toObservedPort(d))
	}

	return ports, nil
}

// toObservedPort converts enumerator details. Ports without parseable USB
// ids are kept with zero ids so they are remembered but never matched.
func (e *Enumerator) toObservedPort(d *enumerator.PortDetails) model.ObservedPort {
	port := model.ObservedPort{
		PortID:       d.Name,
		IsUSB:        d.IsUSB,
		SerialNumber: d.SerialNumber,
		Product:      d.Product,
	}

	if !d.IsUSB {
		return port
	}

	vid, err := model.ParseUSBID(d.VID)
	if err != nil {
		e.logger.Debug("Unparseable vendor id", zap.String("port", d.Name), zap.String("vid", d.VID))
		return port
	}
	pid, err := model.ParseUSBID(d.PID)
	if err != nil {
		e.logger.Debug("Unparseable product id", zap.String("port", d.Name), zap.String("pid", d.PID))
		return port
	}

	port.VendorID = vid
	port.ProductID = pid
	return port
}
