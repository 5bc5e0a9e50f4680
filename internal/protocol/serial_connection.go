// internal/protocol/serial_connection.go
package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"device-scanner/internal/config"
	"device-scanner/internal/model"
)

// ErrConnectionClosed is returned by reads and writes after Close
var ErrConnectionClosed = errors.New("serial connection closed")

// Port is the subset of serial.Port used by SerialConnection
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// OpenFunc opens a named port with the given mode
type OpenFunc func(name string, mode *serial.Mode) (Port, error)

func openSerialPort(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// SerialOpener opens serial ports of matched devices. It implements scanner.Opener.
type SerialOpener struct {
	mode        *serial.Mode
	readTimeout time.Duration
	open        OpenFunc
	logger      *zap.Logger
}

// NewSerialOpener creates an opener from the serial configuration
func NewSerialOpener(cfg *config.SerialConfig, logger *zap.Logger) (*SerialOpener, error) {
	return NewSerialOpenerWithFunc(cfg, openSerialPort, logger)
}

// NewSerialOpenerWithFunc creates an opener using a custom open function
func NewSerialOpenerWithFunc(cfg *config.SerialConfig, open OpenFunc, logger *zap.Logger) (*SerialOpener, error) {
	mode, err := BuildMode(cfg)
	if err != nil {
		return nil, err
	}

	return &SerialOpener{
		mode:        mode,
		readTimeout: cfg.ReadTimeout,
		open:        open,
		logger:      logger.With(zap.String("protocol", "serial")),
	}, nil
}

// Open opens the port once. Retrying is the caller's concern.
func (o *SerialOpener) Open(portID string) (model.Connection, error) {
	o.logger.Debug("Opening serial port",
		zap.String("port", portID),
		zap.Int("baud_rate", o.mode.BaudRate),
	)

	port, err := o.open(portID, o.mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portID, err)
	}

	if o.readTimeout > 0 {
		if err := port.SetReadTimeout(o.readTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}
	}

	return newSerialConnection(portID, port, o.logger), nil
}

// SerialConnection is an open serial port handle
type SerialConnection struct {
	portID string
	port   Port
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
	stats  ConnectionStats
}

func newSerialConnection(portID string, port Port, logger *zap.Logger) *SerialConnection {
	now := time.Now()
	return &SerialConnection{
		portID: portID,
		port:   port,
		logger: logger.With(zap.String("port", portID)),
		isOpen: true,
		stats: ConnectionStats{
			OpenedAt:     now,
			LastActivity: now,
			IsConnected:  true,
		},
	}
}

// PortID returns the OS port name
func (sc *SerialConnection) PortID() string {
	return sc.portID
}

// Read reads from the serial port
func (sc *SerialConnection) Read(p []byte) (int, error) {
	sc.mutex.RLock()
	if !sc.isOpen {
		sc.mutex.RUnlock()
		return 0, ErrConnectionClosed
	}
	port := sc.port
	sc.mutex.RUnlock()

	n, err := port.Read(p)

	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	if err != nil && !errors.Is(err, io.EOF) {
		sc.stats.ErrorCount++
		return n, fmt.Errorf("failed to read from serial port: %w", err)
	}
	sc.stats.BytesRead += int64(n)
	sc.stats.LastActivity = time.Now()
	return n, err
}

// Write writes to the serial port
func (sc *SerialConnection) Write(p []byte) (int, error) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen {
		return 0, ErrConnectionClosed
	}

	n, err := sc.port.Write(p)
	if err != nil {
		sc.stats.ErrorCount++
		sc.logger.Error("Serial write failed", zap.Error(err))
		return n, fmt.Errorf("failed to write to serial port: %w", err)
	}
	if n != len(p) {
		sc.stats.ErrorCount++
		return n, fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(p))
	}

	sc.stats.BytesWritten += int64(n)
	sc.stats.LastActivity = time.Now()
	return n, nil
}

// Close closes the serial port. Closing twice is a no-op.
func (sc *SerialConnection) Close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen {
		return nil
	}
	sc.isOpen = false
	sc.stats.IsConnected = false

	if err := sc.port.Close(); err != nil {
		sc.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sc.logger.Debug("Serial port closed")
	return nil
}

// IsOpen returns whether the connection is open
func (sc *SerialConnection) IsOpen() bool {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return sc.isOpen
}

// Stats returns a copy of the connection statistics
func (sc *SerialConnection) Stats() ConnectionStats {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return sc.stats
}
