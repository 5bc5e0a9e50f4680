// internal/repository/interfaces.go
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"device-scanner/internal/model"
)

// EventRepository defines lifecycle event journal operations
type EventRepository interface {
	Insert(ctx context.Context, event model.LifecycleEvent) error
	ListRecent(ctx context.Context, limit int) ([]EventRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventRecord is one journaled lifecycle event
type EventRecord struct {
	ID           uuid.UUID       `json:"id"`
	Type         model.EventType `json:"type"`
	DeviceType   string          `json:"device_type,omitempty"`
	PortID       string          `json:"port_id"`
	VendorID     uint16          `json:"vendor_id"`
	ProductID    uint16          `json:"product_id"`
	SerialNumber string          `json:"serial_number,omitempty"`
	Attempts     int             `json:"attempts,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
	RecordedAt   time.Time       `json:"recorded_at"`
}

// NewEventRecord flattens a lifecycle event for storage
func NewEventRecord(ev model.LifecycleEvent) EventRecord {
	return EventRecord{
		ID:           ev.ID,
		Type:         ev.Type,
		DeviceType:   ev.DeviceType,
		PortID:       ev.PortID,
		VendorID:     ev.Port.VendorID,
		ProductID:    ev.Port.ProductID,
		SerialNumber: ev.Port.SerialNumber,
		Attempts:     ev.Attempts,
		ErrorMessage: ev.ErrorMessage(),
		OccurredAt:   ev.Timestamp,
	}
}
