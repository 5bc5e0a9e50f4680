// internal/repository/event_repository.go
package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"device-scanner/internal/database"
	"device-scanner/internal/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// eventRepository implements EventRepository on postgres
type eventRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *database.DB, logger *zap.Logger) EventRepository {
	return &eventRepository{
		db:     db,
		logger: logger.With(zap.String("component", "event-repository")),
	}
}

// Insert journals one lifecycle event
func (r *eventRepository) Insert(ctx context.Context, event model.LifecycleEvent) error {
	rec := NewEventRecord(event)

	query := `
		INSERT INTO lifecycle_events (
			id, event_type, device_type, port_id, vendor_id, product_id,
			serial_number, attempts, error_message, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, string(rec.Type), rec.DeviceType, rec.PortID,
		int(rec.VendorID), int(rec.ProductID), rec.SerialNumber,
		rec.Attempts, rec.ErrorMessage, rec.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert lifecycle event: %w", err)
	}

	r.logger.Debug("Lifecycle event journaled",
		zap.String("id", rec.ID.String()),
		zap.String("type", string(rec.Type)),
	)
	return nil
}

// ListRecent returns the newest events first
func (r *eventRepository) ListRecent(ctx context.Context, limit int) ([]EventRecord, error) {
	limit = ClampLimit(limit)

	query := `
		SELECT id, event_type, device_type, port_id, vendor_id, product_id,
			   serial_number, attempts, error_message, occurred_at, recorded_at
		FROM lifecycle_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list lifecycle events: %w", err)
	}
	defer rows.Close()

	records := make([]EventRecord, 0, limit)
	for rows.Next() {
		var (
			rec       EventRecord
			eventType string
			vendorID  int
			productID int
		)
		if err := rows.Scan(
			&rec.ID, &eventType, &rec.DeviceType, &rec.PortID, &vendorID, &productID,
			&rec.SerialNumber, &rec.Attempts, &rec.ErrorMessage, &rec.OccurredAt, &rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan lifecycle event: %w", err)
		}
		rec.Type = model.EventType(eventType)
		rec.VendorID = uint16(vendorID)
		rec.ProductID = uint16(productID)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lifecycle events: %w", err)
	}
	return records, nil
}

// DeleteBefore prunes events older than cutoff
func (r *eventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM lifecycle_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune lifecycle events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned events: %w", err)
	}

	if n > 0 {
		r.logger.Info("Pruned lifecycle events", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// ClampLimit bounds a requested page size
func ClampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
