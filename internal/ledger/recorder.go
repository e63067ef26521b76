package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/storeline/walkin/internal/domain"
	"github.com/storeline/walkin/pkg/database"
)

// Recorder appends immutable movement records. It never reads or
// mutates stock counters; a failed append fails the enclosing
// transaction so counters and audit commit together.
type Recorder struct{}

// NewRecorder creates a movement recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append inserts one movement record using the caller's transaction.
func (r *Recorder) Append(ctx context.Context, q database.Querier, rec *domain.MovementRecord) (*domain.MovementRecord, error) {
	if !domain.IsValidMovementType(rec.MovementType) {
		return nil, fmt.Errorf("invalid movement type %q", rec.MovementType)
	}

	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO movement_records
			(id, product_id, variant_id, movement_type, quantity,
			 location_from, location_to, reference_type, reference_id,
			 performed_by, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := q.Exec(ctx, query,
		rec.ID,
		rec.ProductID,
		rec.VariantID,
		rec.MovementType,
		rec.Quantity,
		rec.LocationFrom,
		rec.LocationTo,
		rec.ReferenceType,
		rec.ReferenceID,
		rec.PerformedBy,
		rec.Notes,
		rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("append movement record: %w", err)
	}

	return rec, nil
}
