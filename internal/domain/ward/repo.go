package ward

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrVersionConflict is returned by SaveBed when the bed changed since it was
// locked.
var ErrVersionConflict = errors.New("bed version conflict")

type LockMode int

const (
	// LockShare lets concurrent admissions proceed while blocking ward
	// updates and deletes.
	LockShare LockMode = iota
	LockExclusive
)

// Repository persists wards and their beds. Reads of soft-deleted wards fail
// with apperr NotFound("ward") except through ListByIDs.
type Repository interface {
	Create(ctx context.Context, w *Ward) error
	GetByID(ctx context.Context, id uuid.UUID) (*Ward, error)
	List(ctx context.Context) ([]*Ward, error)
	// ListByIDs includes soft-deleted wards; callers decide whether to show them.
	ListByIDs(ctx context.Context, ids []uuid.UUID, withHistory bool) ([]*Ward, error)
	Update(ctx context.Context, w *Ward) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error

	// LockWard locks the ward header for the rest of the transaction and
	// returns it with its beds, without stay history.
	LockWard(ctx context.Context, id uuid.UUID, mode LockMode) (*Ward, error)
	// LockBed locks one bed row and returns it with its open stays.
	LockBed(ctx context.Context, wardID uuid.UUID, bedNumber string) (*Bed, error)
	// SaveBed persists occupancy and stay changes of a bed obtained from
	// LockBed, failing with ErrVersionConflict on a stale version.
	SaveBed(ctx context.Context, b *Bed) error
}
