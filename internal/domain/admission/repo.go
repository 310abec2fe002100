package admission

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/adt/pkg/pagination"
)

// Repository persists admissions. Lookups that find nothing fail with
// apperr NotFound("admission"); writes that would give a patient or a bed a
// second active admission fail with apperr Conflict.
type Repository interface {
	Create(ctx context.Context, a *Admission) error
	// GetByID returns deleted admissions too.
	GetByID(ctx context.Context, id uuid.UUID) (*Admission, error)
	// LockByID is GetByID holding a row lock until the transaction ends.
	LockByID(ctx context.Context, id uuid.UUID) (*Admission, error)
	ActiveByPatient(ctx context.Context, patientID uuid.UUID) (*Admission, error)
	LockActiveByBed(ctx context.Context, wardID uuid.UUID, bedNo string) (*Admission, error)
	// ListAdmitted returns one page of active admissions, newest first, and
	// the total number of matches.
	ListAdmitted(ctx context.Context, f ListFilter, p pagination.Params) ([]*Admission, int, error)
	// Update writes every mutable column, failing Conflict when the record
	// changed since it was read.
	Update(ctx context.Context, a *Admission) error
}
