package directory

import (
	"context"

	"github.com/google/uuid"
)

// PatientDirectory resolves patients referenced by admissions. Lookups of
// unknown patients fail with apperr NotFound("patient").
type PatientDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByMRNo(ctx context.Context, mrNo string) (*Patient, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Patient, error)
}

// DepartmentRegistry stores departments and their ward links.
type DepartmentRegistry interface {
	Create(ctx context.Context, d *Department) error
	List(ctx context.Context) ([]*Department, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Department, error)
	// FindByName matches the whole name case-insensitively.
	FindByName(ctx context.Context, name string) (*Department, error)
	LinkWard(ctx context.Context, departmentID, wardID uuid.UUID) error
}

// DoctorDirectory answers whether an admitting doctor reference exists.
type DoctorDirectory interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}
