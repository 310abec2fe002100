package admission

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/adt/internal/platform/apperr"
	"github.com/ehr/adt/pkg/pagination"
)

// memRepo mirrors the admission table including its one-active-admission
// unique indexes.
type memRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Admission
}

func newMemRepo() *memRepo {
	return &memRepo{items: make(map[uuid.UUID]*Admission)}
}

func cloneAdmission(a *Admission) *Admission {
	cp := *a
	return &cp
}

func (r *memRepo) checkUnique(a *Admission) error {
	if !a.Lifecycle.IsAdmitted() {
		return nil
	}
	for _, other := range r.items {
		if other.ID == a.ID || !other.Lifecycle.IsAdmitted() {
			continue
		}
		if other.PatientID == a.PatientID {
			return apperr.Conflict("patient is already admitted")
		}
		if other.Ward.WardID == a.Ward.WardID && other.Ward.BedNo == a.Ward.BedNo {
			return apperr.Conflict("bed already has an active admission")
		}
	}
	return nil
}

func (r *memRepo) Create(_ context.Context, a *Admission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if _, ok := r.items[a.ID]; ok {
		return apperr.Conflict("admission already exists")
	}
	if err := r.checkUnique(a); err != nil {
		return err
	}
	a.VersionID = 1
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	r.items[a.ID] = cloneAdmission(a)
	return nil
}

// put stores a as is, bypassing every check.
func (r *memRepo) put(a *Admission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.VersionID == 0 {
		a.VersionID = 1
	}
	r.items[a.ID] = cloneAdmission(a)
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Admission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return nil, apperr.NotFound("admission")
	}
	return cloneAdmission(a), nil
}

func (r *memRepo) LockByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return r.GetByID(ctx, id)
}

func (r *memRepo) find(match func(*Admission) bool) (*Admission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.items {
		if a.Lifecycle.IsAdmitted() && match(a) {
			return cloneAdmission(a), nil
		}
	}
	return nil, apperr.NotFound("admission")
}

func (r *memRepo) ActiveByPatient(_ context.Context, patientID uuid.UUID) (*Admission, error) {
	return r.find(func(a *Admission) bool { return a.PatientID == patientID })
}

func (r *memRepo) LockActiveByBed(_ context.Context, wardID uuid.UUID, bedNo string) (*Admission, error) {
	return r.find(func(a *Admission) bool { return a.Ward.WardID == wardID && a.Ward.BedNo == bedNo })
}

func (r *memRepo) ListAdmitted(ctx context.Context, f ListFilter, p pagination.Params) ([]*Admission, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Admission
	for _, a := range r.items {
		if !a.Lifecycle.IsAdmitted() {
			continue
		}
		if f.WardType != "" && a.Ward.WardType != f.WardType {
			continue
		}
		if f.WardID != nil && a.Ward.WardID != *f.WardID {
			continue
		}
		if f.AdmissionType != "" && a.Details.AdmissionType != f.AdmissionType {
			continue
		}
		matched = append(matched, cloneAdmission(a))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Details.AdmissionDate.Equal(matched[j].Details.AdmissionDate) {
			return matched[i].Details.AdmissionDate.After(matched[j].Details.AdmissionDate)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	start := p.Offset
	if start > total {
		start = total
	}
	end := start + p.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *memRepo) Update(_ context.Context, a *Admission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.items[a.ID]
	if !ok || stored.VersionID != a.VersionID {
		return apperr.Conflict("admission %s was modified concurrently", a.ID)
	}
	if err := r.checkUnique(a); err != nil {
		return err
	}
	a.VersionID++
	a.UpdatedAt = time.Now().UTC()
	r.items[a.ID] = cloneAdmission(a)
	return nil
}

func (r *memRepo) Snapshot() func() {
	r.mu.Lock()
	saved := make(map[uuid.UUID]*Admission, len(r.items))
	for id, a := range r.items {
		saved[id] = cloneAdmission(a)
	}
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.items = saved
		r.mu.Unlock()
	}
}
