// Package wardtest provides an in-memory ward.Repository for service tests.
package wardtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/adt/internal/domain/ward"
	"github.com/ehr/adt/internal/platform/apperr"
)

// Memory stores wards with full bed history. Every read returns a deep copy,
// so callers mutate their own values as they would rows read from Postgres.
type Memory struct {
	mu    sync.Mutex
	wards map[uuid.UUID]*ward.Ward
}

func NewMemory() *Memory {
	return &Memory{wards: make(map[uuid.UUID]*ward.Ward)}
}

func copyWard(w *ward.Ward, withHistory bool) *ward.Ward {
	cp := *w
	cp.Rooms = append([]ward.Room(nil), w.Rooms...)
	cp.Nurses = append([]ward.NurseAssignment(nil), w.Nurses...)
	cp.Beds = make([]ward.Bed, len(w.Beds))
	for i, b := range w.Beds {
		cp.Beds[i] = copyBed(b, withHistory, false)
	}
	if w.DeletedAt != nil {
		at := *w.DeletedAt
		cp.DeletedAt = &at
	}
	return &cp
}

func copyBed(b ward.Bed, withHistory, openOnly bool) ward.Bed {
	cp := b
	if b.CurrentPatientID != nil {
		id := *b.CurrentPatientID
		cp.CurrentPatientID = &id
	}
	cp.History = []ward.Stay{}
	if !withHistory {
		return cp
	}
	for _, s := range b.History {
		if openOnly && s.DischargeDate != nil {
			continue
		}
		if s.DischargeDate != nil {
			at := *s.DischargeDate
			s.DischargeDate = &at
		}
		cp.History = append(cp.History, s)
	}
	return cp
}

func (m *Memory) Create(_ context.Context, w *ward.Ward) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(w.Beds))
	for _, b := range w.Beds {
		if seen[b.BedNumber] {
			return apperr.Validation("duplicate bed numbers in ward %s", w.Name)
		}
		seen[b.BedNumber] = true
	}

	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if _, exists := m.wards[w.ID]; exists {
		return apperr.Conflict("ward %s already exists", w.ID)
	}
	now := time.Now().UTC()
	w.CreatedAt, w.UpdatedAt = now, now
	w.VersionID = 1
	w.BedCount = len(w.Beds)
	for i := range w.Beds {
		w.Beds[i].WardID = w.ID
		w.Beds[i].Version = 1
	}
	m.wards[w.ID] = copyWard(w, true)
	return nil
}

func (m *Memory) active(id uuid.UUID) (*ward.Ward, error) {
	w, ok := m.wards[id]
	if !ok || w.DeletedAt != nil {
		return nil, apperr.NotFound("ward")
	}
	return w, nil
}

func (m *Memory) GetByID(_ context.Context, id uuid.UUID) (*ward.Ward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.active(id)
	if err != nil {
		return nil, err
	}
	return copyWard(w, true), nil
}

func (m *Memory) List(_ context.Context) ([]*ward.Ward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ward.Ward
	for _, w := range m.wards {
		if w.DeletedAt == nil {
			out = append(out, copyWard(w, true))
		}
	}
	sortWards(out)
	return out, nil
}

func (m *Memory) ListByIDs(_ context.Context, ids []uuid.UUID, withHistory bool) ([]*ward.Ward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ward.Ward
	for _, id := range ids {
		if w, ok := m.wards[id]; ok {
			out = append(out, copyWard(w, withHistory))
		}
	}
	sortWards(out)
	return out, nil
}

func sortWards(wards []*ward.Ward) {
	sort.SliceStable(wards, func(i, j int) bool {
		if wards[i].WardNumber != wards[j].WardNumber {
			return wards[i].WardNumber < wards[j].WardNumber
		}
		return wards[i].CreatedAt.Before(wards[j].CreatedAt)
	})
}

func (m *Memory) Update(_ context.Context, w *ward.Ward) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, err := m.active(w.ID)
	if err != nil {
		return err
	}
	stored.Name = w.Name
	stored.WardType = w.WardType
	stored.PDCharges = w.PDCharges
	stored.Rooms = append([]ward.Room(nil), w.Rooms...)
	stored.Nurses = append([]ward.NurseAssignment(nil), w.Nurses...)
	stored.VersionID++
	stored.UpdatedAt = time.Now().UTC()
	w.VersionID = stored.VersionID
	w.UpdatedAt = stored.UpdatedAt
	return nil
}

func (m *Memory) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, err := m.active(id)
	if err != nil {
		return err
	}
	stored.DeletedAt = &at
	stored.VersionID++
	return nil
}

// LockWard does not block; callers serialize through dbtest.Runner.
func (m *Memory) LockWard(_ context.Context, id uuid.UUID, _ ward.LockMode) (*ward.Ward, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, err := m.active(id)
	if err != nil {
		return nil, err
	}
	return copyWard(w, false), nil
}

func (m *Memory) bed(wardID uuid.UUID, bedNumber string) (*ward.Bed, error) {
	w, ok := m.wards[wardID]
	if !ok {
		return nil, apperr.NotFound("bed")
	}
	for i := range w.Beds {
		if w.Beds[i].BedNumber == bedNumber {
			return &w.Beds[i], nil
		}
	}
	return nil, apperr.NotFound("bed")
}

func (m *Memory) LockBed(_ context.Context, wardID uuid.UUID, bedNumber string) (*ward.Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.bed(wardID, bedNumber)
	if err != nil {
		return nil, err
	}
	cp := copyBed(*b, true, true)
	return &cp, nil
}

func (m *Memory) SaveBed(_ context.Context, b *ward.Bed) error {
	if err := ward.CheckInvariant(*b); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.bed(b.WardID, b.BedNumber)
	if err != nil {
		return err
	}
	if stored.Version != b.Version {
		return ward.ErrVersionConflict
	}

	saved := copyBed(*b, true, false)
	for _, s := range saved.History {
		merged := false
		for i := range stored.History {
			if stored.History[i].ID != s.ID {
				continue
			}
			stored.History[i].DischargeDate = s.DischargeDate
			if stored.History[i].PatientMRNo == "" {
				stored.History[i].PatientMRNo = s.PatientMRNo
			}
			merged = true
			break
		}
		if !merged {
			stored.History = append(stored.History, s)
		}
	}
	stored.Occupied = saved.Occupied
	stored.CurrentPatientID = saved.CurrentPatientID
	stored.Version++
	b.Version = stored.Version
	return nil
}

// Bed returns a copy of a stored bed with its full history.
func (m *Memory) Bed(wardID uuid.UUID, bedNumber string) (ward.Bed, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.bed(wardID, bedNumber)
	if err != nil {
		return ward.Bed{}, false
	}
	return copyBed(*b, true, false), true
}

// BumpBedVersion simulates a concurrent writer that changed the bed.
func (m *Memory) BumpBedVersion(wardID uuid.UUID, bedNumber string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, err := m.bed(wardID, bedNumber); err == nil {
		b.Version++
	}
}

// Snapshot implements dbtest.Snapshotter.
func (m *Memory) Snapshot() func() {
	m.mu.Lock()
	saved := make(map[uuid.UUID]*ward.Ward, len(m.wards))
	for id, w := range m.wards {
		saved[id] = copyWard(w, true)
	}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.wards = saved
		m.mu.Unlock()
	}
}
