// Package directorytest provides an in-memory directory for tests of the
// ward and admission domains.
package directorytest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/adt/internal/domain/directory"
	"github.com/ehr/adt/internal/platform/apperr"
)

// Memory implements directory.PatientDirectory and
// directory.DoctorDirectory; Departments returns its
// directory.DepartmentRegistry view.
type Memory struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*directory.Patient
	depts    map[uuid.UUID]*directory.Department
	doctors  map[uuid.UUID]*directory.Doctor
}

func NewMemory() *Memory {
	return &Memory{
		patients: make(map[uuid.UUID]*directory.Patient),
		depts:    make(map[uuid.UUID]*directory.Department),
		doctors:  make(map[uuid.UUID]*directory.Doctor),
	}
}

// AddPatient registers a patient and returns it.
func (m *Memory) AddPatient(mrNo, first, last string) *directory.Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &directory.Patient{ID: uuid.New(), MRNo: mrNo, FirstName: first, LastName: last, CreatedAt: time.Now()}
	m.patients[p.ID] = p
	return p
}

func (m *Memory) AddDepartment(name string) *directory.Department {
	d := &directory.Department{Name: name}
	if err := m.Create(context.Background(), d); err != nil {
		panic(err)
	}
	return d
}

func (m *Memory) AddDoctor(name string) *directory.Doctor {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &directory.Doctor{ID: uuid.New(), Name: name}
	m.doctors[d.ID] = d
	return d
}

func (m *Memory) GetByID(_ context.Context, id uuid.UUID) (*directory.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient")
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) GetByMRNo(_ context.Context, mrNo string) (*directory.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patients {
		if p.MRNo == mrNo {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("patient")
}

func (m *Memory) GetByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*directory.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]*directory.Patient, len(ids))
	for _, id := range ids {
		if p, ok := m.patients[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (m *Memory) Create(_ context.Context, d *directory.Department) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.depts {
		if strings.EqualFold(existing.Name, d.Name) {
			return apperr.Conflict("department %q already exists", d.Name)
		}
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	stored := *d
	m.depts[d.ID] = &stored
	return nil
}

func (m *Memory) List(_ context.Context) ([]*directory.Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*directory.Department, 0, len(m.depts))
	for _, d := range m.depts {
		out = append(out, copyDept(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) FindByName(_ context.Context, name string) (*directory.Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.depts {
		if strings.EqualFold(d.Name, strings.TrimSpace(name)) {
			return copyDept(d), nil
		}
	}
	return nil, apperr.NotFound("department")
}

func (m *Memory) LinkWard(_ context.Context, departmentID, wardID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.depts[departmentID]
	if !ok {
		return apperr.NotFound("department")
	}
	for _, id := range d.WardIDs {
		if id == wardID {
			return apperr.Conflict("ward %s is already linked to department %s", wardID, departmentID)
		}
	}
	d.WardIDs = append(d.WardIDs, wardID)
	return nil
}

func (m *Memory) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.doctors[id]
	return ok, nil
}

// Departments adapts m to directory.DepartmentRegistry, whose GetByID
// collides with the patient lookup.
func (m *Memory) Departments() directory.DepartmentRegistry {
	return memoryDepartments{m}
}

type memoryDepartments struct {
	*Memory
}

func (d memoryDepartments) GetByID(_ context.Context, id uuid.UUID) (*directory.Department, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dept, ok := d.depts[id]
	if !ok {
		return nil, apperr.NotFound("department")
	}
	return copyDept(dept), nil
}

func copyDept(d *directory.Department) *directory.Department {
	cp := *d
	cp.WardIDs = append([]uuid.UUID(nil), d.WardIDs...)
	return &cp
}

// Snapshot implements dbtest.Snapshotter for department links.
func (m *Memory) Snapshot() func() {
	m.mu.Lock()
	saved := make(map[uuid.UUID]*directory.Department, len(m.depts))
	for id, d := range m.depts {
		saved[id] = copyDept(d)
	}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.depts = saved
		m.mu.Unlock()
	}
}
