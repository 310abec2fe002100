package ward

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/adt/internal/platform/apperr"
)

const (
	DefaultWardType = "General"
	MaxBedsPerWard  = 500
)

// Room is informational; rooms are not allocated.
type Room struct {
	RoomNumber string   `json:"roomNumber"`
	Capacity   int      `json:"capacity"`
	Nurses     []string `json:"nurses,omitempty"`
}

type NurseAssignment struct {
	NurseID string `json:"nurseId"`
	Name    string `json:"name"`
	Shift   string `json:"shift,omitempty"`
}

// Stay is one occupancy interval of a bed. Stays are append-only; the only
// mutation is closing the open stay of the discharged patient.
type Stay struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patientId"`
	PatientMRNo   string     `db:"patient_mrno" json:"patientMRNo,omitempty"`
	AdmissionDate time.Time  `db:"admission_date" json:"admissionDate"`
	DischargeDate *time.Time `db:"discharge_date" json:"dischargeDate,omitempty"`

	dirty bool
}

// Bed is keyed by (WardID, BedNumber). Version is bumped on every persisted
// occupancy change.
type Bed struct {
	WardID           uuid.UUID  `db:"ward_id" json:"wardId"`
	BedNumber        string     `db:"bed_number" json:"bedNumber"`
	Position         int        `db:"position" json:"-"`
	Occupied         bool       `db:"occupied" json:"occupied"`
	CurrentPatientID *uuid.UUID `db:"current_patient_id" json:"currentPatientId"`
	Version          int        `db:"version" json:"version"`
	History          []Stay     `json:"history"`
}

// Ward maps to the ward table; Beds come from the bed and bed_stay tables.
type Ward struct {
	ID             uuid.UUID         `db:"id" json:"id"`
	Name           string            `db:"name" json:"name"`
	DepartmentName string            `db:"department_name" json:"departmentName"`
	WardNumber     int               `db:"ward_number" json:"wardNumber"`
	WardType       string            `db:"ward_type" json:"wardType"`
	BedCount       int               `db:"bed_count" json:"bedCount"`
	PDCharges      float64           `db:"pd_charges" json:"pdCharges"`
	Rooms          []Room            `db:"rooms" json:"rooms"`
	Nurses         []NurseAssignment `db:"nurses" json:"nurses"`
	Beds           []Bed             `json:"beds"`
	DeletedAt      *time.Time        `db:"deleted_at" json:"deletedAt,omitempty"`
	VersionID      int               `db:"version_id" json:"versionId"`
	CreatedAt      time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updatedAt"`
}

// OccupiedBeds returns the numbers of occupied beds in ward order.
func (w *Ward) OccupiedBeds() []string {
	var out []string
	for _, b := range w.Beds {
		if b.Occupied {
			out = append(out, b.BedNumber)
		}
	}
	return out
}

type CreateWardCommand struct {
	Name           string            `json:"name"`
	DepartmentName string            `json:"departmentName"`
	WardNumber     int               `json:"wardNumber"`
	WardType       string            `json:"wardType"`
	BedCount       int               `json:"bedCount"`
	PDCharges      float64           `json:"pdCharges"`
	Rooms          []Room            `json:"rooms"`
	Nurses         []NurseAssignment `json:"nurses"`
}

func (c *CreateWardCommand) Validate() error {
	c.Name = strings.TrimSpace(c.Name)
	c.DepartmentName = strings.TrimSpace(c.DepartmentName)
	c.WardType = strings.TrimSpace(c.WardType)
	if c.Name == "" {
		return apperr.Validation("name is required")
	}
	if c.DepartmentName == "" {
		return apperr.Validation("departmentName is required")
	}
	if c.WardNumber <= 0 {
		return apperr.Validation("wardNumber must be positive")
	}
	if c.BedCount < 1 || c.BedCount > MaxBedsPerWard {
		return apperr.Validation("bedCount must be between 1 and %d", MaxBedsPerWard)
	}
	if c.PDCharges < 0 {
		return apperr.Validation("pdCharges must not be negative")
	}
	if c.WardType == "" {
		c.WardType = DefaultWardType
	}
	return validateStaffing(c.Rooms, c.Nurses)
}

// UpdateWardCommand lists the patchable ward fields. The bed pool and the
// department link are fixed at creation.
type UpdateWardCommand struct {
	Name      *string            `json:"name"`
	WardType  *string            `json:"wardType"`
	PDCharges *float64           `json:"pdCharges"`
	Rooms     *[]Room            `json:"rooms"`
	Nurses    *[]NurseAssignment `json:"nurses"`
}

func (c *UpdateWardCommand) Validate() error {
	if c.Name == nil && c.WardType == nil && c.PDCharges == nil && c.Rooms == nil && c.Nurses == nil {
		return apperr.Validation("no updatable fields supplied")
	}
	if c.Name != nil && strings.TrimSpace(*c.Name) == "" {
		return apperr.Validation("name must not be empty")
	}
	if c.WardType != nil && strings.TrimSpace(*c.WardType) == "" {
		return apperr.Validation("wardType must not be empty")
	}
	if c.PDCharges != nil && *c.PDCharges < 0 {
		return apperr.Validation("pdCharges must not be negative")
	}
	var rooms []Room
	var nurses []NurseAssignment
	if c.Rooms != nil {
		rooms = *c.Rooms
	}
	if c.Nurses != nil {
		nurses = *c.Nurses
	}
	return validateStaffing(rooms, nurses)
}

func (c *UpdateWardCommand) Apply(w *Ward) {
	if c.Name != nil {
		w.Name = strings.TrimSpace(*c.Name)
	}
	if c.WardType != nil {
		w.WardType = strings.TrimSpace(*c.WardType)
	}
	if c.PDCharges != nil {
		w.PDCharges = *c.PDCharges
	}
	if c.Rooms != nil {
		w.Rooms = *c.Rooms
	}
	if c.Nurses != nil {
		w.Nurses = *c.Nurses
	}
}

func validateStaffing(rooms []Room, nurses []NurseAssignment) error {
	seen := make(map[string]bool, len(rooms))
	for i, r := range rooms {
		if strings.TrimSpace(r.RoomNumber) == "" {
			return apperr.Validation("rooms[%d].roomNumber is required", i)
		}
		if seen[r.RoomNumber] {
			return apperr.Validation("duplicate room %s", r.RoomNumber)
		}
		seen[r.RoomNumber] = true
		if r.Capacity < 0 {
			return apperr.Validation("rooms[%d].capacity must not be negative", i)
		}
	}
	for i, n := range nurses {
		if strings.TrimSpace(n.NurseID) == "" && strings.TrimSpace(n.Name) == "" {
			return apperr.Validation("nurses[%d] needs a nurseId or name", i)
		}
	}
	return nil
}
