package directory

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. Demographics are owned elsewhere; this
// service only reads them.
type Patient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	MRNo      string    `db:"mr_no" json:"mrNo"`
	FirstName string    `db:"first_name" json:"firstName"`
	LastName  string    `db:"last_name" json:"lastName"`
	Gender    *string   `db:"gender" json:"gender,omitempty"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// PatientSummary is the patient block embedded in admission views.
type PatientSummary struct {
	ID     uuid.UUID `json:"id"`
	MRNo   string    `json:"mrNo"`
	Name   string    `json:"name"`
	Gender string    `json:"gender,omitempty"`
	Phone  string    `json:"phone,omitempty"`
}

func (p *Patient) Summary() *PatientSummary {
	s := &PatientSummary{
		ID:   p.ID,
		MRNo: p.MRNo,
		Name: strings.TrimSpace(p.FirstName + " " + p.LastName),
	}
	if p.Gender != nil {
		s.Gender = *p.Gender
	}
	if p.Phone != nil {
		s.Phone = *p.Phone
	}
	return s
}

// Department maps to the department table. WardIDs is read from the
// department_ward link table.
type Department struct {
	ID        uuid.UUID   `db:"id" json:"id"`
	Name      string      `db:"name" json:"name"`
	WardIDs   []uuid.UUID `json:"wardIds"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
}

// Doctor maps to the doctor table.
type Doctor struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Name string    `db:"name" json:"name"`
}
