package admission

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/adt/internal/domain/directory"
	"github.com/ehr/adt/internal/platform/apperr"
)

type Status string

const (
	StatusAdmitted    Status = "Admitted"
	StatusDischarged  Status = "Discharged"
	StatusTransferred Status = "Transferred"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAdmitted, StatusDischarged, StatusTransferred:
		return true
	}
	return false
}

// Lifecycle is either Active(status) or Deleted(previous status, deletedAt).
// Its fields are unexported so a deleted record can never be admitted.
type Lifecycle struct {
	status    Status
	deletedAt *time.Time
}

func Active(s Status) Lifecycle {
	return Lifecycle{status: s}
}

func restoreLifecycle(s Status, deletedAt *time.Time) Lifecycle {
	return Lifecycle{status: s, deletedAt: deletedAt}
}

// Status returns the current status, or the status held before deletion.
func (l Lifecycle) Status() Status { return l.status }

func (l Lifecycle) IsDeleted() bool { return l.deletedAt != nil }

func (l Lifecycle) DeletedAt() *time.Time { return l.deletedAt }

// IsAdmitted reports Active(Admitted).
func (l Lifecycle) IsAdmitted() bool {
	return l.deletedAt == nil && l.status == StatusAdmitted
}

// Delete moves the lifecycle to Deleted. Deleting twice keeps the first
// deletion time.
func (l Lifecycle) Delete(at time.Time) Lifecycle {
	if l.deletedAt != nil {
		return l
	}
	return Lifecycle{status: l.status, deletedAt: &at}
}

// TransitionTo returns the lifecycle after a status change. Only Admitted
// may move, and only to Discharged or Transferred; staying in the current
// status is allowed.
func (l Lifecycle) TransitionTo(next Status) (Lifecycle, error) {
	if l.deletedAt != nil {
		return l, apperr.Conflict("admission is deleted")
	}
	if !next.Valid() {
		return l, apperr.Validation("unknown status %q", next)
	}
	if next == l.status {
		return l, nil
	}
	if l.status != StatusAdmitted {
		return l, apperr.Validation("illegal status transition %s -> %s", l.status, next)
	}
	return Active(next), nil
}

type AdmissionDetails struct {
	AdmissionDate   time.Time  `json:"admission_Date"`
	DischargeDate   *time.Time `json:"discharge_Date"`
	AdmittingDoctor *uuid.UUID `json:"admitting_Doctor,omitempty"`
	Diagnosis       string     `json:"diagnosis"`
	AdmissionType   string     `json:"admission_Type"`
}

// WardInformation is denormalised from the ward at admission time.
type WardInformation struct {
	WardID    uuid.UUID `json:"ward_Id"`
	WardNo    int       `json:"ward_No"`
	BedNo     string    `json:"bed_No"`
	WardType  string    `json:"ward_Type"`
	PDCharges float64   `json:"pdCharges"`
}

type Financials struct {
	AdmissionFee  float64 `json:"admission_Fee"`
	Discount      float64 `json:"discount"`
	TotalCharges  float64 `json:"total_Charges"`
	PaymentStatus string  `json:"payment_Status"`
}

const DefaultPaymentStatus = "Pending"

// Admission maps to the admission table.
type Admission struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	Details         AdmissionDetails
	Ward            WardInformation
	Financials      Financials
	Lifecycle       Lifecycle
	TransferredFrom *uuid.UUID
	VersionID       int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WardSummary is the ward and bed display data joined into views.
type WardSummary struct {
	Name           string `json:"name"`
	WardNumber     int    `json:"wardNumber"`
	DepartmentName string `json:"departmentName"`
	BedOccupied    bool   `json:"bedOccupied"`
}

// View is the API representation of an admission.
type View struct {
	ID               uuid.UUID                 `json:"id"`
	PatientID        uuid.UUID                 `json:"patientId"`
	Patient          *directory.PatientSummary `json:"patient,omitempty"`
	AdmissionDetails AdmissionDetails          `json:"admission_Details"`
	WardInformation  WardInformation           `json:"ward_Information"`
	Financials       Financials                `json:"financials"`
	Status           Status                    `json:"status"`
	Deleted          bool                      `json:"deleted"`
	DeletedAt        *time.Time                `json:"deletedAt,omitempty"`
	TransferredFrom  *uuid.UUID                `json:"transferredFrom,omitempty"`
	Ward             *WardSummary              `json:"ward,omitempty"`
	DaysAdmitted     int                       `json:"daysAdmitted"`
	VersionID        int                       `json:"versionId"`
	CreatedAt        time.Time                 `json:"createdAt"`
	UpdatedAt        time.Time                 `json:"updatedAt"`
}

// NewView renders a without joined data. DaysAdmitted counts up to the
// discharge date, or to now while the patient is still in the bed.
func NewView(a *Admission, now time.Time) *View {
	end := now
	if a.Details.DischargeDate != nil {
		end = *a.Details.DischargeDate
	}
	return &View{
		ID:               a.ID,
		PatientID:        a.PatientID,
		AdmissionDetails: a.Details,
		WardInformation:  a.Ward,
		Financials:       a.Financials,
		Status:           a.Lifecycle.Status(),
		Deleted:          a.Lifecycle.IsDeleted(),
		DeletedAt:        a.Lifecycle.DeletedAt(),
		TransferredFrom:  a.TransferredFrom,
		DaysAdmitted:     DaysBetween(a.Details.AdmissionDate, end),
		VersionID:        a.VersionID,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

// DaysBetween returns the started days from from to to, never negative.
func DaysBetween(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// ListFilter narrows ListAdmitted. Zero fields do not filter.
type ListFilter struct {
	WardType      string
	WardID        *uuid.UUID
	AdmissionType string
}
