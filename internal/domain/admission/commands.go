package admission

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/adt/internal/platform/apperr"
)

type AdmitWard struct {
	WardID uuid.UUID `json:"ward_Id"`
	BedNo  string    `json:"bed_No"`
	// PDCharges overrides the ward's per-day charge when set.
	PDCharges *float64 `json:"pdCharges"`
}

type AdmitDetails struct {
	Diagnosis     string `json:"diagnosis"`
	AdmissionType string `json:"admission_Type"`
	// AdmittingDoctor is kept only when it names a known doctor; anything
	// else is dropped.
	AdmittingDoctor string `json:"admitting_Doctor"`
}

type AdmitFinancials struct {
	AdmissionFee  float64 `json:"admission_Fee"`
	Discount      float64 `json:"discount"`
	PaymentStatus string  `json:"payment_Status"`
}

type AdmitCommand struct {
	PatientID        uuid.UUID       `json:"patientId"`
	WardInformation  AdmitWard       `json:"ward_Information"`
	AdmissionDetails AdmitDetails    `json:"admission_Details"`
	Financials       AdmitFinancials `json:"financials"`
}

func (c *AdmitCommand) Validate() error {
	if c.PatientID == uuid.Nil {
		return apperr.Validation("patientId is required")
	}
	if c.WardInformation.WardID == uuid.Nil {
		return apperr.Validation("ward_Information.ward_Id is required")
	}
	c.WardInformation.BedNo = strings.TrimSpace(c.WardInformation.BedNo)
	if c.WardInformation.BedNo == "" {
		return apperr.Validation("ward_Information.bed_No is required")
	}
	if pd := c.WardInformation.PDCharges; pd != nil && *pd < 0 {
		return apperr.Validation("ward_Information.pdCharges must not be negative")
	}
	if err := validateAmounts(&c.Financials.AdmissionFee, &c.Financials.Discount); err != nil {
		return err
	}
	c.Financials.PaymentStatus = strings.TrimSpace(c.Financials.PaymentStatus)
	if c.Financials.PaymentStatus == "" {
		c.Financials.PaymentStatus = DefaultPaymentStatus
	}
	c.AdmissionDetails.Diagnosis = strings.TrimSpace(c.AdmissionDetails.Diagnosis)
	c.AdmissionDetails.AdmissionType = strings.TrimSpace(c.AdmissionDetails.AdmissionType)
	return nil
}

func validateAmounts(fee, discount *float64) error {
	if fee != nil && *fee < 0 {
		return apperr.Validation("financials.admission_Fee must not be negative")
	}
	if discount != nil && *discount < 0 {
		return apperr.Validation("financials.discount must not be negative")
	}
	return nil
}

type DetailsPatch struct {
	Diagnosis       *string    `json:"diagnosis"`
	AdmissionType   *string    `json:"admission_Type"`
	AdmittingDoctor *string    `json:"admitting_Doctor"`
	DischargeDate   *time.Time `json:"discharge_Date"`
}

type FinancialsPatch struct {
	AdmissionFee  *float64 `json:"admission_Fee"`
	Discount      *float64 `json:"discount"`
	PaymentStatus *string  `json:"payment_Status"`
}

// UpdateAdmissionCommand lists every field an update may touch. Moving the
// status from Admitted to Discharged or Transferred releases the bed and
// stamps the discharge date with the current time.
type UpdateAdmissionCommand struct {
	AdmissionDetails *DetailsPatch    `json:"admission_Details"`
	Financials       *FinancialsPatch `json:"financials"`
	Status           *Status          `json:"status"`
}

func (c *UpdateAdmissionCommand) Validate() error {
	if c.AdmissionDetails == nil && c.Financials == nil && c.Status == nil {
		return apperr.Validation("no updatable fields supplied")
	}
	if c.Status != nil && !c.Status.Valid() {
		return apperr.Validation("unknown status %q", *c.Status)
	}
	if f := c.Financials; f != nil {
		if err := validateAmounts(f.AdmissionFee, f.Discount); err != nil {
			return err
		}
		if f.PaymentStatus != nil && strings.TrimSpace(*f.PaymentStatus) == "" {
			return apperr.Validation("financials.payment_Status must not be empty")
		}
	}
	return nil
}

// DischargeTarget addresses an admission by id, or by the bed it occupies.
type DischargeTarget struct {
	AdmissionID uuid.UUID `json:"-"`
	WardID      uuid.UUID `json:"wardId"`
	BedNumber   string    `json:"bedNumber"`
}

func (t *DischargeTarget) Validate() error {
	if t.AdmissionID != uuid.Nil {
		return nil
	}
	t.BedNumber = strings.TrimSpace(t.BedNumber)
	if t.WardID == uuid.Nil || t.BedNumber == "" {
		return apperr.Validation("wardId and bedNumber are required")
	}
	return nil
}

type TransferCommand struct {
	WardID    uuid.UUID `json:"wardId"`
	BedNumber string    `json:"bedNumber"`
	PDCharges *float64  `json:"pdCharges"`
}

func (c *TransferCommand) Validate() error {
	c.BedNumber = strings.TrimSpace(c.BedNumber)
	if c.WardID == uuid.Nil || c.BedNumber == "" {
		return apperr.Validation("wardId and bedNumber are required")
	}
	if c.PDCharges != nil && *c.PDCharges < 0 {
		return apperr.Validation("pdCharges must not be negative")
	}
	return nil
}
