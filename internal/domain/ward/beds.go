package ward

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/adt/internal/platform/apperr"
)

// BedNumber formats the i-th (1-based) bed of a ward: B{wardNumber}-{i}.
func BedNumber(wardNumber, i int) string {
	return fmt.Sprintf("B%d-%d", wardNumber, i)
}

// GenerateBeds returns count free beds numbered for wardNumber.
func GenerateBeds(wardNumber, count int) []Bed {
	beds := make([]Bed, 0, count)
	for i := 1; i <= count; i++ {
		beds = append(beds, Bed{BedNumber: BedNumber(wardNumber, i), Position: i, Version: 1})
	}
	return beds
}

// FindBed returns the ward's bed with bedNumber. The NotFound error carries
// the ward's bed numbers as hint.
func FindBed(w *Ward, bedNumber string) (*Bed, error) {
	for i := range w.Beds {
		if w.Beds[i].BedNumber == bedNumber {
			return &w.Beds[i], nil
		}
	}
	return nil, apperr.NotFound("bed").WithHint(BedNumbers(w))
}

func BedNumbers(w *Ward) []string {
	out := make([]string, 0, len(w.Beds))
	for _, b := range w.Beds {
		out = append(out, b.BedNumber)
	}
	return out
}

// AvailableBeds returns the numbers of free beds in ward order.
func AvailableBeds(w *Ward) []string {
	out := []string{}
	for _, b := range w.Beds {
		if !b.Occupied {
			out = append(out, b.BedNumber)
		}
	}
	return out
}

// Occupy assigns a free bed to patientID and opens a stay. It never
// overwrites an occupied bed.
func Occupy(b *Bed, patientID uuid.UUID, mrNo string, now time.Time) error {
	if b.Occupied {
		return apperr.Conflict("Bed %s is already occupied", b.BedNumber)
	}
	pid := patientID
	b.Occupied = true
	b.CurrentPatientID = &pid
	b.History = append(b.History, Stay{
		ID:            uuid.New(),
		PatientID:     patientID,
		PatientMRNo:   mrNo,
		AdmissionDate: now,
		dirty:         true,
	})
	return nil
}

// Release frees a bed held by patientID and closes that patient's most
// recent open stay, backfilling a missing MR number. It reports false and
// leaves the bed untouched when the bed is already free or is held by
// someone else.
func Release(b *Bed, patientID uuid.UUID, mrNo string, now time.Time) bool {
	if !b.Occupied {
		return false
	}
	if b.CurrentPatientID != nil && *b.CurrentPatientID != patientID {
		return false
	}

	b.Occupied = false
	b.CurrentPatientID = nil
	for i := len(b.History) - 1; i >= 0; i-- {
		s := &b.History[i]
		if s.PatientID != patientID || s.DischargeDate != nil {
			continue
		}
		at := now
		s.DischargeDate = &at
		if s.PatientMRNo == "" {
			s.PatientMRNo = mrNo
		}
		s.dirty = true
		break
	}
	return true
}

// CheckInvariant verifies that a bed is occupied exactly when it has one open
// stay belonging to its current patient. Only open stays are inspected, so
// beds loaded without closed history can be checked too.
func CheckInvariant(b Bed) error {
	var open []Stay
	for _, s := range b.History {
		if s.DischargeDate == nil {
			open = append(open, s)
		}
	}

	if !b.Occupied {
		if b.CurrentPatientID != nil {
			return fmt.Errorf("bed %s is free but names patient %s", b.BedNumber, *b.CurrentPatientID)
		}
		if len(open) != 0 {
			return fmt.Errorf("bed %s is free but has %d open stays", b.BedNumber, len(open))
		}
		return nil
	}

	if b.CurrentPatientID == nil {
		return fmt.Errorf("bed %s is occupied without a current patient", b.BedNumber)
	}
	if len(open) != 1 {
		return fmt.Errorf("bed %s is occupied with %d open stays", b.BedNumber, len(open))
	}
	if open[0].PatientID != *b.CurrentPatientID {
		return fmt.Errorf("bed %s open stay belongs to %s, not %s", b.BedNumber, open[0].PatientID, *b.CurrentPatientID)
	}
	return nil
}

// changedStays returns the stays opened or closed since the bed was loaded.
func changedStays(b *Bed) []Stay {
	var out []Stay
	for _, s := range b.History {
		if s.dirty {
			out = append(out, s)
		}
	}
	return out
}

func markClean(b *Bed) {
	for i := range b.History {
		b.History[i].dirty = false
	}
}
