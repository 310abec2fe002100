package ward

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/adt/internal/platform/apperr"
)

func testWard(wardNumber, beds int) *Ward {
	return &Ward{ID: uuid.New(), Name: "General-A", WardNumber: wardNumber, Beds: GenerateBeds(wardNumber, beds)}
}

func TestGenerateBeds(t *testing.T) {
	beds := GenerateBeds(7, 3)
	require.Len(t, beds, 3)
	for i, want := range []string{"B7-1", "B7-2", "B7-3"} {
		assert.Equal(t, want, beds[i].BedNumber)
		assert.Equal(t, i+1, beds[i].Position)
		assert.False(t, beds[i].Occupied)
		assert.Nil(t, beds[i].CurrentPatientID)
		assert.NoError(t, CheckInvariant(beds[i]))
	}
}

func TestFindBed(t *testing.T) {
	w := testWard(7, 3)

	b, err := FindBed(w, "B7-2")
	require.NoError(t, err)
	assert.Equal(t, "B7-2", b.BedNumber)

	_, err = FindBed(w, "B9-1")
	require.True(t, apperr.IsNotFound(err))
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, []string{"B7-1", "B7-2", "B7-3"}, ae.Hint)
}

func TestOccupyAndRelease(t *testing.T) {
	w := testWard(7, 2)
	b := &w.Beds[0]
	patient := uuid.New()
	admitted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, Occupy(b, patient, "MR-001", admitted))
	assert.True(t, b.Occupied)
	assert.Equal(t, patient, *b.CurrentPatientID)
	require.Len(t, b.History, 1)
	assert.Nil(t, b.History[0].DischargeDate)
	assert.NoError(t, CheckInvariant(*b))
	assert.Equal(t, []string{"B7-2"}, AvailableBeds(w))

	err := Occupy(b, uuid.New(), "MR-002", admitted)
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, patient, *b.CurrentPatientID, "a failed occupy must not overwrite the holder")

	released := admitted.Add(48 * time.Hour)
	assert.True(t, Release(b, patient, "MR-001", released))
	assert.False(t, b.Occupied)
	assert.Nil(t, b.CurrentPatientID)
	require.NotNil(t, b.History[0].DischargeDate)
	assert.Equal(t, released, *b.History[0].DischargeDate)
	assert.NoError(t, CheckInvariant(*b))

	assert.False(t, Release(b, patient, "MR-001", released), "releasing a free bed is a no-op")
}

func TestRelease_HeldByOtherPatient(t *testing.T) {
	b := &GenerateBeds(1, 1)[0]
	holder := uuid.New()
	require.NoError(t, Occupy(b, holder, "MR-1", time.Now()))

	assert.False(t, Release(b, uuid.New(), "MR-2", time.Now()))
	assert.True(t, b.Occupied)
	assert.Equal(t, holder, *b.CurrentPatientID)
	assert.Nil(t, b.History[0].DischargeDate)
}

func TestRelease_BackfillsMRNo(t *testing.T) {
	b := &GenerateBeds(1, 1)[0]
	patient := uuid.New()
	require.NoError(t, Occupy(b, patient, "", time.Now()))

	require.True(t, Release(b, patient, "MR-77", time.Now()))
	assert.Equal(t, "MR-77", b.History[0].PatientMRNo)
}

func TestCheckInvariant_Violations(t *testing.T) {
	patient := uuid.New()
	other := uuid.New()
	open := Stay{ID: uuid.New(), PatientID: patient, AdmissionDate: time.Now()}
	closedAt := time.Now()
	closed := Stay{ID: uuid.New(), PatientID: patient, AdmissionDate: time.Now(), DischargeDate: &closedAt}

	tests := []struct {
		name string
		bed  Bed
	}{
		{"free with patient", Bed{BedNumber: "B1-1", CurrentPatientID: &patient}},
		{"free with open stay", Bed{BedNumber: "B1-1", History: []Stay{open}}},
		{"occupied without patient", Bed{BedNumber: "B1-1", Occupied: true, History: []Stay{open}}},
		{"occupied without open stay", Bed{BedNumber: "B1-1", Occupied: true, CurrentPatientID: &patient, History: []Stay{closed}}},
		{"occupied by someone else", Bed{BedNumber: "B1-1", Occupied: true, CurrentPatientID: &other, History: []Stay{open}}},
		{"two open stays", Bed{BedNumber: "B1-1", Occupied: true, CurrentPatientID: &patient, History: []Stay{open, open}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, CheckInvariant(tt.bed))
		})
	}
}

// Random occupy/release sequences keep every bed consistent and never give
// a bed to two patients.
func TestBedOperations_PreserveInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	w := testWard(3, 4)
	patients := make([]uuid.UUID, 6)
	for i := range patients {
		patients[i] = uuid.New()
	}
	holder := make(map[string]uuid.UUID)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for step := 0; step < 500; step++ {
		now = now.Add(time.Hour)
		b := &w.Beds[rng.Intn(len(w.Beds))]
		p := patients[rng.Intn(len(patients))]

		if rng.Intn(2) == 0 {
			err := Occupy(b, p, "", now)
			if _, held := holder[b.BedNumber]; held {
				require.True(t, apperr.IsConflict(err))
			} else {
				require.NoError(t, err)
				holder[b.BedNumber] = p
			}
		} else {
			ok := Release(b, p, "", now)
			h, held := holder[b.BedNumber]
			require.Equal(t, held && h == p, ok)
			if ok {
				delete(holder, b.BedNumber)
			}
		}
		require.NoError(t, CheckInvariant(*b), "step %d", step)
	}
}

func TestChangedStays(t *testing.T) {
	b := &GenerateBeds(1, 1)[0]
	patient := uuid.New()
	require.NoError(t, Occupy(b, patient, "MR-1", time.Now()))
	assert.Len(t, changedStays(b), 1)

	markClean(b)
	assert.Empty(t, changedStays(b))

	require.True(t, Release(b, patient, "MR-1", time.Now()))
	changed := changedStays(b)
	require.Len(t, changed, 1)
	assert.NotNil(t, changed[0].DischargeDate)
}
