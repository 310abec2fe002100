package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/adt/internal/domain/directory"
	"github.com/ehr/adt/internal/domain/ward"
	"github.com/ehr/adt/internal/platform/apperr"
	"github.com/ehr/adt/internal/platform/db"
	"github.com/ehr/adt/internal/platform/metrics"
	"github.com/ehr/adt/pkg/pagination"
)

// CacheInvalidator drops cached ward listings after bed changes.
type CacheInvalidator interface {
	InvalidateCache(ctx context.Context)
}

// Service runs the admission lifecycle. Every bed change and the admission
// write that goes with it happen in one transaction.
type Service struct {
	repo         Repository
	wards        ward.Repository
	patients     directory.PatientDirectory
	doctors      directory.DoctorDirectory
	tx           db.TxRunner
	billing      *Calculator
	cache        CacheInvalidator
	metrics      *metrics.Metrics
	queryTimeout time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(repo Repository, wards ward.Repository, patients directory.PatientDirectory,
	tx db.TxRunner, billing *Calculator, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		wards:    wards,
		patients: patients,
		tx:       tx,
		billing:  billing,
		logger:   logger.With().Str("component", "admission").Logger(),
		now:      time.Now,
	}
}

// SetDoctorDirectory enables existence checks of admitting doctors.
func (s *Service) SetDoctorDirectory(d directory.DoctorDirectory) { s.doctors = d }

func (s *Service) SetCacheInvalidator(c CacheInvalidator) { s.cache = c }

func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetQueryTimeout bounds listing queries.
func (s *Service) SetQueryTimeout(d time.Duration) { s.queryTimeout = d }

func (s *Service) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.InvalidateCache(ctx)
	}
}

// resolveDoctor returns the doctor id when raw names a doctor, nil otherwise.
func (s *Service) resolveDoctor(ctx context.Context, raw string) *uuid.UUID {
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		s.logger.Warn().Str("admitting_doctor", raw).Msg("dropping malformed admitting doctor reference")
		return nil
	}
	if s.doctors != nil {
		ok, err := s.doctors.Exists(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("admitting_doctor", raw).Msg("doctor lookup failed, dropping reference")
			return nil
		}
		if !ok {
			s.logger.Warn().Str("admitting_doctor", raw).Msg("dropping unknown admitting doctor")
			return nil
		}
	}
	return &id
}

func (s *Service) saveBed(ctx context.Context, b *ward.Bed) error {
	if err := s.wards.SaveBed(ctx, b); err != nil {
		if errors.Is(err, ward.ErrVersionConflict) {
			return apperr.Conflict("Bed %s was modified concurrently, retry the request", b.BedNumber)
		}
		return err
	}
	return nil
}

// findBed looks a bed up in a locked ward. An unknown bed number is a
// client error carrying the valid numbers.
func findBed(w *ward.Ward, bedNo string) (*ward.Bed, error) {
	b, err := ward.FindBed(w, bedNo)
	if err != nil {
		return nil, apperr.Validation("bed %s does not exist in ward %s", bedNo, w.Name).WithHint(ward.BedNumbers(w))
	}
	return b, nil
}

func (s *Service) occupy(w *ward.Ward, b *ward.Bed, patient *directory.Patient, now time.Time) error {
	if err := ward.Occupy(b, patient.ID, patient.MRNo, now); err != nil {
		s.metrics.BedConflict()
		available := []string{}
		for _, n := range ward.AvailableBeds(w) {
			if n != b.BedNumber {
				available = append(available, n)
			}
		}
		return apperr.Conflict("Bed %s is already occupied in ward %s", b.BedNumber, w.Name).WithHint(available)
	}
	return nil
}

// AdmitPatient assigns a free bed to a patient and opens an admission.
func (s *Service) AdmitPatient(ctx context.Context, cmd AdmitCommand) (*View, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	patient, err := s.patients.GetByID(ctx, cmd.PatientID)
	if err != nil {
		return nil, err
	}
	doctor := s.resolveDoctor(ctx, cmd.AdmissionDetails.AdmittingDoctor)
	bedNo := cmd.WardInformation.BedNo

	var created *Admission
	var w *ward.Ward
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.ActiveByPatient(ctx, patient.ID); err == nil {
			return apperr.Conflict("patient %s is already admitted", patient.MRNo)
		} else if !apperr.IsNotFound(err) {
			return err
		}

		w, err = s.wards.LockWard(ctx, cmd.WardInformation.WardID, ward.LockShare)
		if err != nil {
			return err
		}
		snapshot, err := findBed(w, bedNo)
		if err != nil {
			return err
		}
		bed, err := s.wards.LockBed(ctx, w.ID, bedNo)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if err := s.occupy(w, bed, patient, now); err != nil {
			return err
		}
		if err := s.saveBed(ctx, bed); err != nil {
			return err
		}
		*snapshot = *bed

		pd := w.PDCharges
		if cmd.WardInformation.PDCharges != nil {
			pd = *cmd.WardInformation.PDCharges
		}
		a := &Admission{
			ID:        uuid.New(),
			PatientID: patient.ID,
			Details: AdmissionDetails{
				AdmissionDate:   now,
				AdmittingDoctor: doctor,
				Diagnosis:       cmd.AdmissionDetails.Diagnosis,
				AdmissionType:   cmd.AdmissionDetails.AdmissionType,
			},
			Ward: WardInformation{
				WardID:    w.ID,
				WardNo:    w.WardNumber,
				BedNo:     bedNo,
				WardType:  w.WardType,
				PDCharges: pd,
			},
			Financials: Financials{
				AdmissionFee:  cmd.Financials.AdmissionFee,
				Discount:      cmd.Financials.Discount,
				PaymentStatus: cmd.Financials.PaymentStatus,
			},
			Lifecycle: Active(StatusAdmitted),
		}
		s.billing.Apply(a, now, Change{IsNew: true})
		if err := s.repo.Create(ctx, a); err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Admitted()
	s.invalidate(ctx)
	s.logger.Info().
		Str("admission_id", created.ID.String()).
		Str("ward_id", w.ID.String()).
		Str("bed", bedNo).
		Msg("patient admitted")
	return s.view(created, patient, w), nil
}

// releaseBed frees the bed held by a and closes its stay. A missing bed or a
// bed held by someone else is logged and skipped; a free bed is a no-op.
func (s *Service) releaseBed(ctx context.Context, a *Admission, now time.Time) (bool, error) {
	bed, err := s.wards.LockBed(ctx, a.Ward.WardID, a.Ward.BedNo)
	if err != nil {
		if apperr.IsNotFound(err) {
			s.logger.Warn().Str("admission_id", a.ID.String()).Str("bed", a.Ward.BedNo).Msg("bed not found, release skipped")
			return false, nil
		}
		return false, err
	}

	var mrNo string
	if p, err := s.patients.GetByID(ctx, a.PatientID); err == nil {
		mrNo = p.MRNo
	} else if !apperr.IsNotFound(err) {
		return false, err
	}

	if !ward.Release(bed, a.PatientID, mrNo, now) {
		if bed.Occupied {
			s.logger.Warn().
				Str("admission_id", a.ID.String()).
				Str("bed", a.Ward.BedNo).
				Msg("bed is held by another patient, release skipped")
		}
		return false, nil
	}
	return true, s.saveBed(ctx, bed)
}

func (s *Service) afterRelease(ctx context.Context, released bool, reason string) {
	if !released {
		return
	}
	s.metrics.Released(reason)
	s.invalidate(ctx)
}

// DischargePatient frees the bed and closes the admission as Discharged.
func (s *Service) DischargePatient(ctx context.Context, target DischargeTarget) (*View, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	var a *Admission
	var released bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if target.AdmissionID != uuid.Nil {
			a, err = s.repo.LockByID(ctx, target.AdmissionID)
		} else {
			a, err = s.repo.LockActiveByBed(ctx, target.WardID, target.BedNumber)
		}
		if err != nil {
			return err
		}
		if a.Lifecycle.IsDeleted() {
			return apperr.Conflict("admission %s is deleted", a.ID)
		}
		if !a.Lifecycle.IsAdmitted() {
			return apperr.Conflict("admission %s is already %s", a.ID, a.Lifecycle.Status())
		}

		now := s.now().UTC()
		if released, err = s.releaseBed(ctx, a, now); err != nil {
			return err
		}
		next, err := a.Lifecycle.TransitionTo(StatusDischarged)
		if err != nil {
			return err
		}
		a.Lifecycle = next
		a.Details.DischargeDate = &now
		s.billing.Apply(a, now, Change{DischargeChanged: true})
		return s.repo.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.afterRelease(ctx, released, metrics.ReasonDischarge)
	s.logger.Info().Str("admission_id", a.ID.String()).Msg("patient discharged")
	return s.joinOne(ctx, a)
}

// UpdateAdmission applies an explicit set of changes to an admission.
func (s *Service) UpdateAdmission(ctx context.Context, id uuid.UUID, cmd UpdateAdmissionCommand) (*View, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var a *Admission
	var released bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if a, err = s.repo.LockByID(ctx, id); err != nil {
			return err
		}
		if a.Lifecycle.IsDeleted() {
			return apperr.Conflict("admission %s is deleted", a.ID)
		}

		now := s.now().UTC()
		var ch Change
		if cmd.Status != nil {
			next, err := a.Lifecycle.TransitionTo(*cmd.Status)
			if err != nil {
				return err
			}
			if a.Lifecycle.IsAdmitted() && !next.IsAdmitted() {
				if released, err = s.releaseBed(ctx, a, now); err != nil {
					return err
				}
				a.Details.DischargeDate = &now
				ch.DischargeChanged = true
			}
			a.Lifecycle = next
		}

		if d := cmd.AdmissionDetails; d != nil {
			if d.Diagnosis != nil {
				a.Details.Diagnosis = *d.Diagnosis
			}
			if d.AdmissionType != nil {
				a.Details.AdmissionType = *d.AdmissionType
			}
			// An empty string clears the doctor; an unusable reference
			// leaves the stored one in place.
			if d.AdmittingDoctor != nil {
				if *d.AdmittingDoctor == "" {
					a.Details.AdmittingDoctor = nil
				} else if id := s.resolveDoctor(ctx, *d.AdmittingDoctor); id != nil {
					a.Details.AdmittingDoctor = id
				}
			}
			// A status change already stamped the discharge date.
			if d.DischargeDate != nil && !ch.DischargeChanged {
				if a.Lifecycle.IsAdmitted() {
					return apperr.Validation("discharge_Date can only be changed on a discharged or transferred admission")
				}
				if d.DischargeDate.Before(a.Details.AdmissionDate) {
					return apperr.Validation("discharge_Date precedes admission_Date")
				}
				at := d.DischargeDate.UTC()
				a.Details.DischargeDate = &at
				ch.DischargeChanged = true
			}
		}

		if f := cmd.Financials; f != nil {
			if f.AdmissionFee != nil {
				a.Financials.AdmissionFee = *f.AdmissionFee
				ch.FinancialsChanged = true
			}
			if f.Discount != nil {
				a.Financials.Discount = *f.Discount
				ch.FinancialsChanged = true
			}
			if f.PaymentStatus != nil {
				a.Financials.PaymentStatus = *f.PaymentStatus
			}
		}

		s.billing.Apply(a, now, ch)
		return s.repo.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.afterRelease(ctx, released, metrics.ReasonUpdate)
	return s.joinOne(ctx, a)
}

// DeleteAdmission soft-deletes an admission, freeing its bed when the
// patient is still admitted. Deleting an already deleted admission returns
// it unchanged.
func (s *Service) DeleteAdmission(ctx context.Context, id uuid.UUID) (*View, error) {
	var a *Admission
	var released bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if a, err = s.repo.LockByID(ctx, id); err != nil {
			return err
		}
		if a.Lifecycle.IsDeleted() {
			return nil
		}
		if a.PatientID == uuid.Nil {
			return apperr.Validation("admission has no patient reference")
		}

		now := s.now().UTC()
		if a.Lifecycle.IsAdmitted() {
			if released, err = s.releaseBed(ctx, a, now); err != nil {
				return err
			}
		}
		a.Lifecycle = a.Lifecycle.Delete(now)
		return s.repo.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.afterRelease(ctx, released, metrics.ReasonDelete)
	return s.joinOne(ctx, a)
}

type bedKey struct {
	wardID uuid.UUID
	bedNo  string
}

func (k bedKey) less(o bedKey) bool {
	if k.wardID != o.wardID {
		return k.wardID.String() < o.wardID.String()
	}
	return k.bedNo < o.bedNo
}

// TransferPatient moves an admitted patient to another bed. The source
// admission ends as Transferred and a new admission is opened on the target
// bed, linked through TransferredFrom.
func (s *Service) TransferPatient(ctx context.Context, id uuid.UUID, cmd TransferCommand) (*View, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var target *Admission
	var w *ward.Ward
	var released bool
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		source, err := s.repo.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if source.Lifecycle.IsDeleted() {
			return apperr.Conflict("admission %s is deleted", source.ID)
		}
		if !source.Lifecycle.IsAdmitted() {
			return apperr.Conflict("admission %s is already %s", source.ID, source.Lifecycle.Status())
		}
		src := bedKey{source.Ward.WardID, source.Ward.BedNo}
		dst := bedKey{cmd.WardID, cmd.BedNumber}
		if src == dst {
			return apperr.Validation("patient already occupies bed %s", cmd.BedNumber)
		}

		patient, err := s.patients.GetByID(ctx, source.PatientID)
		if err != nil {
			return err
		}
		if w, err = s.wards.LockWard(ctx, cmd.WardID, ward.LockShare); err != nil {
			return err
		}
		snapshot, err := findBed(w, cmd.BedNumber)
		if err != nil {
			return err
		}

		// Lock both beds in a global order so opposite transfers cannot
		// deadlock.
		order := []bedKey{src, dst}
		if dst.less(src) {
			order[0], order[1] = dst, src
		}
		beds := make(map[bedKey]*ward.Bed, 2)
		for _, k := range order {
			b, err := s.wards.LockBed(ctx, k.wardID, k.bedNo)
			if err != nil {
				if k == src && apperr.IsNotFound(err) {
					s.logger.Warn().Str("admission_id", source.ID.String()).Msg("source bed not found, release skipped")
					continue
				}
				return err
			}
			beds[k] = b
		}

		now := s.now().UTC()
		dstBed := beds[dst]
		if err := s.occupy(w, dstBed, patient, now); err != nil {
			return err
		}
		if srcBed, ok := beds[src]; ok {
			if ward.Release(srcBed, patient.ID, patient.MRNo, now) {
				if err := s.saveBed(ctx, srcBed); err != nil {
					return err
				}
				released = true
			} else if srcBed.Occupied {
				s.logger.Warn().Str("admission_id", source.ID.String()).Msg("source bed is held by another patient, release skipped")
			}
		}
		if err := s.saveBed(ctx, dstBed); err != nil {
			return err
		}
		*snapshot = *dstBed

		next, err := source.Lifecycle.TransitionTo(StatusTransferred)
		if err != nil {
			return err
		}
		source.Lifecycle = next
		source.Details.DischargeDate = &now
		s.billing.Apply(source, now, Change{DischargeChanged: true})
		// The source must leave the active set before the new record
		// enters it.
		if err := s.repo.Update(ctx, source); err != nil {
			return err
		}

		pd := w.PDCharges
		if cmd.PDCharges != nil {
			pd = *cmd.PDCharges
		}
		from := source.ID
		target = &Admission{
			ID:        uuid.New(),
			PatientID: source.PatientID,
			Details: AdmissionDetails{
				AdmissionDate:   now,
				AdmittingDoctor: source.Details.AdmittingDoctor,
				Diagnosis:       source.Details.Diagnosis,
				AdmissionType:   source.Details.AdmissionType,
			},
			Ward: WardInformation{
				WardID:    w.ID,
				WardNo:    w.WardNumber,
				BedNo:     cmd.BedNumber,
				WardType:  w.WardType,
				PDCharges: pd,
			},
			Financials:      Financials{PaymentStatus: source.Financials.PaymentStatus},
			Lifecycle:       Active(StatusAdmitted),
			TransferredFrom: &from,
		}
		s.billing.Apply(target, now, Change{IsNew: true})
		return s.repo.Create(ctx, target)
	})
	if err != nil {
		return nil, err
	}

	if released {
		s.metrics.Released(metrics.ReasonTransfer)
	}
	s.metrics.Transferred()
	s.invalidate(ctx)
	s.logger.Info().
		Str("admission_id", target.ID.String()).
		Str("transferred_from", id.String()).
		Msg("patient transferred")
	return s.joinOne(ctx, target)
}

// ListAdmitted returns one page of active admissions with patient and ward
// data joined in.
func (s *Service) ListAdmitted(ctx context.Context, f ListFilter, p pagination.Params) (*pagination.Response, error) {
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	items, total, err := s.repo.ListAdmitted(ctx, f, p)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.Internal("listing admissions timed out", err)
		}
		return nil, err
	}
	views, err := s.join(ctx, items)
	if err != nil {
		return nil, err
	}
	return pagination.NewResponse(views, total, p), nil
}

// GetByMRNumber returns the active admission of the patient with mrNo.
func (s *Service) GetByMRNumber(ctx context.Context, mrNo string) (*View, error) {
	patient, err := s.patients.GetByMRNo(ctx, mrNo)
	if err != nil {
		return nil, err
	}
	a, err := s.repo.ActiveByPatient(ctx, patient.ID)
	if err != nil {
		return nil, err
	}
	return s.joinOne(ctx, a)
}

func (s *Service) GetAdmission(ctx context.Context, id uuid.UUID) (*View, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.joinOne(ctx, a)
}

func (s *Service) view(a *Admission, p *directory.Patient, w *ward.Ward) *View {
	v := NewView(a, s.now().UTC())
	if p != nil {
		v.Patient = p.Summary()
	}
	if w != nil {
		v.Ward = &WardSummary{
			Name:           w.Name,
			WardNumber:     w.WardNumber,
			DepartmentName: w.DepartmentName,
		}
		if b, err := ward.FindBed(w, a.Ward.BedNo); err == nil {
			v.Ward.BedOccupied = b.Occupied
		}
	}
	return v
}

func (s *Service) joinOne(ctx context.Context, a *Admission) (*View, error) {
	views, err := s.join(ctx, []*Admission{a})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// join loads the patients and wards referenced by items with one lookup
// each.
func (s *Service) join(ctx context.Context, items []*Admission) ([]*View, error) {
	views := make([]*View, 0, len(items))
	if len(items) == 0 {
		return views, nil
	}

	patientIDs := make([]uuid.UUID, 0, len(items))
	wardIDs := make([]uuid.UUID, 0, len(items))
	seenWard := make(map[uuid.UUID]bool)
	for _, a := range items {
		patientIDs = append(patientIDs, a.PatientID)
		if !seenWard[a.Ward.WardID] {
			seenWard[a.Ward.WardID] = true
			wardIDs = append(wardIDs, a.Ward.WardID)
		}
	}

	patients, err := s.patients.GetByIDs(ctx, patientIDs)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	wards, err := s.wards.ListByIDs(ctx, wardIDs, false)
	if err != nil {
		return nil, fmt.Errorf("load wards: %w", err)
	}
	byID := make(map[uuid.UUID]*ward.Ward, len(wards))
	for _, w := range wards {
		byID[w.ID] = w
	}

	for _, a := range items {
		views = append(views, s.view(a, patients[a.PatientID], byID[a.Ward.WardID]))
	}
	return views, nil
}
