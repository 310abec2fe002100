package admission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/adt/internal/platform/apperr"
	"github.com/ehr/adt/internal/platform/db"
	"github.com/ehr/adt/pkg/pagination"
)

type admissionRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &admissionRepoPG{pool: pool}
}

func (r *admissionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const admissionCols = `id, patient_id, admission_date, discharge_date, admitting_doctor_id, diagnosis,
	admission_type, ward_id, ward_no, bed_no, ward_type, pd_charges, admission_fee, discount,
	total_charges, payment_status, status, deleted_at, transferred_from, version_id, created_at, updated_at`

const activeCond = `status = 'Admitted' AND deleted_at IS NULL`

func scanAdmission(row pgx.Row) (*Admission, error) {
	var a Admission
	var status string
	var deletedAt *time.Time
	err := row.Scan(&a.ID, &a.PatientID, &a.Details.AdmissionDate, &a.Details.DischargeDate,
		&a.Details.AdmittingDoctor, &a.Details.Diagnosis, &a.Details.AdmissionType,
		&a.Ward.WardID, &a.Ward.WardNo, &a.Ward.BedNo, &a.Ward.WardType, &a.Ward.PDCharges,
		&a.Financials.AdmissionFee, &a.Financials.Discount, &a.Financials.TotalCharges, &a.Financials.PaymentStatus,
		&status, &deletedAt, &a.TransferredFrom, &a.VersionID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("admission")
		}
		return nil, fmt.Errorf("scan admission: %w", err)
	}
	a.Lifecycle = restoreLifecycle(Status(status), deletedAt)
	return &a, nil
}

// mapWriteError turns violations of the one-active-admission indexes into
// conflicts.
func mapWriteError(op string, err error) error {
	switch db.UniqueViolation(err) {
	case "":
		return fmt.Errorf("%s admission: %w", op, err)
	case "admission_one_active_per_patient":
		return apperr.Conflict("patient is already admitted")
	case "admission_one_active_per_bed":
		return apperr.Conflict("bed already has an active admission")
	default:
		return apperr.Conflict("admission already exists")
	}
}

func (r *admissionRepoPG) Create(ctx context.Context, a *Admission) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.VersionID = 1
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admission (id, patient_id, admission_date, discharge_date, admitting_doctor_id, diagnosis,
			admission_type, ward_id, ward_no, bed_no, ward_type, pd_charges, admission_fee, discount,
			total_charges, payment_status, status, deleted_at, transferred_from, version_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, 1)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.Details.AdmissionDate, a.Details.DischargeDate, a.Details.AdmittingDoctor,
		a.Details.Diagnosis, a.Details.AdmissionType, a.Ward.WardID, a.Ward.WardNo, a.Ward.BedNo,
		a.Ward.WardType, a.Ward.PDCharges, a.Financials.AdmissionFee, a.Financials.Discount,
		a.Financials.TotalCharges, a.Financials.PaymentStatus, string(a.Lifecycle.Status()),
		a.Lifecycle.DeletedAt(), a.TransferredFrom,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return mapWriteError("insert", err)
	}
	return nil
}

func (r *admissionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return scanAdmission(r.conn(ctx).QueryRow(ctx, `SELECT `+admissionCols+` FROM admission WHERE id = $1`, id))
}

func (r *admissionRepoPG) LockByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return scanAdmission(r.conn(ctx).QueryRow(ctx, `SELECT `+admissionCols+` FROM admission WHERE id = $1 FOR UPDATE`, id))
}

func (r *admissionRepoPG) ActiveByPatient(ctx context.Context, patientID uuid.UUID) (*Admission, error) {
	return scanAdmission(r.conn(ctx).QueryRow(ctx,
		`SELECT `+admissionCols+` FROM admission WHERE patient_id = $1 AND `+activeCond, patientID))
}

func (r *admissionRepoPG) LockActiveByBed(ctx context.Context, wardID uuid.UUID, bedNo string) (*Admission, error) {
	return scanAdmission(r.conn(ctx).QueryRow(ctx,
		`SELECT `+admissionCols+` FROM admission WHERE ward_id = $1 AND bed_no = $2 AND `+activeCond+` FOR UPDATE`,
		wardID, bedNo))
}

func (r *admissionRepoPG) ListAdmitted(ctx context.Context, f ListFilter, p pagination.Params) ([]*Admission, int, error) {
	where := []string{activeCond}
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.WardType != "" {
		add("ward_type = $%d", f.WardType)
	}
	if f.WardID != nil {
		add("ward_id = $%d", *f.WardID)
	}
	if f.AdmissionType != "" {
		add("admission_type = $%d", f.AdmissionType)
	}
	cond := strings.Join(where, " AND ")

	q := r.conn(ctx)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM admission WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count admissions: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT `+admissionCols+` FROM admission WHERE `+cond+` ORDER BY admission_date DESC, id `+p.SQL(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query admissions: %w", err)
	}
	defer rows.Close()

	var out []*Admission
	for rows.Next() {
		a, err := scanAdmission(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *admissionRepoPG) Update(ctx context.Context, a *Admission) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE admission SET discharge_date = $3, admitting_doctor_id = $4, diagnosis = $5, admission_type = $6,
			admission_fee = $7, discount = $8, total_charges = $9, payment_status = $10,
			status = $11, deleted_at = $12, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND version_id = $2
		RETURNING version_id, updated_at`,
		a.ID, a.VersionID, a.Details.DischargeDate, a.Details.AdmittingDoctor, a.Details.Diagnosis,
		a.Details.AdmissionType, a.Financials.AdmissionFee, a.Financials.Discount, a.Financials.TotalCharges,
		a.Financials.PaymentStatus, string(a.Lifecycle.Status()), a.Lifecycle.DeletedAt(),
	).Scan(&a.VersionID, &a.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return apperr.Conflict("admission %s was modified concurrently", a.ID)
		}
		return mapWriteError("update", err)
	}
	return nil
}
