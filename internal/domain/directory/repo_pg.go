package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/adt/internal/platform/apperr"
	"github.com/ehr/adt/internal/platform/db"
)

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientDirectory {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, mr_no, first_name, last_name, gender, phone, created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.MRNo, &p.FirstName, &p.LastName, &p.Gender, &p.Phone, &p.CreatedAt); err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("patient")
		}
		return nil, fmt.Errorf("scan patient: %w", err)
	}
	return &p, nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByMRNo(ctx context.Context, mrNo string) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE mr_no = $1`, mrNo))
}

func (r *patientRepoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Patient, error) {
	out := make(map[uuid.UUID]*Patient, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+patientCols+` FROM patient WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

type departmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewDepartmentRepo(pool *pgxpool.Pool) DepartmentRegistry {
	return &departmentRepoPG{pool: pool}
}

func (r *departmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *departmentRepoPG) Create(ctx context.Context, d *Department) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO department (id, name) VALUES ($1, $2) RETURNING created_at`,
		d.ID, d.Name,
	).Scan(&d.CreatedAt)
	if db.UniqueViolation(err) != "" {
		return apperr.Conflict("department %q already exists", d.Name)
	}
	if err != nil {
		return fmt.Errorf("insert department: %w", err)
	}
	return nil
}

func (r *departmentRepoPG) List(ctx context.Context) ([]*Department, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT d.id, d.name, d.created_at,
			COALESCE(array_agg(dw.ward_id) FILTER (WHERE dw.ward_id IS NOT NULL), '{}')
		FROM department d
		LEFT JOIN department_ward dw ON dw.department_id = d.id
		GROUP BY d.id
		ORDER BY d.name`)
	if err != nil {
		return nil, fmt.Errorf("query departments: %w", err)
	}
	defer rows.Close()

	var out []*Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.Name, &d.CreatedAt, &d.WardIDs); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (r *departmentRepoPG) getOne(ctx context.Context, where string, arg interface{}) (*Department, error) {
	var d Department
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, name, created_at FROM department WHERE `+where, arg).
		Scan(&d.ID, &d.Name, &d.CreatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("department")
	}
	if err != nil {
		return nil, fmt.Errorf("get department: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT ward_id FROM department_ward WHERE department_id = $1`, d.ID)
	if err != nil {
		return nil, fmt.Errorf("query department wards: %w", err)
	}
	d.WardIDs, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan department wards: %w", err)
	}
	return &d, nil
}

func (r *departmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Department, error) {
	return r.getOne(ctx, `id = $1`, id)
}

func (r *departmentRepoPG) FindByName(ctx context.Context, name string) (*Department, error) {
	return r.getOne(ctx, `LOWER(name) = LOWER($1)`, strings.TrimSpace(name))
}

func (r *departmentRepoPG) LinkWard(ctx context.Context, departmentID, wardID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO department_ward (department_id, ward_id) VALUES ($1, $2)`,
		departmentID, wardID,
	)
	if db.UniqueViolation(err) != "" {
		return apperr.Conflict("ward %s is already linked to department %s", wardID, departmentID)
	}
	if err != nil {
		return fmt.Errorf("link ward to department: %w", err)
	}
	return nil
}

type doctorRepoPG struct {
	pool *pgxpool.Pool
}

func NewDoctorRepo(pool *pgxpool.Pool) DoctorDirectory {
	return &doctorRepoPG{pool: pool}
}

func (r *doctorRepoPG) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM doctor WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check doctor: %w", err)
	}
	return exists, nil
}
