package ward

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/adt/internal/platform/apperr"
	"github.com/ehr/adt/internal/platform/db"
)

type wardRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &wardRepoPG{pool: pool}
}

func (r *wardRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const wardCols = `id, name, department_name, ward_number, ward_type, bed_count, pd_charges,
	rooms, nurses, deleted_at, version_id, created_at, updated_at`

func scanWard(row pgx.Row) (*Ward, error) {
	var w Ward
	var rooms, nurses []byte
	err := row.Scan(&w.ID, &w.Name, &w.DepartmentName, &w.WardNumber, &w.WardType, &w.BedCount, &w.PDCharges,
		&rooms, &nurses, &w.DeletedAt, &w.VersionID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("ward")
		}
		return nil, fmt.Errorf("scan ward: %w", err)
	}
	if len(rooms) > 0 {
		if err := json.Unmarshal(rooms, &w.Rooms); err != nil {
			return nil, fmt.Errorf("decode rooms of ward %s: %w", w.ID, err)
		}
	}
	if len(nurses) > 0 {
		if err := json.Unmarshal(nurses, &w.Nurses); err != nil {
			return nil, fmt.Errorf("decode nurses of ward %s: %w", w.ID, err)
		}
	}
	return &w, nil
}

func encodeStaffing(w *Ward) (rooms, nurses []byte, err error) {
	if w.Rooms == nil {
		w.Rooms = []Room{}
	}
	if w.Nurses == nil {
		w.Nurses = []NurseAssignment{}
	}
	if rooms, err = json.Marshal(w.Rooms); err != nil {
		return nil, nil, fmt.Errorf("encode rooms: %w", err)
	}
	if nurses, err = json.Marshal(w.Nurses); err != nil {
		return nil, nil, fmt.Errorf("encode nurses: %w", err)
	}
	return rooms, nurses, nil
}

func (r *wardRepoPG) Create(ctx context.Context, w *Ward) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	rooms, nurses, err := encodeStaffing(w)
	if err != nil {
		return err
	}
	w.BedCount = len(w.Beds)
	w.VersionID = 1

	q := r.conn(ctx)
	err = q.QueryRow(ctx, `
		INSERT INTO ward (id, name, department_name, ward_number, ward_type, bed_count, pd_charges, rooms, nurses, version_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
		RETURNING created_at, updated_at`,
		w.ID, w.Name, w.DepartmentName, w.WardNumber, w.WardType, w.BedCount, w.PDCharges, rooms, nurses,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if db.UniqueViolation(err) != "" {
			return apperr.Conflict("ward %s already exists", w.ID)
		}
		return fmt.Errorf("insert ward: %w", err)
	}

	numbers := make([]string, len(w.Beds))
	positions := make([]int32, len(w.Beds))
	for i := range w.Beds {
		w.Beds[i].WardID = w.ID
		w.Beds[i].Version = 1
		numbers[i] = w.Beds[i].BedNumber
		positions[i] = int32(w.Beds[i].Position)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO bed (ward_id, bed_number, position)
		SELECT $1, n, p FROM unnest($2::text[], $3::int[]) AS t(n, p)`,
		w.ID, numbers, positions)
	if err != nil {
		if db.UniqueViolation(err) != "" {
			return apperr.Validation("duplicate bed numbers in ward %s", w.Name)
		}
		return fmt.Errorf("insert beds: %w", err)
	}
	return nil
}

func (r *wardRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Ward, error) {
	w, err := scanWard(r.conn(ctx).QueryRow(ctx,
		`SELECT `+wardCols+` FROM ward WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadBeds(ctx, []*Ward{w}, true); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *wardRepoPG) List(ctx context.Context) ([]*Ward, error) {
	wards, err := r.queryWards(ctx,
		`SELECT `+wardCols+` FROM ward WHERE deleted_at IS NULL ORDER BY ward_number, created_at`)
	if err != nil {
		return nil, err
	}
	return wards, r.loadBeds(ctx, wards, true)
}

func (r *wardRepoPG) ListByIDs(ctx context.Context, ids []uuid.UUID, withHistory bool) ([]*Ward, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	wards, err := r.queryWards(ctx,
		`SELECT `+wardCols+` FROM ward WHERE id = ANY($1) ORDER BY ward_number, created_at`, ids)
	if err != nil {
		return nil, err
	}
	return wards, r.loadBeds(ctx, wards, withHistory)
}

func (r *wardRepoPG) queryWards(ctx context.Context, sql string, args ...interface{}) ([]*Ward, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query wards: %w", err)
	}
	defer rows.Close()

	var wards []*Ward
	for rows.Next() {
		w, err := scanWard(rows)
		if err != nil {
			return nil, err
		}
		wards = append(wards, w)
	}
	return wards, rows.Err()
}

// loadBeds attaches beds (and, with history, every stay) to wards using one
// query per table.
func (r *wardRepoPG) loadBeds(ctx context.Context, wards []*Ward, withHistory bool) error {
	if len(wards) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(wards))
	byID := make(map[uuid.UUID]*Ward, len(wards))
	for i, w := range wards {
		ids[i] = w.ID
		byID[w.ID] = w
		w.Beds = []Bed{}
	}

	q := r.conn(ctx)
	rows, err := q.Query(ctx, `
		SELECT ward_id, bed_number, position, occupied, current_patient_id, version
		FROM bed WHERE ward_id = ANY($1) ORDER BY ward_id, position`, ids)
	if err != nil {
		return fmt.Errorf("query beds: %w", err)
	}
	beds, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[Bed])
	if err != nil {
		return fmt.Errorf("scan beds: %w", err)
	}
	for _, b := range beds {
		b.History = []Stay{}
		w := byID[b.WardID]
		w.Beds = append(w.Beds, b)
	}
	if !withHistory {
		return nil
	}

	rows, err = q.Query(ctx, `
		SELECT ward_id, bed_number, id, patient_id, COALESCE(patient_mrno, ''), admission_date, discharge_date
		FROM bed_stay WHERE ward_id = ANY($1) ORDER BY admission_date, id`, ids)
	if err != nil {
		return fmt.Errorf("query bed stays: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var wardID uuid.UUID
		var bedNumber string
		var s Stay
		if err := rows.Scan(&wardID, &bedNumber, &s.ID, &s.PatientID, &s.PatientMRNo, &s.AdmissionDate, &s.DischargeDate); err != nil {
			return fmt.Errorf("scan bed stay: %w", err)
		}
		w := byID[wardID]
		for i := range w.Beds {
			if w.Beds[i].BedNumber == bedNumber {
				w.Beds[i].History = append(w.Beds[i].History, s)
				break
			}
		}
	}
	return rows.Err()
}

func (r *wardRepoPG) Update(ctx context.Context, w *Ward) error {
	rooms, nurses, err := encodeStaffing(w)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE ward SET name = $2, ward_type = $3, pd_charges = $4, rooms = $5, nurses = $6,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING version_id, updated_at`,
		w.ID, w.Name, w.WardType, w.PDCharges, rooms, nurses,
	).Scan(&w.VersionID, &w.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return apperr.NotFound("ward")
		}
		return fmt.Errorf("update ward: %w", err)
	}
	return nil
}

func (r *wardRepoPG) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE ward SET deleted_at = $2, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("delete ward: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("ward")
	}
	return nil
}

func (r *wardRepoPG) LockWard(ctx context.Context, id uuid.UUID, mode LockMode) (*Ward, error) {
	lock := "FOR SHARE"
	if mode == LockExclusive {
		lock = "FOR UPDATE"
	}
	w, err := scanWard(r.conn(ctx).QueryRow(ctx,
		`SELECT `+wardCols+` FROM ward WHERE id = $1 AND deleted_at IS NULL `+lock, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadBeds(ctx, []*Ward{w}, false); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *wardRepoPG) LockBed(ctx context.Context, wardID uuid.UUID, bedNumber string) (*Bed, error) {
	q := r.conn(ctx)
	var b Bed
	err := q.QueryRow(ctx, `
		SELECT ward_id, bed_number, position, occupied, current_patient_id, version
		FROM bed WHERE ward_id = $1 AND bed_number = $2 FOR UPDATE`, wardID, bedNumber,
	).Scan(&b.WardID, &b.BedNumber, &b.Position, &b.Occupied, &b.CurrentPatientID, &b.Version)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("bed")
		}
		return nil, fmt.Errorf("lock bed %s: %w", bedNumber, err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, patient_id, COALESCE(patient_mrno, '') AS patient_mrno, admission_date, discharge_date
		FROM bed_stay WHERE ward_id = $1 AND bed_number = $2 AND discharge_date IS NULL
		ORDER BY admission_date`, wardID, bedNumber)
	if err != nil {
		return nil, fmt.Errorf("query open stays: %w", err)
	}
	b.History, err = pgx.CollectRows(rows, pgx.RowToStructByName[Stay])
	if err != nil {
		return nil, fmt.Errorf("scan open stays: %w", err)
	}
	return &b, nil
}

func (r *wardRepoPG) SaveBed(ctx context.Context, b *Bed) error {
	if err := CheckInvariant(*b); err != nil {
		return fmt.Errorf("refusing to save inconsistent bed: %w", err)
	}

	q := r.conn(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE bed SET occupied = $3, current_patient_id = $4, version = version + 1
		WHERE ward_id = $1 AND bed_number = $2 AND version = $5`,
		b.WardID, b.BedNumber, b.Occupied, b.CurrentPatientID, b.Version)
	if err != nil {
		return fmt.Errorf("update bed %s: %w", b.BedNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	for _, s := range changedStays(b) {
		_, err := q.Exec(ctx, `
			INSERT INTO bed_stay (id, ward_id, bed_number, patient_id, patient_mrno, admission_date, discharge_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				discharge_date = EXCLUDED.discharge_date,
				patient_mrno = COALESCE(NULLIF(bed_stay.patient_mrno, ''), EXCLUDED.patient_mrno)`,
			s.ID, b.WardID, b.BedNumber, s.PatientID, s.PatientMRNo, s.AdmissionDate, s.DischargeDate)
		if err != nil {
			if db.UniqueViolation(err) != "" {
				return apperr.Conflict("Bed %s already has an open stay", b.BedNumber)
			}
			return fmt.Errorf("save stay on bed %s: %w", b.BedNumber, err)
		}
	}
	b.Version++
	markClean(b)
	return nil
}
