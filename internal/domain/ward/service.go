package ward

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/adt/internal/domain/directory"
	"github.com/ehr/adt/internal/platform/apperr"
	"github.com/ehr/adt/internal/platform/cache"
	"github.com/ehr/adt/internal/platform/db"
)

// Listing keys embed the current cache generation. Invalidation moves the
// generation first, so a listing loaded before a change can only be written
// back under a key nobody reads any more.
const (
	cacheGenKey     = "wards:gen"
	cacheKeyPattern = "wards:list:*"
	cacheSuffixAll  = "all"
)

func listCacheKey(gen, suffix string) string {
	return "wards:list:" + gen + ":" + suffix
}

func departmentCacheSuffix(id uuid.UUID) string {
	return "dept:" + id.String()
}

// Service manages wards and their bed pools. Ward listings are cached and
// invalidated after every mutation of a ward or its beds.
type Service struct {
	repo   Repository
	depts  directory.DepartmentRegistry
	tx     db.TxRunner
	kv     cache.KV
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, depts directory.DepartmentRegistry, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		depts:  depts,
		tx:     tx,
		kv:     cache.Noop{},
		ttl:    time.Minute,
		logger: logger.With().Str("component", "ward").Logger(),
		now:    time.Now,
	}
}

// SetCache enables the ward list cache.
func (s *Service) SetCache(kv cache.KV, ttl time.Duration) {
	s.kv = kv
	s.ttl = ttl
}

// CreateWard creates a ward with bedCount free beds and links it to the
// department named by the command. The whole operation is rolled back when
// the department does not exist.
func (s *Service) CreateWard(ctx context.Context, cmd CreateWardCommand) (*Ward, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	w := &Ward{
		Name:           cmd.Name,
		DepartmentName: cmd.DepartmentName,
		WardNumber:     cmd.WardNumber,
		WardType:       cmd.WardType,
		PDCharges:      cmd.PDCharges,
		Rooms:          cmd.Rooms,
		Nurses:         cmd.Nurses,
		Beds:           GenerateBeds(cmd.WardNumber, cmd.BedCount),
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, w); err != nil {
			return err
		}
		dept, err := s.depts.FindByName(ctx, w.DepartmentName)
		if err != nil {
			if apperr.IsNotFound(err) {
				s.logger.Warn().Str("department", w.DepartmentName).Msg("department not found, ward creation rolled back")
			}
			return err
		}
		return s.depts.LinkWard(ctx, dept.ID, w.ID)
	})
	if err != nil {
		return nil, err
	}

	for i := range w.Beds {
		w.Beds[i].History = []Stay{}
	}
	s.logger.Info().Str("ward_id", w.ID.String()).Int("beds", len(w.Beds)).Msg("ward created")
	s.InvalidateCache(ctx)
	return w, nil
}

func (s *Service) GetWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return s.repo.GetByID(ctx, id)
}

// ListWards returns every active ward with beds and stay history.
func (s *Service) ListWards(ctx context.Context) ([]*Ward, error) {
	return s.cached(ctx, cacheSuffixAll, func() ([]*Ward, error) {
		return s.repo.List(ctx)
	})
}

// ListWardsByDepartment returns the active wards linked to a department.
func (s *Service) ListWardsByDepartment(ctx context.Context, departmentID uuid.UUID) ([]*Ward, error) {
	dept, err := s.depts.GetByID(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	return s.cached(ctx, departmentCacheSuffix(departmentID), func() ([]*Ward, error) {
		wards, err := s.repo.ListByIDs(ctx, dept.WardIDs, true)
		if err != nil {
			return nil, err
		}
		active := make([]*Ward, 0, len(wards))
		for _, w := range wards {
			if w.DeletedAt == nil {
				active = append(active, w)
			}
		}
		return active, nil
	})
}

// UpdateWard patches ward attributes. Beds are left untouched.
func (s *Service) UpdateWard(ctx context.Context, id uuid.UUID, cmd UpdateWardCommand) (*Ward, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		w, err := s.repo.LockWard(ctx, id, LockExclusive)
		if err != nil {
			return err
		}
		cmd.Apply(w)
		return s.repo.Update(ctx, w)
	})
	if err != nil {
		return nil, err
	}
	s.InvalidateCache(ctx)
	return s.repo.GetByID(ctx, id)
}

// DeleteWard soft-deletes a ward. Wards with occupied beds cannot be deleted.
func (s *Service) DeleteWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	var deleted *Ward
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		w, err := s.repo.LockWard(ctx, id, LockExclusive)
		if err != nil {
			return err
		}
		if occupied := w.OccupiedBeds(); len(occupied) > 0 {
			return apperr.Conflict("ward %s has %d occupied beds", w.Name, len(occupied)).WithHint(occupied)
		}
		at := s.now().UTC()
		if err := s.repo.SoftDelete(ctx, id, at); err != nil {
			return err
		}
		w.DeletedAt = &at
		deleted = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("ward_id", id.String()).Msg("ward deleted")
	s.InvalidateCache(ctx)
	return deleted, nil
}

// InvalidateCache drops every cached ward listing. Cache failures are logged
// and never fail the caller.
func (s *Service) InvalidateCache(ctx context.Context) {
	if err := s.kv.Set(ctx, cacheGenKey, uuid.NewString(), 0); err != nil {
		s.logger.Warn().Err(err).Msg("ward cache generation bump failed")
	}
	if err := cache.DeletePattern(ctx, s.kv, cacheKeyPattern); err != nil {
		s.logger.Warn().Err(err).Msg("ward cache invalidation failed")
	}
}

func (s *Service) generation(ctx context.Context) (string, error) {
	gen, err := s.kv.Get(ctx, cacheGenKey)
	if errors.Is(err, cache.ErrMiss) {
		return "0", nil
	}
	return gen, err
}

func (s *Service) cached(ctx context.Context, suffix string, load func() ([]*Ward, error)) ([]*Ward, error) {
	gen, err := s.generation(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ward cache read failed")
		return load()
	}
	key := listCacheKey(gen, suffix)

	raw, err := s.kv.Get(ctx, key)
	if err == nil {
		var wards []*Ward
		if err := json.Unmarshal([]byte(raw), &wards); err == nil {
			return wards, nil
		}
		s.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	} else if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn().Err(err).Str("key", key).Msg("ward cache read failed")
	}

	wards, err := load()
	if err != nil {
		return nil, err
	}
	if wards == nil {
		wards = []*Ward{}
	}
	if data, err := json.Marshal(wards); err == nil {
		if err := s.kv.Set(ctx, key, string(data), s.ttl); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("ward cache write failed")
		}
	}
	return wards, nil
}
