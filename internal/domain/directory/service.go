package directory

import (
	"context"
	"strings"

	"github.com/ehr/adt/internal/platform/apperr"
)

// Service exposes the minimal department management wards are linked to.
type Service struct {
	depts DepartmentRegistry
}

func NewService(depts DepartmentRegistry) *Service {
	return &Service{depts: depts}
}

type CreateDepartmentCommand struct {
	Name string `json:"name"`
}

func (s *Service) CreateDepartment(ctx context.Context, cmd CreateDepartmentCommand) (*Department, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	if len(name) > 128 {
		return nil, apperr.Validation("name must be at most 128 characters")
	}
	d := &Department{Name: name}
	if err := s.depts.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) ListDepartments(ctx context.Context) ([]*Department, error) {
	return s.depts.List(ctx)
}
