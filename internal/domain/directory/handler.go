package directory

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/adt/internal/platform/auth"
	"github.com/ehr/adt/pkg/bind"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.ReadRoles...))
	readGroup.GET("/departments", h.ListDepartments)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	writeGroup.POST("/departments", h.CreateDepartment)
}

func (h *Handler) CreateDepartment(c echo.Context) error {
	var cmd CreateDepartmentCommand
	if err := bind.Strict(c, &cmd); err != nil {
		return err
	}
	d, err := h.svc.CreateDepartment(c.Request().Context(), cmd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListDepartments(c echo.Context) error {
	depts, err := h.svc.ListDepartments(c.Request().Context())
	if err != nil {
		return err
	}
	if depts == nil {
		depts = []*Department{}
	}
	return c.JSON(http.StatusOK, depts)
}
