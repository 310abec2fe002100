package ward

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/adt/internal/platform/apperr"
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
	readGroup.GET("/wards", h.ListWards)
	readGroup.GET("/wards/:id", h.GetWard)
	readGroup.GET("/departments/:id/wards", h.ListWardsByDepartment)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	writeGroup.POST("/wards", h.CreateWard)
	writeGroup.PUT("/wards/:id", h.UpdateWard)
	writeGroup.DELETE("/wards/:id", h.DeleteWard)
}

func parseID(c echo.Context, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s id %q", what, c.Param("id"))
	}
	return id, nil
}

func (h *Handler) CreateWard(c echo.Context) error {
	var cmd CreateWardCommand
	if err := bind.Strict(c, &cmd, "id", "_id", "beds"); err != nil {
		return err
	}
	w, err := h.svc.CreateWard(c.Request().Context(), cmd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) GetWard(c echo.Context) error {
	id, err := parseID(c, "ward")
	if err != nil {
		return err
	}
	w, err := h.svc.GetWard(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) ListWards(c echo.Context) error {
	wards, err := h.svc.ListWards(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wards)
}

func (h *Handler) ListWardsByDepartment(c echo.Context) error {
	id, err := parseID(c, "department")
	if err != nil {
		return err
	}
	wards, err := h.svc.ListWardsByDepartment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wards)
}

func (h *Handler) UpdateWard(c echo.Context) error {
	id, err := parseID(c, "ward")
	if err != nil {
		return err
	}
	var cmd UpdateWardCommand
	if err := bind.Strict(c, &cmd, "id", "_id", "beds", "bedCount", "wardNumber", "departmentName"); err != nil {
		return err
	}
	w, err := h.svc.UpdateWard(c.Request().Context(), id, cmd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) DeleteWard(c echo.Context) error {
	id, err := parseID(c, "ward")
	if err != nil {
		return err
	}
	w, err := h.svc.DeleteWard(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}
