package admission

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/adt/internal/platform/apperr"
	"github.com/ehr/adt/internal/platform/auth"
	"github.com/ehr/adt/pkg/bind"
	"github.com/ehr/adt/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.ReadRoles...))
	readGroup.GET("/admissions", h.ListAdmitted)
	readGroup.GET("/admissions/mr/:mrNo", h.GetByMRNumber)
	readGroup.GET("/admissions/:id", h.GetAdmission)

	writeGroup := api.Group("", auth.RequireRole(auth.WriteRoles...))
	writeGroup.POST("/admissions", h.AdmitPatient)
	writeGroup.PUT("/admissions/:id", h.UpdateAdmission)
	writeGroup.DELETE("/admissions/:id", h.DeleteAdmission)
	writeGroup.POST("/admissions/discharge", h.DischargeByBed)
	writeGroup.POST("/admissions/:id/discharge", h.DischargePatient)
	writeGroup.POST("/admissions/:id/transfer", h.TransferPatient)
}

func admissionID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid admission id %q", c.Param("id"))
	}
	return id, nil
}

func (h *Handler) AdmitPatient(c echo.Context) error {
	var cmd AdmitCommand
	if err := bind.Strict(c, &cmd, "id", "_id", "status", "deleted"); err != nil {
		return err
	}
	v, err := h.svc.AdmitPatient(c.Request().Context(), cmd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) ListAdmitted(c echo.Context) error {
	f := ListFilter{
		WardType:      strings.TrimSpace(c.QueryParam("ward_Type")),
		AdmissionType: strings.TrimSpace(c.QueryParam("admission_Type")),
	}
	if raw := c.QueryParam("ward_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return apperr.Validation("invalid ward_id %q", raw)
		}
		f.WardID = &id
	}
	resp, err := h.svc.ListAdmitted(c.Request().Context(), f, pagination.FromContext(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetByMRNumber(c echo.Context) error {
	mrNo := strings.TrimSpace(c.Param("mrNo"))
	if mrNo == "" {
		return apperr.Validation("mrNo is required")
	}
	v, err := h.svc.GetByMRNumber(c.Request().Context(), mrNo)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetAdmission(c echo.Context) error {
	id, err := admissionID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.GetAdmission(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) UpdateAdmission(c echo.Context) error {
	id, err := admissionID(c)
	if err != nil {
		return err
	}
	var cmd UpdateAdmissionCommand
	if err := bind.Strict(c, &cmd, "id", "_id", "patientId", "ward_Information", "deleted", "deletedAt"); err != nil {
		return err
	}
	v, err := h.svc.UpdateAdmission(c.Request().Context(), id, cmd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) DeleteAdmission(c echo.Context) error {
	id, err := admissionID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.DeleteAdmission(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) DischargePatient(c echo.Context) error {
	id, err := admissionID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.DischargePatient(c.Request().Context(), DischargeTarget{AdmissionID: id})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) DischargeByBed(c echo.Context) error {
	var target DischargeTarget
	if err := bind.Strict(c, &target); err != nil {
		return err
	}
	v, err := h.svc.DischargePatient(c.Request().Context(), target)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) TransferPatient(c echo.Context) error {
	id, err := admissionID(c)
	if err != nil {
		return err
	}
	var cmd TransferCommand
	if err := bind.Strict(c, &cmd); err != nil {
		return err
	}
	v, err := h.svc.TransferPatient(c.Request().Context(), id, cmd)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, v)
}
