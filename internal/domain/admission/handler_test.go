package admission

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/adt/internal/platform/apperr"
	"github.com/ehr/adt/internal/platform/auth"
)

// newRouter serves the admission routes as a user holding role.
func newRouter(h *Handler, role string) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop(), true)
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithUser(c.Request().Context(), "user-1", []string{role})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	h.RegisterRoutes(api)
	return e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_AdmitAndDischarge(t *testing.T) {
	env := newEnv(t, FlatPolicy{})
	p := env.dir.AddPatient("MR-1", "Asha", "Rao")
	router := newRouter(NewHandler(env.svc), auth.RoleNurse)

	body := fmt.Sprintf(`{"patientId":%q,"ward_Information":{"ward_Id":%q,"bed_No":"B5-1"},
		"admission_Details":{"diagnosis":"Flu","admission_Type":"General","admitting_Doctor":"bogus"},
		"financials":{"admission_Fee":2000,"discount":100,"payment_Status":"Pending"}}`, p.ID, env.ward.ID)
	rec := do(router, http.MethodPost, "/api/v1/admissions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var v View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, StatusAdmitted, v.Status)
	assert.Equal(t, 1900.0, v.Financials.TotalCharges)
	assert.Nil(t, v.AdmissionDetails.AdmittingDoctor)

	rec = do(router, http.MethodPost, "/api/v1/admissions", strings.Replace(body, p.ID.String(), env.dir.AddPatient("MR-2", "B", "B").ID.String(), 1))
	assert.Equal(t, http.StatusConflict, rec.Code)
	var errBody apperr.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Equal(t, "conflict", errBody.Kind)
	assert.Equal(t, []interface{}{"B5-2", "B5-3"}, errBody.Hint)

	rec = do(router, http.MethodGet, "/api/v1/admissions/mr/MR-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodPost, "/api/v1/admissions/discharge",
		fmt.Sprintf(`{"wardId":%q,"bedNumber":"B5-1"}`, env.ward.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, StatusDischarged, v.Status)

	rec = do(router, http.MethodGet, "/api/v1/admissions/mr/MR-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_RejectsBadInput(t *testing.T) {
	env := newEnv(t, FlatPolicy{})
	p := env.dir.AddPatient("MR-1", "Asha", "Rao")
	v := env.admit(t, p, "B5-1")
	router := newRouter(NewHandler(env.svc), auth.RoleAdmin)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"unknown admit field", http.MethodPost, "/api/v1/admissions", `{"patientId":"` + p.ID.String() + `","bed":"B5-1"}`, http.StatusBadRequest},
		{"malformed id", http.MethodGet, "/api/v1/admissions/xyz", "", http.StatusBadRequest},
		{"unknown id", http.MethodGet, "/api/v1/admissions/" + env.ward.ID.String(), "", http.StatusNotFound},
		{"malformed ward filter", http.MethodGet, "/api/v1/admissions?ward_id=abc", "", http.StatusBadRequest},
		{"patient is immutable", http.MethodPut, "/api/v1/admissions/" + v.ID.String(), `{"patientId":"x"}`, http.StatusBadRequest},
		{"unknown nested field", http.MethodPut, "/api/v1/admissions/" + v.ID.String(), `{"financials":{"tip":5}}`, http.StatusBadRequest},
		{"bad status", http.MethodPut, "/api/v1/admissions/" + v.ID.String(), `{"status":"Gone"}`, http.StatusBadRequest},
		{"transfer without bed", http.MethodPost, "/api/v1/admissions/" + v.ID.String() + "/transfer", `{"wardId":"` + env.ward.ID.String() + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(router, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestHandler_ListAndUpdate(t *testing.T) {
	env := newEnv(t, FlatPolicy{})
	v := env.admit(t, env.dir.AddPatient("MR-1", "Asha", "Rao"), "B5-2")
	router := newRouter(NewHandler(env.svc), auth.RoleRegistrar)

	rec := do(router, http.MethodGet, "/api/v1/admissions?ward_Type=General&page=1&limit=10&ward_id="+env.ward.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data  []View `json:"data"`
		Total int    `json:"total"`
		Page  int    `json:"page"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 1, page.Page)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "Asha Rao", page.Data[0].Patient.Name)
	assert.Equal(t, "General-A", page.Data[0].Ward.Name)

	rec = do(router, http.MethodPut, "/api/v1/admissions/"+v.ID.String(),
		`{"status":"Discharged","admission_Details":{"diagnosis":"Recovered"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, StatusDischarged, updated.Status)
	assert.Equal(t, "Recovered", updated.AdmissionDetails.Diagnosis)

	rec = do(router, http.MethodDelete, "/api/v1/admissions/"+v.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.True(t, updated.Deleted)
}

func TestHandler_RoleGuards(t *testing.T) {
	env := newEnv(t, FlatPolicy{})
	router := newRouter(NewHandler(env.svc), auth.RolePhysician)

	rec := do(router, http.MethodGet, "/api/v1/admissions", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodPost, "/api/v1/admissions", `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
