package ward_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/adt/internal/domain/ward"
	"github.com/ehr/adt/internal/platform/apperr"
)

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestHandler_CreateWard(t *testing.T) {
	f := newFixture(t)
	f.dir.AddDepartment("Medicine")
	h := ward.NewHandler(f.svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	body := `{"name":"General-A","departmentName":"Medicine","wardNumber":7,"bedCount":3,"pdCharges":100,
		"rooms":[{"roomNumber":"R1","capacity":2}],"nurses":[{"nurseId":"N-1","name":"Asha","shift":"day"}]}`
	require.NoError(t, h.CreateWard(e.NewContext(jsonRequest(http.MethodPost, "/wards", body), rec)))
	assert.Equal(t, http.StatusCreated, rec.Code)

	var got ward.Ward
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "General-A", got.Name)
	assert.Equal(t, 3, got.BedCount)
	require.Len(t, got.Beds, 3)
	assert.Equal(t, "B7-1", got.Beds[0].BedNumber)
	assert.Equal(t, "Asha", got.Nurses[0].Name)
}

func TestHandler_CreateWard_RejectsBeds(t *testing.T) {
	f := newFixture(t)
	h := ward.NewHandler(f.svc)
	e := echo.New()

	body := `{"name":"General-A","departmentName":"Medicine","wardNumber":7,"bedCount":1,"beds":[]}`
	err := h.CreateWard(e.NewContext(jsonRequest(http.MethodPost, "/wards", body), httptest.NewRecorder()))
	assert.True(t, apperr.IsValidation(err))
}

func TestHandler_GetWard(t *testing.T) {
	f := newFixture(t)
	f.dir.AddDepartment("Medicine")
	w := f.createWard(t, "Medicine", 7, 1)
	h := ward.NewHandler(f.svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(w.ID.String())
	require.NoError(t, h.GetWard(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	assert.True(t, apperr.IsValidation(h.GetWard(c)))
}

func TestHandler_UpdateWard(t *testing.T) {
	f := newFixture(t)
	f.dir.AddDepartment("Medicine")
	w := f.createWard(t, "Medicine", 7, 1)
	h := ward.NewHandler(f.svc)
	e := echo.New()

	tests := []struct {
		name   string
		body   string
		status int
		kind   apperr.Kind
	}{
		{"rename", `{"name":"General-B","pdCharges":120}`, http.StatusOK, 0},
		{"id is immutable", `{"id":"x","name":"General-C"}`, 0, apperr.KindValidation},
		{"bed pool is immutable", `{"bedCount":9}`, 0, apperr.KindValidation},
		{"unknown field", `{"floor":2}`, 0, apperr.KindValidation},
		{"empty patch", `{}`, 0, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(jsonRequest(http.MethodPut, "/", tt.body), rec)
			c.SetParamNames("id")
			c.SetParamValues(w.ID.String())
			err := h.UpdateWard(c)
			if tt.status != 0 {
				require.NoError(t, err)
				assert.Equal(t, tt.status, rec.Code)
				return
			}
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
}

func TestHandler_ListWards(t *testing.T) {
	f := newFixture(t)
	f.dir.AddDepartment("Medicine")
	f.createWard(t, "Medicine", 7, 1)
	h := ward.NewHandler(f.svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	require.NoError(t, h.ListWards(e.NewContext(httptest.NewRequest(http.MethodGet, "/wards", nil), rec)))
	var wards []ward.Ward
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wards))
	assert.Len(t, wards, 1)
}
