package bind

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/adt/internal/platform/apperr"
)

type sample struct {
	Name    *string   `json:"name"`
	WardID  uuid.UUID `json:"ward_Id"`
	Details *struct {
		Diagnosis string `json:"diagnosis"`
	} `json:"details"`
}

func contextWithBody(body string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestStrict_Decodes(t *testing.T) {
	id := uuid.New()
	var s sample
	err := Strict(contextWithBody(`{"name":"ICU-2","ward_Id":"`+id.String()+`","details":{"diagnosis":"Flu"}}`), &s)
	require.NoError(t, err)
	require.NotNil(t, s.Name)
	assert.Equal(t, "ICU-2", *s.Name)
	assert.Equal(t, id, s.WardID)
	assert.Equal(t, "Flu", s.Details.Diagnosis)
}

func TestStrict_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", `{"name":"x","bedCount":4}`, "unknown field"},
		{"nested unknown field", `{"details":{"diagnosis":"x","severity":2}}`, "unknown field"},
		{"forbidden id", `{"id":"abc","name":"x"}`, `"id" cannot be changed`},
		{"forbidden _id", `{"_id":"abc"}`, `"_id" cannot be changed`},
		{"malformed uuid", `{"ward_Id":"not-a-uuid"}`, "malformed"},
		{"empty body", ``, "body is required"},
		{"trailing data", `{"name":"x"} {"name":"y"}`, "unexpected data"},
		{"not json", `name=x`, "malformed JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s sample
			err := Strict(contextWithBody(tt.body), &s, "id", "_id")
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err), "expected validation error, got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStrict_OversizedBody(t *testing.T) {
	body := `{"name":"` + strings.Repeat("x", maxBody) + `"}`
	var s sample
	err := Strict(contextWithBody(body), &s)
	require.Error(t, err)
	assert.False(t, apperr.IsValidation(err))
	assert.Equal(t, http.StatusRequestEntityTooLarge, apperr.HTTPStatus(err))
}
