// Package bind decodes JSON request bodies into command types, rejecting
// fields the command does not declare.
package bind

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/adt/internal/platform/apperr"
)

const maxBody = 1 << 20

// Strict decodes the request body into dst. Unknown fields, trailing data
// and any top-level key listed in forbidden fail with a Validation error; a
// body over 1 MiB fails with 413.
func Strict(c echo.Context, dst interface{}, forbidden ...string) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBody+1))
	if err != nil {
		return apperr.Validation("read request body: %v", err)
	}
	if len(body) > maxBody {
		return echo.ErrStatusRequestEntityTooLarge
	}
	return Bytes(body, dst, forbidden...)
}

// Bytes is Strict for an already-read body.
func Bytes(body []byte, dst interface{}, forbidden ...string) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return apperr.Validation("request body is required")
	}

	if len(forbidden) > 0 {
		var top map[string]json.RawMessage
		if err := json.Unmarshal(body, &top); err != nil {
			return apperr.Validation("malformed JSON body: %v", err)
		}
		for _, key := range forbidden {
			if _, ok := top[key]; ok {
				return apperr.Validation("field %q cannot be changed", key)
			}
		}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("%s", describe(err))
	}
	if dec.More() {
		return apperr.Validation("unexpected data after JSON body")
	}
	return nil
}

func describe(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field != "" {
			return fmt.Sprintf("malformed value for %s", typeErr.Field)
		}
		return fmt.Sprintf("malformed value: expected %s", typeErr.Type)
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "json: unknown field ") {
		return "unknown field " + strings.TrimPrefix(msg, "json: unknown field ")
	}
	return "malformed JSON body: " + msg
}
