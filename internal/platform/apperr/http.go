package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Response is the JSON body written for every failed request.
type Response struct {
	Error    string      `json:"error"`
	Kind     string      `json:"kind"`
	Resource string      `json:"resource,omitempty"`
	Hint     interface{} `json:"hint,omitempty"`
	Detail   string      `json:"detail,omitempty"`
}

func statusFor(k Kind) int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorHandler renders apperr errors and echo HTTP errors. Internal errors
// are logged in full; their detail reaches the client only when exposeDetail
// is set (non-production).
func HTTPErrorHandler(logger zerolog.Logger, exposeDetail bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := render(err, exposeDetail)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}

func render(err error, exposeDetail bool) (int, Response) {
	var ae *Error
	if errors.As(err, &ae) {
		status := statusFor(ae.Kind)
		resp := Response{Error: ae.Message, Kind: ae.Kind.String(), Resource: ae.Resource, Hint: ae.Hint}
		if ae.Kind == KindInternal {
			resp.Error = "internal server error"
			if exposeDetail {
				resp.Detail = ae.Error()
			}
		}
		return status, resp
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		kind := KindInternal
		switch {
		case he.Code == http.StatusNotFound:
			kind = KindNotFound
		case he.Code == http.StatusConflict:
			kind = KindConflict
		case he.Code < http.StatusInternalServerError:
			kind = KindValidation
		}
		return he.Code, Response{Error: msg, Kind: kind.String()}
	}

	resp := Response{Error: "internal server error", Kind: KindInternal.String()}
	if exposeDetail {
		resp.Detail = err.Error()
	}
	return http.StatusInternalServerError, resp
}

// HTTPStatus returns the status HTTPErrorHandler writes for err.
func HTTPStatus(err error) int {
	status, _ := render(err, false)
	return status
}
