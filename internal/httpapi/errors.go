package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"goa.design/clue/log"

	"github.com/dslhub/dslhub/internal/apperr"
	"github.com/dslhub/dslhub/internal/store"
)

// envelope is the uniform error body.
type envelope struct {
	Error *apperr.Error `json:"error"`
}

// errorHandler renders every error as the envelope, translating store
// sentinels and echo's own errors into the taxonomy.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	ae := classify(err)
	if ae.Status >= http.StatusInternalServerError {
		log.Errorf(c.Request().Context(), err, "%s %s", c.Request().Method, c.Request().URL.Path)
	}
	// Every envelope carries the request path and method as its last detail.
	ae = ae.WithDetails(map[string]string{
		"path":   c.Request().URL.Path,
		"method": c.Request().Method,
	})
	if jerr := c.JSON(ae.Status, envelope{Error: ae}); jerr != nil {
		log.Errorf(c.Request().Context(), jerr, "write error response")
	}
}

func classify(err error) *apperr.Error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, _ := he.Message.(string)
		if msg == "" {
			msg = http.StatusText(he.Code)
		}
		code := apperr.CodeInternal
		switch he.Code {
		case http.StatusNotFound, http.StatusMethodNotAllowed:
			code = apperr.CodeNotFound
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			code = apperr.CodeValidation
		case http.StatusUnauthorized:
			code = apperr.CodeUnauthorized
		case http.StatusRequestEntityTooLarge:
			code = apperr.CodePayloadTooLarge
		}
		return apperr.New(he.Code, code, msg)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("resource")
	case errors.Is(err, store.ErrDuplicate):
		return apperr.New(http.StatusConflict, apperr.CodeDuplicate, "resource already exists")
	case errors.Is(err, store.ErrIntegrity):
		return apperr.Validation(err.Error())
	}
	return apperr.Internal(err)
}
