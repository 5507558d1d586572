package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/quatton/mam/pkg/merr"
)

// statusFor maps error codes to HTTP statuses.
func statusFor(code merr.Code) int {
	switch code {
	case merr.CodeInvalidKey, merr.CodeInvalidMetadata, merr.CodeInvalidContentType, merr.CodeTooLarge:
		return http.StatusBadRequest
	case merr.CodeUnauthorized:
		return http.StatusUnauthorized
	case merr.CodeForbidden:
		return http.StatusForbidden
	case merr.CodeNotFound:
		return http.StatusNotFound
	case merr.CodeConflict, merr.CodeInvalidTransition:
		return http.StatusConflict
	case merr.CodeStorage:
		return http.StatusBadGateway
	case merr.CodeQueue:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// toHTTP converts a pipeline error into a huma status error. Errors that
// already carry a status pass through.
func toHTTP(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(huma.StatusError); ok {
		return err
	}
	code := merr.CodeOf(err)
	return huma.NewError(statusFor(code), string(code)+": "+err.Error())
}
