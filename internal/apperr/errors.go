// Package apperr holds the error kinds shared by the contents layer and its
// outer surfaces. Callers classify with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrStoreFailure = errors.New("store failure")
	// ErrAmbiguous reports more than one document for an identity that must be unique.
	ErrAmbiguous = errors.New("ambiguous identity")
)

type clientFault struct {
	err error
}

func (e *clientFault) Error() string { return e.err.Error() }
func (e *clientFault) Unwrap() error { return e.err }

// ClientFault marks err as caused by the request rather than the server.
// A store failure during autosave is reported this way.
func ClientFault(err error) error {
	if err == nil {
		return nil
	}
	return &clientFault{err: err}
}

// IsClientFault reports whether err was marked with ClientFault.
func IsClientFault(err error) bool {
	var cf *clientFault
	return errors.As(err, &cf)
}

// HTTPStatus maps an error onto the status code the REST API answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), IsClientFault(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
