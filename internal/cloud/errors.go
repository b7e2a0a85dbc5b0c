// Package cloud provides an HTTP client for the panorama cloud service:
// login sessions, raw capture uploads, the processing task queue, and the
// paginated panorama catalog.
package cloud

import (
	"errors"
	"fmt"
	"net/http"
)

// Pipeline-level error kinds. Use errors.Is(err, cloud.ErrAuth) to check.
var (
	ErrAuth            = errors.New("cloud: authentication failed")
	ErrTransport       = errors.New("cloud: transport failure")
	ErrUpload          = errors.New("cloud: upload rejected")
	ErrPartialDownload = errors.New("cloud: download interrupted")
)

// Sentinel errors for HTTP status code classification.
var (
	ErrBadRequest   = errors.New("cloud: bad request")
	ErrUnauthorized = errors.New("cloud: unauthorized")
	ErrForbidden    = errors.New("cloud: forbidden")
	ErrNotFound     = errors.New("cloud: not found")
	ErrThrottled    = errors.New("cloud: throttled")
	ErrServerError  = errors.New("cloud: server error")
)

// APIError wraps a status sentinel with the HTTP status code and the response
// body for debugging. Kind carries the pipeline-level error kind (ErrAuth,
// ErrUpload) when the failing call has one.
type APIError struct {
	StatusCode int
	Message    string
	Kind       error
	Err        error // status sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("cloud: HTTP %d", e.StatusCode)
	}

	return fmt.Sprintf("cloud: HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap exposes both the status sentinel and the error kind.
func (e *APIError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}

	return errs
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isSuccess reports whether the status code is 2xx.
func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}
