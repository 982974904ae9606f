// errors.go - Structured error responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"psu-logger/internal/device"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewNotConnectedError is returned when an operation needs an open session.
func NewNotConnectedError() *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "NOT_CONNECTED",
		Message: "power supply is not connected",
	}
}

// NewConnectionError wraps an I/O failure talking to the supply.
func NewConnectionError(cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadGateway,
		Code:    "CONNECTION_ERROR",
		Message: "power supply connection failed",
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found", resource),
	}
}

func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// deviceError maps session errors to API errors.
func deviceError(err error) *APIError {
	switch {
	case errors.Is(err, device.ErrNotConnected):
		return NewNotConnectedError()
	case device.IsConnectionError(err):
		return NewConnectionError(err)
	default:
		return NewInternalError("device operation failed", err)
	}
}

// ErrorHandler renders errors as APIError JSON.
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &httpErr):
		apiErr = &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	default:
		apiErr = NewInternalError("an unexpected error occurred", err)
	}
	_ = c.JSON(apiErr.Status, apiErr)
}
