package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeNotFound    = "NOT_FOUND"
	CodeConflict    = "CONFLICT"
	CodeConsistency = "CONSISTENCY_ERROR"
	CodeUnavailable = "UNAVAILABLE"
)

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, CodeValidation, message, details)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, message, nil)
}

// Duplicate column names are reported as 400, not 409.
func conflict(message string) *DomainError {
	return domainError(http.StatusBadRequest, CodeConflict, message, nil)
}

func consistencyError(message string, details any) *DomainError {
	return domainError(http.StatusInternalServerError, CodeConsistency, message, details)
}

func unavailable(message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, CodeUnavailable, message, nil)
}
