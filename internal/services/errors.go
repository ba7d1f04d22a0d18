package services

import (
	"errors"
	"fmt"
	"net/http"
)

// Reason codes returned to API callers.
const (
	CodeMissingFields         = "MISSING_FIELDS"
	CodeInvalidDate           = "INVALID_DATE"
	CodeScheduleInPast        = "SCHEDULE_IN_PAST"
	CodeDurationTooShort      = "DURATION_TOO_SHORT"
	CodeDurationTooLong       = "DURATION_TOO_LONG"
	CodeInvalidDuration       = "INVALID_DURATION"
	CodeInvalidAmount         = "INVALID_AMOUNT"
	CodeInvalidTxHash         = "INVALID_TRANSACTION_HASH"
	CodeInvalidStatus         = "INVALID_STATUS"
	CodeForbidden             = "FORBIDDEN"
	CodeMissingSignature      = "MISSING_SIGNATURE"
	CodeInvalidSignature      = "INVALID_SIGNATURE"
	CodeConsultantNotFound    = "CONSULTANT_NOT_FOUND"
	CodeConsultantUnavailable = "CONSULTANT_UNAVAILABLE"
	CodeConsultantMismatch    = "CONSULTANT_MISMATCH"
	CodeConsultationNotFound  = "CONSULTATION_NOT_FOUND"
	CodeAlreadyPaid           = "ALREADY_PAID"
	CodeInvalidTransition     = "INVALID_TRANSITION"
	CodeDatabaseError         = "DATABASE_ERROR"
	CodeProviderError         = "PROVIDER_ERROR"
	CodeNotConfigured         = "NOT_CONFIGURED"
	CodeInternal              = "INTERNAL"
)

// Error is the failure variant of every service operation. Status is the
// HTTP status the API answers with.
type Error struct {
	Code    string
	Status  int
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func newError(status int, code, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

func (e *Error) with(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func (e *Error) wrap(err error) *Error {
	e.cause = err
	return e
}

func badRequest(code, message string) *Error {
	return newError(http.StatusBadRequest, code, message)
}

func notFoundError(code, message string) *Error {
	return newError(http.StatusNotFound, code, message)
}

func forbiddenError(message string) *Error {
	return newError(http.StatusForbidden, CodeForbidden, message)
}

func databaseError(err error) *Error {
	return newError(http.StatusInternalServerError, CodeDatabaseError, "database operation failed").wrap(err)
}

func missingFields(fields ...string) *Error {
	return badRequest(CodeMissingFields, "missing required fields").with("missing_fields", fields)
}

// AsError extracts the typed service error from err. Anything else is
// reported as an internal failure.
func AsError(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return newError(http.StatusInternalServerError, CodeInternal, "internal error").wrap(err)
}
