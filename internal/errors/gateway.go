package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes returned to callers.
const (
	CodeValidation                   = "VALIDATION_ERROR"
	CodeUnauthorized                 = "UNAUTHORIZED"
	CodeNotFound                     = "NOT_FOUND"
	CodeMethodNotAllowed             = "METHOD_NOT_ALLOWED"
	CodeMethodNotSupported           = "METHOD_NOT_SUPPORTED"
	CodeInvalidState                 = "INVALID_STATE"
	CodeSessionAlreadyCompleted      = "SESSION_ALREADY_COMPLETED"
	CodeSessionExpired               = "SESSION_EXPIRED"
	CodeSessionCompletionInProgress  = "SESSION_COMPLETION_IN_PROGRESS"
	CodeInscriptionCancelled         = "INSCRIPTION_CANCELLED"
	CodeProviderNotConfigured        = "PROVIDER_NOT_CONFIGURED"
	CodeProviderNotAvailable         = "PROVIDER_NOT_AVAILABLE"
	CodeProviderTimeout              = "PROVIDER_TIMEOUT"
	CodeProviderUnavailable          = "PROVIDER_UNAVAILABLE"
	CodeSDKNotAvailable              = "SDK_NOT_AVAILABLE"
	CodeSessionCreationFailed        = "SESSION_CREATION_FAILED"
	CodeTokenizationCompletionFailed = "TOKENIZATION_COMPLETION_FAILED"
	CodePaymentFailed                = "PAYMENT_FAILED"
	CodeRefundFailed                 = "REFUND_FAILED"
	CodeStatusCheckFailed            = "STATUS_CHECK_FAILED"
	CodeInternal                     = "INTERNAL_ERROR"
)

// GatewayError is the single error type surfaced by the orchestrators.
// Err keeps the underlying cause for logs and is never serialized.
type GatewayError struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Retryable  bool        `json:"-"`
	Err        error       `json:"-"`
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is matches on Code so sentinel comparisons work with errors.Is.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Status returns the HTTP status, defaulting to 500.
func (e *GatewayError) Status() int {
	if e.StatusCode == 0 {
		return http.StatusInternalServerError
	}
	return e.StatusCode
}

// WithDetails returns a copy carrying details.
func (e *GatewayError) WithDetails(details interface{}) *GatewayError {
	cp := *e
	cp.Details = details
	return &cp
}

func New(code, message string, status int) *GatewayError {
	return &GatewayError{Code: code, Message: message, StatusCode: status}
}

func Validation(message string) *GatewayError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

// MissingFields reports required request fields that were absent.
func MissingFields(fields ...string) *GatewayError {
	return Validation(fmt.Sprintf("missing required fields: %v", fields)).
		WithDetails(map[string]interface{}{"missing_fields": fields})
}

// Unauthenticated is used for signature and credential failures.
func Unauthenticated(message string) *GatewayError {
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

// Forbidden is used for ownership mismatches.
func Forbidden(message string) *GatewayError {
	return New(CodeUnauthorized, message, http.StatusForbidden)
}

func NotFound(message string) *GatewayError {
	return New(CodeNotFound, message, http.StatusNotFound)
}

func MethodNotAllowed(message string) *GatewayError {
	return New(CodeMethodNotAllowed, message, http.StatusMethodNotAllowed)
}

func MethodNotSupported(message string) *GatewayError {
	return New(CodeMethodNotSupported, message, http.StatusBadRequest)
}

// InvalidState uses 400 for malformed references and 409 for lifecycle conflicts.
func InvalidState(message string, status int) *GatewayError {
	return New(CodeInvalidState, message, status)
}

func SessionAlreadyCompleted() *GatewayError {
	return New(CodeSessionAlreadyCompleted, "Session already completed successfully", http.StatusConflict)
}

func SessionExpired() *GatewayError {
	return New(CodeSessionExpired, "Tokenization session has expired", http.StatusConflict)
}

func SessionCompletionInProgress() *GatewayError {
	e := New(CodeSessionCompletionInProgress, "Session completion already in progress", http.StatusConflict)
	e.Retryable = true
	return e
}

func InscriptionCancelled(message string) *GatewayError {
	return New(CodeInscriptionCancelled, message, http.StatusConflict)
}

func ProviderNotConfigured(provider string) *GatewayError {
	return New(CodeProviderNotConfigured,
		fmt.Sprintf("Provider '%s' is not configured", provider), http.StatusBadRequest)
}

func ProviderNotAvailable(provider string) *GatewayError {
	return New(CodeProviderNotAvailable,
		fmt.Sprintf("Provider '%s' is not configured or available", provider), http.StatusBadRequest)
}

func ProviderTimeout(provider, operation string, err error) *GatewayError {
	return &GatewayError{
		Code:       CodeProviderTimeout,
		Message:    fmt.Sprintf("%s %s timed out", provider, operation),
		StatusCode: http.StatusGatewayTimeout,
		Retryable:  true,
		Err:        err,
	}
}

func ProviderUnavailable(provider string, err error) *GatewayError {
	return &GatewayError{
		Code:       CodeProviderUnavailable,
		Message:    fmt.Sprintf("%s is temporarily unavailable", provider),
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
		Err:        err,
	}
}

// ProviderFailure builds one of the 500 class provider failure kinds.
func ProviderFailure(code, message string, err error) *GatewayError {
	return &GatewayError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Retryable:  true,
		Err:        err,
	}
}

// Internal wraps an unexpected error. The cause stays in Err and Details is
// left empty so raw internal text never reaches a response.
func Internal(err error) *GatewayError {
	return &GatewayError{
		Code:       CodeInternal,
		Message:    "An unexpected error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// As extracts a *GatewayError from err.
func As(err error) (*GatewayError, bool) {
	var gw *GatewayError
	if stderrors.As(err, &gw) {
		return gw, true
	}
	return nil, false
}

// From returns err as a *GatewayError, wrapping anything else as INTERNAL_ERROR.
func From(err error) *GatewayError {
	if err == nil {
		return nil
	}
	if gw, ok := As(err); ok {
		return gw
	}
	return Internal(err)
}

// WrapAs keeps gateway errors verbatim and wraps anything else under code.
func WrapAs(err error, code, message string) *GatewayError {
	if err == nil {
		return nil
	}
	if gw, ok := As(err); ok {
		return gw
	}
	return ProviderFailure(code, fmt.Sprintf("%s: %v", message, err), err)
}

// HasCode reports whether err is a gateway error carrying code.
func HasCode(err error, code string) bool {
	gw, ok := As(err)
	return ok && gw.Code == code
}
