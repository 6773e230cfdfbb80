package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a coded error for propagation policy. Validation,
// conflict and risk-denial errors are normal negative results and are never
// retried; infrastructure errors are retried by the job layer; fatal errors
// threaten the platform's safety guarantee and are surfaced loudly.
type ErrorKind string

const (
	ErrorKindValidation     ErrorKind = "validation"
	ErrorKindConflict       ErrorKind = "conflict"
	ErrorKindRiskDenial     ErrorKind = "risk_denial"
	ErrorKindInfrastructure ErrorKind = "infrastructure"
	ErrorKindFatal          ErrorKind = "fatal"
)

// Stable machine-readable error codes. The API layer maps these 1:1 to
// user-visible responses.
const (
	CodeUserNotFound           = "USER_NOT_FOUND"
	CodeInvalidDuration        = "INVALID_DURATION"
	CodeLossLimitTooHigh       = "LOSS_LIMIT_TOO_HIGH"
	CodeInvalidLossLimit       = "INVALID_LOSS_LIMIT"
	CodeInsufficientBalance    = "INSUFFICIENT_BALANCE"
	CodeActiveSessionExists    = "ACTIVE_SESSION_EXISTS"
	CodeSessionNotFound        = "SESSION_NOT_FOUND"
	CodeSessionNotActive       = "SESSION_NOT_ACTIVE"
	CodeSessionLossLimit       = "SESSION_LOSS_LIMIT_REACHED"
	CodeInsufficientBuyingPwr  = "INSUFFICIENT_BUYING_POWER"
	CodeConcentrationLimit     = "CONCENTRATION_LIMIT_EXCEEDED"
	CodeInvalidPositionSize    = "INVALID_POSITION_SIZE"
	CodeRiskValidationError    = "RISK_VALIDATION_ERROR"
	CodeLiquidationFailed      = "LIQUIDATION_FAILED"
	CodePriceUnavailable       = "PRICE_UNAVAILABLE"
	CodeOrderSubmissionFailed  = "ORDER_SUBMISSION_FAILED"
)

// CodedError carries a stable code and a classification alongside the
// human-readable message. Expected business conditions are returned as coded
// errors, never panics.
type CodedError struct {
	Code    string
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *CodedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error { return e.cause }

// NewCodedError builds a coded error with a formatted message.
func NewCodedError(code string, kind ErrorKind, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapCodedError attaches an underlying cause to a coded error.
func WrapCodedError(code string, kind ErrorKind, cause error, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// ErrorCode extracts the stable code from err, or "" when err carries none.
func ErrorCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// IsCode reports whether err carries the given stable code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// KindOf extracts the classification from err. Errors without a code are
// treated as infrastructure faults.
func KindOf(err error) ErrorKind {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Kind
	}
	return ErrorKindInfrastructure
}
