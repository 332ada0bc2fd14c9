// Package errors provides structured error types for sitectl.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode identifies specific error conditions
type ErrorCode string

const (
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeConfig             ErrorCode = "CONFIG_ERROR"
	ErrCodeZoneNotFound       ErrorCode = "ZONE_NOT_FOUND"
	ErrCodeValidationRecords  ErrorCode = "VALIDATION_RECORDS_UNAVAILABLE"
	ErrCodeCertificateFailed  ErrorCode = "CERTIFICATE_FAILED"
	ErrCodeCertificateTimeout ErrorCode = "CERTIFICATE_TIMEOUT"
	ErrCodeStackCreate        ErrorCode = "STACK_CREATE_FAILED"
	ErrCodeStackUpdate        ErrorCode = "STACK_UPDATE_FAILED"
	ErrCodeStackTimeout       ErrorCode = "STACK_TIMEOUT"
	ErrCodeStackBusy          ErrorCode = "STACK_BUSY"
	ErrCodePublishPartial     ErrorCode = "PUBLISH_PARTIAL"
	ErrCodeUserAborted        ErrorCode = "USER_ABORTED"
)

// Error is the base error type for sitectl
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Wrap creates a new error wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds details to an error
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail to an error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// ValidationError creates a validation error
func ValidationError(message string, details map[string]interface{}) *Error {
	return &Error{
		Code:    ErrCodeValidation,
		Message: message,
		Details: details,
	}
}

// ConfigError creates a configuration error
func ConfigError(message string) *Error {
	return New(ErrCodeConfig, message)
}

// ZoneNotFound creates an error for a domain with no matching hosted zone
func ZoneNotFound(domain string) *Error {
	return &Error{
		Code:    ErrCodeZoneNotFound,
		Message: fmt.Sprintf("no hosted zone found for domain %q", domain),
		Details: map[string]interface{}{
			"domain": domain,
		},
	}
}

// ValidationRecordsUnavailable creates an error for a certificate whose DNS
// validation records never became available
func ValidationRecordsUnavailable(certificateArn string, attempts uint64) *Error {
	return &Error{
		Code:    ErrCodeValidationRecords,
		Message: fmt.Sprintf("certificate validation records not available after %d attempts", attempts),
		Details: map[string]interface{}{
			"certificate_arn": certificateArn,
			"attempts":        attempts,
		},
	}
}

// CertificateFailed creates an error for a certificate that entered a failure state
func CertificateFailed(certificateArn, reason string) *Error {
	return &Error{
		Code:    ErrCodeCertificateFailed,
		Message: fmt.Sprintf("certificate issuance failed: %s", reason),
		Details: map[string]interface{}{
			"certificate_arn": certificateArn,
			"reason":          reason,
		},
	}
}

// CertificateTimeout creates an error for a certificate still pending when the
// wait bound elapsed. Issuance may still complete on the provider side; the
// operation can be retried later.
func CertificateTimeout(certificateArn string, waited time.Duration) *Error {
	return &Error{
		Code:    ErrCodeCertificateTimeout,
		Message: fmt.Sprintf("certificate not issued after %s; issuance may still complete, retry later", waited),
		Details: map[string]interface{}{
			"certificate_arn": certificateArn,
			"waited":          waited.String(),
		},
	}
}

// StackCreateFailed creates an error for a stack creation that ended in a failure state
func StackCreateFailed(stackName, status string, cause error) *Error {
	return &Error{
		Code:    ErrCodeStackCreate,
		Message: fmt.Sprintf("stack %s creation failed with status %s", stackName, status),
		Cause:   cause,
		Details: map[string]interface{}{
			"stack":  stackName,
			"status": status,
		},
	}
}

// StackUpdateFailed creates an error for a stack update that ended in a failure state
func StackUpdateFailed(stackName, status string, cause error) *Error {
	return &Error{
		Code:    ErrCodeStackUpdate,
		Message: fmt.Sprintf("stack %s update failed with status %s", stackName, status),
		Cause:   cause,
		Details: map[string]interface{}{
			"stack":  stackName,
			"status": status,
		},
	}
}

// StackTimeout creates an error for a stack still converging when the wait
// bound elapsed. The stack may still reach a terminal state on its own.
func StackTimeout(stackName string, waited time.Duration) *Error {
	return &Error{
		Code:    ErrCodeStackTimeout,
		Message: fmt.Sprintf("stack %s did not settle after %s; it may still be converging", stackName, waited),
		Details: map[string]interface{}{
			"stack":  stackName,
			"waited": waited.String(),
		},
	}
}

// StackBusy creates an error for a stack with another operation in flight
func StackBusy(stackName, status string) *Error {
	return &Error{
		Code:    ErrCodeStackBusy,
		Message: fmt.Sprintf("stack %s has an operation in progress (%s); wait for it to finish", stackName, status),
		Details: map[string]interface{}{
			"stack":  stackName,
			"status": status,
		},
	}
}

// PublishPartial creates an error summarizing a publish run where some
// objects failed to upload
func PublishPartial(bucket string, uploaded int, failed []string) *Error {
	return &Error{
		Code:    ErrCodePublishPartial,
		Message: fmt.Sprintf("published %d objects to %s, %d failed", uploaded, bucket, len(failed)),
		Details: map[string]interface{}{
			"bucket":      bucket,
			"uploaded":    uploaded,
			"failed_keys": failed,
		},
	}
}

// UserAborted creates an error for an operation cancelled by the user
func UserAborted(operation string) *Error {
	return &Error{
		Code:    ErrCodeUserAborted,
		Message: fmt.Sprintf("%s aborted by user", operation),
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Is checks if the error or any error it wraps matches the given code
func Is(err error, code ErrorCode) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}
