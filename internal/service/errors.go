package service

import (
	"errors"
	"fmt"

	"github.com/wa-console/instance-manager/internal/gateway"
)

// Error codes returned by service operations.
const (
	ErrCodeValidation     = "VALIDATION"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeConfiguration  = "CONFIGURATION"
	ErrCodeGateway        = "GATEWAY"
	ErrCodeGatewayTimeout = "GATEWAY_TIMEOUT"
	ErrCodeInternal       = "INTERNAL"
)

// ServiceError represents a business logic error with a code for HTTP mapping.
type ServiceError struct {
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}

func NewValidationError(format string, args ...any) *ServiceError {
	return &ServiceError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

func NewUnauthorizedError(msg string) *ServiceError {
	return &ServiceError{Code: ErrCodeUnauthorized, Message: msg}
}

func NewForbiddenError(msg string) *ServiceError {
	return &ServiceError{Code: ErrCodeForbidden, Message: msg}
}

func NewNotFoundError(format string, args ...any) *ServiceError {
	return &ServiceError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewConflictError(format string, args ...any) *ServiceError {
	return &ServiceError{Code: ErrCodeConflict, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of a *ServiceError in err's chain, or
// ErrCodeInternal.
func CodeOf(err error) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return ErrCodeInternal
}

// gatewayFailure translates gateway client errors. Anything else is returned
// unchanged and ends up as an internal error.
func gatewayFailure(err error) error {
	var cfgErr *gateway.ConfigError
	if errors.As(err, &cfgErr) {
		return &ServiceError{Code: ErrCodeConfiguration, Message: cfgErr.Error()}
	}
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		if gwErr.Timeout {
			return &ServiceError{Code: ErrCodeGatewayTimeout, Message: gwErr.Error()}
		}
		return &ServiceError{Code: ErrCodeGateway, Message: gwErr.Error()}
	}
	return err
}
