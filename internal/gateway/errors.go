package gateway

import (
	"errors"
	"fmt"
)

// ConfigError reports an operation with no endpoint URL at all.
type ConfigError struct {
	Op Operation
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("gateway URL not configured for operation %q", e.Op)
}

// Error is a failed gateway call: transport failure, timeout or non-2xx.
type Error struct {
	Op         Operation
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("gateway %s timed out", e.Op)
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway %s returned status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a gateway timeout.
func IsTimeout(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Timeout
}

// IsConfigError reports whether err is a missing endpoint.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
