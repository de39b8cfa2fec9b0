package config

import (
	"fmt"

	"github.com/domonda/go-errs"
)

const ErrConfiguration errs.Sentinel = "configuration error"

// ConfigurationError is returned for invalid or incomplete settings.
// It matches ErrConfiguration with errors.Is.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}
