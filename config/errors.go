package config

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrBookedDateMissing = errors.New("the currently booked appointment date is required")
	ErrRequired          = errors.New("value is required")
)

// ConfigError is an invalid or missing setting. It is fatal at startup.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ConfigError{Field: field, Err: err}
}
