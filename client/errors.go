package client

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrCSRFTokenMissing     = errors.New("csrf token not found")
	ErrSessionCookieMissing = errors.New("session cookie not found")
	ErrSessionExpired       = errors.New("session expired")
)

// Authentication stages reported by AuthError.
const (
	StageSignInPage    = "sign_in_page"
	StageCSRFToken     = "csrf_token"
	StageSessionCookie = "session_cookie"
	StageSignIn        = "sign_in"
	StageRefresh       = "refresh"
)

// AuthError means a session could not be established or refreshed.
type AuthError struct {
	Stage      string
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	msg := "authentication failed at " + e.Stage
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProbeError is a failed day or time query. It never leaves the prober
// except as Probe.Err.
type ProbeError struct {
	Endpoint   string
	LocationID string
	StatusCode int
	// Message is the error field embedded in the JSON body, if any.
	Message string
	Err     error
}

func (e *ProbeError) Error() string {
	msg := fmt.Sprintf("%s probe for location %s failed", e.Endpoint, e.LocationID)
	switch {
	case e.Message != "":
		msg += ": portal error: " + e.Message
	case e.StatusCode != 0:
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProbeError) Unwrap() error { return e.Err }

// BookingError describes why the booking attempt did not succeed.
type BookingError struct {
	Status     BookingStatus
	StatusCode int
	Err        error
}

func (e *BookingError) Error() string {
	msg := "booking " + string(e.Status)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BookingError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is or wraps an *AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
