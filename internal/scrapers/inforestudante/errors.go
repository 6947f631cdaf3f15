package inforestudante

import (
	"errors"
	"fmt"
)

var (
	ErrTransport      = errors.New("transport error")
	ErrAuthFailure    = errors.New("authentication failed")
	ErrNavFailure     = errors.New("navigation failed")
	ErrFormNotFound   = errors.New("enrollment form not found")
	ErrZoneNotFound   = errors.New("zone results table not found")
	ErrIrrelevantZone = errors.New("zone title is not relevant")
)

// TransportError is a request that could not be made or did not come back
// with a success status.
type TransportError struct {
	Method string
	Url    string
	// Status is 0 if no response was received.
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Url, e.Err)
	}
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Url, e.Status)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthFailure is a login that the portal refused.
type AuthFailure struct {
	Reason string
}

func (e *AuthFailure) Error() string {
	if e.Reason == "" {
		return ErrAuthFailure.Error()
	}
	return fmt.Sprintf("%s: %s", ErrAuthFailure.Error(), e.Reason)
}

func (e *AuthFailure) Is(target error) bool {
	return target == ErrAuthFailure
}

// ZoneTableError is a relevant zone that only holds free text, usually a
// notice that enrollment is closed.
type ZoneTableError struct {
	Title  string
	Notice string
}

func (e *ZoneTableError) Error() string {
	return fmt.Sprintf("zone %q: %s: %q", e.Title, ErrZoneNotFound.Error(), e.Notice)
}

func (e *ZoneTableError) Is(target error) bool {
	return target == ErrZoneNotFound
}
