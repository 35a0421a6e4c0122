package cubyapi

import (
	"errors"
	"fmt"
	"strings"
)

// AuthError is returned when the cloud rejects the credential (401/403).
// Any AuthError invalidates the session token upstream.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("cuby auth rejected (%d)", e.Status)
	}
	return fmt.Sprintf("cuby auth rejected (%d): %s", e.Status, strings.TrimSpace(e.Body))
}

// NetworkError wraps transport failures and server-side (5xx) errors.
// These are recoverable: the next poll cycle retries.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("cuby %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// DeviceNotFoundError is returned on 404 for a device path, meaning the
// device was removed server-side.
type DeviceNotFoundError struct {
	DeviceID string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("cuby device %s not found", e.DeviceID)
}

// CommandRejectedError is returned when the API refuses a control payload
// with a 4xx status other than an auth failure.
type CommandRejectedError struct {
	DeviceID string
	Status   int
	Body     string
}

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("cuby command rejected for %s (%d): %s", e.DeviceID, e.Status, strings.TrimSpace(e.Body))
}

// MalformedResponseError is returned when a response body cannot be
// decoded into the expected shape.
type MalformedResponseError struct {
	Op  string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("cuby %s: malformed response: %v", e.Op, e.Err)
}
func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
