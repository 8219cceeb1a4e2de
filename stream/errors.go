package stream

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyMonitored    = errors.New("streamer already monitored")
	ErrNotFound            = errors.New("streamer not found")
	ErrInvalidPlatform     = errors.New("invalid platform")
	ErrInvalidStreamer     = errors.New("invalid streamer")
	ErrSignatureInvalid    = errors.New("webhook signature invalid")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnsupportedPlatform = errors.New("platform does not support this operation")
)

// AuthError means a platform credential could not be obtained or was rejected.
type AuthError struct {
	Platform Platform
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s auth: %v", e.Platform, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// TransientError is a platform I/O failure worth retrying.
type TransientError struct {
	Platform   Platform
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s request failed with status %d: %v", e.Platform, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s request failed: %v", e.Platform, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

func IsTransient(err error) bool {
	var transientErr *TransientError
	return errors.As(err, &transientErr)
}
