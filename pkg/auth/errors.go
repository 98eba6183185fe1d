package auth

import (
	"errors"
	"fmt"
)

// ErrNoCredential is returned by Discover when no source yields a refresh
// token. The process cannot serve requests without one.
var ErrNoCredential = errors.New("auth: no refresh credential found in sqlite, file, or environment")

// FatalError reports a refresh failure that will not succeed on retry, such
// as a rejected or revoked refresh token. When InvalidGrant is set the
// manager marks itself permanently failed and answers every subsequent
// request with this error until the credential is replaced.
type FatalError struct {
	Provider   Provider
	StatusCode int
	Code       string
	Message    string

	// InvalidGrant is true when the identity provider reported the refresh
	// token itself as dead (invalid_grant or the desktop equivalent).
	InvalidGrant bool
}

func (e *FatalError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth: %s refresh rejected (%d %s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("auth: %s refresh rejected (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// TransientError reports a refresh failure worth retrying: a network error
// or a 5xx from the identity provider.
type TransientError struct {
	Provider Provider
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("auth: %s refresh failed transiently: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsFatal reports whether err is a non-retryable refresh failure.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
