package auth

import "fmt"

// AuthenticationError reports that credentials could not be obtained or
// were rejected by the identity provider.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// LoginRequiredError reports that no usable credential exists for a cache
// key and an interactive login is needed. It matches AuthenticationError
// under errors.As.
type LoginRequiredError struct {
	AuthenticationError
	CacheKey string
}

func NewLoginRequiredError(cacheKey string) *LoginRequiredError {
	return &LoginRequiredError{
		AuthenticationError: AuthenticationError{Reason: "login required"},
		CacheKey:            cacheKey,
	}
}

func (e *LoginRequiredError) Error() string {
	return fmt.Sprintf("not logged in to %s; run `gerritctl auth login` first", e.CacheKey)
}

func (e *LoginRequiredError) Unwrap() error {
	return &e.AuthenticationError
}
