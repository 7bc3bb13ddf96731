// Package harness contains the reusable browser test orchestration core:
// the resilient locator, action primitives, the session bootstrapper, and
// the asynchronous job poller. All components take the browsing context as
// an explicit parameter; nothing in this package closes over shared state.
package harness

import (
	"errors"
	"fmt"
	"time"
)

// NotFoundError reports that none of a target's candidate selectors matched
// within the wait policy's timeout. It is recoverable: callers decide whether
// absence is a failure, a skip, or an expected negative case.
type NotFoundError struct {
	Target    string
	Selectors []string
	Timeout   time.Duration
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("element %q not found: no candidate of %v matched within %v", e.Target, e.Selectors, e.Timeout)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// NavigationTimeoutError reports that a network-bound operation exceeded its
// bound. It is a soft signal: some surfaces poll continuously and never
// "finish" loading.
type NavigationTimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *NavigationTimeoutError) Error() string {
	return fmt.Sprintf("navigation to %s did not settle within %v: %v", e.URL, e.Timeout, e.Err)
}

func (e *NavigationTimeoutError) Unwrap() error {
	return e.Err
}

// AuthenticationFailedError is terminal: login and the registration fallback
// both failed, so no subsequent scenario can be meaningful.
type AuthenticationFailedError struct {
	Username string
	Cause    string
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("authentication failed for %q: %s", e.Username, e.Cause)
}

// IsAuthenticationFailed reports whether err is (or wraps) an
// AuthenticationFailedError.
func IsAuthenticationFailed(err error) bool {
	var af *AuthenticationFailedError
	return errors.As(err, &af)
}

// ErrNoJobID is returned when a job handle without an identifier is polled.
// Dependent assertions should be skipped, not failed.
var ErrNoJobID = errors.New("job handle has no identifier")
