// Package httpclient builds HTTP clients for talking to the application
// under test outside a browser. The session client drives the same
// form-based login the browser uses, so API-level tests observe the
// application exactly as an authenticated user would.
package httpclient

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/cberranger/local-deep-research/internal/harness"
)

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// NewSessionClient returns a cookie-jar client holding an authenticated
// session for the given credentials. It registers the account first; an
// already-taken username falls through to login, so the call is safe to
// repeat with the same credentials.
func NewSessionClient(baseURL string, creds harness.Credentials) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	client := &http.Client{
		Jar:     jar,
		Timeout: 30 * time.Second,
	}

	resp, err := client.PostForm(baseURL+"/auth/register", url.Values{
		"username":         {creds.Username},
		"password":         {creds.Password},
		"confirm_password": {creds.Password},
		"acknowledge":      {"yes"},
	})
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	resp.Body.Close()

	resp, err = client.PostForm(baseURL+"/auth/login", url.Values{
		"username": {creds.Username},
		"password": {creds.Password},
	})
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &harness.AuthenticationFailedError{
			Username: creds.Username,
			Cause:    fmt.Sprintf("login returned status %d", resp.StatusCode),
		}
	}

	// The login form re-renders in place on bad credentials, so a 200 is
	// not proof of a session. Verify with a protected resource.
	checkResp, err := client.Get(baseURL + "/history")
	if err != nil {
		return nil, fmt.Errorf("session verification failed: %w", err)
	}
	checkResp.Body.Close()

	if harness.IsLoginURL(checkResp.Request.URL.String()) {
		return nil, &harness.AuthenticationFailedError{
			Username: creds.Username,
			Cause:    "protected resource redirected to login",
		}
	}

	return client, nil
}
