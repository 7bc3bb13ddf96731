package harness

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appBrowser simulates the application's auth surfaces behind the Browser
// interface: a login form, an optional registration form, and a protected
// history page.
type appBrowser struct {
	mu sync.Mutex

	base            string
	users           map[string]string
	authed          bool
	registerEnabled bool

	page   string // "login", "register", "home", "history"
	url    string
	fields map[string]string

	registerNavs int
	loginSubmits int
}

func newAppBrowser() *appBrowser {
	return &appBrowser{
		base:            "http://app.test",
		users:           make(map[string]string),
		registerEnabled: true,
		fields:          make(map[string]string),
	}
}

func (a *appBrowser) Navigate(ctx context.Context, rawURL string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fields = make(map[string]string)

	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	switch {
	case strings.HasPrefix(u.Path, "/history"):
		if a.authed {
			a.page, a.url = "history", rawURL
		} else {
			a.page, a.url = "login", a.base+"/auth/login?next=%2Fhistory"
		}
	case strings.HasPrefix(u.Path, "/auth/register"):
		if a.registerEnabled {
			a.registerNavs++
			a.page, a.url = "register", rawURL
		} else {
			a.page, a.url = "login", a.base+"/auth/login"
		}
	case strings.HasPrefix(u.Path, "/auth/login"):
		a.page, a.url = "login", rawURL
	default:
		if a.authed {
			a.page, a.url = "home", rawURL
		} else {
			a.page, a.url = "login", a.base+"/auth/login"
		}
	}
	return nil
}

func (a *appBrowser) Location(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.url, nil
}

func (a *appBrowser) pageSelectors() []string {
	switch a.page {
	case "login":
		return []string{`#username`, `#password`, `button[type="submit"]`}
	case "register":
		return []string{`#username`, `#password`, `#confirm_password`, `#acknowledge`, `button[type="submit"]`}
	default:
		return nil
	}
}

func (a *appBrowser) FirstMatch(ctx context.Context, selectors []string, visible bool) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	available := a.pageSelectors()
	for _, sel := range selectors {
		for _, have := range available {
			if sel == have {
				return sel, nil
			}
		}
	}
	return "", nil
}

func (a *appBrowser) Click(ctx context.Context, selector string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch selector {
	case `#acknowledge`:
		a.fields[`#acknowledge`] = "checked"
	case `button[type="submit"]`:
		switch a.page {
		case "login":
			a.loginSubmits++
			user := a.fields[`#username`]
			if pass, ok := a.users[user]; ok && pass == a.fields[`#password`] {
				a.authed = true
				a.page, a.url = "home", a.base+"/"
			} // on failure the login surface re-renders in place
		case "register":
			user := a.fields[`#username`]
			pass := a.fields[`#password`]
			confirmed := a.fields[`#confirm_password`] == pass
			consented := a.fields[`#acknowledge`] == "checked"
			if user != "" && pass != "" && confirmed && consented {
				a.users[user] = pass
				// Registration redirects to login without starting a session.
				a.page, a.url = "login", a.base+"/auth/login"
			}
		}
	}
	return nil
}

func (a *appBrowser) SetValue(ctx context.Context, selector, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fields[selector] = value
	return nil
}

func (a *appBrowser) SendKeys(ctx context.Context, selector, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fields[selector] += text
	return nil
}

func (a *appBrowser) Value(ctx context.Context, selector string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fields[selector], nil
}

func (a *appBrowser) Text(ctx context.Context, selector string) (string, error) { return "", nil }

func (a *appBrowser) PageText(ctx context.Context) (string, error) { return "", nil }

func (a *appBrowser) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	return "", false, nil
}

func (a *appBrowser) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG fake"), nil
}

func testBootstrapper(b Browser) *Bootstrapper {
	return NewBootstrapper(b, BootstrapConfig{
		BaseURL:     "http://app.test",
		StepTimeout: 1500 * time.Millisecond,
	})
}

func TestBootstrapRegistersUnknownAccount(t *testing.T) {
	app := newAppBrowser()
	s := testBootstrapper(app)

	creds := Credentials{Username: "testuser", Password: "testpass123"}
	err := s.Bootstrap(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, s.State())

	// Registration path was taken exactly once.
	assert.Equal(t, 1, app.registerNavs)

	// The final address denotes neither the login nor registration surface.
	loc, err := app.Location(context.Background())
	require.NoError(t, err)
	assert.False(t, IsLoginURL(loc), "final location %s denotes login surface", loc)
	assert.False(t, IsRegisterURL(loc), "final location %s denotes registration surface", loc)
}

func TestBootstrapLogsInExistingAccount(t *testing.T) {
	app := newAppBrowser()
	app.users["testuser"] = "testpass123"

	s := testBootstrapper(app)
	err := s.Bootstrap(context.Background(), Credentials{Username: "testuser", Password: "testpass123"})
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, 0, app.registerNavs, "existing account must not trigger registration")
}

func TestBootstrapIsIdempotent(t *testing.T) {
	app := newAppBrowser()
	app.users["testuser"] = "testpass123"
	creds := Credentials{Username: "testuser", Password: "testpass123"}

	s := testBootstrapper(app)
	require.NoError(t, s.Bootstrap(context.Background(), creds))
	assert.Equal(t, StateAuthenticated, s.State())
	submitsAfterFirst := app.loginSubmits

	// Second invocation converges again and short-circuits: no further login
	// submissions and never a registration attempt.
	require.NoError(t, s.Bootstrap(context.Background(), creds))
	assert.Equal(t, StateAuthenticated, s.State())
	assert.Equal(t, submitsAfterFirst, app.loginSubmits)
	assert.Equal(t, 0, app.registerNavs)
}

func TestBootstrapFailsWhenRegistrationUnreachable(t *testing.T) {
	app := newAppBrowser()
	app.users["testuser"] = "a-different-password"
	app.registerEnabled = false

	s := testBootstrapper(app)
	err := s.Bootstrap(context.Background(), Credentials{Username: "testuser", Password: "wrong"})
	require.Error(t, err)
	assert.True(t, IsAuthenticationFailed(err), "expected AuthenticationFailedError, got %v", err)
	assert.Equal(t, StateAuthFailed, s.State())
}

func TestURLClassification(t *testing.T) {
	tests := []struct {
		url      string
		login    bool
		register bool
	}{
		{"http://app.test/auth/login", true, false},
		{"http://app.test/auth/login?next=%2Fhistory", true, false},
		{"http://app.test/login", true, false},
		{"http://app.test/auth/register", false, true},
		{"http://app.test/", false, false},
		{"http://app.test/history", false, false},
		{"http://app.test/progress/42", false, false},
		// Query text must not confuse path classification.
		{"http://app.test/results/7?q=how+to+login", false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.login, IsLoginURL(tt.url), "IsLoginURL(%s)", tt.url)
		assert.Equal(t, tt.register, IsRegisterURL(tt.url), "IsRegisterURL(%s)", tt.url)
	}
}
