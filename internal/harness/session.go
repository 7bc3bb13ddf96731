package harness

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// AuthState is the bootstrapper's authentication state.
type AuthState int

const (
	StateUnauthenticated AuthState = iota
	StateAuthenticating
	StateRegistering
	StateAuthenticated
	StateAuthFailed
)

func (s AuthState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateRegistering:
		return "registering"
	case StateAuthenticated:
		return "authenticated"
	case StateAuthFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Credentials is the credential pair owned by a session.
type Credentials struct {
	Username string
	Password string
}

// Login and registration form targets. Candidate order prefers ids over
// name attributes.
var (
	usernameField = Target{
		Name:      "username field",
		Selectors: []string{`#username`, `input[name="username"]`},
		Visible:   true,
	}
	passwordField = Target{
		Name:      "password field",
		Selectors: []string{`#password`, `input[name="password"]`},
		Visible:   true,
	}
	confirmPasswordField = Target{
		Name:      "confirm password field",
		Selectors: []string{`#confirm_password`, `input[name="confirm_password"]`},
		Visible:   true,
	}
	consentCheckbox = Target{
		Name:      "consent checkbox",
		Selectors: []string{`#acknowledge`, `input[name="acknowledge"]`, `input[type="checkbox"]`},
		Timeout:   2 * time.Second,
	}
	submitButton = Target{
		Name:      "submit button",
		Selectors: []string{`button[type="submit"]`, `input[type="submit"]`},
		Visible:   true,
	}
)

// IsLoginURL reports whether an address denotes the login surface.
func IsLoginURL(rawURL string) bool {
	return urlPathHasSuffix(rawURL, "/auth/login") || urlPathHasSuffix(rawURL, "/login")
}

// IsRegisterURL reports whether an address denotes the registration surface.
func IsRegisterURL(rawURL string) bool {
	return urlPathHasSuffix(rawURL, "/auth/register") || urlPathHasSuffix(rawURL, "/register")
}

func urlPathHasSuffix(rawURL, suffix string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.Contains(rawURL, suffix)
	}
	path := strings.TrimRight(u.Path, "/")
	return strings.HasSuffix(path, suffix)
}

// BootstrapConfig configures a Bootstrapper.
type BootstrapConfig struct {
	BaseURL string

	// ProtectedPath is a known protected resource used to probe for an
	// existing session. Default "/history".
	ProtectedPath string
	LoginPath     string // default "/auth/login"
	RegisterPath  string // default "/auth/register"

	// StepTimeout bounds each network-dependent step. A step that times out
	// degrades to the next fallback instead of propagating.
	StepTimeout time.Duration // default 15s

	Logger arbor.ILogger
}

// Bootstrapper guarantees the browsing context ends in an authenticated
// state, using login-then-register-then-login fallback. Success is detected
// via the post-submission location, never trusted return values. It is
// idempotent: safe to invoke multiple times on the same context, converging
// to Authenticated or Failed without manual reset.
type Bootstrapper struct {
	browser Browser
	cfg     BootstrapConfig
	log     arbor.ILogger
	state   AuthState
}

// NewBootstrapper creates a Bootstrapper for the given browser and config.
func NewBootstrapper(b Browser, cfg BootstrapConfig) *Bootstrapper {
	if cfg.ProtectedPath == "" {
		cfg.ProtectedPath = "/history"
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/auth/login"
	}
	if cfg.RegisterPath == "" {
		cfg.RegisterPath = "/auth/register"
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 15 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = arbor.NewLogger()
	}
	return &Bootstrapper{browser: b, cfg: cfg, log: log, state: StateUnauthenticated}
}

// State returns the current authentication state.
func (s *Bootstrapper) State() AuthState {
	return s.state
}

// Bootstrap converges the browsing context to an authenticated session.
//
// Protocol:
//  1. Probe a protected resource. If reachable without a redirect to the
//     login surface, the context is already authenticated.
//  2. Attempt login. Success iff the post-submission address no longer
//     denotes the login surface.
//  3. On failure, register with the same credentials (plus consent
//     acknowledgment), then retry login once.
//  4. If that also fails, the terminal state is Failed and the returned
//     *AuthenticationFailedError aborts the suite.
func (s *Bootstrapper) Bootstrap(ctx context.Context, creds Credentials) error {
	s.state = StateAuthenticating

	// Step 1: probe. Makes repeated invocations short-circuit.
	if authed, err := s.probeProtected(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Protected resource probe failed, proceeding to login")
	} else if authed {
		s.log.Info().Msg("Existing session detected, skipping login")
		s.state = StateAuthenticated
		return nil
	}

	// Step 2: login with supplied credentials.
	if ok, err := s.attemptLogin(ctx, creds); err != nil {
		s.log.Warn().Err(err).Msg("Login attempt errored, falling back to registration")
	} else if ok {
		s.log.Info().Str("username", creds.Username).Msg("Login succeeded")
		s.state = StateAuthenticated
		return nil
	}

	// Step 3: register, then retry login once.
	s.state = StateRegistering
	s.log.Info().Str("username", creds.Username).Msg("Login failed, attempting registration")
	registered, regErr := s.attemptRegister(ctx, creds)
	if regErr != nil {
		s.log.Warn().Err(regErr).Msg("Registration attempt errored")
	}
	if registered {
		// Registration may have logged us in directly.
		if authed, err := s.probeProtected(ctx); err == nil && authed {
			s.state = StateAuthenticated
			return nil
		}
	}

	if ok, err := s.attemptLogin(ctx, creds); err == nil && ok {
		s.log.Info().Str("username", creds.Username).Msg("Login after registration succeeded")
		s.state = StateAuthenticated
		return nil
	}

	s.state = StateAuthFailed
	cause := "login and registration both failed"
	if regErr != nil {
		cause = fmt.Sprintf("login failed and registration errored: %v", regErr)
	}
	return &AuthenticationFailedError{Username: creds.Username, Cause: cause}
}

// probeProtected navigates to a protected resource and reports whether the
// resulting address is still the protected resource (authenticated) or a
// redirect to the auth surfaces (not authenticated).
func (s *Bootstrapper) probeProtected(ctx context.Context) (bool, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()

	if err := s.browser.Navigate(stepCtx, s.cfg.BaseURL+s.cfg.ProtectedPath); err != nil {
		return false, err
	}
	loc, err := s.browser.Location(stepCtx)
	if err != nil {
		return false, err
	}
	return !IsLoginURL(loc) && !IsRegisterURL(loc), nil
}

func (s *Bootstrapper) attemptLogin(ctx context.Context, creds Credentials) (bool, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()

	loginURL := s.cfg.BaseURL + s.cfg.LoginPath
	if err := s.browser.Navigate(stepCtx, loginURL); err != nil {
		return false, err
	}

	if _, err := TypeInto(stepCtx, s.browser, usernameField, creds.Username, TypeOptions{Clear: true}); err != nil {
		return false, err
	}
	if _, err := TypeInto(stepCtx, s.browser, passwordField, creds.Password, TypeOptions{Clear: true}); err != nil {
		return false, err
	}
	if err := Click(stepCtx, s.browser, submitButton); err != nil {
		return false, err
	}

	// Success is determined solely by where we end up.
	loc, err := s.awaitDeparture(stepCtx, IsLoginURL)
	if err != nil {
		return false, nil // still on the login surface at timeout
	}
	s.log.Debug().Str("location", loc).Msg("Post-login location")
	return true, nil
}

func (s *Bootstrapper) attemptRegister(ctx context.Context, creds Credentials) (bool, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()

	registerURL := s.cfg.BaseURL + s.cfg.RegisterPath
	if err := s.browser.Navigate(stepCtx, registerURL); err != nil {
		return false, err
	}

	// No registration form reachable means the fallback is unavailable.
	loc, err := s.browser.Location(stepCtx)
	if err != nil {
		return false, err
	}
	if !IsRegisterURL(loc) {
		return false, fmt.Errorf("registration form not reachable, landed on %s", loc)
	}

	if _, err := TypeInto(stepCtx, s.browser, usernameField, creds.Username, TypeOptions{Clear: true}); err != nil {
		return false, err
	}
	if _, err := TypeInto(stepCtx, s.browser, passwordField, creds.Password, TypeOptions{Clear: true}); err != nil {
		return false, err
	}

	// Confirmation and consent are optional affordances: fill when present.
	if present, err := Present(stepCtx, s.browser, confirmPasswordField); err == nil && present {
		if _, err := TypeInto(stepCtx, s.browser, confirmPasswordField, creds.Password, TypeOptions{Clear: true}); err != nil {
			return false, err
		}
	}
	if present, err := Present(stepCtx, s.browser, consentCheckbox); err == nil && present {
		if err := Click(stepCtx, s.browser, consentCheckbox); err != nil {
			return false, err
		}
	}

	if err := Click(stepCtx, s.browser, submitButton); err != nil {
		return false, err
	}

	// Still on the registration surface after submission means it failed.
	if _, err := s.awaitDeparture(stepCtx, IsRegisterURL); err != nil {
		return false, fmt.Errorf("still on registration surface after submission")
	}
	return true, nil
}

// awaitDeparture polls the location until it no longer satisfies denotes,
// returning the settled address.
func (s *Bootstrapper) awaitDeparture(ctx context.Context, denotes func(string) bool) (string, error) {
	for {
		loc, err := s.browser.Location(ctx)
		if err == nil && !denotes(loc) {
			return loc, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
