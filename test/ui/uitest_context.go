// uitest_context.go - Shared UI test context and helpers
// This provides UITestContext and helper functions used by all UI tests.
// NOTE: This is NOT a test file - it contains shared test infrastructure.

package ui

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	ldrcommon "github.com/cberranger/local-deep-research/internal/common"
	"github.com/cberranger/local-deep-research/internal/harness"
	"github.com/cberranger/local-deep-research/test/common"
)

const (
	// MaxResearchTestTimeout is the maximum timeout for research completion tests
	MaxResearchTestTimeout = 10 * time.Minute

	// DefaultUITestTimeout covers tests that never wait on a research job
	DefaultUITestTimeout = 3 * time.Minute
)

// UITestContext holds shared state for UI tests
type UITestContext struct {
	T       *testing.T
	Env     *common.TestEnvironment
	Ctx     context.Context
	BaseURL string

	Browser  harness.Browser
	Recorder *harness.Recorder
	Session  *harness.Bootstrapper

	// Common page URLs
	LoginURL         string
	RegisterURL      string
	HistoryURL       string
	SettingsURL      string
	CollectionsURL   string
	SubscriptionsURL string

	// Internal cleanup functions
	cleanup []func()
}

// NewUITestContext creates a new UI test context with browser and environment
func NewUITestContext(t *testing.T, timeout time.Duration) *UITestContext {
	env, err := common.SetupTestEnvironment(t.Name())
	if err != nil {
		t.Fatalf("Failed to setup test environment: %v", err)
	}

	ctx, cancelTimeout := context.WithTimeout(context.Background(), timeout)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Mirror browser console output into the test log. Console errors are
	// often the only trace of a client-side failure.
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		if e, ok := ev.(*runtime.EventConsoleAPICalled); ok {
			for _, arg := range e.Args {
				env.LogTest(t, "console.%s: %s", e.Type, string(arg.Value))
			}
		}
	})

	baseURL := env.GetBaseURL()
	browser := harness.NewChromeBrowser()

	utc := &UITestContext{
		T:                t,
		Env:              env,
		Ctx:              browserCtx,
		BaseURL:          baseURL,
		Browser:          browser,
		Recorder:         harness.NewRecorder(browser, env.GetResultsDir(), ldrcommon.GetLogger()),
		LoginURL:         baseURL + "/auth/login",
		RegisterURL:      baseURL + "/auth/register",
		HistoryURL:       baseURL + "/history",
		SettingsURL:      baseURL + "/settings",
		CollectionsURL:   baseURL + "/collections",
		SubscriptionsURL: baseURL + "/news/subscriptions",
		cleanup:          make([]func(), 0),
	}

	utc.Session = harness.NewBootstrapper(browser, harness.BootstrapConfig{
		BaseURL: baseURL,
		Logger:  ldrcommon.GetLogger(),
	})

	utc.cleanup = append(utc.cleanup, func() { env.Cleanup() })
	utc.cleanup = append(utc.cleanup, func() { cancelTimeout() })
	utc.cleanup = append(utc.cleanup, func() { cancelAlloc() })
	utc.cleanup = append(utc.cleanup, func() { cancelBrowser() })
	utc.cleanup = append(utc.cleanup, func() {
		if err := chromedp.Cancel(browserCtx); err != nil {
			t.Logf("Warning: browser cancel returned: %v", err)
		}
	})

	return utc
}

// Cleanup releases all resources. Call this with defer.
func (utc *UITestContext) Cleanup() {
	// Write test result to log file before cleanup so PASS/FAIL status is
	// captured in test.log
	if utc.T.Failed() {
		utc.Log("=== TEST RESULT: FAIL ===")
	} else {
		utc.Log("=== TEST RESULT: PASS ===")
	}

	for i := len(utc.cleanup) - 1; i >= 0; i-- {
		utc.cleanup[i]()
	}
}

// Log writes a message to the test log
func (utc *UITestContext) Log(format string, args ...interface{}) {
	utc.Env.LogTest(utc.T, format, args...)
}

// Screenshot takes a full page screenshot with a sequential number prefix
func (utc *UITestContext) Screenshot(name string) error {
	return utc.Recorder.Capture(utc.Ctx, name)
}

// Navigate navigates to a URL and waits for the page body
func (utc *UITestContext) Navigate(url string) error {
	if err := utc.Browser.Navigate(utc.Ctx, url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// NewTestCredentials returns unique credentials for this test run. Each run
// registers a fresh account so tests never depend on pre-existing state.
func NewTestCredentials() harness.Credentials {
	return harness.Credentials{
		Username: "ldrtest-" + ldrcommon.NewRunID(),
		Password: "ldr-test-" + ldrcommon.NewRunID(),
	}
}

// Bootstrap establishes an authenticated session using fresh credentials and
// returns the credentials it used.
func (utc *UITestContext) Bootstrap() harness.Credentials {
	creds := NewTestCredentials()
	utc.BootstrapWith(creds)
	return creds
}

// BootstrapWith establishes an authenticated session with the given
// credentials, failing the test if authentication cannot be reached.
func (utc *UITestContext) BootstrapWith(creds harness.Credentials) {
	utc.Log("Bootstrapping session for %s", creds.Username)
	if err := utc.Session.Bootstrap(utc.Ctx, creds); err != nil {
		utc.Screenshot("bootstrap_failed")
		utc.T.Fatalf("Failed to bootstrap authenticated session: %v", err)
	}
	utc.Log("Session established (state: %s)", utc.Session.State())
}

// ProgressSurface returns a poll surface over the current browsing context
func (utc *UITestContext) ProgressSurface() harness.Surface {
	return harness.BrowserSurface{Browser: utc.Browser}
}
