package ui

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/cberranger/local-deep-research/test/common"
)

// TestMain runs before all tests in the ui package.
// It verifies the application is accessible before running any UI tests.
// NOTE: Service connectivity check is optional - tests using
// SetupTestEnvironment will start their own service instance.
func TestMain(m *testing.M) {
	mw := io.MultiWriter(&common.TestMainOutput, os.Stderr)

	if common.IsMockMode() {
		fmt.Fprintln(mw, "Mock mode: each test serves the application in-process")
	} else if err := verifyServiceConnectivity(); err != nil {
		fmt.Fprintf(mw, "\nService not pre-started (tests using SetupTestEnvironment will start their own)\n")
		fmt.Fprintf(mw, "   Note: %v\n\n", err)
	} else {
		fmt.Fprintln(mw, "Service connectivity verified - proceeding with UI tests")
	}

	var exitCode int
	func() {
		defer func() {
			if r := recover(); r != nil {
				fmt.Fprintf(mw, "\nPANIC during test execution: %v\n", r)
				exitCode = 1
			}
		}()
		exitCode = m.Run()
	}()

	os.Exit(exitCode)
}

// verifyServiceConnectivity checks if the application is accessible
func verifyServiceConnectivity() error {
	baseURL := common.MustGetTestServerURL()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(baseURL + "/api/status")
	if err != nil {
		return fmt.Errorf("service not accessible at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service returned status %d (expected 200 OK)", resp.StatusCode)
	}

	fmt.Printf("   Service URL: %s\n", baseURL)
	fmt.Printf("   Status: 200 OK\n")
	return nil
}
