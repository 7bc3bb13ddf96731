package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/cberranger/local-deep-research/test/common"
)

// TestMain runs before all tests in the api package.
func TestMain(m *testing.M) {
	mw := io.MultiWriter(&common.TestMainOutput, os.Stderr)

	if common.IsMockMode() {
		fmt.Fprintln(mw, "Mock mode: each test serves the application in-process")
	} else if err := verifyServiceConnectivity(); err != nil {
		fmt.Fprintf(mw, "\nService not pre-started (tests using SetupTestEnvironment will start their own)\n")
		fmt.Fprintf(mw, "   Note: %v\n\n", err)
	} else {
		fmt.Fprintln(mw, "Service connectivity verified - proceeding with API tests")
	}

	os.Exit(m.Run())
}

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
	return nil
}
