// Helpers shared by the API and UI suites: runner environment contract,
// timing capture, and service-log scanning.

package common

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ldrcommon "github.com/cberranger/local-deep-research/internal/common"
)

// GetTestServerURL returns the application URL. The runner sets
// TEST_SERVER_URL; without it the staged bin/ldr-test-runner.toml is
// consulted, then the application's default address.
func GetTestServerURL() (string, error) {
	if url := os.Getenv("TEST_SERVER_URL"); url != "" {
		return url, nil
	}

	config, err := ldrcommon.LoadConfig(filepath.Join("..", "bin", "ldr-test-runner.toml"))
	if err != nil {
		return "http://localhost:5000", nil
	}
	return config.BaseURL(), nil
}

// MustGetTestServerURL returns the application URL or panics.
func MustGetTestServerURL() string {
	url, err := GetTestServerURL()
	if err != nil {
		panic(fmt.Sprintf("Failed to get test server URL: %v", err))
	}
	return url
}

// GetTestMode reports "mock" (in-process simulated application) or
// "integration" (real service), from TEST_MODE. Integration is the default.
func GetTestMode() string {
	if mode := os.Getenv("TEST_MODE"); mode != "" {
		return mode
	}
	return "integration"
}

// IsMockMode reports whether tests run against the simulated application.
func IsMockMode() bool {
	return GetTestMode() == "mock"
}

// GetResultsDirFromEnv returns TEST_RESULTS_DIR when the runner set it.
func GetResultsDirFromEnv(fallback string) string {
	if dir := os.Getenv("TEST_RESULTS_DIR"); dir != "" {
		return dir
	}
	return fallback
}

// AssertFileExistsAndNotEmpty reports whether the file exists with content,
// recording a test error otherwise.
func AssertFileExistsAndNotEmpty(t *testing.T, path string) bool {
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		t.Errorf("File does not exist: %s", path)
		return false
	case err != nil:
		t.Errorf("Failed to stat file %s: %v", path, err)
		return false
	case info.Size() == 0:
		t.Errorf("File is empty: %s", path)
		return false
	}
	t.Logf("File exists and is not empty: %s (%d bytes)", path, info.Size())
	return true
}

// RequireFileExistsAndNotEmpty fails the test immediately if the file is
// missing or empty.
func RequireFileExistsAndNotEmpty(t *testing.T, path string) {
	info, err := os.Stat(path)
	require.NoError(t, err, "File must exist: %s", path)
	require.Greater(t, info.Size(), int64(0), "File must not be empty: %s", path)
}

// Retry runs fn until it succeeds or maxAttempts is reached, sleeping delay
// between attempts.
func Retry(fn func() error, maxAttempts int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		time.Sleep(delay)
	}
	return fmt.Errorf("retry failed after %d attempts: %w", maxAttempts, lastErr)
}

// TestTimingData captures wall-clock timing for a test run, persisted as
// timing.json in the results directory.
type TestTimingData struct {
	TestName      string       `json:"test_name"`
	StartTime     string       `json:"start_time"`
	EndTime       string       `json:"end_time"`
	TotalDuration string       `json:"total_duration_formatted"`
	TotalSeconds  float64      `json:"total_duration_seconds"`
	StepTimings   []StepTiming `json:"step_timings,omitempty"`

	started time.Time
}

// StepTiming records one named phase of a test (bootstrap, research wait).
type StepTiming struct {
	StepName          string  `json:"step_name"`
	DurationFormatted string  `json:"duration_formatted"`
	DurationSeconds   float64 `json:"duration_seconds"`
}

// NewTestTimingData starts the clock for a test.
func NewTestTimingData(testName string) *TestTimingData {
	now := time.Now()
	return &TestTimingData{
		TestName:  testName,
		StartTime: now.Format(time.RFC3339),
		started:   now,
	}
}

// Complete stops the clock and fills in the totals.
func (t *TestTimingData) Complete() {
	now := time.Now()
	elapsed := now.Sub(t.started)
	t.EndTime = now.Format(time.RFC3339)
	t.TotalSeconds = elapsed.Seconds()
	t.TotalDuration = FormatDuration(elapsed)
}

// AddStepTiming records a named step duration.
func (t *TestTimingData) AddStepTiming(stepName string, d time.Duration) {
	t.StepTimings = append(t.StepTimings, StepTiming{
		StepName:          stepName,
		DurationFormatted: FormatDuration(d),
		DurationSeconds:   d.Seconds(),
	})
}

// FormatDuration renders a duration as "45.3s" or "2m15s".
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

// SaveTimingData writes timing.json into the results directory. Failures are
// logged but never fail the test.
func SaveTimingData(t *testing.T, resultsDir string, timing *TestTimingData) error {
	if resultsDir == "" || timing == nil {
		return nil
	}
	if err := os.MkdirAll(resultsDir, 0755); err != nil {
		t.Logf("Warning: failed to create results directory: %v", err)
		return err
	}

	data, err := json.MarshalIndent(timing, "", "  ")
	if err != nil {
		t.Logf("Warning: failed to marshal timing data: %v", err)
		return err
	}

	path := filepath.Join(resultsDir, "timing.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Logf("Warning: failed to write timing.json: %v", err)
		return err
	}
	t.Logf("Saved timing data to: %s", path)
	return nil
}

// serviceLogErrorPatterns are substrings that mark a server-side failure the
// UI alone would not surface. The Python traceback marker catches unhandled
// exceptions in the real application's log.
var serviceLogErrorPatterns = []struct {
	pattern string
	desc    string
}{
	{`"level":"error"`, "JSON structured error log"},
	{"level=error", "Key-value error log"},
	{"Traceback (most recent call last)", "Unhandled exception"},
	{"Internal Server Error", "HTTP 500 response"},
	{"research pipeline failed", "Research pipeline failure"},
	{"database is locked", "Database contention"},
	{"panic:", "Panic occurred"},
}

// AssertNoErrorsInServiceLog scans the captured service.log and fails the
// test when any known error pattern appears, quoting up to ten offending
// lines.
func AssertNoErrorsInServiceLog(t *testing.T, env *TestEnvironment) {
	t.Helper()

	resultsDir := env.GetResultsDir()
	if resultsDir == "" {
		t.Log("Warning: results directory not available for log checking")
		return
	}

	content, err := os.ReadFile(filepath.Join(resultsDir, "service.log"))
	if err != nil {
		t.Logf("Warning: failed to read service.log: %v", err)
		return
	}
	logContent := string(content)
	if logContent == "" {
		t.Log("Warning: service.log is empty")
		return
	}

	var found []string
	for _, ep := range serviceLogErrorPatterns {
		if strings.Contains(logContent, ep.pattern) {
			found = append(found, fmt.Sprintf("%s (pattern: %s)", ep.desc, ep.pattern))
		}
	}
	if len(found) == 0 {
		t.Log("No errors found in service.log")
		return
	}

	var quoted []string
	for _, line := range strings.Split(logContent, "\n") {
		for _, ep := range serviceLogErrorPatterns {
			if strings.Contains(line, ep.pattern) {
				if len(line) > 200 {
					line = line[:200] + "..."
				}
				quoted = append(quoted, line)
				break
			}
		}
		if len(quoted) >= 10 {
			break
		}
	}

	require.Fail(t, "Errors found in service.log",
		"Found %d error pattern(s): %v\n\nError log entries:\n%s",
		len(found), found, strings.Join(quoted, "\n"))
}
