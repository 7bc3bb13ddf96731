// Shared scaffolding for the UI and API suites: configuration, per-test
// result directories, log capture, and the lifecycle of the application
// under test (in-process mock or external service).

package common

import (
	"bytes"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/cberranger/local-deep-research/internal/mockapp"
)

// TestMainOutput captures the TestMain output for later inclusion in test logs
var TestMainOutput bytes.Buffer

// suiteDirectories maps a suite name (e.g. "research") to the timestamped
// parent directory shared by all tests in that suite for this run.
var (
	suiteDirectories   = make(map[string]string)
	suiteDirectoriesMu sync.Mutex
)

// TestConfig holds the test configuration loaded from test/config/setup.toml
type TestConfig struct {
	Build struct {
		SourceDir    string `toml:"source_dir"`
		BinaryOutput string `toml:"binary_output"`
		ConfigFile   string `toml:"config_file"`
		VersionFile  string `toml:"version_file"`
	} `toml:"build"`
	Service struct {
		StartupTimeoutSeconds int    `toml:"startup_timeout_seconds"`
		Port                  int    `toml:"port"`
		Host                  string `toml:"host"`
		ShutdownEndpoint      string `toml:"shutdown_endpoint"`
	} `toml:"service"`
	Output struct {
		ResultsBaseDir string `toml:"results_base_dir"`
	} `toml:"output"`
}

// TestEnvironment represents a prepared application under test plus the
// per-test results directory and log files.
type TestEnvironment struct {
	Config     *TestConfig
	Cmd        *exec.Cmd
	ResultsDir string
	LogFile    *os.File // service output
	TestLog    *os.File // test execution log
	Port       int

	// baseURL overrides the configured address when the runner provides
	// the application (TEST_SERVER_URL).
	baseURL string

	// Without a runner-provided application, mock mode serves one
	// in-process.
	mockApp *mockapp.Server
	mockSrv *httptest.Server

	outputCapture *OutputCapture
}

// suiteNameOf derives a suite name from a test name by truncating at the
// second capital after the Test prefix: "TestResearchSubmit" -> "research".
func suiteNameOf(testName string) string {
	name := strings.TrimPrefix(testName, "Test")
	seen := 0
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			seen++
			if seen == 2 {
				return strings.ToLower(name[:i])
			}
		}
	}
	return strings.ToLower(name)
}

func suiteDirFor(suiteName, baseDir string) (string, error) {
	suiteDirectoriesMu.Lock()
	defer suiteDirectoriesMu.Unlock()

	if dir, ok := suiteDirectories[suiteName]; ok {
		return dir, nil
	}

	dir := filepath.Join(baseDir, suiteName+"-"+time.Now().Format("20060102-150405"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create suite directory: %w", err)
	}
	suiteDirectories[suiteName] = dir
	return dir, nil
}

// testTypeFromCwd reports "ui" or "api" depending on which suite directory
// the test binary runs in. Both path separators are checked because go test
// reports Windows paths with backslashes.
func testTypeFromCwd() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	switch {
	case strings.Contains(cwd, "test/ui"), strings.Contains(cwd, `test\ui`):
		return "ui", nil
	case strings.Contains(cwd, "test/api"), strings.Contains(cwd, `test\api`):
		return "api", nil
	}
	return "", fmt.Errorf("tests must run from test/ui or test/api, current: %s", cwd)
}

// LoadTestConfig loads test/config/setup.toml relative to the suite
// directory. API tests get their own port so both suites can run side by
// side against separate service instances.
func LoadTestConfig() (*TestConfig, error) {
	testType, err := testTypeFromCwd()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile("../config/setup.toml")
	if err != nil {
		return nil, fmt.Errorf("failed to read setup.toml: %w", err)
	}

	var config TestConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse setup.toml: %w", err)
	}

	if testType == "api" {
		config.Service.Port = 19500
	}
	return &config, nil
}

// SetupTestEnvironment prepares the results directory, log files, and the
// application under test. With TEST_MODE=mock the simulated application is
// served in-process over httptest; otherwise the real service binary is
// built, any stale instance is shut down, and a fresh one is started and
// polled until ready.
func SetupTestEnvironment(testName string) (*TestEnvironment, error) {
	config, err := LoadTestConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load test config: %w", err)
	}

	testType, err := testTypeFromCwd()
	if err != nil {
		return nil, err
	}

	// The runner hands down a suite directory via TEST_RESULTS_DIR; direct
	// go test runs fall back to the configured results tree.
	baseDir := GetResultsDirFromEnv(filepath.Join(config.Output.ResultsBaseDir, testType))
	suiteDir, err := suiteDirFor(suiteNameOf(testName), baseDir)
	if err != nil {
		return nil, err
	}

	resultsDir := filepath.Join(suiteDir, testName)
	if err := os.MkdirAll(resultsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create test directory: %w", err)
	}

	logFile, err := os.Create(filepath.Join(resultsDir, "service.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to create service log file: %w", err)
	}
	testLog, err := os.Create(filepath.Join(resultsDir, "test.log"))
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to create test log file: %w", err)
	}

	env := &TestEnvironment{
		Config:     config,
		ResultsDir: resultsDir,
		LogFile:    logFile,
		TestLog:    testLog,
		Port:       config.Service.Port,
	}

	env.outputCapture = NewOutputCapture(testLog)
	env.outputCapture.Start()

	if TestMainOutput.Len() > 0 {
		testLog.WriteString("=== TEST MAIN OUTPUT ===\n")
		testLog.Write(TestMainOutput.Bytes())
		testLog.WriteString("========================\n\n")
	}

	if IsMockMode() {
		// The runner may already be serving the mock application; use it
		// so every suite hits the same instance it provisioned.
		if url := os.Getenv("TEST_SERVER_URL"); url != "" {
			env.baseURL = url
			fmt.Fprintf(logFile, "Mock mode: using runner-provided application at %s\n", url)
			return env, nil
		}
		fmt.Fprintf(logFile, "Mock mode: serving simulated application in-process\n")
		env.mockApp = mockapp.New(mockapp.Options{ResearchDuration: 5 * time.Second})
		env.mockSrv = httptest.NewServer(env.mockApp.Handler())
		fmt.Fprintf(logFile, "Mock application at %s\n", env.mockSrv.URL)
		return env, nil
	}

	if err := env.provisionService(); err != nil {
		env.Cleanup()
		return nil, err
	}
	return env, nil
}

// Cleanup stops the application under test and closes log files.
func (env *TestEnvironment) Cleanup() {
	if env.TestLog != nil {
		fmt.Fprintf(env.TestLog, "\n=== TEST COMPLETED ===\n")
	}
	if env.outputCapture != nil {
		env.outputCapture.Stop()
	}
	if env.mockSrv != nil {
		env.mockSrv.Close()
	}
	if env.Cmd != nil && env.Cmd.Process != nil {
		fmt.Fprintf(env.LogFile, "Stopping service (PID: %d)\n", env.Cmd.Process.Pid)
		env.Cmd.Process.Kill()
		env.Cmd.Wait()
	}
	if env.LogFile != nil {
		env.LogFile.Close()
	}
	if env.TestLog != nil {
		env.TestLog.Close()
	}
}

// GetBaseURL returns the base URL of the application under test: the
// runner-provided address, an in-process mock, or the configured service.
func (env *TestEnvironment) GetBaseURL() string {
	if env.baseURL != "" {
		return env.baseURL
	}
	if env.mockSrv != nil {
		return env.mockSrv.URL
	}
	return fmt.Sprintf("http://%s:%d", env.Config.Service.Host, env.Config.Service.Port)
}

// GetResultsDir returns the results directory for this test run.
func (env *TestEnvironment) GetResultsDir() string {
	return env.ResultsDir
}

// LogTest writes a message to the test log file and to t.Log.
func (env *TestEnvironment) LogTest(t *testing.T, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if env.TestLog != nil {
		fmt.Fprintf(env.TestLog, "[%s] %s\n", time.Now().Format("15:04:05"), msg)
	}
	t.Log(msg)
}

// OutputCapture tees stdout/stderr to the test log while keeping the
// original console output visible.
type OutputCapture struct {
	mu        sync.Mutex
	buffer    bytes.Buffer
	stdout    *os.File
	stderr    *os.File
	writer    *os.File
	reader    *os.File
	testLog   *os.File
	wg        sync.WaitGroup
	capturing bool
}

// NewOutputCapture creates a capturer that mirrors output into testLog.
func NewOutputCapture(testLog *os.File) *OutputCapture {
	return &OutputCapture{
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		testLog: testLog,
	}
}

// Start redirects stdout and stderr through the capture pipe.
func (oc *OutputCapture) Start() {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if oc.capturing {
		return
	}

	r, w, err := os.Pipe()
	if err != nil {
		return
	}
	oc.reader, oc.writer = r, w
	oc.capturing = true

	oc.wg.Add(1)
	go func() {
		defer oc.wg.Done()
		io.Copy(io.MultiWriter(&oc.buffer, oc.stdout, oc.testLog), oc.reader)
	}()

	os.Stdout = w
	os.Stderr = w
}

// Stop restores stdout/stderr and returns everything captured so far.
func (oc *OutputCapture) Stop() string {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if !oc.capturing {
		return oc.buffer.String()
	}

	os.Stdout = oc.stdout
	os.Stderr = oc.stderr
	oc.writer.Close()
	oc.wg.Wait()
	oc.capturing = false
	return oc.buffer.String()
}
