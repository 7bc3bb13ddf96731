package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/cberranger/local-deep-research/internal/common"
	"github.com/cberranger/local-deep-research/internal/mockapp"
)

type TestSuite struct {
	Name    string
	Path    string
	Command []string
}

type TestResult struct {
	Suite    string
	Success  bool
	Output   string
	Duration time.Duration
}

type TestRunnerConfig struct {
	TestRunner struct {
		TestsDir  string `toml:"tests_dir"`
		OutputDir string `toml:"output_dir"`
	} `toml:"test_runner"`
	TestServer struct {
		Port int `toml:"port"`
	} `toml:"test_server"`
	Service struct {
		// Mode selects how the application under test is provided:
		// "external" expects a running service or starts the configured
		// binary; "mock" serves the simulated application in-process.
		Mode                  string `toml:"mode"`
		Binary                string `toml:"binary"`
		Config                string `toml:"config"`
		Port                  int    `toml:"port"`
		StartupTimeoutSeconds int    `toml:"startup_timeout_seconds"`
	} `toml:"service"`
}

// loadConfig loads the test runner configuration
func loadConfig() (*TestRunnerConfig, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	exeDir := filepath.Dir(exePath)

	configPath := filepath.Join(exeDir, "ldr-test-runner.toml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = "ldr-test-runner.toml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config TestRunnerConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.TestRunner.TestsDir == "" {
		config.TestRunner.TestsDir = "./test"
	}
	if config.TestRunner.OutputDir == "" {
		config.TestRunner.OutputDir = "./results"
	}
	if config.Service.Mode == "" {
		config.Service.Mode = "external"
	}
	if config.Service.StartupTimeoutSeconds == 0 {
		config.Service.StartupTimeoutSeconds = 60
	}
	if mode := os.Getenv("TEST_MODE"); mode != "" {
		config.Service.Mode = mode
	}

	return &config, nil
}

// killProcessOnPort kills any process listening on the specified port
func killProcessOnPort(port int) error {
	if runtime.GOOS == "windows" {
		cmd := exec.Command("powershell", "-Command",
			fmt.Sprintf("$proc = Get-NetTCPConnection -LocalPort %d -ErrorAction SilentlyContinue | Select-Object -ExpandProperty OwningProcess -Unique; if ($proc) { Stop-Process -Id $proc -Force; exit 0 } else { exit 0 }", port))
		output, err := cmd.CombinedOutput()
		if err != nil {
			outputStr := string(output)
			if outputStr != "" && !strings.Contains(outputStr, "Cannot find") {
				return fmt.Errorf("failed to kill process on port %d: %w, output: %s", port, err, outputStr)
			}
		}
		return nil
	}
	cmd := exec.Command("sh", "-c", fmt.Sprintf("lsof -ti tcp:%d | xargs kill -9 2>/dev/null || true", port))
	cmd.Run()
	return nil
}

func main() {
	common.LoadVersionFromFile()
	common.PrintBanner(common.GetVersion())

	config, err := loadConfig()
	if err != nil {
		fmt.Printf("ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration:\n")
	fmt.Printf("  Tests Directory:  %s\n", config.TestRunner.TestsDir)
	fmt.Printf("  Output Directory: %s\n", config.TestRunner.OutputDir)
	fmt.Printf("  Service Mode:     %s\n\n", config.Service.Mode)

	// Step 0: Start the validation server so a broken Chrome install fails
	// fast, before any real suite runs.
	fmt.Printf("STEP 0: Starting browser validation server (port %d)...\n", config.TestServer.Port)
	fmt.Println(strings.Repeat("-", 80))
	testServer := StartTestServer(config.TestServer.Port)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		testServer.Shutdown(ctx)
		fmt.Println("Validation server stopped")
	}()

	testServerURL := fmt.Sprintf("http://localhost:%d", config.TestServer.Port)
	if err := waitForEndpoint(testServerURL+"/status", 5*time.Second); err != nil {
		fmt.Printf("ERROR: Validation server did not become ready: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Validation server ready on %s\n\n", testServerURL)

	// Step 1: Provide the application under test.
	var serviceURL string
	var cleanup func()

	if config.Service.Mode == "mock" {
		serviceURL, cleanup, err = startMockService(config)
	} else {
		serviceURL, cleanup, err = ensureExternalService(config)
	}
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	// Step 2: Run the suites.
	fmt.Println("STEP 2: Running tests...")
	fmt.Println(strings.Repeat("-", 80))

	apiTestPath := filepath.ToSlash(filepath.Join(config.TestRunner.TestsDir, "api"))
	uiTestPath := filepath.ToSlash(filepath.Join(config.TestRunner.TestsDir, "ui"))

	suites := []TestSuite{
		{
			Name:    "API Tests",
			Path:    apiTestPath,
			Command: []string{"go", "test", "-v", "./" + apiTestPath},
		},
		{
			Name:    "UI Tests",
			Path:    uiTestPath,
			Command: []string{"go", "test", "-v", "./" + uiTestPath},
		},
	}

	fmt.Printf("Test results will be saved to: %s/{suite}-{datetime}/\n", config.TestRunner.OutputDir)
	fmt.Printf("UI tests capture sequential screenshots per navigation\n\n")

	results := make([]TestResult, 0, len(suites))
	allPassed := true

	for _, suite := range suites {
		fmt.Printf("Running %s...\n", suite.Name)
		fmt.Println(strings.Repeat("-", 80))

		result := runTestSuite(suite, config, serviceURL)
		results = append(results, result)

		if result.Success {
			fmt.Printf("PASS: %s (%.2fs)\n\n", suite.Name, result.Duration.Seconds())
		} else {
			fmt.Printf("FAIL: %s (%.2fs)\n\n", suite.Name, result.Duration.Seconds())
			allPassed = false
		}
	}

	printSummary(results, allPassed)

	if !allPassed {
		os.Exit(1)
	}
}

// startMockService serves the simulated application in-process.
func startMockService(config *TestRunnerConfig) (string, func(), error) {
	port := config.Service.Port
	if port == 0 {
		port = 18500
	}

	fmt.Println("STEP 1: Starting mock application...")
	fmt.Println(strings.Repeat("-", 80))

	app := mockapp.New(mockapp.Options{})
	if err := app.Start(port); err != nil {
		return "", nil, fmt.Errorf("failed to start mock application: %w", err)
	}

	serviceURL := fmt.Sprintf("http://localhost:%d", port)
	if err := waitForEndpoint(serviceURL+"/api/status", 10*time.Second); err != nil {
		return "", nil, fmt.Errorf("mock application did not become ready: %w", err)
	}
	fmt.Printf("Mock application ready on %s\n\n", serviceURL)

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		app.Shutdown(ctx)
		fmt.Println("Mock application stopped")
	}
	return serviceURL, cleanup, nil
}

// ensureExternalService reuses a running service or starts the configured
// binary.
func ensureExternalService(config *TestRunnerConfig) (string, func(), error) {
	fmt.Println("STEP 1: Checking for existing service...")
	fmt.Println(strings.Repeat("-", 80))

	serviceConfig, err := common.LoadConfig(config.Service.Config)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load service config: %w", err)
	}
	common.InitLogger(serviceConfig)

	servicePort := serviceConfig.Server.Port
	if config.Service.Port != 0 {
		servicePort = config.Service.Port
		fmt.Printf("Using port override from test runner config: %d\n", servicePort)
	}

	serviceURL := fmt.Sprintf("http://%s:%d", serviceConfig.Server.Host, servicePort)

	if err := waitForEndpoint(serviceURL+"/api/status", 2*time.Second); err == nil {
		fmt.Printf("Service already running on %s\n", serviceURL)
		fmt.Println("Using existing service (will not start or stop an instance)")
		fmt.Println()
		return serviceURL, nil, nil
	}

	fmt.Printf("Service not detected on port %d, will start new instance\n", servicePort)
	fmt.Printf("Checking for zombie processes on port %d...\n", servicePort)
	if err := killProcessOnPort(servicePort); err != nil {
		fmt.Printf("WARNING: Failed to kill process on port %d: %v\n", servicePort, err)
	}

	serviceCmd, err := startService(config)
	if err != nil {
		return "", nil, fmt.Errorf("failed to start service: %w", err)
	}

	startupTimeout := time.Duration(config.Service.StartupTimeoutSeconds) * time.Second
	if err := waitForEndpoint(serviceURL+"/api/status", startupTimeout); err != nil {
		stopService(serviceCmd)
		return "", nil, fmt.Errorf("service did not become ready: %w", err)
	}
	fmt.Printf("Service is ready on %s\n\n", serviceURL)

	return serviceURL, func() { stopService(serviceCmd) }, nil
}

// startService starts the application under test from its binary
func startService(config *TestRunnerConfig) (*exec.Cmd, error) {
	exePath, err := filepath.Abs(config.Service.Binary)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve binary path: %w", err)
	}

	configPath, err := filepath.Abs(config.Service.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	binDir := filepath.Dir(exePath)

	args := []string{"--config", configPath}
	if config.Service.Port != 0 {
		args = append(args, "--port", fmt.Sprintf("%d", config.Service.Port))
	}

	cmd := exec.Command(exePath, args...)
	cmd.Dir = binDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start service: %w", err)
	}

	time.Sleep(3 * time.Second)
	return cmd, nil
}

// stopService stops the application under test
func stopService(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	fmt.Println("Stopping service...")
	cmd.Process.Kill()
	cmd.Wait()
	fmt.Println("Service stopped")
}

// waitForEndpoint waits for an endpoint to return 200 OK
func waitForEndpoint(url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}

	return fmt.Errorf("endpoint %s did not become ready within %v", url, timeout)
}

func runTestSuite(suite TestSuite, config *TestRunnerConfig, serviceURL string) TestResult {
	startTime := time.Now()
	timestamp := time.Now().Format("2006-01-02_15-04-05")

	suiteDir := filepath.Join(config.TestRunner.OutputDir,
		fmt.Sprintf("%s-%s", sanitizeFilename(suite.Name), timestamp))
	if err := os.MkdirAll(suiteDir, 0755); err != nil {
		fmt.Printf("ERROR: Failed to create suite directory: %v\n", err)
	}

	absSuiteDir, err := filepath.Abs(suiteDir)
	if err != nil {
		fmt.Printf("ERROR: Failed to resolve absolute path: %v\n", err)
		absSuiteDir = suiteDir
	}

	cmd := exec.Command(suite.Command[0], suite.Command[1:]...)
	cmd.Dir = "."
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("TEST_RESULTS_DIR=%s", absSuiteDir),
		fmt.Sprintf("TEST_SERVER_URL=%s", serviceURL),
		fmt.Sprintf("TEST_MODE=%s", config.Service.Mode),
	)

	output, err := cmd.CombinedOutput()
	duration := time.Since(startTime)

	outputFile := filepath.Join(suiteDir, "test.log")
	os.WriteFile(outputFile, output, 0644)

	return TestResult{
		Suite:    suite.Name,
		Success:  err == nil,
		Output:   string(output),
		Duration: duration,
	}
}

func printSummary(results []TestResult, allPassed bool) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("TEST SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	totalDuration := time.Duration(0)
	passed := 0
	failed := 0

	for _, result := range results {
		status := "PASS"
		if !result.Success {
			status = "FAIL"
			failed++
		} else {
			passed++
		}

		fmt.Printf("%-30s %s (%.2fs)\n", result.Suite, status, result.Duration.Seconds())
		totalDuration += result.Duration
	}

	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("Total: %d passed, %d failed (%.2fs)\n", passed, failed, totalDuration.Seconds())

	if allPassed {
		fmt.Println("\nALL TESTS PASSED")
	} else {
		fmt.Println("\nSOME TESTS FAILED")
	}
}

func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		" ", "_",
		"/", "_",
		"\\", "_",
		":", "_",
	)
	return strings.ToLower(replacer.Replace(name))
}
