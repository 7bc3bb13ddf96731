package common

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	ldrcommon "github.com/cberranger/local-deep-research/internal/common"
)

// provisionService builds the service binary, clears any instance already
// holding the configured port, starts a fresh one, and waits for readiness.
func (env *TestEnvironment) provisionService() error {
	log := env.LogFile
	svc := env.Config.Service

	fmt.Fprintf(log, "Building application under test\n")
	if err := env.buildService(); err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}

	if portInUse(svc.Host, svc.Port) {
		fmt.Fprintf(log, "Existing service on %s:%d, requesting shutdown via %s\n",
			svc.Host, svc.Port, svc.ShutdownEndpoint)
		if err := requestShutdown(svc.Host, svc.Port, svc.ShutdownEndpoint); err != nil {
			return fmt.Errorf("failed to shutdown existing service: %w", err)
		}
		if err := awaitPortRelease(svc.Host, svc.Port, 10*time.Second); err != nil {
			return fmt.Errorf("port not released after shutdown: %w", err)
		}
		fmt.Fprintf(log, "Port %d released\n", svc.Port)
	}

	if err := env.startService(); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	fmt.Fprintf(log, "Waiting for service readiness (timeout %ds)\n", svc.StartupTimeoutSeconds)
	if err := env.WaitForServiceReady(); err != nil {
		return fmt.Errorf("service did not become ready: %w", err)
	}
	fmt.Fprintf(log, "Service ready at http://%s:%d\n\n", svc.Host, svc.Port)
	return nil
}

func portInUse(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)), 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func requestShutdown(host string, port int, endpoint string) error {
	url := fmt.Sprintf("http://%s:%d%s", host, port, endpoint)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Post(url, "", nil)
	if err != nil {
		return fmt.Errorf("shutdown request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("shutdown returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func awaitPortRelease(host string, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !portInUse(host, port) {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("port %d still in use after %v", port, timeout)
}

// serviceBinaryPath resolves the configured binary output, with the .exe
// suffix on Windows.
func (env *TestEnvironment) serviceBinaryPath() (string, error) {
	path, err := filepath.Abs(env.Config.Build.BinaryOutput)
	if err != nil {
		return "", fmt.Errorf("failed to resolve binary path: %w", err)
	}
	if runtime.GOOS == "windows" {
		path += ".exe"
	}
	return path, nil
}

// buildService compiles the service with version info injected via ldflags
// and places the test config next to the binary.
func (env *TestEnvironment) buildService() error {
	log := env.LogFile

	sourceDir, err := filepath.Abs(env.Config.Build.SourceDir)
	if err != nil {
		return fmt.Errorf("failed to resolve source directory: %w", err)
	}
	binaryPath, err := env.serviceBinaryPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(binaryPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	versionFile, err := filepath.Abs(env.Config.Build.VersionFile)
	if err != nil {
		return fmt.Errorf("failed to resolve version file path: %w", err)
	}
	version, build, err := ldrcommon.ParseVersionFile(versionFile)
	if err != nil {
		fmt.Fprintf(log, "Warning: could not read version file, using defaults: %v\n", err)
	} else {
		fmt.Fprintf(log, "Version info: %s (build: %s)\n", version, build)
	}

	module := "github.com/cberranger/local-deep-research/internal/common"
	ldflags := fmt.Sprintf("-X %s.Version=%s -X %s.Build=%s -X %s.GitCommit=test",
		module, version, module, build, module)

	cmd := exec.Command("go", "build", "-ldflags="+ldflags, "-o", binaryPath, sourceDir)
	cmd.Stdout = log
	cmd.Stderr = log
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")

	fmt.Fprintf(log, "Building: go build -ldflags=%q -o %s %s\n", ldflags, binaryPath, sourceDir)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build failed: %w", err)
	}

	// The service reads its config from the directory it runs in.
	binConfig := filepath.Join(filepath.Dir(binaryPath), "ldr-test-runner.toml")
	data, err := os.ReadFile("../config/test-config.toml")
	if err != nil {
		return fmt.Errorf("failed to read test config: %w", err)
	}
	if err := os.WriteFile(binConfig, data, 0644); err != nil {
		return fmt.Errorf("failed to place config next to binary: %w", err)
	}
	fmt.Fprintf(log, "Build complete, config staged at %s\n", binConfig)
	return nil
}

// startService launches the built binary with its staged config.
func (env *TestEnvironment) startService() error {
	binaryPath, err := env.serviceBinaryPath()
	if err != nil {
		return err
	}
	configPath, err := filepath.Abs(env.Config.Build.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		return fmt.Errorf("service binary does not exist: %s", binaryPath)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("service config does not exist: %s", configPath)
	}

	cmd := exec.Command(binaryPath, "--config", configPath)
	cmd.Dir = filepath.Dir(binaryPath)
	cmd.Stdout = env.LogFile
	cmd.Stderr = env.LogFile

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start service process: %w", err)
	}
	env.Cmd = cmd

	fmt.Fprintf(env.LogFile, "Service process started (PID: %d, port: %d)\n",
		cmd.Process.Pid, env.Config.Service.Port)
	fmt.Fprintf(env.LogFile, "\n--- Service Output Begins Below ---\n")
	return nil
}

// WaitForServiceReady polls the status endpoint until the service responds
// or the configured startup timeout elapses.
func (env *TestEnvironment) WaitForServiceReady() error {
	timeout := time.Duration(env.Config.Service.StartupTimeoutSeconds) * time.Second
	start := time.Now()
	client := &http.Client{Timeout: 2 * time.Second}
	statusURL := env.GetBaseURL() + "/api/status"

	attempts := 0
	lastLog := start
	for time.Since(start) < timeout {
		attempts++
		resp, err := client.Get(statusURL)
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			fmt.Fprintf(env.LogFile, "Service responding after %.1fs (%d attempts)\n",
				time.Since(start).Seconds(), attempts)
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		if time.Since(lastLog) >= 5*time.Second {
			fmt.Fprintf(env.LogFile, "  still waiting (attempt %d, %.1fs elapsed)\n",
				attempts, time.Since(start).Seconds())
			lastLog = time.Now()
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("service did not respond within %v (%d attempts)", timeout, attempts)
}
