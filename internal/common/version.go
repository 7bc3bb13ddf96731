package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Version information (set via -ldflags during build)
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// GetVersion returns the current version string
func GetVersion() string {
	return Version
}

// GetFullVersion returns version with build info
func GetFullVersion() string {
	return fmt.Sprintf("%s (build: %s, commit: %s)", Version, Build, GitCommit)
}

// ParseVersionFile reads a .version file with "version:" and "build:" lines.
// Missing keys fall back to the current package-level values.
func ParseVersionFile(path string) (version, build string, err error) {
	version, build = Version, Build

	data, err := os.ReadFile(path)
	if err != nil {
		return version, build, err
	}

	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case strings.HasPrefix(line, "version:"):
			if v := strings.TrimSpace(strings.TrimPrefix(line, "version:")); v != "" {
				version = v
			}
		case strings.HasPrefix(line, "build:"):
			if b := strings.TrimSpace(strings.TrimPrefix(line, "build:")); b != "" {
				build = b
			}
		}
	}
	return version, build, nil
}

// LoadVersionFromFile updates Version and Build from a .version file found
// next to the executable, or in the working directory as a fallback.
func LoadVersionFromFile() string {
	candidates := []string{}
	if exePath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exePath), ".version"))
	}
	candidates = append(candidates, ".version")

	for _, path := range candidates {
		v, b, err := ParseVersionFile(path)
		if err != nil {
			continue
		}
		Version, Build = v, b
		break
	}
	return Version
}
