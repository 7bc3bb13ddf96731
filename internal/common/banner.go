package common

import (
	"github.com/ternarybob/banner"
)

// PrintBanner displays the test runner banner
func PrintBanner(version string) {
	banner.PrintSimple("LDR E2E", version)
}
