package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
)

// Recorder writes labeled full-page screenshots into a results directory
// with a sequential number prefix, so artifacts sort in capture order.
// It implements ArtifactSink.
type Recorder struct {
	browser Browser
	dir     string
	log     arbor.ILogger

	mu  sync.Mutex
	seq int
}

// NewRecorder creates a Recorder that captures through b into dir.
func NewRecorder(b Browser, dir string, log arbor.ILogger) *Recorder {
	if log == nil {
		log = arbor.NewLogger()
	}
	return &Recorder{browser: b, dir: dir, log: log}
}

// Capture takes a full-page screenshot and saves it as NN_label.png.
// Failures are reported but callers treat them as best-effort: a failed
// capture must not mask the error being diagnosed.
func (r *Recorder) Capture(ctx context.Context, label string) error {
	r.mu.Lock()
	r.seq++
	name := fmt.Sprintf("%02d_%s.png", r.seq, sanitizeLabel(label))
	r.mu.Unlock()

	buf, err := r.browser.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to capture %q: %w", label, err)
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("failed to save %q: %w", label, err)
	}

	r.log.Debug().Str("path", path).Msg("Screenshot saved")
	return nil
}

var labelSanitizer = regexp.MustCompile(`[^a-z0-9_-]+`)

func sanitizeLabel(label string) string {
	return labelSanitizer.ReplaceAllString(strings.ToLower(label), "_")
}
