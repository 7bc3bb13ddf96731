package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderSequentialNaming(t *testing.T) {
	dir := t.TempDir()
	b := newFakeBrowser()
	r := NewRecorder(b, dir, nil)

	ctx := context.Background()
	require.NoError(t, r.Capture(ctx, "login_page"))
	require.NoError(t, r.Capture(ctx, "After Submit!"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.FileExists(t, filepath.Join(dir, "01_login_page.png"))
	// Labels are sanitized to safe filenames.
	assert.FileExists(t, filepath.Join(dir, "02_after_submit_.png"))
}

func TestRecorderWritesScreenshotBytes(t *testing.T) {
	dir := t.TempDir()
	b := newFakeBrowser()
	r := NewRecorder(b, dir, nil)

	require.NoError(t, r.Capture(context.Background(), "state"))

	data, err := os.ReadFile(filepath.Join(dir, "01_state.png"))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
