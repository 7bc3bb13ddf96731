package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePrefersDeclarationOrder(t *testing.T) {
	b := newFakeBrowser()
	b.addElem(`#primary`, &fakeElem{visible: true})
	b.addElem(`[data-testid="primary"]`, &fakeElem{visible: true})

	target := Target{
		Name:      "query input",
		Selectors: []string{`#primary`, `[data-testid="primary"]`},
		Visible:   true,
		Timeout:   time.Second,
	}

	m, err := Resolve(context.Background(), b, target)
	require.NoError(t, err)
	assert.Equal(t, `#primary`, m.Selector)
}

func TestResolveFallsBackToLaterCandidate(t *testing.T) {
	b := newFakeBrowser()
	// Only the second candidate exists in the DOM.
	b.addElem(`[data-testid="primary"]`, &fakeElem{visible: true})

	target := Target{
		Name:      "query input",
		Selectors: []string{`#primary`, `[data-testid="primary"]`},
		Visible:   true,
		Timeout:   time.Second,
	}

	m, err := Resolve(context.Background(), b, target)
	require.NoError(t, err)
	assert.Equal(t, `[data-testid="primary"]`, m.Selector)
}

func TestResolveTimesOutWithNotFound(t *testing.T) {
	b := newFakeBrowser()

	timeout := 300 * time.Millisecond
	target := Target{
		Name:      "missing",
		Selectors: []string{`#a`, `#b`},
		Timeout:   timeout,
	}

	start := time.Now()
	_, err := Resolve(context.Background(), b, target)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsNotFound(err), "expected NotFoundError, got %v", err)
	// No earlier than the configured timeout, and not significantly later.
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+time.Second)
}

func TestResolveWaitsForLateAppearance(t *testing.T) {
	b := newFakeBrowser()
	b.addElem(`#late`, &fakeElem{visible: true, appearsAt: time.Now().Add(250 * time.Millisecond)})

	target := Target{
		Name:      "late element",
		Selectors: []string{`#late`},
		Visible:   true,
		Timeout:   2 * time.Second,
	}

	m, err := Resolve(context.Background(), b, target)
	require.NoError(t, err)
	assert.Equal(t, `#late`, m.Selector)
}

func TestResolveVisibilityRequirement(t *testing.T) {
	b := newFakeBrowser()
	b.addElem(`#hidden`, &fakeElem{visible: false})

	target := Target{
		Name:      "hidden element",
		Selectors: []string{`#hidden`},
		Visible:   true,
		Timeout:   200 * time.Millisecond,
	}

	_, err := Resolve(context.Background(), b, target)
	assert.True(t, IsNotFound(err), "present but zero-size element must not resolve as visible")

	// Without the visibility requirement it resolves immediately.
	target.Visible = false
	m, err := Resolve(context.Background(), b, target)
	require.NoError(t, err)
	assert.Equal(t, `#hidden`, m.Selector)
}

func TestPresentDoesNotWait(t *testing.T) {
	b := newFakeBrowser()

	start := time.Now()
	present, err := Present(context.Background(), b, Target{
		Name:      "absent",
		Selectors: []string{`#nope`},
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)
	assert.False(t, present)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
